package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Raw schedule lines carry six comma-separated positional fields.
const requiredFields = 6

const (
	fieldDate = iota
	fieldTime
	fieldStatus
	fieldName
	fieldDOB
	fieldType
)

// DefaultCheckInLead is how far before the appointment a synthesized
// check-in time is placed when the vendor reports a waiting-room status
// without one.
const DefaultCheckInLead = 30 * time.Minute

// ParseOptions controls schedule parsing. The zero value is usable:
// times resolve in time.Local, waiting patients get the default room
// placeholder and a check-in time 30 minutes before their appointment.
type ParseOptions struct {
	// Location resolves appointment clock times to instants.
	Location *time.Location
	// DefaultRoom is assigned to waiting patients with no room yet.
	DefaultRoom string
	// CheckInLead overrides DefaultCheckInLead when positive.
	CheckInLead time.Duration
}

func (o *ParseOptions) applyDefaults() {
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.DefaultRoom == "" {
		o.DefaultRoom = "unassigned"
	}
	if o.CheckInLead <= 0 {
		o.CheckInLead = DefaultCheckInLead
	}
}

// Parse converts raw multi-line schedule text into draft dashboard records,
// one per valid line, in source order. Invalid lines are skipped, never
// fatal; each skip is logged with its reason. Parse has no side effects
// beyond the diagnostic log, so parsing the same text with the same
// reference time is idempotent.
func Parse(raw string, now time.Time, opts ParseOptions, logger zerolog.Logger) []DashboardRecord {
	opts.applyDefaults()

	var records []DashboardRecord
	for i, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		rec, err := parseLine(line, i+1, now, opts, logger)
		if err != nil {
			logger.Warn().Int("line", i+1).Str("reason", err.Error()).Msg("skipping schedule line")
			continue
		}
		rec.ID = fmt.Sprintf("draft-%03d", len(records)+1)
		records = append(records, *rec)
	}
	return records
}

func parseLine(line string, lineNo int, now time.Time, opts ParseOptions, logger zerolog.Logger) (*DashboardRecord, error) {
	fields := strings.Split(line, ",")
	if len(fields) < requiredFields {
		return nil, fmt.Errorf("not enough columns: got %d, want %d", len(fields), requiredFields)
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	// Extra commas in the trailing appointment-type field are tolerated.
	apptType := strings.TrimSpace(strings.Join(fields[fieldType:], ", "))

	date, err := time.ParseInLocation("01/02/2006", fields[fieldDate], opts.Location)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q", fields[fieldDate])
	}

	clock, err := parseClockTime(fields[fieldTime])
	if err != nil {
		return nil, err
	}
	apptTime := time.Date(date.Year(), date.Month(), date.Day(),
		clock.Hour(), clock.Minute(), 0, 0, opts.Location)

	for _, text := range []string{fields[fieldName], apptType} {
		if containsMarkup(text) {
			return nil, fmt.Errorf("disallowed markup in field %q", text)
		}
	}

	dob, err := time.Parse("01/02/2006", fields[fieldDOB])
	if err != nil {
		return nil, fmt.Errorf("invalid date of birth %q", fields[fieldDOB])
	}
	if dob.After(now) {
		return nil, fmt.Errorf("date of birth %q is in the future", fields[fieldDOB])
	}

	rec := &DashboardRecord{
		Name:            fields[fieldName],
		DOB:             dob.Format("2006-01-02"),
		AppointmentTime: apptTime,
		AppointmentType: apptType,
		Status:          Normalize(fields[fieldStatus], logger),
	}

	// Waiting-room statuses from the vendor often arrive without a check-in
	// timestamp; synthesize one so the dashboard can order the waiting list.
	if rec.Status.Category() == CategoryWaiting && rec.CheckInTime == nil {
		checkIn := apptTime.Add(-opts.CheckInLead)
		rec.CheckInTime = &checkIn
		rec.Room = opts.DefaultRoom
	}
	return rec, nil
}

// parseClockTime accepts 12-hour clock values with an AM/PM marker.
// time.Parse applies the 12:00 AM -> 00:00 and 12:00 PM -> 12:00 rules.
func parseClockTime(s string) (time.Time, error) {
	norm := strings.ToUpper(strings.Join(strings.Fields(s), " "))
	for _, layout := range []string{"3:04 PM", "3:04PM"} {
		if t, err := time.Parse(layout, norm); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q: want 12-hour clock with AM/PM", s)
}

// containsMarkup rejects text that could carry script or markup into a
// downstream renderer. Only structural markup and handler syntax is
// rejected; ordinary clinical vocabulary like "Prescription Refill" must
// pass.
func containsMarkup(s string) bool {
	if strings.ContainsAny(s, "<>") {
		return true
	}
	lower := strings.ToLower(s)
	return strings.Contains(lower, "javascript:") ||
		strings.Contains(lower, "onerror=") ||
		strings.Contains(lower, "onload=") ||
		strings.Contains(lower, "onclick=")
}
