package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicdash/clinicdash/internal/domain/schedule"
)

const (
	// DefaultFanOutLimit caps simultaneous identity fetches per sync.
	DefaultFanOutLimit = 10
	// SystemUserID tags persisted batches when no acting user is given,
	// as happens for scheduled unattended syncs.
	SystemUserID = "system"
)

// Config tunes a sync Service. Zero values fall back to sensible defaults.
type Config struct {
	// Timezone resolves "today". Explicit zone conversion avoids
	// off-by-one-day errors near midnight.
	Timezone *time.Location
	// FanOutLimit bounds concurrent identity fetches for one invocation.
	// The limiter is local to the invocation: concurrent syncs for
	// different dates each get their own budget.
	FanOutLimit int
	// Timeout bounds a whole sync invocation. Zero disables it.
	Timeout time.Duration
	// Clock is the time source, injectable for tests.
	Clock func() time.Time
}

// Service orchestrates the fetch-enrich-persist pipeline.
type Service struct {
	source ScheduleSource
	sink   PersistenceSink
	logger zerolog.Logger
	cfg    Config
}

// NewService creates a sync Service.
func NewService(source ScheduleSource, sink PersistenceSink, logger zerolog.Logger, cfg Config) *Service {
	if cfg.Timezone == nil {
		cfg.Timezone = time.Local
	}
	if cfg.FanOutLimit <= 0 {
		cfg.FanOutLimit = DefaultFanOutLimit
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Service{source: source, sink: sink, logger: logger, cfg: cfg}
}

// TriggerSync synchronizes the dashboard for one date and returns the
// number of records persisted. Listing failures are fatal; individual
// enrichment failures drop that appointment and the batch continues. The
// persisted list preserves the vendor's appointment order.
func (s *Service) TriggerSync(ctx context.Context, dateOverride, actingUserID string) (int, error) {
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	dateKey, dayStart, err := s.resolveDate(dateOverride)
	if err != nil {
		return 0, err
	}

	appts, err := s.source.Appointments(ctx, dayStart, dayStart.Add(24*time.Hour))
	if err != nil {
		return 0, fmt.Errorf("syncer: list appointments for %s: %w", dateKey, err)
	}
	if len(appts) == 0 {
		s.logger.Info().Str("date", dateKey).Msg("no appointments to sync")
		return 0, nil
	}

	providers, err := s.source.Providers(ctx)
	if err != nil {
		return 0, fmt.Errorf("syncer: list providers: %w", err)
	}
	providersByID := make(map[string]Provider, len(providers))
	for _, p := range providers {
		providersByID[p.ID] = p
	}

	// Indexed gather: slot i belongs to appointment i, so the final list
	// keeps the appointment order no matter which fetch finishes first.
	results := make([]*schedule.DashboardRecord, len(appts))
	sem := make(chan struct{}, s.cfg.FanOutLimit)
	var wg sync.WaitGroup
	for i := range appts {
		wg.Add(1)
		go func(i int, appt Appointment) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}

			rec, err := s.enrich(ctx, appt, providersByID)
			if err != nil {
				s.logger.Warn().
					Str("date", dateKey).
					Str("patient_id", appt.PatientID).
					Err(err).
					Msg("dropping appointment")
				return
			}
			results[i] = rec
		}(i, appts[i])
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("syncer: sync for %s timed out: %w", dateKey, err)
	}

	records := make([]schedule.DashboardRecord, 0, len(appts))
	for _, rec := range results {
		if rec != nil {
			records = append(records, *rec)
		}
	}

	if actingUserID == "" {
		actingUserID = SystemUserID
	}
	if err := s.sink.Save(ctx, dateKey, records, actingUserID); err != nil {
		return 0, fmt.Errorf("syncer: persist %d records for %s: %w", len(records), dateKey, err)
	}

	s.logger.Info().
		Str("date", dateKey).
		Int("appointments", len(appts)).
		Int("persisted", len(records)).
		Str("acting_user", actingUserID).
		Msg("sync complete")
	return len(records), nil
}

// ParseSchedule turns pasted day-sheet text into draft records using the
// service's clock and clinic timezone. Invalid lines are skipped and
// logged, never fatal.
func (s *Service) ParseSchedule(raw string) []schedule.DashboardRecord {
	return schedule.Parse(raw, s.cfg.Clock(), schedule.ParseOptions{Location: s.cfg.Timezone}, s.logger)
}

func (s *Service) resolveDate(override string) (string, time.Time, error) {
	if override != "" {
		day, err := time.ParseInLocation("2006-01-02", override, s.cfg.Timezone)
		if err != nil {
			return "", time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, override)
		}
		return override, day, nil
	}
	now := s.cfg.Clock().In(s.cfg.Timezone)
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.cfg.Timezone)
	return day.Format("2006-01-02"), day, nil
}

func (s *Service) enrich(ctx context.Context, appt Appointment, providersByID map[string]Provider) (*schedule.DashboardRecord, error) {
	if appt.PatientID == "" {
		return nil, fmt.Errorf("appointment has no patient id")
	}
	identity, err := s.source.PatientByID(ctx, appt.PatientID)
	if err != nil {
		return nil, fmt.Errorf("fetch identity: %w", err)
	}
	if identity == nil {
		return nil, ErrIdentityNotFound
	}

	providerName := appt.ProviderID
	if p, ok := providersByID[appt.ProviderID]; ok {
		providerName = p.Name
	} else {
		s.logger.Warn().Str("provider_id", appt.ProviderID).Msg("provider not in lookup, using raw id")
	}

	apptTime := appt.StartTime.In(s.cfg.Timezone)
	return &schedule.DashboardRecord{
		ID:              fmt.Sprintf("%s-%s", appt.PatientID, apptTime.Format("1504")),
		Name:            identity.Name,
		DOB:             identity.DOB,
		AppointmentTime: apptTime,
		AppointmentType: appt.Type,
		Provider:        providerName,
		Status:          schedule.Normalize(appt.RawStatus, s.logger),
		Phone:           identity.Phone,
		Email:           identity.Email,
	}, nil
}
