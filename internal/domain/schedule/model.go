package schedule

import (
	"fmt"
	"time"
)

// Status is the closed set of internal appointment states shown on the
// dashboard. External vendor statuses never appear here directly; they are
// converted exactly once, at the normalization boundary in Normalize.
type Status string

const (
	StatusScheduled    Status = "scheduled"
	StatusArrived      Status = "arrived"
	StatusApptPrep     Status = "appt-prep"
	StatusWithProvider Status = "with-provider"
	StatusCompleted    Status = "completed"
	StatusCancelled    Status = "cancelled"
	StatusNoShow       Status = "no-show"
)

// Category partitions the status set by where a patient is in the visit
// lifecycle.
type Category string

const (
	CategoryFuture            Category = "FUTURE"
	CategoryWaiting           Category = "WAITING"
	CategoryInProgress        Category = "IN_PROGRESS"
	CategoryCompleted         Category = "COMPLETED"
	CategoryCancelledOrNoShow Category = "CANCELLED_OR_NO_SHOW"
)

var statusCategories = map[Status]Category{
	StatusScheduled:    CategoryFuture,
	StatusArrived:      CategoryWaiting,
	StatusApptPrep:     CategoryWaiting,
	StatusWithProvider: CategoryInProgress,
	StatusCompleted:    CategoryCompleted,
	StatusCancelled:    CategoryCancelledOrNoShow,
	StatusNoShow:       CategoryCancelledOrNoShow,
}

// Valid reports whether s is a member of the closed status set.
func (s Status) Valid() bool {
	_, ok := statusCategories[s]
	return ok
}

// Category returns the lifecycle category for s. Unknown values map to
// CategoryFuture, matching the lenient default applied at the
// normalization boundary.
func (s Status) Category() Category {
	if c, ok := statusCategories[s]; ok {
		return c
	}
	return CategoryFuture
}

// ParseStatus converts a string into a Status, rejecting anything outside
// the closed set. Internal callers constructing records from trusted data
// go through this so an invalid status is caught at construction, not at use.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("invalid status %q", s)
	}
	return st, nil
}

// DashboardRecord is the normalized, identity-enriched view of one patient's
// appointment for a single day. Records are superseded wholesale by the next
// sync for their date.
type DashboardRecord struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	DOB             string     `json:"dob"`
	AppointmentTime time.Time  `json:"appointment_time"`
	AppointmentType string     `json:"appointment_type"`
	Provider        string     `json:"provider"`
	Status          Status     `json:"status"`
	Phone           string     `json:"phone,omitempty"`
	Email           string     `json:"email,omitempty"`
	CheckInTime     *time.Time `json:"check_in_time,omitempty"`
	Room            string     `json:"room,omitempty"`
}

// Validate checks the invariants a record must satisfy before it is
// persisted or exported.
func (r *DashboardRecord) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("record id is required")
	}
	if !r.Status.Valid() {
		return fmt.Errorf("record %s: invalid status %q", r.ID, r.Status)
	}
	if r.AppointmentTime.IsZero() {
		return fmt.Errorf("record %s: appointment time is required", r.ID)
	}
	return nil
}

// DailySession is the persisted record batch for one calendar date. Saving
// a session for a date overwrites the previous batch for that date only and
// increments the version monotonically.
type DailySession struct {
	DateKey      string            `json:"date_key"`
	Records      []DashboardRecord `json:"records"`
	LastModified time.Time         `json:"last_modified"`
	OwnerID      string            `json:"owner_id"`
	Version      int               `json:"version"`
}
