// Package syncer pulls a day's appointments from the scheduling vendor,
// enriches them with patient and provider identity under a bounded fan-out,
// and persists the resulting dashboard record batch for that date.
package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/clinicdash/clinicdash/internal/domain/schedule"
)

// Appointment is a bare appointment reference as the vendor reports it.
// It is transient: never persisted directly, only merged into a
// DashboardRecord.
type Appointment struct {
	PatientID  string    `json:"patient_id"`
	ProviderID string    `json:"provider_id"`
	StartTime  time.Time `json:"start_time"`
	Type       string    `json:"type"`
	RawStatus  string    `json:"raw_status"`
}

// Provider is an external provider identity record.
type Provider struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// PatientIdentity is an external patient identity record fetched by id.
type PatientIdentity struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	DOB   string `json:"dob"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

// ErrIdentityNotFound is returned by a ScheduleSource when a patient id
// resolves to nothing. It is recoverable per item: the orchestrator drops
// that appointment and continues the batch.
var ErrIdentityNotFound = errors.New("syncer: patient identity not found")

// ErrInvalidDate is returned when a caller-supplied date override is not a
// YYYY-MM-DD value. It marks a caller mistake, distinct from vendor or
// persistence failures.
var ErrInvalidDate = errors.New("syncer: invalid date override")

// ScheduleSource is the vendor collaborator. The listing calls are fatal
// on failure; PatientByID failures are recoverable per item.
type ScheduleSource interface {
	Appointments(ctx context.Context, from, to time.Time) ([]Appointment, error)
	Providers(ctx context.Context) ([]Provider, error)
	PatientByID(ctx context.Context, id string) (*PatientIdentity, error)
}

// PersistenceSink stores the ordered record batch for a date, assumed
// durable once Save returns.
type PersistenceSink interface {
	Save(ctx context.Context, dateKey string, records []schedule.DashboardRecord, actingUserID string) error
}
