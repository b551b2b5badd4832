package schedule

import (
	"strings"

	"github.com/rs/zerolog"
)

// vendorStatuses maps the scheduling vendor's status vocabulary to internal
// states. Keys are lower-cased with whitespace collapsed; matching is
// therefore insensitive to the case and spacing drift the vendor exhibits.
var vendorStatuses = map[string]Status{
	"scheduled":     StatusScheduled,
	"confirmed":     StatusScheduled,
	"reminder sent": StatusScheduled,
	"tentative":     StatusScheduled,
	"rescheduled":   StatusScheduled,

	"checked in": StatusArrived,
	"checkedin":  StatusArrived,
	"arrived":    StatusArrived,

	"roomed":  StatusApptPrep,
	"in room": StatusApptPrep,

	"in session":    StatusWithProvider,
	"being seen":    StatusWithProvider,
	"with provider": StatusWithProvider,
	"in progress":   StatusWithProvider,

	"checked out": StatusCompleted,
	"checkedout":  StatusCompleted,
	"completed":   StatusCompleted,

	"cancelled":   StatusCancelled,
	"canceled":    StatusCancelled,
	"late cancel": StatusCancelled,

	"no show": StatusNoShow,
	"noshow":  StatusNoShow,
	"no-show": StatusNoShow,
	"missed":  StatusNoShow,
}

// Normalize converts an arbitrary vendor status string into a member of the
// closed internal status set. Unrecognized input defaults to
// StatusScheduled: the pipeline must never fail on vocabulary drift. The
// warning log is the only signal that the vendor introduced a new status.
func Normalize(raw string, logger zerolog.Logger) Status {
	key := strings.Join(strings.Fields(strings.ToLower(raw)), " ")
	if st, ok := vendorStatuses[key]; ok {
		return st
	}
	logger.Warn().
		Str("vendor_status", raw).
		Str("default", string(StatusScheduled)).
		Msg("unrecognized vendor status, defaulting to scheduled")
	return StatusScheduled
}
