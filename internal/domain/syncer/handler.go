package syncer

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinicdash/clinicdash/internal/domain/schedule"
	"github.com/clinicdash/clinicdash/internal/platform/secure"
	"github.com/clinicdash/clinicdash/internal/platform/session"
)

// SessionRepo is what the HTTP layer needs from a persistence sink:
// saving via sync plus direct lookup and removal by date.
type SessionRepo interface {
	PersistenceSink
	Load(ctx context.Context, dateKey string) (*schedule.DailySession, error)
	Delete(ctx context.Context, dateKey string) error
}

// Handler exposes the sync pipeline, the session store, and the
// export/import codec over HTTP.
type Handler struct {
	svc    *Service
	sink   SessionRepo
	store  session.KV
	codec  *secure.Codec
	logger zerolog.Logger
}

// NewHandler creates the HTTP handler.
func NewHandler(svc *Service, sink SessionRepo, store session.KV, codec *secure.Codec, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, sink: sink, store: store, codec: codec, logger: logger}
}

// RegisterRoutes mounts the API under the given group.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/sync", h.TriggerSync)
	api.POST("/parse", h.ParseSchedule)
	api.GET("/sessions/:date", h.GetSession)
	api.PUT("/sessions/:date", h.PutSession)
	api.DELETE("/sessions/:date", h.DeleteSession)
	api.POST("/export", h.ExportSession)
	api.POST("/import", h.ImportSession)
	api.GET("/store/health", h.StoreHealth)
	api.DELETE("/store", h.ClearStore)
}

type syncRequest struct {
	Date       string `json:"date"`
	ActingUser string `json:"acting_user"`
}

type syncResponse struct {
	Date      string `json:"date,omitempty"`
	Persisted int    `json:"persisted"`
}

// TriggerSync runs a sync for the requested (or current) date.
func (h *Handler) TriggerSync(c echo.Context) error {
	var req syncRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	n, err := h.svc.TriggerSync(c.Request().Context(), req.Date, req.ActingUser)
	if errors.Is(err, ErrInvalidDate) {
		return echo.NewHTTPError(http.StatusBadRequest, "date must be YYYY-MM-DD")
	}
	if err != nil {
		h.logger.Error().Err(err).Str("date", req.Date).Msg("sync failed")
		return echo.NewHTTPError(http.StatusBadGateway, "sync failed")
	}
	return c.JSON(http.StatusOK, syncResponse{Date: req.Date, Persisted: n})
}

type parseRequest struct {
	Text string `json:"text"`
}

// ParseSchedule turns pasted day-sheet text into draft records without
// persisting anything.
func (h *Handler) ParseSchedule(c echo.Context) error {
	var req parseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text is required")
	}
	records := h.svc.ParseSchedule(req.Text)
	return c.JSON(http.StatusOK, importResponse{Records: records, Errors: []string{}})
}

// GetSession returns the stored dashboard session for a date.
func (h *Handler) GetSession(c echo.Context) error {
	sess, err := h.sink.Load(c.Request().Context(), c.Param("date"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "session lookup failed")
	}
	if sess == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no session for date")
	}
	return c.JSON(http.StatusOK, sess)
}

type putSessionRequest struct {
	Records    []schedule.DashboardRecord `json:"records"`
	ActingUser string                     `json:"acting_user"`
}

// PutSession replaces the stored record batch for a date, for example after
// staff edit a pasted day sheet. Every record must satisfy its invariants.
func (h *Handler) PutSession(c echo.Context) error {
	var req putSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	for i := range req.Records {
		if err := req.Records[i].Validate(); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	if req.ActingUser == "" {
		req.ActingUser = SystemUserID
	}
	date := c.Param("date")
	if err := h.sink.Save(c.Request().Context(), date, req.Records, req.ActingUser); err != nil {
		h.logger.Error().Err(err).Str("date", date).Msg("session save failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "save failed")
	}
	return c.JSON(http.StatusOK, syncResponse{Date: date, Persisted: len(req.Records)})
}

// DeleteSession removes the stored session for a date.
func (h *Handler) DeleteSession(c echo.Context) error {
	if err := h.sink.Delete(c.Request().Context(), c.Param("date")); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "delete failed")
	}
	return c.NoContent(http.StatusNoContent)
}

type exportRequest struct {
	Date            string   `json:"date"`
	Password        string   `json:"password"`
	SensitiveFields []string `json:"sensitive_fields"`
	IncludeMetadata bool     `json:"include_metadata"`
}

// ExportSession exports the stored session for a date as an encrypted
// envelope.
func (h *Handler) ExportSession(c echo.Context) error {
	var req exportRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sess, err := h.sink.Load(c.Request().Context(), req.Date)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "session lookup failed")
	}
	if sess == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no session for date")
	}

	env, err := h.codec.Export(sess.Records, req.Password, req.SensitiveFields, req.IncludeMetadata)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, env)
}

type importRequest struct {
	Envelope         *secure.Envelope `json:"envelope"`
	Password         string           `json:"password"`
	ValidateChecksum *bool            `json:"validate_checksum"`
}

type importResponse struct {
	Records []schedule.DashboardRecord `json:"records"`
	Errors  []string                   `json:"errors"`
}

// ImportSession decrypts an envelope and returns the reconstructed
// records. A failed import returns zero records and one generic error;
// the response never reveals which integrity check failed.
func (h *Handler) ImportSession(c echo.Context) error {
	var req importRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Envelope == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "envelope is required")
	}
	validate := true
	if req.ValidateChecksum != nil {
		validate = *req.ValidateChecksum
	}

	records, err := h.codec.Import(req.Envelope, req.Password, validate)
	if err != nil {
		msg := secure.ErrImportFailed.Error()
		if errors.Is(err, secure.ErrUnsupportedVersion) {
			msg = err.Error()
		}
		return c.JSON(http.StatusUnprocessableEntity, importResponse{
			Records: []schedule.DashboardRecord{},
			Errors:  []string{msg},
		})
	}
	return c.JSON(http.StatusOK, importResponse{Records: records, Errors: []string{}})
}

// StoreHealth reports store entry count, audit length, and pass/fail.
func (h *Handler) StoreHealth(c echo.Context) error {
	health := h.store.HealthCheck(c.Request().Context())
	status := http.StatusOK
	if !health.OK {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, health)
}

// ClearStore wipes all session data.
func (h *Handler) ClearStore(c echo.Context) error {
	if err := h.store.Clear(c.Request().Context()); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "clear failed")
	}
	return c.NoContent(http.StatusNoContent)
}
