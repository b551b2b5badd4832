// Package tebra implements the vendor schedule source against the Tebra
// practice-management REST API.
package tebra

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicdash/clinicdash/internal/domain/syncer"
)

const defaultTimeout = 15 * time.Second

// Client talks to the Tebra REST API. It satisfies syncer.ScheduleSource.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// NewClient creates a vendor API client.
func NewClient(baseURL, apiKey string, logger zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: defaultTimeout},
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type apptDTO struct {
	PatientID  string `json:"patient_id"`
	ProviderID string `json:"provider_id"`
	StartTime  string `json:"start_time"`
	Type       string `json:"appointment_type"`
	Status     string `json:"status"`
}

type providerDTO struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type patientDTO struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	DOB       string `json:"date_of_birth"`
	Phone     string `json:"phone,omitempty"`
	Email     string `json:"email,omitempty"`
}

// Appointments lists vendor appointments with start times in [from, to).
func (c *Client) Appointments(ctx context.Context, from, to time.Time) ([]syncer.Appointment, error) {
	q := url.Values{}
	q.Set("start", from.Format(time.RFC3339))
	q.Set("end", to.Format(time.RFC3339))

	var payload struct {
		Appointments []apptDTO `json:"appointments"`
	}
	if err := c.get(ctx, "/appointments?"+q.Encode(), &payload); err != nil {
		return nil, fmt.Errorf("tebra: list appointments: %w", err)
	}

	appts := make([]syncer.Appointment, 0, len(payload.Appointments))
	for _, dto := range payload.Appointments {
		start, err := time.Parse(time.RFC3339, dto.StartTime)
		if err != nil {
			c.logger.Warn().Str("start_time", dto.StartTime).Str("patient_id", dto.PatientID).
				Msg("skipping appointment with unparseable start time")
			continue
		}
		appts = append(appts, syncer.Appointment{
			PatientID:  dto.PatientID,
			ProviderID: dto.ProviderID,
			StartTime:  start,
			Type:       dto.Type,
			RawStatus:  dto.Status,
		})
	}
	return appts, nil
}

// Providers lists the practice's providers.
func (c *Client) Providers(ctx context.Context) ([]syncer.Provider, error) {
	var payload struct {
		Providers []providerDTO `json:"providers"`
	}
	if err := c.get(ctx, "/providers", &payload); err != nil {
		return nil, fmt.Errorf("tebra: list providers: %w", err)
	}

	provs := make([]syncer.Provider, 0, len(payload.Providers))
	for _, dto := range payload.Providers {
		provs = append(provs, syncer.Provider{
			ID:   dto.ID,
			Name: fullName(dto.FirstName, dto.LastName),
		})
	}
	return provs, nil
}

// PatientByID fetches patient demographics. A vendor 404 maps to
// syncer.ErrIdentityNotFound so callers can treat deleted patients as
// per-item drops rather than failures.
func (c *Client) PatientByID(ctx context.Context, id string) (*syncer.PatientIdentity, error) {
	var dto patientDTO
	if err := c.get(ctx, "/patients/"+url.PathEscape(id), &dto); err != nil {
		if sErr, ok := err.(*statusError); ok && sErr.code == http.StatusNotFound {
			return nil, syncer.ErrIdentityNotFound
		}
		return nil, fmt.Errorf("tebra: fetch patient %s: %w", id, err)
	}
	return &syncer.PatientIdentity{
		ID:    dto.ID,
		Name:  fullName(dto.FirstName, dto.LastName),
		DOB:   dto.DOB,
		Phone: dto.Phone,
		Email: dto.Email,
	}, nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.code, e.body)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{code: resp.StatusCode, body: string(body)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func fullName(first, last string) string {
	switch {
	case first == "":
		return last
	case last == "":
		return first
	default:
		return first + " " + last
	}
}
