package tebra

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicdash/clinicdash/internal/domain/syncer"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "test-key", zerolog.Nop()), srv
}

func TestAppointments(t *testing.T) {
	var gotKey, gotStart string
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Api-Key")
		gotStart = r.URL.Query().Get("start")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"appointments":[
			{"patient_id":"pat-1","provider_id":"prov-1","start_time":"2023-01-15T09:00:00Z","appointment_type":"Office Visit","status":"Scheduled"},
			{"patient_id":"pat-2","provider_id":"prov-1","start_time":"not-a-time","appointment_type":"Follow Up","status":"Roomed"},
			{"patient_id":"pat-3","provider_id":"prov-2","start_time":"2023-01-15T10:30:00Z","appointment_type":"Lab","status":"Checked In"}
		]}`))
	})

	from := time.Date(2023, 1, 15, 0, 0, 0, 0, time.UTC)
	appts, err := client.Appointments(context.Background(), from, from.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("appointments: %v", err)
	}
	if gotKey != "test-key" {
		t.Errorf("api key header = %q", gotKey)
	}
	if gotStart != "2023-01-15T00:00:00Z" {
		t.Errorf("start query = %q", gotStart)
	}
	if len(appts) != 2 {
		t.Fatalf("got %d appointments, want 2 (bad start time skipped)", len(appts))
	}
	if appts[0].PatientID != "pat-1" || appts[0].RawStatus != "Scheduled" {
		t.Errorf("unexpected first appointment: %+v", appts[0])
	}
	if appts[1].PatientID != "pat-3" {
		t.Errorf("unexpected second appointment: %+v", appts[1])
	}
}

func TestProviders(t *testing.T) {
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"providers":[
			{"id":"prov-1","first_name":"Jane","last_name":"Smith"},
			{"id":"prov-2","first_name":"","last_name":"House"}
		]}`))
	})

	provs, err := client.Providers(context.Background())
	if err != nil {
		t.Fatalf("providers: %v", err)
	}
	if len(provs) != 2 {
		t.Fatalf("got %d providers", len(provs))
	}
	if provs[0].Name != "Jane Smith" {
		t.Errorf("name = %q, want Jane Smith", provs[0].Name)
	}
	if provs[1].Name != "House" {
		t.Errorf("single-part name = %q, want House", provs[1].Name)
	}
}

func TestPatientByID(t *testing.T) {
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/patients/pat-1" {
			w.Write([]byte(`{"id":"pat-1","first_name":"John","last_name":"Doe","date_of_birth":"1990-01-01","phone":"555-0100"}`))
			return
		}
		http.Error(w, "not found", http.StatusNotFound)
	})

	p, err := client.PatientByID(context.Background(), "pat-1")
	if err != nil {
		t.Fatalf("patient: %v", err)
	}
	if p.Name != "John Doe" || p.DOB != "1990-01-01" || p.Phone != "555-0100" {
		t.Errorf("unexpected patient: %+v", p)
	}

	if _, err := client.PatientByID(context.Background(), "gone"); !errors.Is(err, syncer.ErrIdentityNotFound) {
		t.Errorf("missing patient error = %v, want ErrIdentityNotFound", err)
	}
}

func TestServerErrorSurfaces(t *testing.T) {
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	})

	if _, err := client.Appointments(context.Background(), time.Now(), time.Now()); err == nil {
		t.Error("expected error on 502")
	}
	if _, err := client.Providers(context.Background()); err == nil {
		t.Error("expected error on 502")
	}
	if _, err := client.PatientByID(context.Background(), "pat-1"); errors.Is(err, syncer.ErrIdentityNotFound) {
		t.Error("502 must not map to ErrIdentityNotFound")
	}
}

func TestContextCancellation(t *testing.T) {
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := client.Providers(ctx); err == nil {
		t.Error("expected error when context expires")
	}
}
