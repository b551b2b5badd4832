// Package secure implements the encrypted, integrity-checked interchange
// format for dashboard record batches. Listed sensitive fields are
// encrypted per record with AES-256-GCM under a password-derived key;
// everything else travels in plaintext inside a flat, versioned envelope.
package secure

import (
	"encoding/json"
	"fmt"
	"time"
)

// FormatVersion tags envelopes so future format migrations can detect and
// upgrade older exports.
const FormatVersion = 1

// Metadata describes an export for operational traceability. It carries no
// patient data.
type Metadata struct {
	ExportID    string    `json:"export_id"`
	ExportedAt  time.Time `json:"exported_at"`
	RecordCount int       `json:"record_count"`
}

// RecordPayload is one record inside an envelope: plaintext fields plus a
// parallel map of field name to cipher payload for the encrypted ones.
type RecordPayload struct {
	Fields map[string]any    `json:"fields"`
	Cipher map[string]string `json:"cipher,omitempty"`
}

// Envelope is the self-describing container produced by Export. The
// checksum is computed over the canonical plaintext before encryption and
// must match after decryption or the import is rejected wholesale.
type Envelope struct {
	Version         int             `json:"version"`
	Checksum        string          `json:"checksum"`
	Salt            string          `json:"salt"`
	Iterations      int             `json:"iterations"`
	EncryptedFields []string        `json:"encrypted_fields"`
	Records         []RecordPayload `json:"records"`
	Metadata        *Metadata       `json:"metadata,omitempty"`
}

// Encode serialises the envelope as JSON.
func (e *Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("secure: encode envelope: %w", err)
	}
	return data, nil
}

// DecodeEnvelope parses envelope bytes. A malformed document is a format
// error, not a secrecy failure, so it is reported directly.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("secure: decode envelope: %w", err)
	}
	return &env, nil
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
