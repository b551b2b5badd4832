package secure

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/pbkdf2"

	"github.com/clinicdash/clinicdash/internal/domain/schedule"
	"github.com/clinicdash/clinicdash/internal/platform/session"
)

const (
	// DefaultIterations is the PBKDF2 work factor for new exports.
	DefaultIterations = 100_000

	saltLen = 16
	keyLen  = 32
)

// ErrImportFailed is the only error surfaced for a failed import. Wrong
// password, checksum mismatch, and tampered cipher data are deliberately
// indistinguishable so the importer cannot be used as a password oracle.
var ErrImportFailed = errors.New("secure: bad password or corrupted data")

// ErrUnsupportedVersion reports an envelope written by a newer format.
// Version detection is part of the interchange contract and is safe to
// distinguish from integrity failures.
var ErrUnsupportedVersion = errors.New("secure: unsupported envelope version")

// Codec exports and imports dashboard record batches. Both directions are
// safe for concurrent use; the audit trail is the only shared state it
// touches.
type Codec struct {
	iterations int
	logger     zerolog.Logger
	trail      *session.Trail
}

// CodecOption configures a Codec.
type CodecOption func(*Codec)

// WithIterations overrides the PBKDF2 work factor.
func WithIterations(n int) CodecOption {
	return func(c *Codec) {
		if n > 0 {
			c.iterations = n
		}
	}
}

// WithAuditTrail wires EXPORT/IMPORT auditing into the given trail.
func WithAuditTrail(trail *session.Trail) CodecOption {
	return func(c *Codec) { c.trail = trail }
}

// NewCodec creates a Codec with the default work factor.
func NewCodec(logger zerolog.Logger, opts ...CodecOption) *Codec {
	c := &Codec{iterations: DefaultIterations, logger: logger}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Codec) audit(action session.Action, success bool, detail string) {
	if c.trail != nil {
		c.trail.Record(action, "envelope", success, detail)
	}
}

// Export encrypts the listed sensitive fields of each record under a key
// derived from password with a fresh random salt, and returns one
// self-describing envelope. The checksum covers the canonical plaintext of
// the full batch, computed before any encryption.
func (c *Codec) Export(records []schedule.DashboardRecord, password string, sensitiveFields []string, includeMetadata bool) (*Envelope, error) {
	if password == "" {
		c.audit(session.ActionExport, false, "empty password")
		return nil, fmt.Errorf("secure: password is required")
	}
	if len(sensitiveFields) == 0 {
		c.audit(session.ActionExport, false, "no sensitive fields listed")
		return nil, fmt.Errorf("secure: at least one sensitive field is required")
	}

	checksum, err := batchChecksum(records)
	if err != nil {
		c.audit(session.ActionExport, false, "checksum failed")
		return nil, fmt.Errorf("secure: checksum records: %w", err)
	}

	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("secure: generate salt: %w", err)
	}
	fc, err := newFieldCipher(deriveKey(password, salt, c.iterations))
	if err != nil {
		return nil, fmt.Errorf("secure: init cipher: %w", err)
	}

	payloads := make([]RecordPayload, 0, len(records))
	for i, rec := range records {
		fields, err := recordFields(rec)
		if err != nil {
			return nil, fmt.Errorf("secure: record %d: %w", i, err)
		}

		cipherData := make(map[string]string)
		for _, name := range sensitiveFields {
			v, ok := fields[name]
			if !ok {
				continue
			}
			str, ok := v.(string)
			if !ok {
				c.audit(session.ActionExport, false, "non-string sensitive field")
				return nil, fmt.Errorf("secure: record %d: sensitive field %q is not a string", i, name)
			}
			sealed, err := fc.seal(str)
			if err != nil {
				return nil, fmt.Errorf("secure: record %d: encrypt %q: %w", i, name, err)
			}
			cipherData[name] = sealed
			delete(fields, name)
		}
		payloads = append(payloads, RecordPayload{Fields: fields, Cipher: cipherData})
	}

	env := &Envelope{
		Version:         FormatVersion,
		Checksum:        checksum,
		Salt:            base64.StdEncoding.EncodeToString(salt),
		Iterations:      c.iterations,
		EncryptedFields: sensitiveFields,
		Records:         payloads,
	}
	if includeMetadata {
		env.Metadata = &Metadata{
			ExportID:    uuid.New().String(),
			ExportedAt:  nowUTC(),
			RecordCount: len(records),
		}
	}

	c.audit(session.ActionExport, true, fmt.Sprintf("records=%d", len(records)))
	c.logger.Info().Int("records", len(records)).Int("encrypted_fields", len(sensitiveFields)).Msg("exported session")
	return env, nil
}

// Import decrypts an envelope back into records. Every failure path after
// version detection collapses into ErrImportFailed with zero records; the
// internal logs distinguish the stage at debug level only.
func (c *Codec) Import(env *Envelope, password string, validateChecksum bool) ([]schedule.DashboardRecord, error) {
	if env.Version > FormatVersion || env.Version < 1 {
		c.audit(session.ActionImport, false, "unsupported version")
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, env.Version)
	}

	fail := func(stage string, err error) ([]schedule.DashboardRecord, error) {
		c.logger.Debug().Err(err).Str("stage", stage).Msg("import rejected")
		c.audit(session.ActionImport, false, "integrity failure")
		return nil, ErrImportFailed
	}

	salt, err := base64.StdEncoding.DecodeString(env.Salt)
	if err != nil || len(salt) == 0 {
		return fail("salt", err)
	}
	iterations := env.Iterations
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	fc, err := newFieldCipher(deriveKey(password, salt, iterations))
	if err != nil {
		return fail("cipher", err)
	}

	maps := make([]map[string]any, 0, len(env.Records))
	for i, payload := range env.Records {
		fields := make(map[string]any, len(payload.Fields)+len(payload.Cipher))
		for k, v := range payload.Fields {
			fields[k] = v
		}
		for name, sealed := range payload.Cipher {
			plain, err := fc.open(sealed)
			if err != nil {
				return fail("decrypt", fmt.Errorf("record %d field %q: %w", i, name, err))
			}
			fields[name] = plain
		}
		maps = append(maps, fields)
	}

	records, err := recordsFromFields(maps)
	if err != nil {
		return fail("reconstruct", err)
	}
	for i := range records {
		if err := records[i].Validate(); err != nil {
			return fail("validate", err)
		}
	}

	if validateChecksum {
		checksum, err := batchChecksum(records)
		if err != nil {
			return fail("checksum", err)
		}
		if checksum != env.Checksum {
			return fail("checksum", fmt.Errorf("checksum mismatch"))
		}
	}

	c.audit(session.ActionImport, true, fmt.Sprintf("records=%d", len(records)))
	c.logger.Info().Int("records", len(records)).Msg("imported session")
	return records, nil
}

// ImportBytes decodes envelope bytes and imports them.
func (c *Codec) ImportBytes(data []byte, password string, validateChecksum bool) ([]schedule.DashboardRecord, error) {
	env, err := DecodeEnvelope(data)
	if err != nil {
		c.audit(session.ActionImport, false, "malformed envelope")
		return nil, err
	}
	return c.Import(env, password, validateChecksum)
}

// batchChecksum hashes the canonical JSON form of the record batch.
func batchChecksum(records []schedule.DashboardRecord) (string, error) {
	canonical, err := json.Marshal(records)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

func recordFields(rec schedule.DashboardRecord) (map[string]any, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func recordsFromFields(maps []map[string]any) ([]schedule.DashboardRecord, error) {
	data, err := json.Marshal(maps)
	if err != nil {
		return nil, err
	}
	records := make([]schedule.DashboardRecord, 0, len(maps))
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func deriveKey(password string, salt []byte, iterations int) []byte {
	return pbkdf2.Key([]byte(password), salt, iterations, keyLen, sha256.New)
}

// fieldCipher seals and opens individual field values with AES-256-GCM,
// a fresh random nonce per field, base64-encoded with the nonce prepended.
type fieldCipher struct {
	aead cipher.AEAD
}

func newFieldCipher(key []byte) (*fieldCipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &fieldCipher{aead: aead}, nil
}

func (fc *fieldCipher) seal(plaintext string) (string, error) {
	nonce := make([]byte, fc.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := fc.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (fc *fieldCipher) open(encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	if len(data) < fc.aead.NonceSize() {
		return "", fmt.Errorf("cipher payload too short")
	}
	nonce, ciphertext := data[:fc.aead.NonceSize()], data[fc.aead.NonceSize():]
	plain, err := fc.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
