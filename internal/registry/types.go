package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// RecordKind tags what a stored hash points at. The explicit tag replaces the
// structural "does the metadata have a fileName key" probe of older clients.
type RecordKind string

const (
	KindFile       RecordKind = "file"
	KindCredential RecordKind = "credential"
)

// Status of a credential, derived from its two source flags.
type Status string

const (
	StatusActive  Status = "Active"
	StatusRevoked Status = "Revoked"
	StatusDeleted Status = "Deleted"
)

// DeriveStatus computes the visible status from the revocation and tombstone
// flags. Deleted takes precedence over Revoked.
func DeriveStatus(revoked, deleted bool) Status {
	switch {
	case deleted:
		return StatusDeleted
	case revoked:
		return StatusRevoked
	default:
		return StatusActive
	}
}

// FileRecord tracks ownership of one content-addressed blob. Records are
// tombstoned on delete, never physically removed.
type FileRecord struct {
	Hash      string     `json:"hash"`
	Owner     string     `json:"owner"`
	Kind      RecordKind `json:"kind"`
	Timestamp time.Time  `json:"timestamp"`
	Deleted   bool       `json:"deleted"`
}

// Credential is an issuer-attested, receiver-scoped metadata record. Field
// revocation is copy-on-write: the record is re-keyed to a new CID and the old
// CID remains resolvable through an alias chain.
type Credential struct {
	CID             string    `json:"cid"`
	Issuer          string    `json:"issuer"`
	Receiver        string    `json:"receiver"`
	Metadata        string    `json:"metadata"`
	MandatoryFields []string  `json:"mandatory_fields"`
	RevokedFields   []string  `json:"revoked_fields"`
	Revoked         bool      `json:"revoked"`
	Deleted         bool      `json:"deleted"`
	Timestamp       time.Time `json:"timestamp"`
}

// Status returns the derived lifecycle status.
func (c Credential) Status() Status {
	return DeriveStatus(c.Revoked, c.Deleted)
}

// ShareGrant is a time-boxed, field-scoped read permission. Grants are never
// deleted; validity is evaluated against the clock at read time.
type ShareGrant struct {
	ID            string    `json:"id"`
	FileHash      string    `json:"file_hash"`
	Owner         string    `json:"owner"`
	Recipient     string    `json:"recipient"`
	AllowedFields []string  `json:"allowed_fields"`
	Expiration    time.Time `json:"expiration"`
	CreatedAt     time.Time `json:"created_at"`
}

// Active reports whether the grant is still valid at the given instant.
func (g ShareGrant) Active(now time.Time) bool {
	return now.Before(g.Expiration)
}

// Verification is the public read anyone may perform on a credential.
type Verification struct {
	IsValid  bool   `json:"is_valid"`
	Issuer   string `json:"issuer"`
	Receiver string `json:"receiver"`
	Metadata string `json:"metadata"`
}

// CredentialDetails is the full read-side view of a credential, optionally
// carrying a metadata view filtered to a requested field set.
type CredentialDetails struct {
	CID             string            `json:"cid"`
	Issuer          string            `json:"issuer"`
	Receiver        string            `json:"receiver"`
	Metadata        string            `json:"metadata"`
	MandatoryFields []string          `json:"mandatory_fields"`
	RevokedFields   []string          `json:"revoked_fields"`
	Status          Status            `json:"status"`
	IsDeleted       bool              `json:"is_deleted"`
	Timestamp       time.Time         `json:"timestamp"`
	SharedMetadata  map[string]string `json:"shared_metadata,omitempty"`
}

var (
	ErrNotFound        = errors.New("registry: not found")
	ErrDuplicateFile   = errors.New("registry: file hash already recorded")
	ErrNotOwner        = errors.New("registry: caller is not the owner")
	ErrNotIssuer       = errors.New("registry: caller is not a registered issuer")
	ErrUnauthorized    = errors.New("registry: unauthorized")
	ErrAlreadyDeleted  = errors.New("registry: already deleted")
	ErrAlreadyRevoked  = errors.New("registry: already revoked")
	ErrNotActive       = errors.New("registry: credential is not active")
	ErrFieldMandatory  = errors.New("registry: field is mandatory")
	ErrFieldNotFound   = errors.New("registry: field not present in metadata")
	ErrInvalidMetadata = errors.New("registry: invalid metadata")
	ErrInvalidDuration = errors.New("registry: share duration must be positive")
)

// ParseMetadata decodes a credential metadata document. Shape is validated on
// every read; anything but a flat object of string values is rejected.
func ParseMetadata(raw string) (map[string]string, error) {
	var out map[string]string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}
	return out, nil
}

// mandatoryEnvelope matches the wire shape {"fields": ["name", ...]}.
type mandatoryEnvelope struct {
	Fields []string `json:"fields"`
}

// ParseMandatoryFields decodes the mandatory-field marker document.
func ParseMandatoryFields(raw string) ([]string, error) {
	var env mandatoryEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}
	return env.Fields, nil
}

// EncodeMandatoryFields produces the wire shape consumed by ParseMandatoryFields.
func EncodeMandatoryFields(fields []string) string {
	data, _ := json.Marshal(mandatoryEnvelope{Fields: fields})
	return string(data)
}
