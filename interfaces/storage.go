package interfaces

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when no document, policy or token exists at the requested location.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable is returned when the backing store (or the gateway, from a client's
	// point of view) cannot be reached or answered with an unexpected failure.
	ErrUnavailable = errors.New("backend unavailable")

	// ErrInvalidArgument is returned for malformed requests. These are never retried.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrRejected is returned when the backing store refuses a request as malformed.
	// It never carries the store's own error text.
	ErrRejected = fmt.Errorf("%w: rejected by backing store", ErrInvalidArgument)

	// ErrValidationFailed is returned when a fetched configuration section fails
	// shape or strength checks.
	ErrValidationFailed = errors.New("validation failed")

	// ErrAlreadyExists is returned by CreatePolicy when a policy with the same name is installed.
	ErrAlreadyExists = errors.New("already exists")

	// ErrConflict is returned when a compare-and-write observes a newer version than expected.
	ErrConflict = errors.New("version conflict")

	// ErrInvalidLocationURI is returned when a store location URI is malformed or unsupported.
	// URIs must follow the format: [scheme]://[host[:port]][/path][?params]
	ErrInvalidLocationURI = errors.New("invalid store location URI")
)

// Document is a free-form secret document: field name to string or opaque value.
type Document map[string]any

// Clone returns a shallow copy of the document.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// String returns the string value of a field, or "" when absent or not a string.
func (d Document) String(field string) string {
	v, ok := d[field]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

// VersionedDocument is a document together with the store version it was read at.
type VersionedDocument struct {
	Data    Document
	Version int
}

// TokenRequest describes a service token to be created by the store.
type TokenRequest struct {
	DisplayName string
	Policies    []string
	TTL         time.Duration
	Renewable   bool
	Metadata    map[string]string
}

// HealthStatus is the structured health of the backing store.
type HealthStatus struct {
	Reachable   bool   `json:"reachable"`
	Initialized bool   `json:"initialized"`
	Sealed      bool   `json:"sealed"`
	Standby     bool   `json:"standby"`
	Version     string `json:"version"`
	Error       string `json:"error,omitempty"`
}

// Healthy reports whether the store can serve reads and writes.
func (h *HealthStatus) Healthy() bool {
	return h != nil && h.Reachable && h.Initialized && !h.Sealed
}

// SecretStore is the backing secret engine. Paths are logical paths relative
// to the store's namespace (e.g. "database", "jwt").
type SecretStore interface {
	// Health returns the store health. Unreachability is reported both in the
	// status and as an error wrapping ErrUnavailable.
	Health(ctx context.Context) (*HealthStatus, error)

	// Read returns the current document at path, or ErrNotFound.
	Read(ctx context.Context, path string) (*VersionedDocument, error)

	// Write replaces the whole document at path and returns its new version.
	// If cas is non-nil the write only succeeds when the current version equals *cas
	// (0 means the document must not exist); otherwise it fails with ErrConflict.
	Write(ctx context.Context, path string, doc Document, cas *int) (int, error)

	// CreatePolicy installs a policy. Returns ErrAlreadyExists if the name is taken.
	CreatePolicy(ctx context.Context, policy Policy) error

	// CreateToken issues a token bound to exactly the requested policies.
	CreateToken(ctx context.Context, req TokenRequest) (string, error)

	// Capabilities returns the capabilities a token has on a logical path.
	Capabilities(ctx context.Context, token, path string) ([]string, error)

	// Name returns identifier for logging.
	Name() string

	// LocationURI returns URI identifying this store.
	LocationURI() string
}
