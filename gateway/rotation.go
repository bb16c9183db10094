package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ruteri/secrets-gateway/bootstrap"
	"github.com/ruteri/secrets-gateway/interfaces"
)

const (
	// RotatedAtField records the time of the last rotation.
	RotatedAtField = "rotated_at"
	// PreviousPrefix prefixes the field holding the value replaced by the last rotation.
	PreviousPrefix = "previous_"
	// JWTSecretField is the signing key field of the jwt document.
	JWTSecretField = "secret"

	defaultRotationLength = 64
)

// RotationResult describes a completed rotation. It never carries secret values.
type RotationResult struct {
	Path      string    `json:"path"`
	Field     string    `json:"field"`
	Version   int       `json:"version"`
	RotatedAt time.Time `json:"rotated_at"`
}

// PreviousField returns the name of the field retaining the previous value of field.
func PreviousField(field string) string {
	return PreviousPrefix + field
}

func (s *Service) rotationLock(path string) *sync.Mutex {
	l, _ := s.rotationLocks.LoadOrStore(path, &sync.Mutex{})
	return l.(*sync.Mutex)
}

// Rotate replaces field of the document at path with fresh random material.
// All other fields are kept, the old value moves to previous_<field> (dropping
// any older one) and rotated_at is set. Rotations of one path are serialized,
// and the write is a compare-and-write against the version read, so a
// concurrent external writer yields ErrConflict instead of a lost update.
func (s *Service) Rotate(ctx context.Context, path, field string) (*RotationResult, error) {
	path = strings.Trim(path, "/")
	if path == "" || field == "" {
		return nil, fmt.Errorf("%w: path and field are required", interfaces.ErrInvalidArgument)
	}
	if field == RotatedAtField || strings.HasPrefix(field, PreviousPrefix) {
		return nil, fmt.Errorf("%w: field %s cannot be rotated", interfaces.ErrInvalidArgument, field)
	}

	lock := s.rotationLock(path)
	lock.Lock()
	defer lock.Unlock()

	// Rotations are only recorded for documents that exist, so the path
	// label stays bounded by the stored documents.
	current, err := s.store.Read(ctx, path)
	if err != nil {
		return nil, normalize(err)
	}

	value, err := s.generate(path, field)
	if err != nil {
		s.metrics.RecordRotation(path, "failed")
		return nil, err
	}

	now := s.now().UTC()
	next := current.Data.Clone()
	if old, ok := current.Data[field]; ok {
		next[PreviousField(field)] = old
	} else {
		delete(next, PreviousField(field))
	}
	next[field] = value
	next[RotatedAtField] = now.Format(time.RFC3339)

	cas := current.Version
	version, err := s.store.Write(ctx, path, next, &cas)
	if err != nil {
		s.metrics.RecordRotation(path, "failed")
		s.log.Warn("Rotation write failed", slog.String("path", path), slog.String("field", field), "err", err)
		return nil, normalize(err)
	}

	s.metrics.RecordRotation(path, "success")
	s.log.Info("Rotated secret",
		slog.String("path", path),
		slog.String("field", field),
		slog.Int("version", version))

	return &RotationResult{Path: path, Field: field, Version: version, RotatedAt: now}, nil
}

// RotateJWT rotates the signing key of the jwt document.
func (s *Service) RotateJWT(ctx context.Context) (*RotationResult, error) {
	return s.Rotate(ctx, bootstrap.PathJWT, JWTSecretField)
}

// generate uses the seeding generator of path.field when it is random,
// otherwise a 64 character alphanumeric value.
func (s *Service) generate(path, field string) (string, error) {
	gen, ok := s.spec.GeneratorFor(path, field)
	if !ok || !gen.Random() {
		gen = bootstrap.Generator{Kind: bootstrap.GeneratorAlphanumeric, Length: defaultRotationLength}
	}
	return gen.Generate(s.now(), nil)
}
