package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/secrets-gateway/interfaces"
	"go.uber.org/atomic"
)

type tokenEntry struct {
	Policies  []string          `json:"policies"`
	Renewable bool              `json:"renewable"`
	ExpiresAt time.Time         `json:"expires_at"`
	Metadata  map[string]string `json:"metadata"`
}

// MemoryBackend is an in-process SecretStore for development and tests.
// It honours the same versioning, policy and token semantics as Vault.
type MemoryBackend struct {
	mu        sync.Mutex
	docs      map[string]interfaces.VersionedDocument
	policies  map[string]interfaces.Policy
	tokens    map[string]tokenEntry
	available atomic.Bool
	now       func() time.Time
	log       *slog.Logger
}

// NewMemoryBackend creates an empty, available memory store.
func NewMemoryBackend(log *slog.Logger) *MemoryBackend {
	b := &MemoryBackend{
		docs:     make(map[string]interfaces.VersionedDocument),
		policies: make(map[string]interfaces.Policy),
		tokens:   make(map[string]tokenEntry),
		now:      time.Now,
		log:      log,
	}
	b.available.Store(true)
	return b
}

// SetAvailable simulates an outage when set to false.
func (b *MemoryBackend) SetAvailable(available bool) {
	b.available.Store(available)
}

func (b *MemoryBackend) checkAvailable() error {
	if !b.available.Load() {
		return fmt.Errorf("%w: memory store offline", interfaces.ErrUnavailable)
	}
	return nil
}

// Health reports the store as an initialized, unsealed engine while available.
func (b *MemoryBackend) Health(ctx context.Context) (*interfaces.HealthStatus, error) {
	if err := b.checkAvailable(); err != nil {
		return &interfaces.HealthStatus{Reachable: false, Error: err.Error()}, err
	}
	return &interfaces.HealthStatus{Reachable: true, Initialized: true, Version: "memory"}, nil
}

func (b *MemoryBackend) Read(ctx context.Context, path string) (*interfaces.VersionedDocument, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", interfaces.ErrInvalidArgument)
	}
	if err := b.checkAvailable(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	doc, ok := b.docs[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrNotFound, path)
	}
	return &interfaces.VersionedDocument{Data: doc.Data.Clone(), Version: doc.Version}, nil
}

func (b *MemoryBackend) Write(ctx context.Context, path string, doc interfaces.Document, cas *int) (int, error) {
	if path == "" || doc == nil {
		return 0, fmt.Errorf("%w: empty path or document", interfaces.ErrInvalidArgument)
	}
	if err := b.checkAvailable(); err != nil {
		return 0, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	current := b.docs[path]
	if cas != nil && *cas != current.Version {
		return 0, fmt.Errorf("%w: %s is at version %d, expected %d", interfaces.ErrConflict, path, current.Version, *cas)
	}
	next := interfaces.VersionedDocument{Data: doc.Clone(), Version: current.Version + 1}
	b.docs[path] = next
	b.log.Debug("Stored document in memory", slog.String("path", path), slog.Int("version", next.Version))
	return next.Version, nil
}

func (b *MemoryBackend) CreatePolicy(ctx context.Context, policy interfaces.Policy) error {
	if err := policy.Validate(); err != nil {
		return err
	}
	if err := b.checkAvailable(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.policies[policy.Name]; ok {
		return fmt.Errorf("%w: policy %s", interfaces.ErrAlreadyExists, policy.Name)
	}
	b.policies[policy.Name] = policy
	return nil
}

func (b *MemoryBackend) CreateToken(ctx context.Context, req interfaces.TokenRequest) (string, error) {
	if len(req.Policies) == 0 {
		return "", fmt.Errorf("%w: no policies", interfaces.ErrInvalidArgument)
	}
	if err := b.checkAvailable(); err != nil {
		return "", err
	}

	token := "mem." + uuid.NewString()
	b.mu.Lock()
	b.tokens[token] = tokenEntry{
		Policies:  append([]string(nil), req.Policies...),
		Renewable: req.Renewable,
		ExpiresAt: b.now().Add(req.TTL),
		Metadata:  req.Metadata,
	}
	b.mu.Unlock()
	return token, nil
}

// Capabilities resolves the token's bound policies and returns their union on path.
// Policies that are not installed contribute nothing.
func (b *MemoryBackend) Capabilities(ctx context.Context, token, path string) ([]string, error) {
	if err := b.checkAvailable(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.tokens[token]
	if !ok || (!entry.ExpiresAt.IsZero() && b.now().After(entry.ExpiresAt)) {
		return nil, fmt.Errorf("%w: token", interfaces.ErrNotFound)
	}
	bound := make([]interfaces.Policy, 0, len(entry.Policies))
	for _, name := range entry.Policies {
		if p, ok := b.policies[name]; ok {
			bound = append(bound, p)
		}
	}
	return interfaces.EffectiveCapabilities(bound, path), nil
}

// PolicyNames returns the names of installed policies.
func (b *MemoryBackend) PolicyNames() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.policies))
	for name := range b.policies {
		names = append(names, name)
	}
	return names
}

func (b *MemoryBackend) Name() string {
	return "memory"
}

func (b *MemoryBackend) LocationURI() string {
	return "memory://"
}
