package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ruteri/secrets-gateway/bootstrap"
	"github.com/ruteri/secrets-gateway/interfaces"
	"github.com/ruteri/secrets-gateway/metrics"
)

// TokenTTL is the lifetime of issued service tokens.
const TokenTTL = 24 * time.Hour

// OtherService is the metrics label of tokens issued to services outside KnownServices.
const OtherService = "other"

// KnownServices are the service names recorded as their own metrics label.
var KnownServices = []string{"auth-service", "user-service", "game-service", "gateway-service"}

func serviceLabel(name string) string {
	if slices.Contains(KnownServices, name) {
		return name
	}
	return OtherService
}

// Service translates gateway calls into backing store operations. It holds
// no durable state; rotations are serialized per document path.
type Service struct {
	store   interfaces.SecretStore
	spec    *bootstrap.Spec
	metrics *metrics.Metrics
	log     *slog.Logger
	now     func() time.Time

	rotationLocks sync.Map // path -> *sync.Mutex
}

// NewService creates a gateway over store. spec supplies the generators used
// for rotation; nil selects bootstrap.DefaultSpec().
func NewService(store interfaces.SecretStore, spec *bootstrap.Spec, m *metrics.Metrics, log *slog.Logger) *Service {
	if spec == nil {
		spec = bootstrap.DefaultSpec()
	}
	return &Service{
		store:   store,
		spec:    spec,
		metrics: m,
		log:     log,
		now:     time.Now,
	}
}

// Read returns the document at path. Absence is reported as ErrNotFound.
func (s *Service) Read(ctx context.Context, path string) (interfaces.Document, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", interfaces.ErrInvalidArgument)
	}
	doc, err := s.store.Read(ctx, path)
	if err != nil {
		return nil, normalize(err)
	}
	return doc.Data, nil
}

// Write replaces the document at path.
func (s *Service) Write(ctx context.Context, path string, doc interfaces.Document) error {
	path = strings.Trim(path, "/")
	if path == "" || doc == nil {
		return fmt.Errorf("%w: path and document are required", interfaces.ErrInvalidArgument)
	}
	if _, err := s.store.Write(ctx, path, doc, nil); err != nil {
		return normalize(err)
	}
	s.log.Info("Secret written", slog.String("path", path))
	return nil
}

// IssueToken creates a renewable service token scoped to exactly policies.
func (s *Service) IssueToken(ctx context.Context, serviceName string, policies []string) (string, error) {
	if serviceName == "" || len(policies) == 0 {
		return "", fmt.Errorf("%w: serviceName and policies are required", interfaces.ErrInvalidArgument)
	}
	for _, p := range policies {
		if p == "" {
			return "", fmt.Errorf("%w: empty policy name", interfaces.ErrInvalidArgument)
		}
	}

	token, err := s.store.CreateToken(ctx, interfaces.TokenRequest{
		DisplayName: serviceName,
		Policies:    policies,
		TTL:         TokenTTL,
		Renewable:   true,
		Metadata: map[string]string{
			"service":    serviceName,
			"created_at": s.now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return "", normalize(err)
	}

	s.metrics.RecordToken(serviceLabel(serviceName))
	s.log.Info("Issued service token", slog.String("service_name", serviceName), slog.Any("policies", policies))
	return token, nil
}

// TokenCapabilities returns the capabilities of token on path.
func (s *Service) TokenCapabilities(ctx context.Context, token, path string) ([]string, error) {
	if token == "" || path == "" {
		return nil, fmt.Errorf("%w: token and path are required", interfaces.ErrInvalidArgument)
	}
	caps, err := s.store.Capabilities(ctx, token, strings.Trim(path, "/"))
	if err != nil {
		return nil, normalize(err)
	}
	return caps, nil
}

// Health returns the backing store status. It never fails: unreachability
// is part of the returned status.
func (s *Service) Health(ctx context.Context) interfaces.HealthStatus {
	status, err := s.store.Health(ctx)
	if status == nil {
		status = &interfaces.HealthStatus{}
	}
	if err != nil {
		status.Reachable = false
		if status.Error == "" {
			status.Error = err.Error()
		}
	}
	s.metrics.SetBackendUp(status.Healthy())
	return *status
}

// DatabaseConfig returns the connection fields of the database document.
func (s *Service) DatabaseConfig(ctx context.Context) (map[string]string, error) {
	doc, err := s.Read(ctx, bootstrap.PathDatabase)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, 5)
	for _, field := range []string{"host", "port", "username", "password", "database"} {
		out[field] = fmt.Sprint(valueOrEmpty(doc[field]))
	}
	return out, nil
}

// ServiceURLs returns the service name to URL table.
func (s *Service) ServiceURLs(ctx context.Context) (map[string]string, error) {
	doc, err := s.Read(ctx, bootstrap.PathServices)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(doc))
	for name, v := range doc {
		if name == "created_at" || name == RotatedAtField || strings.HasPrefix(name, PreviousPrefix) {
			continue
		}
		out[name] = fmt.Sprint(valueOrEmpty(v))
	}
	return out, nil
}

func valueOrEmpty(v any) any {
	if v == nil {
		return ""
	}
	return v
}

// normalize keeps taxonomy errors as they are and maps anything else to ErrUnavailable.
func normalize(err error) error {
	for _, sentinel := range []error{
		interfaces.ErrNotFound,
		interfaces.ErrUnavailable,
		interfaces.ErrInvalidArgument,
		interfaces.ErrValidationFailed,
		interfaces.ErrAlreadyExists,
		interfaces.ErrConflict,
	} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", interfaces.ErrUnavailable, err)
}
