package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
	"github.com/ruteri/secrets-gateway/interfaces"
)

// VaultConfig holds connection settings for a Vault KV v2 store.
type VaultConfig struct {
	// Address of the Vault server, e.g. http://vault:8200
	Address string
	// Token used for every request. Needs sys/policy and auth/token/create access.
	Token string
	// MountPath of the KV v2 engine, e.g. "secret"
	MountPath string
	// DataPath is the namespace inside the mount, e.g. "app"
	DataPath string
	// Timeout per request. Defaults to 30s.
	Timeout time.Duration
	// MaxRetries of the underlying Vault client. Retries are normally left to
	// the callers' own backoff envelopes, so this defaults to 0.
	MaxRetries int
	// InsecureSkipVerify disables TLS verification for development setups.
	InsecureSkipVerify bool
}

// VaultBackend implements interfaces.SecretStore on top of HashiCorp Vault:
// documents live in a KV v2 mount, policies are ACL policies and tokens are
// issued through the token auth method.
type VaultBackend struct {
	client      *api.Client
	mountPath   string
	dataPath    string
	log         *slog.Logger
	locationURI string
}

// NewVaultBackend creates a new Vault store.
func NewVaultBackend(cfg VaultConfig, log *slog.Logger) (*VaultBackend, error) {
	config := api.DefaultConfig()
	config.Address = cfg.Address
	config.MaxRetries = cfg.MaxRetries
	config.Timeout = cfg.Timeout
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if cfg.InsecureSkipVerify {
		if err := config.ConfigureTLS(&api.TLSConfig{Insecure: true}); err != nil {
			return nil, fmt.Errorf("failed to configure Vault TLS: %w", err)
		}
	}

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}

	mountPath := strings.Trim(cfg.MountPath, "/")
	if mountPath == "" {
		mountPath = "secret"
	}
	dataPath := strings.Trim(cfg.DataPath, "/")

	return &VaultBackend{
		client:      client,
		mountPath:   mountPath,
		dataPath:    dataPath,
		log:         log,
		locationURI: fmt.Sprintf("vault://%s/%s/%s", strings.TrimPrefix(strings.TrimPrefix(cfg.Address, "http://"), "https://"), mountPath, dataPath),
	}, nil
}

// dataPathFor maps a logical path to its KV v2 data path.
func (b *VaultBackend) dataPathFor(path string) string {
	path = strings.Trim(path, "/")
	if b.dataPath == "" {
		return fmt.Sprintf("%s/data/%s", b.mountPath, path)
	}
	return fmt.Sprintf("%s/data/%s/%s", b.mountPath, b.dataPath, path)
}

// Health queries sys/health with a 5s timeout.
func (b *VaultBackend) Health(ctx context.Context) (*interfaces.HealthStatus, error) {
	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	health, err := b.client.Sys().HealthWithContext(healthCtx)
	if err != nil {
		b.log.Debug("Vault health check failed", "err", err)
		return &interfaces.HealthStatus{Reachable: false, Error: err.Error()}, fmt.Errorf("%w: %v", interfaces.ErrUnavailable, err)
	}

	return &interfaces.HealthStatus{
		Reachable:   true,
		Initialized: health.Initialized,
		Sealed:      health.Sealed,
		Standby:     health.Standby,
		Version:     health.Version,
	}, nil
}

// Read fetches the latest version of a document.
func (b *VaultBackend) Read(ctx context.Context, path string) (*interfaces.VersionedDocument, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", interfaces.ErrInvalidArgument)
	}
	start := time.Now()
	fullPath := b.dataPathFor(path)

	secret, err := b.client.Logical().ReadWithContext(ctx, fullPath)
	if err != nil {
		b.log.Error("Failed to read from Vault", slog.String("path", fullPath), "err", err)
		return nil, b.mapError(err)
	}

	if secret == nil || secret.Data == nil {
		b.log.Debug("Document not found in Vault", slog.String("path", fullPath))
		return nil, fmt.Errorf("%w: %s", interfaces.ErrNotFound, path)
	}

	// A deleted or destroyed version comes back with metadata but null data.
	raw, ok := secret.Data["data"].(map[string]interface{})
	if !ok || raw == nil {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrNotFound, path)
	}

	version := 0
	if metadata, ok := secret.Data["metadata"].(map[string]interface{}); ok {
		version = parseVersion(metadata["version"])
	}

	b.log.Debug("Fetched document from Vault",
		slog.String("path", fullPath),
		slog.Int("version", version),
		slog.Duration("duration", time.Since(start)))

	return &interfaces.VersionedDocument{Data: interfaces.Document(raw), Version: version}, nil
}

// Write replaces the whole document. cas, when set, becomes the KV v2 check-and-set option.
func (b *VaultBackend) Write(ctx context.Context, path string, doc interfaces.Document, cas *int) (int, error) {
	if path == "" || doc == nil {
		return 0, fmt.Errorf("%w: empty path or document", interfaces.ErrInvalidArgument)
	}
	start := time.Now()
	fullPath := b.dataPathFor(path)

	payload := map[string]interface{}{
		"data": map[string]interface{}(doc),
	}
	if cas != nil {
		payload["options"] = map[string]interface{}{"cas": *cas}
	}

	secret, err := b.client.Logical().WriteWithContext(ctx, fullPath, payload)
	if err != nil {
		b.log.Error("Failed to write to Vault", slog.String("path", fullPath), "err", err)
		return 0, b.mapError(err)
	}

	version := 0
	if secret != nil && secret.Data != nil {
		version = parseVersion(secret.Data["version"])
	}

	b.log.Info("Stored document in Vault",
		slog.String("path", fullPath),
		slog.Int("version", version),
		slog.Duration("duration", time.Since(start)))

	return version, nil
}

// CreatePolicy installs an ACL policy unless one with the same name exists.
func (b *VaultBackend) CreatePolicy(ctx context.Context, policy interfaces.Policy) error {
	if err := policy.Validate(); err != nil {
		return err
	}

	existing, err := b.client.Sys().GetPolicyWithContext(ctx, policy.Name)
	if err != nil {
		return b.mapError(err)
	}
	if existing != "" {
		return fmt.Errorf("%w: policy %s", interfaces.ErrAlreadyExists, policy.Name)
	}

	if err := b.client.Sys().PutPolicyWithContext(ctx, policy.Name, policy.HCL(b.dataPathFor)); err != nil {
		b.log.Error("Failed to create Vault policy", slog.String("policy", policy.Name), "err", err)
		return b.mapError(err)
	}
	return nil
}

// CreateToken issues a token through auth/token/create. The default policy is
// not attached so the token holds exactly the requested policies.
func (b *VaultBackend) CreateToken(ctx context.Context, req interfaces.TokenRequest) (string, error) {
	if len(req.Policies) == 0 {
		return "", fmt.Errorf("%w: no policies", interfaces.ErrInvalidArgument)
	}
	renewable := req.Renewable

	secret, err := b.client.Auth().Token().CreateWithContext(ctx, &api.TokenCreateRequest{
		Policies:        req.Policies,
		Metadata:        req.Metadata,
		TTL:             req.TTL.String(),
		DisplayName:     req.DisplayName,
		Renewable:       &renewable,
		NoDefaultPolicy: true,
	})
	if err != nil {
		b.log.Error("Failed to create Vault token", slog.String("display_name", req.DisplayName), "err", err)
		return "", b.mapError(err)
	}
	if secret == nil || secret.Auth == nil || secret.Auth.ClientToken == "" {
		return "", fmt.Errorf("%w: empty token in Vault response", interfaces.ErrUnavailable)
	}
	return secret.Auth.ClientToken, nil
}

// Capabilities asks Vault for the capabilities of token on the data path of a document.
func (b *VaultBackend) Capabilities(ctx context.Context, token, path string) ([]string, error) {
	caps, err := b.client.Sys().CapabilitiesWithContext(ctx, token, b.dataPathFor(path))
	if err != nil {
		return nil, b.mapError(err)
	}
	return caps, nil
}

// Name returns a unique identifier for this store.
func (b *VaultBackend) Name() string {
	return fmt.Sprintf("vault-%s-%s", b.mountPath, b.dataPath)
}

// LocationURI returns the URI that identifies this store.
func (b *VaultBackend) LocationURI() string {
	return b.locationURI
}

// mapError converts Vault client errors into the interfaces taxonomy. Vault's
// own error messages are logged and never wrapped into the returned error.
func (b *VaultBackend) mapError(err error) error {
	var respErr *api.ResponseError
	if errors.As(err, &respErr) {
		native := strings.Join(respErr.Errors, "; ")
		switch {
		case respErr.StatusCode == http.StatusBadRequest && strings.Contains(native, "check-and-set"):
			return interfaces.ErrConflict
		case respErr.StatusCode == http.StatusNotFound:
			return interfaces.ErrNotFound
		case respErr.StatusCode == http.StatusBadRequest:
			b.log.Warn("Vault rejected request", slog.String("errors", native))
			return interfaces.ErrRejected
		}
		b.log.Warn("Vault request failed", slog.Int("status", respErr.StatusCode), slog.String("errors", native))
		return fmt.Errorf("%w: vault returned status %d", interfaces.ErrUnavailable, respErr.StatusCode)
	}
	return fmt.Errorf("%w: %v", interfaces.ErrUnavailable, err)
}

func parseVersion(v interface{}) int {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0
		}
		return int(i)
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	default:
		return 0
	}
}
