package storage

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/ruteri/secrets-gateway/interfaces"
)

// StoreFactory creates secret stores from URI strings.
type StoreFactory struct {
	log        *slog.Logger
	vaultToken string
}

// NewStoreFactory creates a new factory instance.
func NewStoreFactory(logger *slog.Logger) *StoreFactory {
	return &StoreFactory{log: logger}
}

// WithVaultToken sets the token used by vault:// stores.
func (sf *StoreFactory) WithVaultToken(token string) *StoreFactory {
	sf.vaultToken = token
	return sf
}

// StoreFor creates a store from a location URI.
//
// Supported schemes:
//   - vault://host:port/<mount>/<namespace>?tls=true&insecure=false&timeout=30s
//   - file:///absolute/path or file://./relative/path
//   - memory://
func (sf *StoreFactory) StoreFor(locationURI string) (interfaces.SecretStore, error) {
	u, err := url.Parse(locationURI)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidLocationURI, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "vault":
		return sf.createVaultBackend(u)
	case "file":
		return sf.createFileBackend(u)
	case "memory":
		return NewMemoryBackend(sf.log), nil
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", interfaces.ErrInvalidLocationURI, u.Scheme)
	}
}

// createVaultBackend creates a Vault KV v2 store.
// The first path segment is the mount, the rest is the namespace inside it.
func (sf *StoreFactory) createVaultBackend(u *url.URL) (interfaces.SecretStore, error) {
	sf.log.Debug("Creating Vault store", slog.String("host", u.Host))

	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing Vault host", interfaces.ErrInvalidLocationURI)
	}

	query := u.Query()
	scheme := "http"
	if query.Get("tls") == "true" {
		scheme = "https"
	}

	mountPath, dataPath := "secret", "app"
	segments := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)
	if segments[0] != "" {
		mountPath = segments[0]
		dataPath = ""
		if len(segments) == 2 {
			dataPath = segments[1]
		}
	}

	cfg := VaultConfig{
		Address:            fmt.Sprintf("%s://%s", scheme, u.Host),
		Token:              sf.vaultToken,
		MountPath:          mountPath,
		DataPath:           dataPath,
		InsecureSkipVerify: query.Get("insecure") == "true",
	}
	if timeout := query.Get("timeout"); timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid timeout %q", interfaces.ErrInvalidLocationURI, timeout)
		}
		cfg.Timeout = d
	}

	return NewVaultBackend(cfg, sf.log)
}

// createFileBackend creates a file system store.
func (sf *StoreFactory) createFileBackend(u *url.URL) (interfaces.SecretStore, error) {
	sf.log.Debug("Creating file store", slog.String("uri", u.String()))

	path := u.Path
	if u.Host != "" {
		path = u.Host + "/" + strings.TrimPrefix(path, "/")
	}
	if path == "" {
		return nil, fmt.Errorf("%w: empty path in file URI", interfaces.ErrInvalidLocationURI)
	}

	return NewFileBackend(path, sf.log)
}
