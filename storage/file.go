package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/secrets-gateway/interfaces"
)

// FileBackend implements a SecretStore on the local file system.
// Documents, policies and tokens are JSON files in separate subdirectories.
type FileBackend struct {
	mu          sync.Mutex
	baseDir     string
	log         *slog.Logger
	locationURI string
}

const (
	secretsDir  = "secrets"
	policiesDir = "policies"
	tokensDir   = "tokens"
)

type fileDocument struct {
	Version int                 `json:"version"`
	Data    interfaces.Document `json:"data"`
}

// NewFileBackend creates a new file store using the specified base directory.
// It creates the subdirectories if they don't exist.
func NewFileBackend(baseDir string, log *slog.Logger) (*FileBackend, error) {
	for _, dir := range []string{secretsDir, policiesDir, tokensDir} {
		if err := os.MkdirAll(filepath.Join(baseDir, dir), 0700); err != nil {
			return nil, fmt.Errorf("failed to create %s directory: %w", dir, err)
		}
	}

	return &FileBackend{
		baseDir:     baseDir,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", baseDir),
	}, nil
}

// Health reports the store reachable while the base directory exists.
func (b *FileBackend) Health(ctx context.Context) (*interfaces.HealthStatus, error) {
	if _, err := os.Stat(b.baseDir); err != nil {
		b.log.Debug("File store unavailable", "err", err)
		return &interfaces.HealthStatus{Reachable: false, Error: err.Error()}, fmt.Errorf("%w: %v", interfaces.ErrUnavailable, err)
	}
	return &interfaces.HealthStatus{Reachable: true, Initialized: true, Version: "file"}, nil
}

func (b *FileBackend) Read(ctx context.Context, path string) (*interfaces.VersionedDocument, error) {
	filePath, err := b.documentPath(path)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	doc, err := b.readDocument(filePath)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrNotFound, path)
	}
	return &interfaces.VersionedDocument{Data: doc.Data, Version: doc.Version}, nil
}

func (b *FileBackend) Write(ctx context.Context, path string, data interfaces.Document, cas *int) (int, error) {
	if data == nil {
		return 0, fmt.Errorf("%w: nil document", interfaces.ErrInvalidArgument)
	}
	filePath, err := b.documentPath(path)
	if err != nil {
		return 0, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	current, err := b.readDocument(filePath)
	if err != nil {
		return 0, err
	}
	version := 0
	if current != nil {
		version = current.Version
	}
	if cas != nil && *cas != version {
		return 0, fmt.Errorf("%w: %s is at version %d, expected %d", interfaces.ErrConflict, path, version, *cas)
	}

	next := fileDocument{Version: version + 1, Data: data}
	if err := b.writeJSON(filePath, next); err != nil {
		return 0, err
	}

	b.log.Debug("Stored document in file", slog.String("path", filePath), slog.Int("version", next.Version))
	return next.Version, nil
}

func (b *FileBackend) CreatePolicy(ctx context.Context, policy interfaces.Policy) error {
	if err := policy.Validate(); err != nil {
		return err
	}
	if strings.ContainsAny(policy.Name, `/\`) {
		return fmt.Errorf("%w: invalid policy name %q", interfaces.ErrInvalidArgument, policy.Name)
	}
	filePath := filepath.Join(b.baseDir, policiesDir, policy.Name+".json")

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := os.Stat(filePath); err == nil {
		return fmt.Errorf("%w: policy %s", interfaces.ErrAlreadyExists, policy.Name)
	}
	return b.writeJSON(filePath, policy)
}

func (b *FileBackend) CreateToken(ctx context.Context, req interfaces.TokenRequest) (string, error) {
	if len(req.Policies) == 0 {
		return "", fmt.Errorf("%w: no policies", interfaces.ErrInvalidArgument)
	}
	for _, name := range req.Policies {
		if name == "" || strings.ContainsAny(name, `/\`) {
			return "", fmt.Errorf("%w: invalid policy name %q", interfaces.ErrInvalidArgument, name)
		}
	}
	token := "file." + uuid.NewString()
	entry := tokenEntry{
		Policies:  req.Policies,
		Renewable: req.Renewable,
		ExpiresAt: time.Now().Add(req.TTL),
		Metadata:  req.Metadata,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.writeJSON(filepath.Join(b.baseDir, tokensDir, token+".json"), entry); err != nil {
		return "", err
	}
	return token, nil
}

func (b *FileBackend) Capabilities(ctx context.Context, token, path string) ([]string, error) {
	if token == "" || strings.ContainsAny(token, `/\`) {
		return nil, fmt.Errorf("%w: invalid token", interfaces.ErrInvalidArgument)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	var entry tokenEntry
	found, err := b.readJSON(filepath.Join(b.baseDir, tokensDir, token+".json"), &entry)
	if err != nil {
		return nil, err
	}
	if !found || time.Now().After(entry.ExpiresAt) {
		return nil, fmt.Errorf("%w: token", interfaces.ErrNotFound)
	}

	bound := make([]interfaces.Policy, 0, len(entry.Policies))
	for _, name := range entry.Policies {
		var p interfaces.Policy
		ok, err := b.readJSON(filepath.Join(b.baseDir, policiesDir, name+".json"), &p)
		if err != nil {
			return nil, err
		}
		if ok {
			bound = append(bound, p)
		}
	}
	return interfaces.EffectiveCapabilities(bound, path), nil
}

// Name returns a unique identifier for this store.
func (b *FileBackend) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(b.baseDir))
}

// LocationURI returns the URI that identifies this store.
func (b *FileBackend) LocationURI() string {
	return b.locationURI
}

// documentPath maps a logical path to a file, refusing paths that escape the base directory.
func (b *FileBackend) documentPath(path string) (string, error) {
	clean := strings.Trim(path, "/")
	if clean == "" {
		return "", fmt.Errorf("%w: empty path", interfaces.ErrInvalidArgument)
	}
	for _, segment := range strings.Split(clean, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return "", fmt.Errorf("%w: invalid path %q", interfaces.ErrInvalidArgument, path)
		}
	}
	return filepath.Join(b.baseDir, secretsDir, filepath.FromSlash(clean)+".json"), nil
}

func (b *FileBackend) readDocument(filePath string) (*fileDocument, error) {
	var doc fileDocument
	found, err := b.readJSON(filePath, &doc)
	if err != nil || !found {
		return nil, err
	}
	return &doc, nil
}

func (b *FileBackend) readJSON(filePath string, v any) (bool, error) {
	data, err := os.ReadFile(filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: failed to read file: %v", interfaces.ErrUnavailable, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("%w: corrupt file %s: %v", interfaces.ErrUnavailable, filepath.Base(filePath), err)
	}
	return true, nil
}

// writeJSON writes through a temporary file so a document is never partially written.
func (b *FileBackend) writeJSON(filePath string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrInvalidArgument, err)
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0700); err != nil {
		return fmt.Errorf("%w: failed to create directory: %v", interfaces.ErrUnavailable, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(filePath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: failed to create file: %v", interfaces.ErrUnavailable, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: failed to write file: %v", interfaces.ErrUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: failed to write file: %v", interfaces.ErrUnavailable, err)
	}
	if err := os.Rename(tmp.Name(), filePath); err != nil {
		return fmt.Errorf("%w: failed to write file: %v", interfaces.ErrUnavailable, err)
	}
	return nil
}
