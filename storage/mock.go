package storage

import (
	"context"

	"github.com/ruteri/secrets-gateway/interfaces"
	"github.com/stretchr/testify/mock"
)

// MockSecretStore mocks the interfaces.SecretStore interface
type MockSecretStore struct {
	mock.Mock
}

// Health mocks the Health method
func (m *MockSecretStore) Health(ctx context.Context) (*interfaces.HealthStatus, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.HealthStatus), args.Error(1)
}

// Read mocks the Read method
func (m *MockSecretStore) Read(ctx context.Context, path string) (*interfaces.VersionedDocument, error) {
	args := m.Called(ctx, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.VersionedDocument), args.Error(1)
}

// Write mocks the Write method
func (m *MockSecretStore) Write(ctx context.Context, path string, doc interfaces.Document, cas *int) (int, error) {
	args := m.Called(ctx, path, doc, cas)
	return args.Int(0), args.Error(1)
}

// CreatePolicy mocks the CreatePolicy method
func (m *MockSecretStore) CreatePolicy(ctx context.Context, policy interfaces.Policy) error {
	args := m.Called(ctx, policy)
	return args.Error(0)
}

// CreateToken mocks the CreateToken method
func (m *MockSecretStore) CreateToken(ctx context.Context, req interfaces.TokenRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

// Capabilities mocks the Capabilities method
func (m *MockSecretStore) Capabilities(ctx context.Context, token, path string) ([]string, error) {
	args := m.Called(ctx, token, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// Name mocks the Name method
func (m *MockSecretStore) Name() string {
	return "mock"
}

// LocationURI mocks the LocationURI method
func (m *MockSecretStore) LocationURI() string {
	return "mock://"
}
