package secretshandler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/secrets-gateway/api"
	"github.com/ruteri/secrets-gateway/bootstrap"
	"github.com/ruteri/secrets-gateway/gateway"
	"github.com/ruteri/secrets-gateway/interfaces"
	"github.com/ruteri/secrets-gateway/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setupTestEnvironment returns a router over a seeded memory store.
func setupTestEnvironment(t *testing.T) (chi.Router, *storage.MemoryBackend) {
	store := storage.NewMemoryBackend(testLogger())
	report, err := bootstrap.NewSeeder(store, bootstrap.DefaultSpec(), bootstrap.Options{}, testLogger()).Initialize(context.Background())
	require.NoError(t, err)
	require.Empty(t, report.Failed())

	svc := gateway.NewService(store, nil, nil, testLogger())
	mux := chi.NewRouter()
	NewHandler(svc, "secrets-gateway", testLogger()).RegisterRoutes(mux)
	return mux, store
}

func doRequest(t *testing.T, mux http.Handler, method, path string, body any) (*httptest.ResponseRecorder, api.Response) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(method, path, reader))

	var resp api.Response
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func TestHandleHealth_Healthy(t *testing.T) {
	mux, _ := setupTestEnvironment(t)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var health api.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, api.StatusHealthy, health.Status)
	assert.Equal(t, "secrets-gateway", health.Service)
	require.NotNil(t, health.Vault)
	assert.True(t, health.Vault.Initialized)
	assert.False(t, health.Vault.Sealed)
	_, err := time.Parse(time.RFC3339, health.Timestamp)
	assert.NoError(t, err)
}

func TestHandleHealth_UnreachableBackend(t *testing.T) {
	mux, store := setupTestEnvironment(t)
	store.SetAvailable(false)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var health api.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, api.StatusUnhealthy, health.Status)
	assert.NotEmpty(t, health.Error)
	assert.Nil(t, health.Vault)
}

func TestHandleHealth_Sealed(t *testing.T) {
	gw := new(mockGateway)
	gw.On("Health", mock.Anything).Return(interfaces.HealthStatus{Reachable: true, Initialized: true, Sealed: true})
	mux := chi.NewRouter()
	NewHandler(gw, "secrets-gateway", testLogger()).RegisterRoutes(mux)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "sealed")
}

func TestHandleReadSecret(t *testing.T) {
	mux, _ := setupTestEnvironment(t)

	w, resp := doRequest(t, mux, http.MethodGet, "/api/secrets/database", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)
	data := resp.Data.(map[string]any)
	assert.Equal(t, "database-service", data["host"])
	assert.Equal(t, "3306", data["port"])
	assert.Len(t, data["password"], bootstrap.DatabasePasswordLength)

	w, resp = doRequest(t, mux, http.MethodGet, "/api/secrets/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Error)
}

func TestHandleWriteSecret(t *testing.T) {
	mux, _ := setupTestEnvironment(t)

	w, resp := doRequest(t, mux, http.MethodPut, "/api/secrets/app/feature", api.WriteSecretRequest{Data: map[string]any{"flag": "on"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, resp.Success)

	w, resp = doRequest(t, mux, http.MethodGet, "/api/secrets/app/feature", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]any{"flag": "on"}, resp.Data)

	w, _ = doRequest(t, mux, http.MethodPut, "/api/secrets/app/feature", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = doRequest(t, mux, http.MethodPut, "/api/secrets/app/feature", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleWriteSecret_BackendDown(t *testing.T) {
	mux, store := setupTestEnvironment(t)
	store.SetAvailable(false)

	w, resp := doRequest(t, mux, http.MethodPut, "/api/secrets/jwt", api.WriteSecretRequest{Data: map[string]any{"secret": "s1"}})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.False(t, resp.Success)
	assert.NotContains(t, w.Body.String(), "s1")
}

func TestHandleServiceToken(t *testing.T) {
	mux, _ := setupTestEnvironment(t)

	w, resp := doRequest(t, mux, http.MethodPost, "/api/tokens/service", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Error)

	w, _ = doRequest(t, mux, http.MethodPost, "/api/tokens/service", api.ServiceTokenRequest{ServiceName: "auth-service"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, resp = doRequest(t, mux, http.MethodPost, "/api/tokens/service", api.ServiceTokenRequest{
		ServiceName: "auth-service",
		Policies:    []string{"auth-service"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	token := resp.Data.(map[string]any)["token"].(string)
	assert.NotEmpty(t, token)

	w, resp = doRequest(t, mux, http.MethodPost, "/api/tokens/capabilities", api.CapabilitiesRequest{Token: token, Path: "jwt"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.ElementsMatch(t, []any{"read", "update"}, resp.Data.(map[string]any)["capabilities"])

	w, resp = doRequest(t, mux, http.MethodPost, "/api/tokens/capabilities", api.CapabilitiesRequest{Token: token, Path: "encryption"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, resp.Data.(map[string]any)["capabilities"])
}

func TestHandleDatabaseConfigAndServiceURLs(t *testing.T) {
	mux, _ := setupTestEnvironment(t)

	w, resp := doRequest(t, mux, http.MethodGet, "/api/database/config", nil)
	require.Equal(t, http.StatusOK, w.Code)
	cfg := resp.Data.(map[string]any)
	assert.Equal(t, "database-service", cfg["host"])
	assert.Equal(t, "3306", cfg["port"])
	assert.NotContains(t, cfg, "created_at")

	w, resp = doRequest(t, mux, http.MethodGet, "/api/services/urls", nil)
	require.Equal(t, http.StatusOK, w.Code)
	urls := resp.Data.(map[string]any)
	assert.Equal(t, "http://auth-service:3001", urls["auth_service"])
	assert.NotContains(t, urls, "created_at")
}

func TestHandleRotateJWT(t *testing.T) {
	mux, store := setupTestEnvironment(t)
	ctx := context.Background()

	before, err := store.Read(ctx, bootstrap.PathJWT)
	require.NoError(t, err)

	w, resp := doRequest(t, mux, http.MethodPost, "/api/jwt/rotate", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.Message)
	assert.NotContains(t, w.Body.String(), before.Data.String("secret"))

	after, err := store.Read(ctx, bootstrap.PathJWT)
	require.NoError(t, err)
	assert.Equal(t, before.Data.String("secret"), after.Data.String("previous_secret"))
	assert.NotEqual(t, before.Data.String("secret"), after.Data.String("secret"))
	assert.Equal(t, "HS256", after.Data.String("algorithm"))
}

func TestHandleRotate(t *testing.T) {
	mux, _ := setupTestEnvironment(t)

	w, resp := doRequest(t, mux, http.MethodPost, "/api/rotate/database", api.RotateRequest{Field: "password"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	data := resp.Data.(map[string]any)
	assert.Equal(t, "database", data["path"])
	assert.Equal(t, "password", data["field"])

	w, _ = doRequest(t, mux, http.MethodPost, "/api/rotate/missing", api.RotateRequest{Field: "password"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = doRequest(t, mux, http.MethodPost, "/api/rotate/database", api.RotateRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleRotate_Conflict(t *testing.T) {
	gw := new(mockGateway)
	gw.On("Rotate", mock.Anything, "jwt", "secret").Return(nil, interfaces.ErrConflict)
	mux := chi.NewRouter()
	NewHandler(gw, "secrets-gateway", testLogger()).RegisterRoutes(mux)

	w, resp := doRequest(t, mux, http.MethodPost, "/api/rotate/jwt", api.RotateRequest{Field: "secret"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.False(t, resp.Success)
	gw.AssertExpectations(t)
}

func TestHandleRead_InternalErrorIsGeneric(t *testing.T) {
	gw := new(mockGateway)
	gw.On("Read", mock.Anything, "jwt").Return(nil, errors.New("vault: permission denied for token hvs.s3cr3t"))
	mux := chi.NewRouter()
	NewHandler(gw, "secrets-gateway", testLogger()).RegisterRoutes(mux)

	w, resp := doRequest(t, mux, http.MethodGet, "/api/secrets/jwt", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Failed to read secret", resp.Error)
	assert.NotContains(t, w.Body.String(), "hvs.")
}

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) Read(ctx context.Context, path string) (interfaces.Document, error) {
	args := m.Called(ctx, path)
	doc, _ := args.Get(0).(interfaces.Document)
	return doc, args.Error(1)
}

func (m *mockGateway) Write(ctx context.Context, path string, doc interfaces.Document) error {
	return m.Called(ctx, path, doc).Error(0)
}

func (m *mockGateway) IssueToken(ctx context.Context, serviceName string, policies []string) (string, error) {
	args := m.Called(ctx, serviceName, policies)
	return args.String(0), args.Error(1)
}

func (m *mockGateway) TokenCapabilities(ctx context.Context, token, path string) ([]string, error) {
	args := m.Called(ctx, token, path)
	caps, _ := args.Get(0).([]string)
	return caps, args.Error(1)
}

func (m *mockGateway) Health(ctx context.Context) interfaces.HealthStatus {
	return m.Called(ctx).Get(0).(interfaces.HealthStatus)
}

func (m *mockGateway) DatabaseConfig(ctx context.Context) (map[string]string, error) {
	args := m.Called(ctx)
	cfg, _ := args.Get(0).(map[string]string)
	return cfg, args.Error(1)
}

func (m *mockGateway) ServiceURLs(ctx context.Context) (map[string]string, error) {
	args := m.Called(ctx)
	urls, _ := args.Get(0).(map[string]string)
	return urls, args.Error(1)
}

func (m *mockGateway) Rotate(ctx context.Context, path, field string) (*gateway.RotationResult, error) {
	args := m.Called(ctx, path, field)
	res, _ := args.Get(0).(*gateway.RotationResult)
	return res, args.Error(1)
}

func (m *mockGateway) RotateJWT(ctx context.Context) (*gateway.RotationResult, error) {
	args := m.Called(ctx)
	res, _ := args.Get(0).(*gateway.RotationResult)
	return res, args.Error(1)
}

func TestHandleServiceToken_BackendRejectionIsGeneric(t *testing.T) {
	vault := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if strings.HasSuffix(r.URL.Path, "/auth/token/create") {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"errors":["token policies (\"admin\") must be subset of parent token's policies"]}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"errors":[]}`))
	}))
	t.Cleanup(vault.Close)

	store, err := storage.NewVaultBackend(storage.VaultConfig{
		Address:   vault.URL,
		Token:     "root",
		MountPath: "secret",
		DataPath:  "app",
		Timeout:   5 * time.Second,
	}, testLogger())
	require.NoError(t, err)

	mux := chi.NewRouter()
	NewHandler(gateway.NewService(store, nil, nil, testLogger()), "secrets-gateway", testLogger()).RegisterRoutes(mux)

	w, resp := doRequest(t, mux, http.MethodPost, "/api/tokens/service", api.ServiceTokenRequest{
		ServiceName: "auth",
		Policies:    []string{"admin"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid request", resp.Error)
	assert.NotContains(t, w.Body.String(), "parent token")
}
