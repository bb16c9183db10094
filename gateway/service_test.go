package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/ruteri/secrets-gateway/bootstrap"
	"github.com/ruteri/secrets-gateway/interfaces"
	"github.com/ruteri/secrets-gateway/metrics"
	"github.com/ruteri/secrets-gateway/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T) (*Service, *storage.MemoryBackend) {
	store := storage.NewMemoryBackend(testLogger())
	return NewService(store, nil, nil, testLogger()), store
}

func TestReadWrite(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	_, err := svc.Read(ctx, "database")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	require.NoError(t, svc.Write(ctx, "/database/", interfaces.Document{"host": "database-service"}))
	doc, err := svc.Read(ctx, "database")
	require.NoError(t, err)
	assert.Equal(t, "database-service", doc.String("host"))

	assert.ErrorIs(t, svc.Write(ctx, "", interfaces.Document{}), interfaces.ErrInvalidArgument)
	assert.ErrorIs(t, svc.Write(ctx, "x", nil), interfaces.ErrInvalidArgument)
}

func TestWrite_BackendDown(t *testing.T) {
	svc, store := newTestService(t)
	store.SetAvailable(false)

	err := svc.Write(context.Background(), "jwt", interfaces.Document{"secret": "s1"})
	assert.ErrorIs(t, err, interfaces.ErrUnavailable)
	assert.NotContains(t, err.Error(), "s1")
}

func TestRead_NativeErrorsAreNormalized(t *testing.T) {
	store := new(storage.MockSecretStore)
	store.On("Read", mock.Anything, "jwt").Return(nil, errors.New("dial tcp: connection refused"))
	svc := NewService(store, nil, nil, testLogger())

	_, err := svc.Read(context.Background(), "jwt")
	assert.ErrorIs(t, err, interfaces.ErrUnavailable)
}

func TestIssueToken(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	_, err := svc.IssueToken(ctx, "", []string{"service-read"})
	assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)
	_, err = svc.IssueToken(ctx, "auth-service", nil)
	assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)

	for _, p := range bootstrap.DefaultSpec().Policies {
		require.NoError(t, store.CreatePolicy(ctx, p))
	}

	token, err := svc.IssueToken(ctx, "auth-service", []string{"auth-service"})
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	caps, err := svc.TokenCapabilities(ctx, token, "jwt")
	require.NoError(t, err)
	assert.Equal(t, []string{"read", "update"}, caps)

	caps, err = svc.TokenCapabilities(ctx, token, "encryption")
	require.NoError(t, err)
	assert.Empty(t, caps)
}

func TestIssueToken_Request(t *testing.T) {
	store := new(storage.MockSecretStore)
	store.On("CreateToken", mock.Anything, mock.MatchedBy(func(req interfaces.TokenRequest) bool {
		return req.TTL == 24*time.Hour &&
			req.Renewable &&
			req.DisplayName == "game-service" &&
			req.Metadata["service"] == "game-service" &&
			req.Metadata["created_at"] != "" &&
			len(req.Policies) == 2 && req.Policies[0] == "service-read" && req.Policies[1] == "database-only"
	})).Return("tok", nil)

	svc := NewService(store, nil, nil, testLogger())
	token, err := svc.IssueToken(context.Background(), "game-service", []string{"service-read", "database-only"})
	require.NoError(t, err)
	assert.Equal(t, "tok", token)
	store.AssertExpectations(t)
}

// Token scoping: for every combination of the default policies the token's
// capabilities equal the union of the named policies' rules.
func TestIssueToken_ScopedToPolicyUnion(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	spec := bootstrap.DefaultSpec()
	for _, p := range spec.Policies {
		require.NoError(t, store.CreatePolicy(ctx, p))
	}

	byName := map[string]interfaces.Policy{}
	for _, p := range spec.Policies {
		byName[p.Name] = p
	}

	combos := [][]string{
		{"database-only"},
		{"auth-service"},
		{"auth-service", "database-only"},
		{"service-read", "auth-service"},
		{"admin"},
	}
	paths := []string{"database", "jwt", "oauth", "encryption", "services"}

	for _, combo := range combos {
		token, err := svc.IssueToken(ctx, "svc", combo)
		require.NoError(t, err)

		bound := make([]interfaces.Policy, 0, len(combo))
		for _, name := range combo {
			bound = append(bound, byName[name])
		}
		for _, path := range paths {
			caps, err := svc.TokenCapabilities(ctx, token, path)
			require.NoError(t, err)
			assert.Equal(t, interfaces.EffectiveCapabilities(bound, path), caps, "%v on %s", combo, path)
		}
	}
}

func TestHealth(t *testing.T) {
	svc, store := newTestService(t)

	status := svc.Health(context.Background())
	assert.True(t, status.Reachable)
	assert.True(t, status.Initialized)
	assert.Empty(t, status.Error)

	store.SetAvailable(false)
	status = svc.Health(context.Background())
	assert.False(t, status.Reachable)
	assert.NotEmpty(t, status.Error)
}

func TestHealth_NilStatus(t *testing.T) {
	store := new(storage.MockSecretStore)
	store.On("Health", mock.Anything).Return(nil, errors.New("boom"))
	svc := NewService(store, nil, nil, testLogger())

	status := svc.Health(context.Background())
	assert.False(t, status.Reachable)
	assert.Equal(t, "boom", status.Error)
}

func TestDatabaseConfigAndServiceURLs(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	_, err := svc.DatabaseConfig(ctx)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	opts := bootstrap.Options{HealthInterval: time.Millisecond, ProbeDelay: time.Millisecond, Getenv: func(string) string { return "" }}
	_, err = bootstrap.NewSeeder(store, bootstrap.DefaultSpec(), opts, testLogger()).Initialize(ctx)
	require.NoError(t, err)

	db, err := svc.DatabaseConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, "database-service", db["host"])
	assert.Equal(t, "3306", db["port"])
	assert.Len(t, db["password"], 24)
	assert.NotContains(t, db, "created_at")

	urls, err := svc.ServiceURLs(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"auth_service":    "http://auth-service:3001",
		"user_service":    "http://user-service:3002",
		"game_service":    "http://game-service:3003",
		"gateway_service": "http://gateway-service:3000",
	}, urls)
}

func TestRotate_JWT(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	svc.now = func() time.Time { return time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC) }

	require.NoError(t, svc.Write(ctx, "jwt", interfaces.Document{"secret": "s1", "algorithm": "HS256"}))

	result, err := svc.RotateJWT(ctx)
	require.NoError(t, err)
	assert.Equal(t, "jwt", result.Path)
	assert.Equal(t, "secret", result.Field)

	doc, err := svc.Read(ctx, "jwt")
	require.NoError(t, err)
	assert.NotEqual(t, "s1", doc.String("secret"))
	assert.Len(t, doc.String("secret"), bootstrap.SigningKeyLength)
	assert.Equal(t, "s1", doc.String("previous_secret"))
	assert.Equal(t, "HS256", doc.String("algorithm"))
	assert.Equal(t, "2026-05-01T10:00:00Z", doc.String("rotated_at"))
}

// Rotating n >= 2 times keeps exactly the value from the preceding rotation.
func TestRotate_KeepsOnePreviousValue(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	require.NoError(t, svc.Write(ctx, "jwt", interfaces.Document{"secret": "s1", "algorithm": "HS256"}))

	for n := 0; n < 5; n++ {
		before, err := svc.Read(ctx, "jwt")
		require.NoError(t, err)

		_, err = svc.RotateJWT(ctx)
		require.NoError(t, err)

		after, err := svc.Read(ctx, "jwt")
		require.NoError(t, err)
		assert.Equal(t, before.String("secret"), after.String("previous_secret"))

		previous := 0
		for field := range after {
			if len(field) > len(PreviousPrefix) && field[:len(PreviousPrefix)] == PreviousPrefix {
				previous++
			}
		}
		assert.Equal(t, 1, previous)
		assert.Len(t, after, 4)
	}
}

func TestRotate_UsesSeedGenerator(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	require.NoError(t, svc.Write(ctx, "encryption", interfaces.Document{"key": "00", "algorithm": "aes-256-gcm"}))

	_, err := svc.Rotate(ctx, "encryption", "key")
	require.NoError(t, err)

	doc, err := svc.Read(ctx, "encryption")
	require.NoError(t, err)
	assert.Len(t, doc.String("key"), 2*bootstrap.EncryptionKeyBytes)
	assert.Regexp(t, "^[0-9a-f]+$", doc.String("key"))
}

func TestRotate_Errors(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	_, err := svc.Rotate(ctx, "jwt", "secret")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	_, err = svc.Rotate(ctx, "", "secret")
	assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)

	_, err = svc.Rotate(ctx, "jwt", "previous_secret")
	assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)
}

func TestRotate_ExternalWriterConflicts(t *testing.T) {
	store := new(storage.MockSecretStore)
	store.On("Read", mock.Anything, "jwt").Return(&interfaces.VersionedDocument{
		Data: interfaces.Document{"secret": "s1"}, Version: 3,
	}, nil)
	store.On("Write", mock.Anything, "jwt", mock.Anything, mock.MatchedBy(func(cas *int) bool {
		return cas != nil && *cas == 3
	})).Return(0, interfaces.ErrConflict)

	svc := NewService(store, nil, nil, testLogger())
	_, err := svc.RotateJWT(context.Background())
	assert.ErrorIs(t, err, interfaces.ErrConflict)
	store.AssertExpectations(t)
}

// Concurrent rotations of the same document are serialized: every rotation
// succeeds and the final previous value is the one written by the rotation before.
func TestRotate_ConcurrentRotationsSerialized(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	require.NoError(t, svc.Write(ctx, "jwt", interfaces.Document{"secret": "s1"}))

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RotateJWT(ctx)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}

	doc, err := svc.Read(ctx, "jwt")
	require.NoError(t, err)
	assert.NotEmpty(t, doc.String("previous_secret"))
	assert.NotEqual(t, doc.String("secret"), doc.String("previous_secret"))
}

func TestServiceURLs_SkipsRotationFields(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	require.NoError(t, svc.Write(ctx, "services", interfaces.Document{
		"auth_service": "http://auth-service:3001",
		"created_at":   "2026-05-01T10:00:00Z",
	}))

	_, err := svc.Rotate(ctx, "services", "auth_service")
	require.NoError(t, err)

	urls, err := svc.ServiceURLs(ctx)
	require.NoError(t, err)
	assert.Len(t, urls, 1)
	assert.Contains(t, urls, "auth_service")
	assert.NotContains(t, urls, "previous_auth_service")
}

func TestMetricLabelsAreBounded(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	store := storage.NewMemoryBackend(testLogger())
	svc := NewService(store, nil, metrics.NewMetrics("test", reg), testLogger())
	for _, p := range bootstrap.DefaultSpec().Policies {
		require.NoError(t, store.CreatePolicy(ctx, p))
	}

	for _, path := range []string{"missing-1", "missing-2", "missing-3"} {
		_, err := svc.Rotate(ctx, path, "secret")
		assert.ErrorIs(t, err, interfaces.ErrNotFound)
	}
	n, err := testutil.GatherAndCount(reg, "test_rotations_total")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	for _, name := range []string{"auth-service", "random-1", "random-2"} {
		_, err := svc.IssueToken(ctx, name, []string{"service-read"})
		require.NoError(t, err)
	}
	n, err = testutil.GatherAndCount(reg, "test_tokens_issued_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "auth-service and other")
}
