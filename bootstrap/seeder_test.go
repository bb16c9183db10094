package bootstrap

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/ruteri/secrets-gateway/cryptoutils"
	"github.com/ruteri/secrets-gateway/interfaces"
	"github.com/ruteri/secrets-gateway/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noEnv(string) string { return "" }

func fastOptions() Options {
	return Options{
		HealthInterval: time.Millisecond,
		HealthRetries:  3,
		ProbeRetries:   3,
		ProbeDelay:     time.Millisecond,
		Getenv:         noEnv,
	}
}

// Test Initialize - fresh store gets the database document
func TestInitialize_SeedsDatabase(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryBackend(testLogger())
	seeder := NewSeeder(store, DefaultSpec(), fastOptions(), testLogger())

	report, err := seeder.Initialize(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Failed())
	assert.Equal(t, 4, report.Count(kindPolicy, OutcomeCreated))
	assert.Equal(t, 7, report.Count(kindSecret, OutcomeCreated))

	doc, err := store.Read(ctx, PathDatabase)
	require.NoError(t, err)
	assert.Equal(t, "database-service", doc.Data.String("host"))
	assert.Equal(t, "3306", doc.Data.String("port"))

	password := doc.Data.String("password")
	assert.Len(t, password, 24)
	for _, r := range password {
		assert.True(t, strings.ContainsRune(cryptoutils.AlphanumericCharset, r))
	}

	_, err = time.Parse(time.RFC3339, doc.Data.String("created_at"))
	assert.NoError(t, err)
}

// Test Initialize - running twice changes nothing
func TestInitialize_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryBackend(testLogger())
	seeder := NewSeeder(store, DefaultSpec(), fastOptions(), testLogger())

	_, err := seeder.Initialize(ctx)
	require.NoError(t, err)

	before := map[string]*interfaces.VersionedDocument{}
	for _, seed := range DefaultSpec().Secrets {
		doc, err := store.Read(ctx, seed.Path)
		require.NoError(t, err)
		before[seed.Path] = doc
	}

	report, err := seeder.Initialize(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Count(kindPolicy, OutcomeCreated))
	assert.Equal(t, 4, report.Count(kindPolicy, OutcomeExisting))
	assert.Equal(t, 0, report.Count(kindSecret, OutcomeCreated))
	assert.Equal(t, 7, report.Count(kindSecret, OutcomeExisting))
	assert.Len(t, store.PolicyNames(), 4)

	for path, prev := range before {
		doc, err := store.Read(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, prev.Version, doc.Version, path)
		assert.Equal(t, prev.Data, doc.Data, path)
	}
}

// Test Initialize - environment overrides seeded values
func TestInitialize_EnvironmentOverrides(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryBackend(testLogger())
	opts := fastOptions()
	opts.Getenv = func(name string) string {
		if name == "OAUTH_CLIENT_ID" {
			return "client-123"
		}
		return ""
	}

	_, err := NewSeeder(store, DefaultSpec(), opts, testLogger()).Initialize(ctx)
	require.NoError(t, err)

	doc, err := store.Read(ctx, PathOAuth)
	require.NoError(t, err)
	assert.Equal(t, "client-123", doc.Data.String("client_id"))
}

// Test WaitForBackend - exhaustion is fatal and bounded
func TestWaitForBackend_Exhausted(t *testing.T) {
	store := new(storage.MockSecretStore)
	store.On("Health", mock.Anything).Return(&interfaces.HealthStatus{}, errors.New("connection refused"))

	seeder := NewSeeder(store, DefaultSpec(), fastOptions(), testLogger())
	_, err := seeder.Initialize(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrUnavailable)
	assert.Contains(t, err.Error(), "3 attempts")
	store.AssertNumberOfCalls(t, "Health", 3)
	store.AssertNotCalled(t, "CreatePolicy", mock.Anything, mock.Anything)
}

// Test WaitForBackend - sealed store is not ready, then recovers
func TestWaitForBackend_SealedThenReady(t *testing.T) {
	store := new(storage.MockSecretStore)
	store.On("Health", mock.Anything).Return(&interfaces.HealthStatus{Reachable: true, Initialized: true, Sealed: true}, nil).Once()
	store.On("Health", mock.Anything).Return(&interfaces.HealthStatus{Reachable: true, Initialized: true}, nil).Once()

	seeder := NewSeeder(store, &Spec{}, fastOptions(), testLogger())
	require.NoError(t, seeder.WaitForBackend(context.Background()))
	store.AssertNumberOfCalls(t, "Health", 2)
}

// Test SeedPolicies - individual failures are skipped
func TestSeedPolicies_FailureIsSkipped(t *testing.T) {
	spec := DefaultSpec()
	store := new(storage.MockSecretStore)
	store.On("CreatePolicy", mock.Anything, mock.MatchedBy(func(p interfaces.Policy) bool { return p.Name == "admin" })).
		Return(errors.New("permission denied"))
	store.On("CreatePolicy", mock.Anything, mock.MatchedBy(func(p interfaces.Policy) bool { return p.Name == "service-read" })).
		Return(interfaces.ErrAlreadyExists)
	store.On("CreatePolicy", mock.Anything, mock.Anything).Return(nil)

	report := &Report{}
	NewSeeder(store, spec, fastOptions(), testLogger()).SeedPolicies(context.Background(), report)

	require.Len(t, report.Items, 4)
	assert.Equal(t, OutcomeFailed, report.Items[0].Outcome)
	assert.Equal(t, OutcomeExisting, report.Items[1].Outcome)
	assert.Equal(t, OutcomeCreated, report.Items[2].Outcome)
	assert.Equal(t, OutcomeCreated, report.Items[3].Outcome)
}

// Test SeedSecrets - ambiguous reads never lead to a write
func TestSeedSecrets_AmbiguousReadIsNotWritten(t *testing.T) {
	spec := &Spec{Secrets: []SecretSeed{
		{Path: "jwt", Fields: []FieldSeed{{Name: "secret", Generator: alphanumeric(64)}}},
		{Path: "api", Fields: []FieldSeed{{Name: "rate_limit_max", Generator: literal("100")}}},
	}}

	store := new(storage.MockSecretStore)
	store.On("Read", mock.Anything, "jwt").Return(nil, interfaces.ErrUnavailable)
	store.On("Read", mock.Anything, "api").Return(nil, interfaces.ErrNotFound)
	store.On("Write", mock.Anything, "api", mock.Anything, mock.Anything).Return(1, nil)

	report := &Report{}
	NewSeeder(store, spec, fastOptions(), testLogger()).SeedSecrets(context.Background(), report)

	require.Len(t, report.Items, 2)
	assert.Equal(t, OutcomeFailed, report.Items[0].Outcome)
	assert.ErrorIs(t, report.Items[0].Err, interfaces.ErrUnavailable)
	assert.Equal(t, OutcomeCreated, report.Items[1].Outcome)

	store.AssertNumberOfCalls(t, "Read", 4)
	store.AssertNotCalled(t, "Write", mock.Anything, "jwt", mock.Anything, mock.Anything)
}

// Test SeedSecrets - a transient read error followed by not-found seeds once
func TestSeedSecrets_TransientThenNotFound(t *testing.T) {
	spec := &Spec{Secrets: []SecretSeed{
		{Path: "jwt", Fields: []FieldSeed{{Name: "secret", Generator: alphanumeric(64)}}},
	}}

	store := new(storage.MockSecretStore)
	store.On("Read", mock.Anything, "jwt").Return(nil, interfaces.ErrUnavailable).Once()
	store.On("Read", mock.Anything, "jwt").Return(nil, interfaces.ErrNotFound).Once()
	store.On("Write", mock.Anything, "jwt", mock.MatchedBy(func(doc interfaces.Document) bool {
		return len(doc.String("secret")) == 64
	}), mock.MatchedBy(func(cas *int) bool { return cas != nil && *cas == 0 })).Return(1, nil).Once()

	report := &Report{}
	NewSeeder(store, spec, fastOptions(), testLogger()).SeedSecrets(context.Background(), report)

	assert.Equal(t, OutcomeCreated, report.Items[0].Outcome)
	store.AssertExpectations(t)
}

// Test SeedSecrets - losing a concurrent seeding race counts as existing
func TestSeedSecrets_ConcurrentSeed(t *testing.T) {
	spec := &Spec{Secrets: []SecretSeed{
		{Path: "jwt", Fields: []FieldSeed{{Name: "secret", Generator: alphanumeric(64)}}},
	}}

	store := new(storage.MockSecretStore)
	store.On("Read", mock.Anything, "jwt").Return(nil, interfaces.ErrNotFound)
	store.On("Write", mock.Anything, "jwt", mock.Anything, mock.Anything).Return(0, interfaces.ErrConflict)

	report := &Report{}
	NewSeeder(store, spec, fastOptions(), testLogger()).SeedSecrets(context.Background(), report)
	assert.Equal(t, OutcomeExisting, report.Items[0].Outcome)
}
