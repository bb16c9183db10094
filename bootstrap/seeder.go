package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ruteri/secrets-gateway/common"
	"github.com/ruteri/secrets-gateway/interfaces"
	"github.com/ruteri/secrets-gateway/metrics"
	"github.com/ruteri/secrets-gateway/retry"
)

// Options tune the seeder. Zero values select the defaults.
type Options struct {
	// HealthInterval between backend health probes. Default 2s.
	HealthInterval time.Duration
	// HealthRetries bounds the number of health probes. Default 30.
	HealthRetries int
	// HealthTimeout of a single probe. Default 5s.
	HealthTimeout time.Duration
	// ProbeRetries bounds the reads used to decide whether a document exists. Default 3.
	ProbeRetries int
	// ProbeDelay is the linear step between probe reads. Default 1s.
	ProbeDelay time.Duration

	Getenv  func(string) string
	Now     func() time.Time
	Metrics *metrics.Metrics
}

func (o *Options) setDefaults() {
	if o.HealthInterval == 0 {
		o.HealthInterval = 2 * time.Second
	}
	if o.HealthRetries <= 0 {
		o.HealthRetries = 30
	}
	if o.HealthTimeout == 0 {
		o.HealthTimeout = 5 * time.Second
	}
	if o.ProbeRetries <= 0 {
		o.ProbeRetries = 3
	}
	if o.ProbeDelay == 0 {
		o.ProbeDelay = time.Second
	}
	if o.Getenv == nil {
		o.Getenv = os.Getenv
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Outcome of seeding a single policy or document.
type Outcome string

const (
	OutcomeCreated  Outcome = "created"
	OutcomeExisting Outcome = "existing"
	OutcomeFailed   Outcome = "failed"
)

// Item is the result for one policy or document.
type Item struct {
	Kind    string
	Name    string
	Outcome Outcome
	Err     error
}

// Report lists the outcome of every seeded item, in seeding order.
type Report struct {
	Items []Item
}

func (r *Report) add(kind, name string, outcome Outcome, err error) {
	r.Items = append(r.Items, Item{Kind: kind, Name: name, Outcome: outcome, Err: err})
}

// Count returns the number of items of kind with outcome.
func (r *Report) Count(kind string, outcome Outcome) int {
	n := 0
	for _, item := range r.Items {
		if item.Kind == kind && item.Outcome == outcome {
			n++
		}
	}
	return n
}

// Failed returns the items that could not be seeded.
func (r *Report) Failed() []Item {
	var failed []Item
	for _, item := range r.Items {
		if item.Outcome == OutcomeFailed {
			failed = append(failed, item)
		}
	}
	return failed
}

const (
	kindPolicy = "policy"
	kindSecret = "secret"
)

// Seeder idempotently provisions policies and initial documents.
type Seeder struct {
	store interfaces.SecretStore
	spec  *Spec
	opts  Options
	log   *slog.Logger
}

// NewSeeder creates a seeder for spec against store.
func NewSeeder(store interfaces.SecretStore, spec *Spec, opts Options, log *slog.Logger) *Seeder {
	opts.setDefaults()
	return &Seeder{store: store, spec: spec, opts: opts, log: log}
}

// Initialize waits for the backend, then seeds policies and documents.
// Only an unreachable backend is fatal; individual seeding failures are
// logged and reported.
func (s *Seeder) Initialize(ctx context.Context) (*Report, error) {
	if err := s.WaitForBackend(ctx); err != nil {
		return nil, err
	}

	report := &Report{}
	s.SeedPolicies(ctx, report)
	s.SeedSecrets(ctx, report)

	s.log.Info("Bootstrap completed",
		slog.Int("policies_created", report.Count(kindPolicy, OutcomeCreated)),
		slog.Int("policies_existing", report.Count(kindPolicy, OutcomeExisting)),
		slog.Int("secrets_created", report.Count(kindSecret, OutcomeCreated)),
		slog.Int("secrets_existing", report.Count(kindSecret, OutcomeExisting)),
		slog.Int("failed", len(report.Failed())))
	return report, nil
}

// WaitForBackend polls store health on a fixed interval until it is
// initialized and unsealed, or the retry bound is exhausted.
func (s *Seeder) WaitForBackend(ctx context.Context) error {
	policy := retry.Policy{Strategy: retry.Constant, MaxAttempts: s.opts.HealthRetries, Delay: s.opts.HealthInterval}

	attempts, err := policy.Do(ctx, func(ctx context.Context, attempt int) error {
		probeCtx, cancel := context.WithTimeout(ctx, s.opts.HealthTimeout)
		defer cancel()

		status, err := s.store.Health(probeCtx)
		if err != nil {
			return err
		}
		if !status.Healthy() {
			return fmt.Errorf("%w: initialized=%t sealed=%t", interfaces.ErrUnavailable, status.Initialized, status.Sealed)
		}
		return nil
	}, func(err error, next time.Duration) {
		s.log.Info("Waiting for backing store", slog.String("store", s.store.Name()), slog.Duration("retry_in", next), "err", err)
	})

	s.opts.Metrics.SetBackendUp(err == nil)
	if err != nil {
		s.log.Error("Backing store did not become ready", slog.String("store", s.store.Name()), slog.Int("attempts", attempts), "err", err)
		if errors.Is(err, interfaces.ErrUnavailable) {
			return fmt.Errorf("backing store %s not ready after %d attempts: %w", s.store.Name(), attempts, err)
		}
		return fmt.Errorf("%w: backing store %s not ready after %d attempts: %v", interfaces.ErrUnavailable, s.store.Name(), attempts, err)
	}

	s.log.Info("Backing store is ready", slog.String("store", s.store.Name()), slog.Int("attempts", attempts))
	return nil
}

// SeedPolicies installs every policy of the seed spec. An existing policy counts as success.
func (s *Seeder) SeedPolicies(ctx context.Context, report *Report) {
	for _, policy := range s.spec.Policies {
		err := s.store.CreatePolicy(ctx, policy)
		switch {
		case err == nil:
			s.log.Info("Created policy", slog.String("policy", policy.Name))
			report.add(kindPolicy, policy.Name, OutcomeCreated, nil)
		case errors.Is(err, interfaces.ErrAlreadyExists):
			s.log.Debug("Policy already exists", slog.String("policy", policy.Name))
			report.add(kindPolicy, policy.Name, OutcomeExisting, nil)
		default:
			s.log.Warn("Failed to create policy, skipping", slog.String("policy", policy.Name), "err", err)
			report.add(kindPolicy, policy.Name, OutcomeFailed, err)
		}
		s.opts.Metrics.RecordSeed(kindPolicy, string(report.Items[len(report.Items)-1].Outcome))
	}
}

// SeedSecrets writes every seed document whose path is definitively empty.
func (s *Seeder) SeedSecrets(ctx context.Context, report *Report) {
	for _, seed := range s.spec.Secrets {
		outcome, err := s.seedSecret(ctx, seed)
		report.add(kindSecret, seed.Path, outcome, err)
		s.opts.Metrics.RecordSeed(kindSecret, string(outcome))
	}
}

func (s *Seeder) seedSecret(ctx context.Context, seed SecretSeed) (Outcome, error) {
	exists, err := s.probe(ctx, seed.Path)
	if err != nil {
		// Writing after an ambiguous read could overwrite distributed credentials.
		s.log.Warn("Could not determine whether secret exists, skipping until next start",
			slog.String("path", seed.Path), "err", err)
		return OutcomeFailed, err
	}
	if exists {
		s.log.Debug("Secret already seeded", slog.String("path", seed.Path))
		return OutcomeExisting, nil
	}

	doc, err := seed.Render(s.opts.Now(), s.opts.Getenv)
	if err != nil {
		s.log.Warn("Failed to generate secret, skipping", slog.String("path", seed.Path), "err", err)
		return OutcomeFailed, err
	}

	// cas=0: another gateway seeding concurrently must not be overwritten.
	zero := 0
	if _, err := s.store.Write(ctx, seed.Path, doc, &zero); err != nil {
		if errors.Is(err, interfaces.ErrConflict) {
			s.log.Info("Secret seeded concurrently by another writer", slog.String("path", seed.Path))
			return OutcomeExisting, nil
		}
		s.log.Warn("Failed to write secret, skipping", slog.String("path", seed.Path), "err", err)
		return OutcomeFailed, err
	}

	s.log.Info("Seeded secret", slog.String("path", seed.Path), slog.Any("fields", common.FieldNames(doc)))
	return OutcomeCreated, nil
}

// probe reports whether a document exists at path. Only a definitive
// ErrNotFound means absent; any other failure is retried and then returned.
func (s *Seeder) probe(ctx context.Context, path string) (bool, error) {
	policy := retry.Policy{Strategy: retry.Linear, MaxAttempts: s.opts.ProbeRetries, Delay: s.opts.ProbeDelay}

	exists := false
	_, err := policy.Do(ctx, func(ctx context.Context, attempt int) error {
		_, err := s.store.Read(ctx, path)
		switch {
		case err == nil:
			exists = true
			return nil
		case errors.Is(err, interfaces.ErrNotFound):
			exists = false
			return nil
		case errors.Is(err, interfaces.ErrInvalidArgument):
			return backoff.Permanent(err)
		default:
			return err
		}
	}, func(err error, next time.Duration) {
		s.log.Debug("Retrying existence probe", slog.String("path", path), slog.Duration("retry_in", next), "err", err)
	})
	return exists, err
}
