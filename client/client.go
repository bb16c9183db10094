package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ruteri/secrets-gateway/interfaces"
	"github.com/ruteri/secrets-gateway/retry"
	"golang.org/x/sync/singleflight"
)

// Client loads configuration sections through a Transport.
type Client struct {
	transport Transport
	cfg       Config
	log       *slog.Logger

	mu      sync.RWMutex
	current Snapshot

	refreshGroup singleflight.Group
}

// New creates a client. Zero Config fields select the defaults.
func New(transport Transport, cfg Config) *Client {
	cfg.setDefaults()
	base := Defaults(cfg.ServiceName)
	if cfg.Base != nil {
		base = *cfg.Base
		base.Service = cfg.ServiceName
	}
	return &Client{
		transport: transport,
		cfg:       cfg,
		log:       cfg.Logger.With(slog.String("service", cfg.ServiceName)),
		current:   base,
	}
}

// WaitForReady polls the transport with exponential backoff until it is
// ready or maxAttempts probes failed. Each probe is bounded by HealthTimeout.
func (c *Client) WaitForReady(ctx context.Context, maxAttempts int) error {
	policy := retry.Policy{
		Strategy:    retry.Exponential,
		MaxAttempts: maxAttempts,
		Delay:       c.cfg.HealthPollInterval,
		MaxDelay:    c.cfg.MaxHealthPollInterval,
	}

	attempts, err := policy.Do(ctx, func(ctx context.Context, attempt int) error {
		probeCtx, cancel := context.WithTimeout(ctx, c.cfg.HealthTimeout)
		defer cancel()
		return c.transport.Ready(probeCtx)
	}, func(err error, next time.Duration) {
		c.log.Info("Waiting for secrets gateway", slog.Duration("retry_in", next), "err", err)
	})
	if err == nil {
		c.log.Debug("Secrets gateway is ready", slog.Int("attempts", attempts))
		return nil
	}
	if errors.Is(err, interfaces.ErrUnavailable) {
		return fmt.Errorf("secrets gateway not ready after %d attempts: %w", attempts, err)
	}
	return fmt.Errorf("%w: secrets gateway not ready after %d attempts: %v", interfaces.ErrUnavailable, attempts, err)
}

// FetchSection reads section name with at most MaxRetries attempts.
// ErrNotFound and ErrInvalidArgument are not retried.
func (c *Client) FetchSection(ctx context.Context, name string) (interfaces.Document, error) {
	doc, _, err := c.fetch(ctx, name)
	return doc, err
}

func (c *Client) fetch(ctx context.Context, name string) (interfaces.Document, int, error) {
	policy := retry.Policy{Strategy: c.cfg.Backoff, MaxAttempts: c.cfg.MaxRetries, Delay: c.cfg.RetryDelay}

	var doc interfaces.Document
	attempts, err := policy.Do(ctx, func(ctx context.Context, attempt int) error {
		reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()

		d, err := c.transport.Read(reqCtx, name)
		switch {
		case err == nil:
			doc = d
			return nil
		case errors.Is(err, interfaces.ErrNotFound), errors.Is(err, interfaces.ErrInvalidArgument):
			return backoff.Permanent(err)
		default:
			return err
		}
	}, func(err error, next time.Duration) {
		c.log.Warn("Section fetch failed, retrying",
			slog.String("section", name),
			slog.String("state", StateRetrying.String()),
			slog.Duration("retry_in", next),
			"err", err)
	})
	if err != nil {
		return nil, attempts, fmt.Errorf("section %q: fetch failed after %d attempts: %w", name, attempts, err)
	}
	return doc, attempts, nil
}

// Load runs the readiness gate and then fetches and applies every configured
// section. It fails only when the gateway never becomes ready and
// AllowDegradedStart is unset.
func (c *Client) Load(ctx context.Context) (Snapshot, error) {
	snap := c.Current()

	if err := c.WaitForReady(ctx, c.cfg.ReadyAttempts); err != nil {
		if !c.cfg.AllowDegradedStart {
			c.log.Error("Configuration load failed", slog.String("state", StateFailed.String()), "err", err)
			return Snapshot{}, err
		}
		c.log.Warn("Secrets gateway not ready, starting on fallback configuration", "err", err)
		for _, name := range c.cfg.Sections {
			snap = c.fallback(name, snap, 0, err)
		}
		c.store(snap)
		return snap, nil
	}

	for _, name := range c.cfg.Sections {
		snap = c.loadSection(ctx, name, snap)
	}
	c.store(snap)

	c.log.Info("Configuration loaded", slog.Bool("degraded", snap.Degraded()), slog.Int("sections", len(c.cfg.Sections)))
	return snap, nil
}

func (c *Client) loadSection(ctx context.Context, name string, snap Snapshot) Snapshot {
	doc, attempts, err := c.fetch(ctx, name)
	if err != nil {
		return c.fallback(name, snap, attempts, err)
	}

	next, state, err := ApplySection(name, doc, snap, c.cfg.Rules)
	if state == StateFailed {
		c.log.Error("Section cannot be applied", slog.String("section", name), "err", err)
		return snap.withStatus(SectionStatus{Name: name, State: state, Attempts: attempts, Err: err})
	}
	if err != nil {
		c.log.Warn("Section failed validation", slog.String("section", name), slog.String("state", state.String()), "err", err)
	}
	return next.withStatus(SectionStatus{Name: name, State: state, Attempts: attempts, Err: err})
}

func (c *Client) fallback(name string, snap Snapshot, attempts int, cause error) Snapshot {
	next, err := Fallback(name, snap, c.cfg.Rules)
	if err != nil {
		c.log.Error("Section fallback failed", slog.String("section", name), "err", err)
		return snap.withStatus(SectionStatus{Name: name, State: StateFailed, Attempts: attempts, Err: err})
	}
	c.log.Warn("Using fallback configuration for section",
		slog.String("section", name),
		slog.String("state", StateDegraded.String()),
		slog.Bool("local_signing_key", name == SectionJWT && next.JWT.Local),
		"err", cause)
	return next.withStatus(SectionStatus{Name: name, State: StateDegraded, Attempts: attempts, Err: cause})
}

// Current returns the last loaded snapshot, or the base values before Load.
func (c *Client) Current() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

func (c *Client) store(snap Snapshot) {
	c.mu.Lock()
	c.current = snap
	c.mu.Unlock()
}

// RefreshJWT re-reads the jwt section, typically after a rotation.
// Concurrent calls share one fetch, which runs detached from any single
// caller's cancellation; each caller stops waiting when its own ctx is done.
// On failure the current jwt configuration stays in place and is returned
// together with the error.
func (c *Client) RefreshJWT(ctx context.Context) (JWTConfig, error) {
	shared := context.WithoutCancel(ctx)
	ch := c.refreshGroup.DoChan(SectionJWT, func() (any, error) {
		doc, attempts, err := c.fetch(shared, SectionJWT)
		if err != nil {
			return nil, err
		}

		current := c.Current()
		next, state, err := ApplySection(SectionJWT, doc, current, c.cfg.Rules)
		if state != StateApplied {
			// A rotated key that fails validation must not replace a working one.
			return nil, err
		}

		c.mu.Lock()
		// Other sections may have been reloaded meanwhile; replace only jwt.
		snap := c.current
		snap.JWT = next.JWT
		c.current = snap.withStatus(SectionStatus{Name: SectionJWT, State: state, Attempts: attempts})
		c.mu.Unlock()

		c.log.Info("Refreshed jwt configuration", slog.String("rotated_at", next.JWT.RotatedAt))
		return next.JWT, nil
	})

	select {
	case <-ctx.Done():
		return c.Current().JWT, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			c.log.Warn("JWT refresh failed, keeping current key", "err", res.Err)
			return c.Current().JWT, res.Err
		}
		return res.Val.(JWTConfig), nil
	}
}
