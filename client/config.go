package client

import (
	"log/slog"
	"time"

	"github.com/ruteri/secrets-gateway/retry"
)

// Section names. Each is read from the gateway path of the same name.
const (
	SectionDatabase = "database"
	SectionJWT      = "jwt"
	SectionOAuth    = "oauth"
	SectionAPI      = "api"
	SectionServices = "services"
	SectionGame     = "game"
)

// AllSections lists every section in load order.
var AllSections = []string{SectionDatabase, SectionJWT, SectionOAuth, SectionAPI, SectionServices, SectionGame}

// ValidationRules are the minimum strengths enforced before a section is applied.
type ValidationRules struct {
	// MinSigningKeyLength is the minimum length of the jwt secret. Default 32.
	MinSigningKeyLength int
	// MinPasswordLength is the minimum length of the database password. Default 12.
	MinPasswordLength int
}

// Config configures a Client. Zero values select the defaults.
type Config struct {
	// ServiceName identifies the dependent service; it selects PORT in Environ.
	ServiceName string
	// Sections to load. Default AllSections.
	Sections []string

	// MaxRetries bounds the attempts of a section fetch. Default 3.
	MaxRetries int
	// Backoff between section fetch attempts. Default retry.Linear.
	Backoff retry.Strategy
	// RetryDelay is the backoff step. Default 1s.
	RetryDelay time.Duration
	// RequestTimeout bounds a single fetch attempt. Default 10s.
	RequestTimeout time.Duration

	// ReadyAttempts bounds the readiness probes run by Load. Default 30.
	ReadyAttempts int
	// HealthPollInterval is the first readiness backoff, doubled up to
	// MaxHealthPollInterval. Defaults 1s and 10s.
	HealthPollInterval    time.Duration
	MaxHealthPollInterval time.Duration
	// HealthTimeout bounds a single readiness probe. Default 5s.
	HealthTimeout time.Duration

	Rules ValidationRules

	// AllowDegradedStart lets Load complete on fallbacks when the gateway
	// never becomes ready.
	AllowDegradedStart bool

	// Base holds the values kept when a section falls back. Default Defaults(ServiceName).
	Base *Snapshot

	Logger *slog.Logger
}

func (c *Config) setDefaults() {
	if len(c.Sections) == 0 {
		c.Sections = AllSections
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = time.Second
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.ReadyAttempts <= 0 {
		c.ReadyAttempts = 30
	}
	if c.HealthPollInterval == 0 {
		c.HealthPollInterval = time.Second
	}
	if c.MaxHealthPollInterval == 0 {
		c.MaxHealthPollInterval = 10 * time.Second
	}
	if c.HealthTimeout == 0 {
		c.HealthTimeout = 5 * time.Second
	}
	if c.Rules.MinSigningKeyLength <= 0 {
		c.Rules.MinSigningKeyLength = 32
	}
	if c.Rules.MinPasswordLength <= 0 {
		c.Rules.MinPasswordLength = 12
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
