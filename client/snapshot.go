package client

import (
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/ruteri/secrets-gateway/common"
)

// DatabaseConfig is the database section.
type DatabaseConfig struct {
	Host     string          `mapstructure:"host"`
	Port     int             `mapstructure:"port"`
	Username string          `mapstructure:"username"`
	Password common.Redacted `mapstructure:"password"`
	Database string          `mapstructure:"database"`
}

// DSN returns the go-sql-driver/mysql data source name.
func (d DatabaseConfig) DSN() string {
	cfg := mysql.NewConfig()
	cfg.User = d.Username
	cfg.Passwd = d.Password.Reveal()
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
	cfg.DBName = d.Database
	cfg.ParseTime = true
	return cfg.FormatDSN()
}

// URL returns the database as a mysql:// URL.
func (d DatabaseConfig) URL() string {
	u := url.URL{
		Scheme: "mysql",
		User:   url.UserPassword(d.Username, d.Password.Reveal()),
		Host:   net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:   "/" + d.Database,
	}
	return u.String()
}

// JWTConfig is the jwt section. PreviousSecret is set after a rotation and
// keeps tokens signed before it verifiable.
type JWTConfig struct {
	Secret         common.Redacted `mapstructure:"secret"`
	PreviousSecret common.Redacted `mapstructure:"previous_secret"`
	Algorithm      string          `mapstructure:"algorithm"`
	Expiration     string          `mapstructure:"expiration"`
	RotatedAt      string          `mapstructure:"rotated_at"`
	// Local is true when Secret was generated in-process because the gateway
	// copy was unavailable or invalid.
	Local bool `mapstructure:"-"`
}

// ExpirationDuration parses Expiration, falling back to 24h.
func (j JWTConfig) ExpirationDuration() time.Duration {
	d, err := time.ParseDuration(j.Expiration)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

type OAuthConfig struct {
	ClientID     string          `mapstructure:"client_id"`
	ClientSecret common.Redacted `mapstructure:"client_secret"`
	RedirectURI  string          `mapstructure:"redirect_uri"`
}

type APIConfig struct {
	RateLimitMax int `mapstructure:"rate_limit_max"`
	// RateLimitWindow in milliseconds.
	RateLimitWindow int    `mapstructure:"rate_limit_window"`
	CORSOrigin      string `mapstructure:"cors_origin"`
}

type ServicesConfig struct {
	AuthService    string `mapstructure:"auth_service"`
	UserService    string `mapstructure:"user_service"`
	GameService    string `mapstructure:"game_service"`
	GatewayService string `mapstructure:"gateway_service"`
}

// GameConfig is the game section. Intervals and timeouts are in milliseconds.
type GameConfig struct {
	TickRate           int `mapstructure:"tick_rate"`
	HeartbeatInterval  int `mapstructure:"heartbeat_interval"`
	MaxPlayers         int `mapstructure:"max_players"`
	MatchmakingTimeout int `mapstructure:"matchmaking_timeout"`
}

// SectionStatus is the final state of one section of a Load.
type SectionStatus struct {
	Name     string
	State    State
	Attempts int
	Err      error
}

// Snapshot is the process configuration. It is a value: changing a field of a
// copy never affects the Client or other holders.
type Snapshot struct {
	Service  string
	Database DatabaseConfig
	JWT      JWTConfig
	OAuth    OAuthConfig
	API      APIConfig
	Services ServicesConfig
	Game     GameConfig

	sections []SectionStatus
}

// Sections returns the status of every loaded section, in load order.
func (s Snapshot) Sections() []SectionStatus {
	return append([]SectionStatus(nil), s.sections...)
}

// Status returns the status of one section.
func (s Snapshot) Status(name string) (SectionStatus, bool) {
	for _, st := range s.sections {
		if st.Name == name {
			return st, true
		}
	}
	return SectionStatus{}, false
}

// Degraded reports whether any section runs on a fallback.
func (s Snapshot) Degraded() bool {
	for _, st := range s.sections {
		if st.State == StateDegraded {
			return true
		}
	}
	return false
}

func (s Snapshot) withStatus(status SectionStatus) Snapshot {
	sections := make([]SectionStatus, 0, len(s.sections)+1)
	for _, st := range s.sections {
		if st.Name != status.Name {
			sections = append(sections, st)
		}
	}
	s.sections = append(sections, status)
	return s
}

// ServicePorts are the fixed listen ports of the known services.
var ServicePorts = map[string]int{
	"gateway-service": 3000,
	"auth-service":    3001,
	"user-service":    3002,
	"game-service":    3003,
}

// Defaults returns the safe defaults kept by sections that fail to load. The
// jwt secret is empty: a fallback jwt section generates a local key instead.
func Defaults(service string) Snapshot {
	return Snapshot{
		Service: service,
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     3306,
			Username: "app",
			Database: "app",
		},
		JWT: JWTConfig{
			Algorithm:  "HS256",
			Expiration: "24h",
		},
		OAuth: OAuthConfig{
			RedirectURI: "http://localhost:3000/auth/callback",
		},
		API: APIConfig{
			RateLimitMax:    100,
			RateLimitWindow: 60000,
			CORSOrigin:      "http://localhost:3000",
		},
		Services: ServicesConfig{
			AuthService:    "http://auth-service:3001",
			UserService:    "http://user-service:3002",
			GameService:    "http://game-service:3003",
			GatewayService: "http://gateway-service:3000",
		},
		Game: GameConfig{
			TickRate:           60,
			HeartbeatInterval:  30000,
			MaxPlayers:         100,
			MatchmakingTimeout: 30000,
		},
	}
}

// Environ renders the snapshot as environment variables. The map contains
// secret values in clear text.
func (s Snapshot) Environ() map[string]string {
	env := map[string]string{
		"DATABASE_URL":          s.Database.URL(),
		"AUTH_SERVICE_URL":      s.Services.AuthService,
		"USER_SERVICE_URL":      s.Services.UserService,
		"GAME_SERVICE_URL":      s.Services.GameService,
		"GATEWAY_SERVICE_URL":   s.Services.GatewayService,
		"JWT_SECRET":            s.JWT.Secret.Reveal(),
		"JWT_ALGORITHM":         s.JWT.Algorithm,
		"JWT_EXPIRATION":        s.JWT.Expiration,
		"RATE_LIMIT_MAX":        strconv.Itoa(s.API.RateLimitMax),
		"RATE_LIMIT_WINDOW":     strconv.Itoa(s.API.RateLimitWindow),
		"CORS_ORIGIN":           s.API.CORSOrigin,
		"WS_HEARTBEAT_INTERVAL": strconv.Itoa(s.Game.HeartbeatInterval),
		"GAME_TICK_RATE":        strconv.Itoa(s.Game.TickRate),
		"GAME_MAX_PLAYERS":      strconv.Itoa(s.Game.MaxPlayers),
		"MATCHMAKING_TIMEOUT":   strconv.Itoa(s.Game.MatchmakingTimeout),
		"OAUTH_CLIENT_ID":       s.OAuth.ClientID,
		"OAUTH_CLIENT_SECRET":   s.OAuth.ClientSecret.Reveal(),
		"OAUTH_REDIRECT_URI":    s.OAuth.RedirectURI,
	}
	if port, ok := ServicePorts[s.Service]; ok {
		env["PORT"] = strconv.Itoa(port)
	}
	return env
}

// WithEnviron overlays values from an environment view, as produced by
// Environ, onto the snapshot. Unset or unparsable values are ignored.
func (s Snapshot) WithEnviron(env map[string]string) Snapshot {
	if raw, ok := env["DATABASE_URL"]; ok {
		if u, err := url.Parse(raw); err == nil && u.Host != "" {
			s.Database.Host = u.Hostname()
			if port, err := strconv.Atoi(u.Port()); err == nil {
				s.Database.Port = port
			}
			if u.User != nil {
				s.Database.Username = u.User.Username()
				if pw, ok := u.User.Password(); ok {
					s.Database.Password = common.Redacted(pw)
				}
			}
			if db := strings.TrimLeft(u.Path, "/"); db != "" {
				s.Database.Database = db
			}
		}
	}

	setString(env, "AUTH_SERVICE_URL", &s.Services.AuthService)
	setString(env, "USER_SERVICE_URL", &s.Services.UserService)
	setString(env, "GAME_SERVICE_URL", &s.Services.GameService)
	setString(env, "GATEWAY_SERVICE_URL", &s.Services.GatewayService)
	if v := env["JWT_SECRET"]; v != "" {
		s.JWT.Secret = common.Redacted(v)
	}
	setString(env, "JWT_ALGORITHM", &s.JWT.Algorithm)
	setString(env, "JWT_EXPIRATION", &s.JWT.Expiration)
	setInt(env, "RATE_LIMIT_MAX", &s.API.RateLimitMax)
	setInt(env, "RATE_LIMIT_WINDOW", &s.API.RateLimitWindow)
	setString(env, "CORS_ORIGIN", &s.API.CORSOrigin)
	setInt(env, "WS_HEARTBEAT_INTERVAL", &s.Game.HeartbeatInterval)
	setInt(env, "GAME_TICK_RATE", &s.Game.TickRate)
	setInt(env, "GAME_MAX_PLAYERS", &s.Game.MaxPlayers)
	setInt(env, "MATCHMAKING_TIMEOUT", &s.Game.MatchmakingTimeout)
	setString(env, "OAUTH_CLIENT_ID", &s.OAuth.ClientID)
	if v := env["OAUTH_CLIENT_SECRET"]; v != "" {
		s.OAuth.ClientSecret = common.Redacted(v)
	}
	setString(env, "OAUTH_REDIRECT_URI", &s.OAuth.RedirectURI)
	return s
}

func setString(env map[string]string, key string, dst *string) {
	if v := env[key]; v != "" {
		*dst = v
	}
}

func setInt(env map[string]string, key string, dst *int) {
	if v, err := strconv.Atoi(env[key]); err == nil && v > 0 {
		*dst = v
	}
}
