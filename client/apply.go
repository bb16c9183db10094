package client

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/ruteri/secrets-gateway/common"
	"github.com/ruteri/secrets-gateway/cryptoutils"
	"github.com/ruteri/secrets-gateway/interfaces"
)

// State of a section fetch-and-apply.
type State int

const (
	StateIdle State = iota
	StateRetrying
	StateApplied
	StateDegraded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRetrying:
		return "retrying"
	case StateApplied:
		return "applied"
	case StateDegraded:
		return "degraded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// LocalSigningKeyLength is the length of a signing key generated when the
// jwt section cannot be applied.
const LocalSigningKeyLength = 64

var jwtAlgorithms = []string{"HS256", "HS384", "HS512"}

// ApplySection validates doc as section name and returns base with that
// section replaced. Invalid optional or numeric fields are coerced to the
// value in base. When a required or cryptographic field is invalid the whole
// section keeps its base value; for jwt without a usable base secret a local
// signing key is generated. The state is StateApplied when doc was used as
// is and StateDegraded otherwise, in which case the error wraps
// ErrValidationFailed and names the offending fields (never their values).
func ApplySection(name string, doc interfaces.Document, base Snapshot, rules ValidationRules) (Snapshot, State, error) {
	var (
		issues   []string
		rejected bool
	)
	next := base

	switch name {
	case SectionDatabase:
		var d DatabaseConfig
		issues = decode(doc, &d)
		if d.Port < 1 || d.Port > 65535 {
			d.Port = base.Database.Port
			issues = append(issues, "port")
		}
		for field, ok := range map[string]bool{
			"host":     d.Host != "",
			"username": d.Username != "",
			"database": d.Database != "",
			"password": len(d.Password) >= rules.MinPasswordLength,
		} {
			if !ok {
				issues = append(issues, field)
				rejected = true
			}
		}
		if !rejected {
			next.Database = d
		}

	case SectionJWT:
		var j JWTConfig
		issues = decode(doc, &j)
		if !slices.Contains(jwtAlgorithms, j.Algorithm) {
			j.Algorithm = base.JWT.Algorithm
			issues = append(issues, "algorithm")
		}
		if d, err := time.ParseDuration(j.Expiration); err != nil || d <= 0 {
			j.Expiration = base.JWT.Expiration
			issues = append(issues, "expiration")
		}
		if j.PreviousSecret != "" && len(j.PreviousSecret) < rules.MinSigningKeyLength {
			j.PreviousSecret = ""
			issues = append(issues, "previous_secret")
		}
		if len(j.Secret) < rules.MinSigningKeyLength {
			issues = append(issues, "secret")
			rejected = true
			jwt, err := localJWT(base.JWT, rules)
			if err != nil {
				return base, StateDegraded, err
			}
			next.JWT = jwt
		} else {
			next.JWT = j
		}

	case SectionOAuth:
		var o OAuthConfig
		issues = decode(doc, &o)
		if o.RedirectURI != "" && !validURL(o.RedirectURI) {
			o.RedirectURI = base.OAuth.RedirectURI
			issues = append(issues, "redirect_uri")
		}
		if o.ClientID != "" && o.ClientSecret == "" {
			issues = append(issues, "client_secret")
			rejected = true
		} else {
			next.OAuth = o
		}

	case SectionAPI:
		var a APIConfig
		issues = decode(doc, &a)
		if a.RateLimitMax <= 0 {
			a.RateLimitMax = base.API.RateLimitMax
			issues = append(issues, "rate_limit_max")
		}
		if a.RateLimitWindow <= 0 {
			a.RateLimitWindow = base.API.RateLimitWindow
			issues = append(issues, "rate_limit_window")
		}
		if a.CORSOrigin == "" {
			a.CORSOrigin = base.API.CORSOrigin
			issues = append(issues, "cors_origin")
		}
		next.API = a

	case SectionServices:
		var s ServicesConfig
		issues = decode(doc, &s)
		for field, pair := range map[string][2]*string{
			"auth_service":    {&s.AuthService, &base.Services.AuthService},
			"user_service":    {&s.UserService, &base.Services.UserService},
			"game_service":    {&s.GameService, &base.Services.GameService},
			"gateway_service": {&s.GatewayService, &base.Services.GatewayService},
		} {
			if !validURL(*pair[0]) {
				*pair[0] = *pair[1]
				issues = append(issues, field)
			}
		}
		next.Services = s

	case SectionGame:
		var g GameConfig
		issues = decode(doc, &g)
		if g.TickRate < 1 || g.TickRate > 1000 {
			g.TickRate = base.Game.TickRate
			issues = append(issues, "tick_rate")
		}
		if g.HeartbeatInterval <= 0 {
			g.HeartbeatInterval = base.Game.HeartbeatInterval
			issues = append(issues, "heartbeat_interval")
		}
		if g.MaxPlayers <= 0 {
			g.MaxPlayers = base.Game.MaxPlayers
			issues = append(issues, "max_players")
		}
		if g.MatchmakingTimeout <= 0 {
			g.MatchmakingTimeout = base.Game.MatchmakingTimeout
			issues = append(issues, "matchmaking_timeout")
		}
		next.Game = g

	default:
		return base, StateFailed, fmt.Errorf("%w: unknown section %q", interfaces.ErrInvalidArgument, name)
	}

	if len(issues) == 0 {
		return next, StateApplied, nil
	}

	sort.Strings(issues)
	issues = slices.Compact(issues)
	action := "coerced to defaults"
	if rejected {
		action = "section kept on fallback"
	}
	return next, StateDegraded, fmt.Errorf("%w: section %q: invalid fields %s, %s",
		interfaces.ErrValidationFailed, name, strings.Join(issues, ", "), action)
}

// Fallback returns base with section name left on its fallback value. For
// jwt a local signing key is generated unless base already has a usable one.
func Fallback(name string, base Snapshot, rules ValidationRules) (Snapshot, error) {
	if name != SectionJWT {
		return base, nil
	}
	jwt, err := localJWT(base.JWT, rules)
	if err != nil {
		return base, err
	}
	base.JWT = jwt
	return base, nil
}

func localJWT(base JWTConfig, rules ValidationRules) (JWTConfig, error) {
	if len(base.Secret) >= rules.MinSigningKeyLength {
		return base, nil
	}
	n := LocalSigningKeyLength
	if rules.MinSigningKeyLength > n {
		n = rules.MinSigningKeyLength
	}
	secret, err := cryptoutils.RandomAlphanumeric(n)
	if err != nil {
		return base, fmt.Errorf("could not generate local signing key: %w", err)
	}
	base.Secret = common.Redacted(secret)
	base.PreviousSecret = ""
	base.Local = true
	return base, nil
}

// decode weakly decodes doc into out. Fields that fail to decode keep their
// zero value; their names are returned so validation reports them even when
// the zero value would pass. Decoder messages carry values and are dropped.
func decode(doc interfaces.Document, out any) []string {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return []string{"document"}
	}
	err = dec.Decode(map[string]any(doc))
	if err == nil {
		return nil
	}

	var decErr *mapstructure.Error
	if !errors.As(err, &decErr) {
		return []string{"document"}
	}
	fields := make([]string, 0, len(decErr.Errors))
	for _, msg := range decErr.Errors {
		if field := quotedField(msg); field != "" {
			fields = append(fields, field)
		}
	}
	if len(fields) == 0 {
		return []string{"document"}
	}
	return fields
}

// quotedField extracts the field name mapstructure quotes first in its
// messages, e.g. "cannot parse 'port' as int: ..." yields "port".
func quotedField(msg string) string {
	start := strings.IndexByte(msg, '\'')
	if start < 0 {
		return ""
	}
	end := strings.IndexByte(msg[start+1:], '\'')
	if end <= 0 {
		return ""
	}
	return msg[start+1 : start+1+end]
}

func validURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
