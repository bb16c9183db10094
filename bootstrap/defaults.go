package bootstrap

import "github.com/ruteri/secrets-gateway/interfaces"

// Logical paths of the built-in documents.
const (
	PathDatabase   = "database"
	PathJWT        = "jwt"
	PathEncryption = "encryption"
	PathOAuth      = "oauth"
	PathAPI        = "api"
	PathServices   = "services"
	PathGame       = "game"
)

// Lengths of generated material.
const (
	DatabasePasswordLength = 24
	SigningKeyLength       = 64
	EncryptionKeyBytes     = 32
)

func literal(v string) Generator { return Generator{Kind: GeneratorLiteral, Value: v} }

func env(name, fallback string) Generator {
	return Generator{Kind: GeneratorEnv, Env: name, Value: fallback}
}

func alphanumeric(n int) Generator { return Generator{Kind: GeneratorAlphanumeric, Length: n} }

var timestamp = Generator{Kind: GeneratorTimestamp}

// DefaultSpec returns the built-in policies and documents.
func DefaultSpec() *Spec {
	all := []string{
		interfaces.CapCreate, interfaces.CapRead, interfaces.CapUpdate,
		interfaces.CapDelete, interfaces.CapList, interfaces.CapSudo,
	}
	read := []string{interfaces.CapRead, interfaces.CapList}
	readUpdate := []string{interfaces.CapRead, interfaces.CapUpdate}

	return &Spec{
		Policies: []interfaces.Policy{
			{Name: "admin", Rules: []interfaces.PolicyRule{{Path: "*", Capabilities: all}}},
			{Name: "service-read", Rules: []interfaces.PolicyRule{{Path: "*", Capabilities: read}}},
			{Name: "auth-service", Rules: []interfaces.PolicyRule{
				{Path: PathJWT, Capabilities: readUpdate},
				{Path: PathOAuth, Capabilities: readUpdate},
				{Path: PathDatabase, Capabilities: []string{interfaces.CapRead}},
			}},
			{Name: "database-only", Rules: []interfaces.PolicyRule{
				{Path: PathDatabase, Capabilities: []string{interfaces.CapRead}},
			}},
		},
		Secrets: []SecretSeed{
			{Path: PathDatabase, Fields: []FieldSeed{
				{Name: "host", Generator: env("DB_HOST", "database-service")},
				{Name: "port", Generator: env("DB_PORT", "3306")},
				{Name: "username", Generator: env("DB_USER", "app")},
				{Name: "password", Generator: alphanumeric(DatabasePasswordLength)},
				{Name: "database", Generator: env("DB_NAME", "app")},
				{Name: "created_at", Generator: timestamp},
			}},
			{Path: PathJWT, Fields: []FieldSeed{
				{Name: "secret", Generator: alphanumeric(SigningKeyLength)},
				{Name: "algorithm", Generator: literal("HS256")},
				{Name: "expiration", Generator: env("JWT_EXPIRATION", "24h")},
				{Name: "created_at", Generator: timestamp},
			}},
			{Path: PathEncryption, Fields: []FieldSeed{
				{Name: "key", Generator: Generator{Kind: GeneratorHex, Length: EncryptionKeyBytes}},
				{Name: "algorithm", Generator: literal("aes-256-gcm")},
				{Name: "created_at", Generator: timestamp},
			}},
			{Path: PathOAuth, Fields: []FieldSeed{
				{Name: "client_id", Generator: env("OAUTH_CLIENT_ID", "")},
				{Name: "client_secret", Generator: env("OAUTH_CLIENT_SECRET", "")},
				{Name: "redirect_uri", Generator: env("OAUTH_REDIRECT_URI", "http://localhost:3000/auth/callback")},
				{Name: "created_at", Generator: timestamp},
			}},
			{Path: PathAPI, Fields: []FieldSeed{
				{Name: "rate_limit_max", Generator: env("RATE_LIMIT_MAX", "100")},
				{Name: "rate_limit_window", Generator: env("RATE_LIMIT_WINDOW", "60000")},
				{Name: "cors_origin", Generator: env("CORS_ORIGIN", "http://localhost:3000")},
				{Name: "created_at", Generator: timestamp},
			}},
			{Path: PathServices, Fields: []FieldSeed{
				{Name: "auth_service", Generator: env("AUTH_SERVICE_URL", "http://auth-service:3001")},
				{Name: "user_service", Generator: env("USER_SERVICE_URL", "http://user-service:3002")},
				{Name: "game_service", Generator: env("GAME_SERVICE_URL", "http://game-service:3003")},
				{Name: "gateway_service", Generator: env("GATEWAY_SERVICE_URL", "http://gateway-service:3000")},
				{Name: "created_at", Generator: timestamp},
			}},
			{Path: PathGame, Fields: []FieldSeed{
				{Name: "tick_rate", Generator: literal("60")},
				{Name: "heartbeat_interval", Generator: literal("30000")},
				{Name: "max_players", Generator: literal("100")},
				{Name: "matchmaking_timeout", Generator: literal("30000")},
				{Name: "created_at", Generator: timestamp},
			}},
		},
	}
}
