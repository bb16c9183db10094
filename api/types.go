package api

// Response is the JSON envelope of every API route.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Service   string       `json:"service"`
	Status    string       `json:"status"`
	Timestamp string       `json:"timestamp"`
	Vault     *VaultHealth `json:"vault,omitempty"`
	Error     string       `json:"error,omitempty"`
}

// Health status values.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// VaultHealth describes the backing store as seen by the gateway.
type VaultHealth struct {
	VaultStatus string `json:"vault_status"`
	Initialized bool   `json:"initialized"`
	Sealed      bool   `json:"sealed"`
	Standby     bool   `json:"standby"`
	Version     string `json:"version"`
}

// WriteSecretRequest is the body of PUT /api/secrets/{path}.
type WriteSecretRequest struct {
	Data map[string]any `json:"data"`
}

// ServiceTokenRequest is the body of POST /api/tokens/service.
type ServiceTokenRequest struct {
	ServiceName string   `json:"serviceName"`
	Policies    []string `json:"policies"`
}

// ServiceTokenResponse is the data of a successful token issuance.
type ServiceTokenResponse struct {
	Token string `json:"token"`
}

// CapabilitiesRequest is the body of POST /api/tokens/capabilities.
type CapabilitiesRequest struct {
	Token string `json:"token"`
	Path  string `json:"path"`
}

// CapabilitiesResponse lists the capabilities of a token on a path.
type CapabilitiesResponse struct {
	Path         string   `json:"path"`
	Capabilities []string `json:"capabilities"`
}

// RotateRequest is the body of POST /api/rotate/{path}.
type RotateRequest struct {
	Field string `json:"field"`
}

// RotateResponse is the data of a successful rotation.
type RotateResponse struct {
	Path      string `json:"path"`
	Field     string `json:"field"`
	Version   int    `json:"version"`
	RotatedAt string `json:"rotated_at"`
}

// DatabaseConfig is the data of GET /api/database/config.
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	Database string `json:"database"`
}
