package secretshandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/secrets-gateway/api"
	"github.com/ruteri/secrets-gateway/gateway"
	"github.com/ruteri/secrets-gateway/interfaces"
)

// maxBodySize bounds request bodies.
const maxBodySize = 1 << 20

// SecretsGateway is the gateway behaviour served by the handler. It is
// implemented by *gateway.Service.
type SecretsGateway interface {
	Read(ctx context.Context, path string) (interfaces.Document, error)
	Write(ctx context.Context, path string, doc interfaces.Document) error
	IssueToken(ctx context.Context, serviceName string, policies []string) (string, error)
	TokenCapabilities(ctx context.Context, token, path string) ([]string, error)
	Health(ctx context.Context) interfaces.HealthStatus
	DatabaseConfig(ctx context.Context) (map[string]string, error)
	ServiceURLs(ctx context.Context) (map[string]string, error)
	Rotate(ctx context.Context, path, field string) (*gateway.RotationResult, error)
	RotateJWT(ctx context.Context) (*gateway.RotationResult, error)
}

// Handler serves the gateway HTTP API.
type Handler struct {
	gw          SecretsGateway
	serviceName string
	log         *slog.Logger
	now         func() time.Time
}

// NewHandler creates a handler. serviceName is reported by the health route.
func NewHandler(gw SecretsGateway, serviceName string, log *slog.Logger) *Handler {
	return &Handler{
		gw:          gw,
		serviceName: serviceName,
		log:         log,
		now:         time.Now,
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.HandleHealth)
	r.Get("/api/secrets/*", h.HandleReadSecret)
	r.Put("/api/secrets/*", h.HandleWriteSecret)
	r.Get("/api/database/config", h.HandleDatabaseConfig)
	r.Get("/api/services/urls", h.HandleServiceURLs)
	r.Post("/api/tokens/service", h.HandleServiceToken)
	r.Post("/api/tokens/capabilities", h.HandleCapabilities)
	r.Post("/api/jwt/rotate", h.HandleRotateJWT)
	r.Post("/api/rotate/*", h.HandleRotate)
}

// HandleHealth reports gateway and backing store health. It answers 200 only
// when the store is reachable, initialized and unsealed.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := h.gw.Health(r.Context())
	resp := api.HealthResponse{
		Service:   h.serviceName,
		Timestamp: h.now().UTC().Format(time.RFC3339),
	}

	if !status.Healthy() {
		resp.Status = api.StatusUnhealthy
		resp.Error = unhealthyReason(status)
		h.log.Warn("Health check failed", "reason", resp.Error, "err", status.Error)
		writeJSON(w, http.StatusInternalServerError, resp)
		return
	}

	resp.Status = api.StatusHealthy
	resp.Vault = &api.VaultHealth{
		VaultStatus: "connected",
		Initialized: status.Initialized,
		Sealed:      status.Sealed,
		Standby:     status.Standby,
		Version:     status.Version,
	}
	writeJSON(w, http.StatusOK, resp)
}

func unhealthyReason(status interfaces.HealthStatus) string {
	switch {
	case !status.Reachable:
		return "backing store unreachable"
	case !status.Initialized:
		return "backing store not initialized"
	case status.Sealed:
		return "backing store sealed"
	default:
		return "backing store unhealthy"
	}
}

// HandleReadSecret returns the document at the path following /api/secrets/.
func (h *Handler) HandleReadSecret(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "*")
	doc, err := h.gw.Read(r.Context(), path)
	if err != nil {
		h.writeError(w, err, "Failed to read secret", slog.String("path", path))
		return
	}
	writeJSON(w, http.StatusOK, api.Response{Success: true, Data: doc})
}

// HandleWriteSecret replaces the document at the path following /api/secrets/.
func (h *Handler) HandleWriteSecret(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "*")

	var req api.WriteSecretRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, err, "Failed to write secret")
		return
	}
	if req.Data == nil {
		writeJSON(w, http.StatusBadRequest, api.Response{Error: "data is required"})
		return
	}

	if err := h.gw.Write(r.Context(), path, req.Data); err != nil {
		h.writeError(w, err, "Failed to write secret", slog.String("path", path))
		return
	}
	writeJSON(w, http.StatusOK, api.Response{Success: true, Message: "Secret written successfully"})
}

func (h *Handler) HandleDatabaseConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.gw.DatabaseConfig(r.Context())
	if err != nil {
		h.writeError(w, err, "Failed to get database configuration")
		return
	}
	writeJSON(w, http.StatusOK, api.Response{Success: true, Data: api.DatabaseConfig{
		Host:     cfg["host"],
		Port:     cfg["port"],
		Username: cfg["username"],
		Password: cfg["password"],
		Database: cfg["database"],
	}})
}

func (h *Handler) HandleServiceURLs(w http.ResponseWriter, r *http.Request) {
	urls, err := h.gw.ServiceURLs(r.Context())
	if err != nil {
		h.writeError(w, err, "Failed to get service URLs")
		return
	}
	writeJSON(w, http.StatusOK, api.Response{Success: true, Data: urls})
}

// HandleServiceToken issues a token scoped to the requested policies.
func (h *Handler) HandleServiceToken(w http.ResponseWriter, r *http.Request) {
	var req api.ServiceTokenRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, err, "Failed to create service token")
		return
	}
	if req.ServiceName == "" || len(req.Policies) == 0 {
		writeJSON(w, http.StatusBadRequest, api.Response{Error: "serviceName and policies are required"})
		return
	}

	token, err := h.gw.IssueToken(r.Context(), req.ServiceName, req.Policies)
	if err != nil {
		h.writeError(w, err, "Failed to create service token", slog.String("service_name", req.ServiceName))
		return
	}
	writeJSON(w, http.StatusOK, api.Response{Success: true, Data: api.ServiceTokenResponse{Token: token}})
}

// HandleCapabilities reports what a token may do on a path.
func (h *Handler) HandleCapabilities(w http.ResponseWriter, r *http.Request) {
	var req api.CapabilitiesRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, err, "Failed to look up capabilities")
		return
	}

	caps, err := h.gw.TokenCapabilities(r.Context(), req.Token, req.Path)
	if err != nil {
		h.writeError(w, err, "Failed to look up capabilities", slog.String("path", req.Path))
		return
	}
	writeJSON(w, http.StatusOK, api.Response{Success: true, Data: api.CapabilitiesResponse{Path: req.Path, Capabilities: caps}})
}

func (h *Handler) HandleRotateJWT(w http.ResponseWriter, r *http.Request) {
	res, err := h.gw.RotateJWT(r.Context())
	if err != nil {
		h.writeError(w, err, "Failed to rotate JWT secret")
		return
	}
	writeJSON(w, http.StatusOK, api.Response{
		Success: true,
		Message: "JWT secret rotated successfully",
		Data:    rotateResponse(res),
	})
}

// HandleRotate rotates one field of the document at the path following /api/rotate/.
func (h *Handler) HandleRotate(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "*")

	var req api.RotateRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, err, "Failed to rotate secret")
		return
	}

	res, err := h.gw.Rotate(r.Context(), path, req.Field)
	if err != nil {
		h.writeError(w, err, "Failed to rotate secret", slog.String("path", path), slog.String("field", req.Field))
		return
	}
	writeJSON(w, http.StatusOK, api.Response{
		Success: true,
		Message: fmt.Sprintf("Secret %s.%s rotated successfully", res.Path, res.Field),
		Data:    rotateResponse(res),
	})
}

func rotateResponse(res *gateway.RotationResult) api.RotateResponse {
	return api.RotateResponse{
		Path:      res.Path,
		Field:     res.Field,
		Version:   res.Version,
		RotatedAt: res.RotatedAt.UTC().Format(time.RFC3339),
	}
}

// writeError maps the error taxonomy to a status code. Only invalid-argument
// messages raised by the gateway itself are echoed; everything else, including
// requests the backing store rejected, gets a fixed message.
func (h *Handler) writeError(w http.ResponseWriter, err error, message string, attrs ...any) {
	var (
		status int
		text   string
	)
	switch {
	case errors.Is(err, interfaces.ErrNotFound):
		status, text = http.StatusNotFound, "Secret not found"
	case errors.Is(err, interfaces.ErrRejected):
		status, text = http.StatusBadRequest, "Invalid request"
	case errors.Is(err, interfaces.ErrInvalidArgument):
		status, text = http.StatusBadRequest, err.Error()
	case errors.Is(err, interfaces.ErrConflict):
		status, text = http.StatusConflict, "Secret was modified concurrently, retry"
	default:
		status, text = http.StatusInternalServerError, message
	}

	if status == http.StatusInternalServerError {
		h.log.Error(message, append(attrs, "err", err)...)
	} else {
		h.log.Debug(message, append(attrs, "err", err, slog.Int("status", status))...)
	}
	writeJSON(w, status, api.Response{Error: text})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: malformed request body", interfaces.ErrInvalidArgument)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
