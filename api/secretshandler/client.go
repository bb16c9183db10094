package secretshandler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ruteri/secrets-gateway/api"
	"github.com/ruteri/secrets-gateway/interfaces"
)

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 << 10

// Client talks to the gateway HTTP API. Failures are mapped back onto the
// interfaces error taxonomy: 404 ErrNotFound, 400 ErrInvalidArgument,
// 409 ErrConflict, anything else (including transport errors) ErrUnavailable.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a client for the gateway at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), HTTPClient: http.DefaultClient}
}

// Health returns the gateway health report. An unhealthy gateway is not an
// error: the report carries status "unhealthy".
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: could not initialize request: %v", interfaces.ErrInvalidArgument, err)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: could not reach gateway: %v", interfaces.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	var health api.HealthResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(&health); err != nil {
		return nil, fmt.Errorf("%w: could not parse health response (status %d)", interfaces.ErrUnavailable, resp.StatusCode)
	}
	return &health, nil
}

// Ready returns nil when the gateway reports healthy, otherwise an error
// wrapping ErrUnavailable.
func (c *Client) Ready(ctx context.Context) error {
	health, err := c.Health(ctx)
	if err != nil {
		return err
	}
	if health.Status != api.StatusHealthy {
		return fmt.Errorf("%w: gateway unhealthy: %s", interfaces.ErrUnavailable, health.Error)
	}
	return nil
}

func (c *Client) Read(ctx context.Context, path string) (interfaces.Document, error) {
	var doc interfaces.Document
	if err := c.do(ctx, http.MethodGet, "/api/secrets/"+escapePath(path), nil, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (c *Client) Write(ctx context.Context, path string, doc interfaces.Document) error {
	return c.do(ctx, http.MethodPut, "/api/secrets/"+escapePath(path), api.WriteSecretRequest{Data: doc}, nil)
}

func (c *Client) IssueToken(ctx context.Context, serviceName string, policies []string) (string, error) {
	var resp api.ServiceTokenResponse
	err := c.do(ctx, http.MethodPost, "/api/tokens/service", api.ServiceTokenRequest{ServiceName: serviceName, Policies: policies}, &resp)
	if err != nil {
		return "", err
	}
	return resp.Token, nil
}

func (c *Client) Capabilities(ctx context.Context, token, path string) ([]string, error) {
	var resp api.CapabilitiesResponse
	if err := c.do(ctx, http.MethodPost, "/api/tokens/capabilities", api.CapabilitiesRequest{Token: token, Path: path}, &resp); err != nil {
		return nil, err
	}
	return resp.Capabilities, nil
}

func (c *Client) RotateJWT(ctx context.Context) (*api.RotateResponse, error) {
	var resp api.RotateResponse
	if err := c.do(ctx, http.MethodPost, "/api/jwt/rotate", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Rotate(ctx context.Context, path, field string) (*api.RotateResponse, error) {
	var resp api.RotateResponse
	if err := c.do(ctx, http.MethodPost, "/api/rotate/"+escapePath(path), api.RotateRequest{Field: field}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) DatabaseConfig(ctx context.Context) (*api.DatabaseConfig, error) {
	var resp api.DatabaseConfig
	if err := c.do(ctx, http.MethodGet, "/api/database/config", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) ServiceURLs(ctx context.Context) (map[string]string, error) {
	var resp map[string]string
	if err := c.do(ctx, http.MethodGet, "/api/services/urls", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient == nil {
		return http.DefaultClient
	}
	return c.HTTPClient
}

// do sends body as JSON and decodes the envelope's data into out.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: could not encode request: %v", interfaces.ErrInvalidArgument, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%w: could not initialize request: %v", interfaces.ErrInvalidArgument, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("%w: could not reach gateway: %v", interfaces.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var envelope api.Response
		_ = json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(&envelope)
		return fmt.Errorf("%w: gateway returned %d: %s", statusError(resp.StatusCode), resp.StatusCode, envelope.Error)
	}

	envelope := api.Response{Data: out}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("%w: could not parse gateway response", interfaces.ErrUnavailable)
	}
	if !envelope.Success {
		return fmt.Errorf("%w: gateway reported failure: %s", interfaces.ErrUnavailable, envelope.Error)
	}
	return nil
}

func statusError(code int) error {
	switch code {
	case http.StatusNotFound:
		return interfaces.ErrNotFound
	case http.StatusBadRequest:
		return interfaces.ErrInvalidArgument
	case http.StatusConflict:
		return interfaces.ErrConflict
	default:
		return interfaces.ErrUnavailable
	}
}

func escapePath(path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}
