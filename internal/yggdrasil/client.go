package yggdrasil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// httpDoer is the minimal HTTP client surface the lookup client needs, so
// tests can substitute a stub transport.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

var (
	// ErrProfileNotFound reports that the auth server has no profile for the
	// requested name.
	ErrProfileNotFound = errors.New("yggdrasil: profile not found")
	// ErrSkinNotFound reports that the profile exists but carries no skin URL.
	ErrSkinNotFound = errors.New("yggdrasil: skin not found")
)

// Client performs profile and skin lookups against the auth server.
type Client struct {
	baseURL string
	client  httpDoer
	logger  *slog.Logger
}

// NewClient builds a lookup client bounded by the supplied timeout.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With(slog.String("agent", "yggdrasil")),
	}
}

// NewClientWithDoer is the test seam; production code uses NewClient.
func NewClientWithDoer(baseURL string, doer httpDoer, logger *slog.Logger) *Client {
	c := NewClient(baseURL, 0, logger)
	c.client = doer
	return c
}

type profileResponse struct {
	UUID string `json:"uuid"`
	Name string `json:"name"`
}

type skinResponse struct {
	Skin string `json:"skin"`
}

// NameToUUID resolves a player name into its canonical UUID. An empty or
// missing uuid field in the response is a failure, not an empty success.
func (c *Client) NameToUUID(ctx context.Context, name string) (string, error) {
	var payload profileResponse
	path := "/api/v1/profiles/" + url.PathEscape(name)
	if err := c.getJSON(ctx, path, &payload); err != nil {
		return "", err
	}
	if strings.TrimSpace(payload.UUID) == "" {
		return "", fmt.Errorf("%w: %s", ErrProfileNotFound, name)
	}
	return payload.UUID, nil
}

// SkinURL resolves the source image URL for a canonical identifier.
func (c *Client) SkinURL(ctx context.Context, identifier string) (string, error) {
	var payload skinResponse
	path := "/api/v1/skins/" + url.PathEscape(identifier)
	if err := c.getJSON(ctx, path, &payload); err != nil {
		return "", err
	}
	if strings.TrimSpace(payload.Skin) == "" {
		return "", fmt.Errorf("%w: %s", ErrSkinNotFound, identifier)
	}
	return payload.Skin, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("yggdrasil: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("yggdrasil: request %s: %w", path, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("response body close failed", slog.Any("error", closeErr))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("yggdrasil: %s returned status %d", path, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("yggdrasil: read response: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("yggdrasil: decode response: %w", err)
	}
	return nil
}
