package renderer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrRenderFailed reports a non-200 answer from the render service.
	ErrRenderFailed = errors.New("renderer: render service request failed")
	// ErrEmptyRender reports a 200 answer with no image bytes.
	ErrEmptyRender = errors.New("renderer: render service returned no output")
)

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Service is a Renderer backed by a remote compositing service. The skin
// texture is posted as the request body; the scale travels as a query
// parameter.
type Service struct {
	baseURL string
	client  httpDoer
}

// NewService builds a render service client bounded by the supplied timeout.
func NewService(baseURL string, timeout time.Duration) *Service {
	return &Service{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// NewServiceWithDoer is the test seam; production code uses NewService.
func NewServiceWithDoer(baseURL string, doer httpDoer) *Service {
	return &Service{baseURL: strings.TrimRight(baseURL, "/"), client: doer}
}

// RenderHead composites the head-only view.
func (s *Service) RenderHead(ctx context.Context, skin []byte, scale int) ([]byte, error) {
	return s.render(ctx, "/2d/head", skin, scale)
}

// RenderFullBody composites the full-body view.
func (s *Service) RenderFullBody(ctx context.Context, skin []byte, scale int) ([]byte, error) {
	return s.render(ctx, "/2d/fullbody", skin, scale)
}

func (s *Service) render(ctx context.Context, endpoint string, skin []byte, scale int) ([]byte, error) {
	query := url.Values{}
	query.Set("scale", strconv.Itoa(scale))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+endpoint+"?"+query.Encode(), bytes.NewReader(skin))
	if err != nil {
		return nil, fmt.Errorf("renderer: build request: %w", err)
	}
	req.Header.Set("Content-Type", "image/png")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("renderer: request %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned status %d", ErrRenderFailed, endpoint, resp.StatusCode)
	}

	rendered, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("renderer: read response: %w", err)
	}
	if len(rendered) == 0 {
		return nil, ErrEmptyRender
	}
	return rendered, nil
}
