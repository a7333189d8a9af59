package fetchrender

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/vi-software/skinrender/internal/metrics"
	"github.com/vi-software/skinrender/internal/renderer"
	"github.com/vi-software/skinrender/internal/runtime/pipeline"
)

// ErrDownloadFailed reports a non-2xx answer while downloading the skin.
var ErrDownloadFailed = errors.New("fetchrender: skin download failed")

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// fileSeq distinguishes transient files created within the same nanosecond
// under concurrent requests.
var fileSeq atomic.Uint64

// Agent downloads a skin texture into a uniquely named transient file,
// invokes the renderer, and removes the file on every exit path before
// returning.
type Agent struct {
	client   httpDoer
	renderer renderer.Renderer
	workDir  string
	logger   *slog.Logger
	metrics  *metrics.Recorder
}

// New prepares the fetch and render pipeline. The working directory is
// created idempotently before first use.
func New(client httpDoer, r renderer.Renderer, workDir string, logger *slog.Logger, rec *metrics.Recorder) (*Agent, error) {
	if client == nil {
		return nil, errors.New("fetchrender: http client required")
	}
	if r == nil {
		return nil, errors.New("fetchrender: renderer required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(workDir, 0o750); err != nil {
		return nil, fmt.Errorf("fetchrender: create work dir: %w", err)
	}
	return &Agent{
		client:   client,
		renderer: r,
		workDir:  workDir,
		logger:   logger.With(slog.String("agent", "fetchrender")),
		metrics:  rec,
	}, nil
}

// FetchRender downloads the source image and composites it at the requested
// scale. Any step failure propagates as an error with no partial state left
// behind.
func (a *Agent) FetchRender(ctx context.Context, sourceURL string, renderType pipeline.RenderType, scale int) ([]byte, error) {
	skin, err := a.download(ctx, sourceURL)
	a.metrics.ObserveUpstream(metrics.UpstreamTexture, err)
	if err != nil {
		return nil, err
	}

	path := a.transientPath()
	defer func() {
		// The transient file must never outlive this invocation, even after
		// a partial write; a removal error is logged and never masks the
		// render outcome.
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			a.logger.Warn("transient skin cleanup failed",
				slog.String("path", path),
				slog.Any("error", err),
			)
		}
	}()
	if err := os.WriteFile(path, skin, 0o600); err != nil {
		return nil, fmt.Errorf("fetchrender: write transient file: %w", err)
	}

	texture, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fetchrender: read transient file: %w", err)
	}

	var rendered []byte
	if renderType == pipeline.RenderTypeHead {
		rendered, err = a.renderer.RenderHead(ctx, texture, scale)
	} else {
		rendered, err = a.renderer.RenderFullBody(ctx, texture, scale)
	}
	if err != nil {
		return nil, fmt.Errorf("fetchrender: render %s: %w", renderType, err)
	}
	if len(rendered) == 0 {
		return nil, fmt.Errorf("fetchrender: render %s produced no output", renderType)
	}
	return rendered, nil
}

func (a *Agent) download(ctx context.Context, sourceURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetchrender: build download request: %w", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetchrender: download: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			a.logger.Warn("download body close failed", slog.Any("error", closeErr))
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d from %s", ErrDownloadFailed, resp.StatusCode, sourceURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("fetchrender: read download: %w", err)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty body from %s", ErrDownloadFailed, sourceURL)
	}
	return body, nil
}

func (a *Agent) transientPath() string {
	name := fmt.Sprintf("skin-%d-%d.png", time.Now().UnixNano(), fileSeq.Add(1))
	return filepath.Join(a.workDir, name)
}
