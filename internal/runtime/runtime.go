package runtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vi-software/skinrender/internal/metrics"
	"github.com/vi-software/skinrender/internal/runtime/admission"
	"github.com/vi-software/skinrender/internal/runtime/cache"
	"github.com/vi-software/skinrender/internal/runtime/pipeline"
	"golang.org/x/sync/singleflight"
)

const (
	// ApplicationName identifies the service in the metadata endpoint.
	ApplicationName = "vis-skin-renderer"
	// ApplicationVersion is the published service version.
	ApplicationVersion = "2.1.0"

	applicationAuthor      = "The VI Software Team"
	applicationDescription = "VI Software skin rendering service"

	defaultCacheTTL = 30 * time.Minute
)

// IdentityResolver turns player references into canonical identifiers and
// skin source URLs.
type IdentityResolver interface {
	Resolve(ctx context.Context, reference string) (string, error)
	SkinURL(ctx context.Context, identifier string) (string, error)
}

// Fetcher downloads a skin texture and composites it at the requested scale.
type Fetcher interface {
	FetchRender(ctx context.Context, sourceURL string, renderType pipeline.RenderType, scale int) ([]byte, error)
}

// PipelineOptions wires the orchestrator's collaborators.
type PipelineOptions struct {
	Cache         cache.RenderCache
	CacheTTL      time.Duration
	Resolver      IdentityResolver
	Fetcher       Fetcher
	Admission     *admission.Agent
	DefaultPlayer string
	Development   bool
	Metrics       *metrics.Recorder
}

// Pipeline orchestrates one render request: admission, identity resolution,
// cache participation, and the single bounded fallback to the default player.
// Recoverable failures never escape a step; they drive the next orchestrator
// state, and exhausting the fallback yields the fatal 500 path.
type Pipeline struct {
	logger        *slog.Logger
	cache         cache.RenderCache
	cacheTTL      time.Duration
	resolver      IdentityResolver
	fetcher       Fetcher
	admission     *admission.Agent
	defaultPlayer string
	development   bool
	metrics       *metrics.Recorder

	// group collapses concurrent cold-cache misses for one cache key into a
	// single upstream fetch and render.
	group singleflight.Group
}

// NewPipeline assembles the orchestrator.
func NewPipeline(logger *slog.Logger, opts PipelineOptions) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	ttl := opts.CacheTTL
	renderCache := opts.Cache
	if renderCache == nil {
		if ttl < 0 {
			ttl = defaultCacheTTL
		}
		renderCache = cache.NewMemory(ttl)
	}
	return &Pipeline{
		logger:        logger.With(slog.String("agent", "pipeline")),
		cache:         renderCache,
		cacheTTL:      ttl,
		resolver:      opts.Resolver,
		fetcher:       opts.Fetcher,
		admission:     opts.Admission,
		defaultPlayer: opts.DefaultPlayer,
		development:   opts.Development,
		metrics:       opts.Metrics,
	}
}

// Reload swaps the request gate policy without dropping cached renders.
func (p *Pipeline) Reload(limits admission.Limits) {
	if p.admission == nil {
		return
	}
	p.admission.Update(limits)
	p.logger.Info("request gate limits reloaded",
		slog.Int("requests", limits.Requests),
		slog.Duration("window", limits.Window),
	)
}

// Close releases the cache backend and stops the request gate.
func (p *Pipeline) Close(ctx context.Context) error {
	if p.admission != nil {
		p.admission.Close()
	}
	if p.cache == nil {
		return nil
	}
	return p.cache.Close(ctx)
}

// renderOutcome is the singleflight payload shared by collapsed requests.
// err travels inside the payload so every collapsed caller can report which
// stage failed, not just that one did.
type renderOutcome struct {
	image     []byte
	fromCache bool
	stored    bool
	storedAt  time.Time

	sourceURL      string
	fetchAttempted bool
	err            error
}

// ServeSkin handles GET /2d/skin/{name}/{type}. On success the response is
// raw PNG bytes; every failure surfaces as a JSON error envelope whose code
// mirrors the HTTP status.
func (p *Pipeline) ServeSkin(w http.ResponseWriter, r *http.Request, name, renderType string) {
	start := time.Now()
	state := pipeline.NewState(r, name, renderType)

	if state.Request.Name == "" {
		p.WriteError(w, http.StatusNotFound, "Not found", "")
		p.observe(state, "rejected", http.StatusNotFound, false, start)
		return
	}

	if p.admission != nil {
		p.admission.Execute(r.Context(), r, state)
		if !state.Admission.Admitted {
			for k, v := range state.Response.Headers {
				w.Header().Set(k, v)
			}
			p.WriteError(w, state.Response.Status, state.Response.Message, "")
			if p.metrics != nil {
				p.metrics.ObserveAdmissionRejection(state.Admission.Reason)
			}
			p.observe(state, "rejected", state.Response.Status, false, start)
			return
		}
	} else {
		applyDefaultScale(state)
	}

	outcome, err := p.renderFor(r.Context(), state, state.Identity.Input, false)
	if err != nil {
		p.logger.Warn("render attempt failed, substituting default player",
			slog.String("player", state.Identity.Input),
			slog.String("type", string(state.Request.Type)),
			slog.Any("error", err),
		)
		state.Identity.Fallback = true
		outcome, err = p.renderFor(r.Context(), state, p.defaultPlayer, true)
	}
	if err != nil {
		p.logger.Error("render pipeline exhausted fallback",
			slog.String("player", state.Identity.Input),
			slog.String("default_player", p.defaultPlayer),
			slog.Any("error", err),
		)
		state.Response.Status = http.StatusInternalServerError
		p.WriteError(w, http.StatusInternalServerError, "Internal Server Error", err.Error())
		p.observe(state, "fatal", http.StatusInternalServerError, false, start)
		return
	}

	state.Response.Status = http.StatusOK
	state.Response.Image = outcome.image
	state.Cache.Hit = outcome.fromCache
	state.Cache.Stored = outcome.stored
	state.Cache.StoredAt = outcome.storedAt
	if outcome.fetchAttempted {
		state.Fetch.Rendered = true
		state.Fetch.Bytes = len(outcome.image)
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(outcome.image); err != nil {
		p.logger.Warn("render response write failed", slog.Any("error", err))
	}

	result := "ok"
	if state.Identity.Fallback {
		result = "fallback"
	}
	p.observe(state, result, http.StatusOK, outcome.fromCache, start)
}

// applyDefaultScale covers pipelines built without a request gate. The gate
// normally owns scale clamping; here only the default policy applies.
func applyDefaultScale(state *pipeline.State) {
	scale, err := strconv.Atoi(strings.TrimSpace(state.Request.RawScale))
	if err != nil {
		state.Request.Scale = 25
		return
	}
	switch {
	case scale < 1:
		state.Request.Scale = 1
		state.Request.Clamped = true
	case scale > 50:
		state.Request.Scale = 50
		state.Request.Clamped = true
	default:
		state.Request.Scale = scale
	}
}

// renderFor runs one full resolution attempt for a player reference. Failures
// are returned, never written; the caller owns the fallback decision.
func (p *Pipeline) renderFor(ctx context.Context, state *pipeline.State, reference string, fallback bool) (renderOutcome, error) {
	identifier := reference
	if fallback {
		// The default identity is already canonical. Skipping resolution
		// here keeps a broken profile endpoint from defeating the
		// known-good substitute.
		state.Identity.Identifier = identifier
		state.Identity.FromLookup = false
	} else {
		resolved, err := p.resolver.Resolve(ctx, reference)
		if p.metrics != nil {
			p.metrics.ObserveUpstream(metrics.UpstreamProfile, err)
		}
		if err != nil {
			state.Identity.Error = err.Error()
			return renderOutcome{}, err
		}
		identifier = resolved
		state.Identity.Identifier = identifier
		state.Identity.FromLookup = identifier != reference
	}
	state.Identity.Fallback = fallback

	key := cache.Key{Identifier: identifier, Type: state.Request.Type, Scale: state.Request.Scale}.String()
	state.Cache.Key = key

	value, _, _ := p.group.Do(key, func() (any, error) {
		return p.lookupOrRender(ctx, key, identifier, state.Request.Type, state.Request.Scale), nil
	})
	outcome := value.(renderOutcome)
	state.Source.URL = outcome.sourceURL
	state.Fetch.Attempted = outcome.fetchAttempted
	if outcome.err != nil {
		if outcome.fetchAttempted {
			state.Fetch.Error = outcome.err.Error()
		} else if outcome.sourceURL == "" {
			state.Source.Error = outcome.err.Error()
		}
		return renderOutcome{}, outcome.err
	}
	return outcome, nil
}

// lookupOrRender is the single-flighted miss path: a pure cache read first,
// then source resolution, fetch, render, and store.
func (p *Pipeline) lookupOrRender(ctx context.Context, key, identifier string, renderType pipeline.RenderType, scale int) renderOutcome {
	lookupStart := time.Now()
	entry, hit, err := p.cache.Lookup(ctx, key)
	if p.metrics != nil {
		outcome := metrics.CacheLookupMiss
		switch {
		case err != nil:
			outcome = metrics.CacheLookupError
		case hit:
			outcome = metrics.CacheLookupHit
		}
		p.metrics.ObserveCacheLookup(outcome, time.Since(lookupStart))
	}
	if err != nil {
		// A broken cache backend degrades to a render, not a failure.
		p.logger.Warn("render cache lookup failed", slog.String("key", key), slog.Any("error", err))
	}
	if hit {
		return renderOutcome{image: entry.Image, fromCache: true, storedAt: entry.StoredAt}
	}

	sourceURL, err := p.resolver.SkinURL(ctx, identifier)
	if p.metrics != nil {
		p.metrics.ObserveUpstream(metrics.UpstreamSkin, err)
	}
	if err != nil {
		return renderOutcome{err: err}
	}

	image, err := p.fetcher.FetchRender(ctx, sourceURL, renderType, scale)
	if p.metrics != nil {
		p.metrics.ObserveUpstream(metrics.UpstreamRender, err)
	}
	if err != nil {
		return renderOutcome{sourceURL: sourceURL, fetchAttempted: true, err: err}
	}

	now := time.Now().UTC()
	storeEntry := cache.Entry{Image: image, StoredAt: now}
	if p.cacheTTL > 0 {
		storeEntry.ExpiresAt = now.Add(p.cacheTTL)
	}
	storeStart := time.Now()
	storeErr := p.cache.Store(ctx, key, storeEntry)
	if p.metrics != nil {
		outcome := metrics.CacheStoreStored
		if storeErr != nil {
			outcome = metrics.CacheStoreError
		}
		p.metrics.ObserveCacheStore(outcome, time.Since(storeStart))
	}
	if storeErr != nil {
		// The render already succeeded; a store failure only costs the next
		// request a re-render.
		p.logger.Warn("render cache store failed", slog.String("key", key), slog.Any("error", storeErr))
		return renderOutcome{image: image, sourceURL: sourceURL, fetchAttempted: true}
	}
	return renderOutcome{image: image, stored: true, storedAt: now, sourceURL: sourceURL, fetchAttempted: true}
}

func (p *Pipeline) observe(state *pipeline.State, outcome string, status int, fromCache bool, start time.Time) {
	duration := time.Since(start)
	p.logger.Info("render request completed",
		slog.String("player", state.Request.Name),
		slog.String("type", string(state.Request.Type)),
		slog.Int("scale", state.Request.Scale),
		slog.String("outcome", outcome),
		slog.Int("http_status", status),
		slog.Bool("from_cache", fromCache),
		slog.Bool("fallback", state.Identity.Fallback),
		slog.Float64("latency_ms", float64(duration)/float64(time.Millisecond)),
	)
	if p.metrics != nil {
		p.metrics.ObserveRender(string(state.Request.Type), outcome, status, fromCache, duration)
	}
}

// statusPayload mirrors the historical metadata document served at the root
// route, hyphenated keys included.
type statusPayload struct {
	Status         string `json:"status"`
	StatusCode     string `json:"statusCode"`
	RuntimeMode    string `json:"Runtime-Mode"`
	Author         string `json:"Application-Author"`
	Description    string `json:"Application-Description"`
	Version        string `json:"Specification-Version"`
	ApplicationRef string `json:"Application-Name"`
}

// ServeStatus handles GET / with the service metadata document.
func (p *Pipeline) ServeStatus(w http.ResponseWriter, _ *http.Request) {
	mode := "productionMode"
	if p.development {
		mode = "developmentMode"
	}
	payload := statusPayload{
		Status:         "OK",
		StatusCode:     "200",
		RuntimeMode:    mode,
		Author:         applicationAuthor,
		Description:    applicationDescription,
		Version:        ApplicationVersion,
		ApplicationRef: ApplicationName,
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		p.logger.Error("status encode failed", slog.Any("error", err))
	}
}

// errorEnvelope is the JSON failure document; code always mirrors the HTTP
// status. Message carries diagnostic detail in development mode only.
type errorEnvelope struct {
	Code    int    `json:"code"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// WriteError emits the JSON error envelope for any failed request.
func (p *Pipeline) WriteError(w http.ResponseWriter, status int, message, detail string) {
	if status <= 0 {
		status = http.StatusInternalServerError
	}
	envelope := errorEnvelope{Code: status, Error: message}
	if p.development && detail != "" {
		envelope.Message = detail
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope); err != nil {
		p.logger.Error("error envelope encode failed", slog.Any("error", err))
	}
}
