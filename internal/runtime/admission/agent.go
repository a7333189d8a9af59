package admission

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vi-software/skinrender/internal/runtime/pipeline"
	"golang.org/x/time/rate"
)

// Limits describes the request gate policy: per-client rate limiting plus the
// scale bounds applied to every render request.
type Limits struct {
	Requests     int
	Window       time.Duration
	DefaultScale int
	MinScale     int
	MaxScale     int
}

func sanitizeLimits(in Limits) Limits {
	out := in
	if out.Requests <= 0 {
		out.Requests = 100
	}
	if out.Window <= 0 {
		out.Window = time.Hour
	}
	if out.MinScale < 1 {
		out.MinScale = 1
	}
	if out.MaxScale < out.MinScale {
		out.MaxScale = out.MinScale
	}
	if out.DefaultScale < out.MinScale || out.DefaultScale > out.MaxScale {
		out.DefaultScale = out.MinScale
	}
	return out
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Agent is the request gate. It admits a request only after clamping the
// requested scale into bounds and charging the per-client rate limiter, and
// performs no other side effects.
type Agent struct {
	mu       sync.Mutex
	limits   Limits
	limiters map[string]*clientLimiter

	stopOnce sync.Once
	stop     chan struct{}
}

// New builds the request gate and starts its stale-limiter cleanup loop.
func New(limits Limits) *Agent {
	a := &Agent{
		limits:   sanitizeLimits(limits),
		limiters: make(map[string]*clientLimiter),
		stop:     make(chan struct{}),
	}
	go a.cleanupLoop()
	return a
}

func (a *Agent) Name() string { return "admission" }

// Update swaps the gate policy. Existing per-client limiters are discarded so
// the new rate takes effect immediately.
func (a *Agent) Update(limits Limits) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.limits = sanitizeLimits(limits)
	a.limiters = make(map[string]*clientLimiter)
}

// Close stops the cleanup loop.
func (a *Agent) Close() {
	a.stopOnce.Do(func() { close(a.stop) })
}

// Execute validates the render request and charges the rate limiter. On
// rejection the response state carries the admission error; no resolution
// work may happen afterwards.
func (a *Agent) Execute(_ context.Context, r *http.Request, state *pipeline.State) pipeline.Result {
	state.Admission.CapturedAt = time.Now().UTC()
	state.Admission.ClientIP = remoteHost(r.RemoteAddr)

	scale, clamped := a.clampScale(state.Request.RawScale)
	state.Request.Scale = scale
	state.Request.Clamped = clamped

	if !a.allow(state.Admission.ClientIP) {
		state.Admission.Admitted = false
		state.Admission.Reason = "rate limit exceeded"
		state.Admission.RetryAfter = a.retryAfterSeconds()
		state.Response.Status = http.StatusTooManyRequests
		state.Response.Message = "Too many requests from this IP, please try again later."
		if state.Response.Headers == nil {
			state.Response.Headers = make(map[string]string)
		}
		state.Response.Headers["Retry-After"] = strconv.Itoa(state.Admission.RetryAfter)
		return a.finish(state)
	}

	state.Admission.Admitted = true
	state.Admission.Reason = "request admitted"
	return a.finish(state)
}

func (a *Agent) finish(state *pipeline.State) pipeline.Result {
	decision := "fail"
	if state.Admission.Admitted {
		decision = "pass"
	}
	state.Admission.Decision = decision
	return pipeline.Result{
		Name:    a.Name(),
		Status:  decision,
		Details: state.Admission.Reason,
		Meta: map[string]any{
			"clientIp": state.Admission.ClientIP,
			"scale":    state.Request.Scale,
			"clamped":  state.Request.Clamped,
		},
	}
}

// clampScale parses the raw query value and clamps it into bounds. Absent or
// unparseable values fall back to the configured default.
func (a *Agent) clampScale(raw string) (int, bool) {
	a.mu.Lock()
	limits := a.limits
	a.mu.Unlock()

	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return limits.DefaultScale, false
	}
	scale, err := strconv.Atoi(trimmed)
	if err != nil {
		return limits.DefaultScale, false
	}
	if scale < limits.MinScale {
		return limits.MinScale, true
	}
	if scale > limits.MaxScale {
		return limits.MaxScale, true
	}
	return scale, false
}

func (a *Agent) allow(clientIP string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	entry, ok := a.limiters[clientIP]
	if !ok {
		limit := rate.Every(a.limits.Window / time.Duration(a.limits.Requests))
		entry = &clientLimiter{limiter: rate.NewLimiter(limit, a.limits.Requests)}
		a.limiters[clientIP] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter.Allow()
}

func (a *Agent) retryAfterSeconds() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	seconds := int(a.limits.Window.Seconds()) / a.limits.Requests
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}

// cleanupLoop drops limiters for clients not seen within two windows so the
// map does not grow with one entry per address forever.
func (a *Agent) cleanupLoop() {
	ticker := time.NewTicker(3 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-a.stop:
			return
		case <-ticker.C:
			a.mu.Lock()
			idle := 2 * a.limits.Window
			for ip, entry := range a.limiters {
				if time.Since(entry.lastSeen) > idle {
					delete(a.limiters, ip)
				}
			}
			a.mu.Unlock()
		}
	}
}

func remoteHost(addr string) string {
	if addr == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
