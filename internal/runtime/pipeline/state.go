package pipeline

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// RenderType selects between head-only and full-body composition.
type RenderType string

const (
	RenderTypeHead     RenderType = "head"
	RenderTypeFullBody RenderType = "full_body"
)

// RenderTypeFrom normalizes the raw path segment. Anything that is not the
// head variant renders the full body, matching the service's historical
// behavior for unknown type values.
func RenderTypeFrom(raw string) RenderType {
	if strings.EqualFold(strings.TrimSpace(raw), string(RenderTypeHead)) {
		return RenderTypeHead
	}
	return RenderTypeFullBody
}

// Agent represents a runtime component that collaborates on processing an
// incoming request. Each agent observes and mutates the shared State before
// returning its Result snapshot.
type Agent interface {
	Name() string
	Execute(context.Context, *http.Request, *State) Result
}

// Result captures the outcome emitted by an agent during pipeline execution.
type Result struct {
	Name    string         `json:"name"`
	Status  string         `json:"status"`
	Details string         `json:"details,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// RequestState preserves the validated render request. Scale is the effective
// clamped value; RawScale keeps what the caller actually sent for auditing.
type RequestState struct {
	Method   string     `json:"method"`
	Path     string     `json:"path"`
	Name     string     `json:"name"`
	Type     RenderType `json:"type"`
	Scale    int        `json:"scale"`
	RawScale string     `json:"rawScale,omitempty"`
	Clamped  bool       `json:"clamped"`
}

// AdmissionState records the request gate decision.
type AdmissionState struct {
	Admitted   bool      `json:"admitted"`
	Reason     string    `json:"reason,omitempty"`
	ClientIP   string    `json:"clientIp,omitempty"`
	RetryAfter int       `json:"retryAfter,omitempty"`
	CapturedAt time.Time `json:"capturedAt"`
	Decision   string    `json:"decision"`
}

// IdentityState records how the player reference became a canonical identifier.
type IdentityState struct {
	Input      string `json:"input"`
	Identifier string `json:"identifier,omitempty"`
	FromLookup bool   `json:"fromLookup"`
	Fallback   bool   `json:"fallback"`
	Error      string `json:"error,omitempty"`
}

// SourceState records the resolved skin source URL.
type SourceState struct {
	URL   string `json:"url,omitempty"`
	Error string `json:"error,omitempty"`
}

// FetchState reports the transient fetch and render attempt.
type FetchState struct {
	Attempted bool   `json:"attempted"`
	Rendered  bool   `json:"rendered"`
	Bytes     int    `json:"bytes"`
	Error     string `json:"error,omitempty"`
}

// CacheState captures render cache participation for the request.
type CacheState struct {
	Key      string    `json:"key"`
	Hit      bool      `json:"hit"`
	Stored   bool      `json:"stored"`
	StoredAt time.Time `json:"storedAt,omitempty"`
}

// ResponseState is the HTTP response composed for the caller. Image carries
// PNG bytes on success; Message carries the error envelope text otherwise.
type ResponseState struct {
	Status  int               `json:"status"`
	Message string            `json:"message,omitempty"`
	Detail  string            `json:"detail,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Image   []byte            `json:"-"`
}

// State is the shared context threaded through the render pipeline for one
// request.
type State struct {
	Request   RequestState   `json:"request"`
	Admission AdmissionState `json:"admission"`
	Identity  IdentityState  `json:"identity"`
	Source    SourceState    `json:"source"`
	Fetch     FetchState     `json:"fetch"`
	Cache     CacheState     `json:"cache"`
	Response  ResponseState  `json:"response"`
}

// NewState captures the inbound request metadata and initializes the shared
// state for one pipeline evaluation.
func NewState(r *http.Request, name, renderType string) *State {
	return &State{
		Request: RequestState{
			Method:   r.Method,
			Path:     r.URL.Path,
			Name:     strings.TrimSpace(name),
			Type:     RenderTypeFrom(renderType),
			RawScale: r.URL.Query().Get("scale"),
		},
		Identity: IdentityState{Input: strings.TrimSpace(name)},
	}
}
