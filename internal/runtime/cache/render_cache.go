package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/vi-software/skinrender/internal/runtime/pipeline"
)

// Key identifies one rendered output: the canonical player identifier, the
// composition type, and the effective scale. Identifiers are case-sensitive
// UUID strings or the literal default-player name.
type Key struct {
	Identifier string
	Type       pipeline.RenderType
	Scale      int
}

// String renders the associative key used by every backend.
func (k Key) String() string {
	return fmt.Sprintf("%s_%s_%d", k.Identifier, k.Type, k.Scale)
}

// Entry is the rendered image associated with a Key. Entries are immutable
// once stored; a failed request never evicts or overwrites a prior success.
type Entry struct {
	Image     []byte    `json:"image"`
	StoredAt  time.Time `json:"storedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// RenderCache stores rendered skin images keyed by Key.String(). Lookup is a
// pure read; it never triggers network activity or renders.
type RenderCache interface {
	Lookup(ctx context.Context, key string) (Entry, bool, error)
	Store(ctx context.Context, key string, entry Entry) error
	Size(ctx context.Context) (int64, error)
	Close(ctx context.Context) error
}
