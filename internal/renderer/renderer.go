// Package renderer abstracts the 2D skin compositing capability. The pixel
// work itself is delegated to an external render service; this package only
// defines the capability surface and the HTTP client that reaches it.
package renderer

import "context"

// Renderer composites a raw 64x64 skin texture into a 2D image at the given
// scale.
type Renderer interface {
	RenderHead(ctx context.Context, skin []byte, scale int) ([]byte, error)
	RenderFullBody(ctx context.Context, skin []byte, scale int) ([]byte, error)
}
