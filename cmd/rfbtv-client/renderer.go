package main

import (
	"log/slog"

	"github.com/activevideo/rfbtv-client/internal/rfbtv/codec"
)

// logRenderer is a stand-in overlay.Renderer for running the client
// headless: a real embedder supplies its own graphics-surface
// implementation (spec §1's out-of-scope collaborator), this one just
// logs what would have been drawn.
type logRenderer struct {
	log *slog.Logger
}

func (r logRenderer) Clear() { r.log.Debug("overlay clear") }

func (r logRenderer) Blit(rect codec.Rect, image []byte) {
	r.log.Debug("overlay blit", "x", rect.X, "y", rect.Y, "w", rect.W, "h", rect.H, "bytes", len(image))
}

func (r logRenderer) Flip() { r.log.Debug("overlay flip") }
