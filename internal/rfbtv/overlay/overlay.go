// Package overlay implements OverlayWorker: a dedicated goroutine that
// resolves URL-encoded framebuffer rectangles through an injected content
// loader, preserves their original order, and issues clear/blit/flip
// calls to an injected renderer.
package overlay

import (
	"context"
	"net/url"
	"sync"

	"github.com/activevideo/rfbtv-client/internal/logger"
	"github.com/activevideo/rfbtv-client/internal/rfbtv/codec"
)

// Renderer is the external collaborator that actually draws rectangles;
// the overlay worker only sequences calls to it.
type Renderer interface {
	Clear()
	Blit(rect codec.Rect, image []byte)
	Flip()
}

// Sender is the subset of kernel.Connection the worker needs to
// acknowledge a FramebufferUpdate with a new FramebufferUpdateRequest.
// Defined locally rather than importing kernel, matching the
// collaborator-interfaces-live-with-the-consumer pattern used throughout
// this module.
type Sender interface {
	SendData(data []byte) error
}

// ContentLoader resolves a rectangle's URL to image bytes. HTTP(S) and
// ws(s) schemes are dispatched to different concrete loaders by Worker;
// this interface is what Worker actually calls.
type ContentLoader interface {
	Load(ctx context.Context, rectURL string) ([]byte, error)
}

const bitCommit = 1 << 0
const bitClear = 1 << 1

// Worker owns the overlay goroutine: it drains its own event queue of
// FramebufferUpdate messages, one at a time, honoring the wait-for-all
// ordering rule in spec §4.5.
type Worker struct {
	loader   ContentLoader
	renderer Renderer
	sender   Sender

	screenW, screenH uint16

	queue chan *codec.FramebufferUpdateMsg
	done  chan struct{}
	wg    sync.WaitGroup
}

// New returns a Worker ready to Start.
func New(loader ContentLoader, renderer Renderer, sender Sender, screenW, screenH uint16) *Worker {
	return &Worker{
		loader:   loader,
		renderer: renderer,
		sender:   sender,
		screenW:  screenW,
		screenH:  screenH,
		queue:    make(chan *codec.FramebufferUpdateMsg, 32),
		done:     make(chan struct{}),
	}
}

// Start launches the overlay goroutine.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.run()
}

// Stop signals the overlay goroutine to exit and waits for it to do so.
// Any FramebufferUpdate already queued but not yet processed is dropped.
func (w *Worker) Stop() {
	close(w.done)
	w.wg.Wait()
}

// Submit enqueues a FramebufferUpdate for processing. It returns at once
// while the 32-entry buffer has room; when the buffer is full it blocks
// until the worker takes an update off or Stop is called. Overlay updates
// arrive far less densely than kernel events, so a buffered channel
// stands in for a condition-variable queue.
func (w *Worker) Submit(m *codec.FramebufferUpdateMsg) {
	select {
	case w.queue <- m:
	case <-w.done:
	}
}

func (w *Worker) run() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case m := <-w.queue:
			w.process(m)
		}
	}
}

// resolved pairs a rectangle with its resolved image bytes (nil for
// picture-object rectangles, which carry their bytes inline already).
type resolved struct {
	rect  codec.Rect
	image []byte
}

func (w *Worker) process(m *codec.FramebufferUpdateMsg) {
	results := make([]resolved, len(m.Rects))
	var wg sync.WaitGroup

	for i, r := range m.Rects {
		results[i].rect = r
		if r.Encoding == codec.RectEncodingPictureObject {
			results[i].image = r.Picture
			continue
		}
		wg.Add(1)
		go func(i int, r codec.Rect) {
			defer wg.Done()
			img, err := w.loader.Load(context.Background(), r.URL)
			if err != nil {
				logger.Logger().Warn("overlay content load failed", "url", r.URL, "error", err)
				results[i].image = nil
				return
			}
			results[i].image = img
		}(i, r)
	}

	// Acknowledge with a new request once loads have started, not after
	// they complete, so the server can pipeline the next frame while this
	// one is still resolving.
	_ = w.sender.SendData(codec.EncodeFramebufferUpdateRequest(codec.FramebufferUpdateRequestMsg{
		Incremental: true, Width: w.screenW, Height: w.screenH,
	}))

	wg.Wait()

	if m.BitmapFlags&bitClear != 0 {
		w.renderer.Clear()
	}
	for _, res := range results {
		w.renderer.Blit(res.rect, res.image)
	}
	if m.BitmapFlags&bitCommit != 0 {
		w.renderer.Flip()
	}
}

// HTTPContentLoader and WebSocketContentLoader are selected by rectURL
// scheme; SchemeLoader dispatches between them.
type SchemeLoader struct {
	HTTP HTTPContentLoader
	WS   WebSocketContentLoader
}

// Load dispatches by URL scheme: http/https go to HTTP, ws/wss go to the
// websocket-backed loader used by push-style picture delivery
// deployments.
func (s SchemeLoader) Load(ctx context.Context, rectURL string) ([]byte, error) {
	u, err := url.Parse(rectURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "ws", "wss":
		return s.WS.Load(ctx, rectURL)
	default:
		return s.HTTP.Load(ctx, rectURL)
	}
}
