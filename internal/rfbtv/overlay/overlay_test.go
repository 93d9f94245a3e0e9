package overlay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/activevideo/rfbtv-client/internal/rfbtv/codec"
)

type fakeLoader struct {
	mu      sync.Mutex
	delay   time.Duration
	fail    map[string]bool
	loaded  []string
}

func (f *fakeLoader) Load(ctx context.Context, rectURL string) ([]byte, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	f.loaded = append(f.loaded, rectURL)
	fail := f.fail[rectURL]
	f.mu.Unlock()
	if fail {
		return nil, errors.New("load failed")
	}
	return []byte("img:" + rectURL), nil
}

type fakeRenderer struct {
	mu      sync.Mutex
	cleared bool
	blits   []resolved
	flipped bool
}

func (r *fakeRenderer) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleared = true
}

func (r *fakeRenderer) Blit(rect codec.Rect, image []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blits = append(r.blits, resolved{rect: rect, image: image})
}

func (r *fakeRenderer) Flip() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flipped = true
}

type fakeSender struct {
	mu  sync.Mutex
	acks int
}

func (s *fakeSender) SendData(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acks++
	return nil
}

func (s *fakeSender) ackCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acks
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}

func TestProcessPreservesRectOrderDespiteVaryingLoadLatency(t *testing.T) {
	loader := &fakeLoader{}
	renderer := &fakeRenderer{}
	sender := &fakeSender{}
	w := New(loader, renderer, sender, 1280, 720)

	msg := &codec.FramebufferUpdateMsg{
		BitmapFlags: bitClear | bitCommit,
		Rects: []codec.Rect{
			{X: 0, Y: 0, Encoding: codec.RectEncodingURL, URL: "http://a/1"},
			{X: 1, Y: 1, Encoding: codec.RectEncodingURL, URL: "http://a/2"},
			{X: 2, Y: 2, Encoding: codec.RectEncodingURL, URL: "http://a/3"},
		},
	}
	w.process(msg)

	if len(renderer.blits) != 3 {
		t.Fatalf("expected 3 blits, got %d", len(renderer.blits))
	}
	for i, b := range renderer.blits {
		if b.rect.URL != msg.Rects[i].URL {
			t.Fatalf("blit %d out of order: got %s want %s", i, b.rect.URL, msg.Rects[i].URL)
		}
	}
	if !renderer.cleared || !renderer.flipped {
		t.Fatalf("expected clear and flip to be called, cleared=%v flipped=%v", renderer.cleared, renderer.flipped)
	}
}

func TestFailedLoadYieldsEmptyImageAtSlot(t *testing.T) {
	loader := &fakeLoader{fail: map[string]bool{"http://a/bad": true}}
	renderer := &fakeRenderer{}
	sender := &fakeSender{}
	w := New(loader, renderer, sender, 1280, 720)

	msg := &codec.FramebufferUpdateMsg{
		Rects: []codec.Rect{{Encoding: codec.RectEncodingURL, URL: "http://a/bad"}},
	}
	w.process(msg)

	if len(renderer.blits) != 1 {
		t.Fatalf("expected 1 blit, got %d", len(renderer.blits))
	}
	if renderer.blits[0].image != nil {
		t.Fatalf("expected nil image for failed load, got %q", renderer.blits[0].image)
	}
}

func TestPictureObjectRectanglesSkipTheLoader(t *testing.T) {
	loader := &fakeLoader{}
	renderer := &fakeRenderer{}
	sender := &fakeSender{}
	w := New(loader, renderer, sender, 1280, 720)

	msg := &codec.FramebufferUpdateMsg{
		Rects: []codec.Rect{{Encoding: codec.RectEncodingPictureObject, Picture: []byte{1, 2, 3}}},
	}
	w.process(msg)

	if len(loader.loaded) != 0 {
		t.Fatalf("expected picture-object rect to skip the loader, got %d loads", len(loader.loaded))
	}
	if string(renderer.blits[0].image) != "\x01\x02\x03" {
		t.Fatalf("expected inline picture bytes to be blitted directly")
	}
}

func TestSubmitAcknowledgesBeforeLoadCompletes(t *testing.T) {
	loader := &fakeLoader{delay: 50 * time.Millisecond}
	renderer := &fakeRenderer{}
	sender := &fakeSender{}
	w := New(loader, renderer, sender, 1280, 720)
	w.Start()
	defer w.Stop()

	w.Submit(&codec.FramebufferUpdateMsg{
		Rects: []codec.Rect{{Encoding: codec.RectEncodingURL, URL: "http://a/slow"}},
	})

	waitUntil(t, func() bool { return sender.ackCount() == 1 })
}
