// Package cdm implements the DRM/CDM session container described in spec
// §9's design note (generalizing original_source's CdmSessionContainer,
// which uses void* smart-pointer webs with callback-back-references): an
// arena of CDM sessions keyed by id string, with callbacks carrying the id
// rather than a pointer so the kernel resolves on dispatch instead of
// dereferencing a raw pointer from another thread.
package cdm

import (
	"crypto/sha256"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/hkdf"

	"github.com/activevideo/rfbtv-client/internal/logger"
	"github.com/activevideo/rfbtv-client/internal/rfbtv/codec"
)

// Engine is whatever concrete DRM engine a Factory produces; the kernel
// and media pipeline only ever see it as an opaque handle to hand to the
// active decrypt path. Left as an empty interface: the stub factory below
// and a real vendor engine both satisfy it trivially.
type Engine interface{}

// Factory creates and tears down DRM engines for one DRM system id.
// SetupEngine/TerminateEngine are synchronous from Registry's point of
// view; Registry runs them on a goroutine to honor the kernel's "results
// return as events" asynchronous contract.
type Factory interface {
	SetupEngine(initData []byte) (Engine, codec.CdmSessionSetupResult)
	TerminateEngine(engine Engine)
}

// Notifier is the subset of *kernel.Kernel's exported Cdm* methods the
// registry calls back on. Defined locally, not imported, matching the
// collaborator-interfaces-live-with-the-consumer pattern used by
// internal/rfbtv/timerengine.
type Notifier interface {
	NotifyCdmSetupResult(sessionID string, result codec.CdmSessionSetupResult)
	NotifyCdmTerminateResult(sessionID string)
}

// session is one entry in the arena: {id, drm_system_id, factory, engine}
// per spec §3's CdmSession data-model entry.
type session struct {
	id          string
	drmSystemID [16]byte
	factory     Factory
	engine      Engine
}

// Registry is the CdmSessionContainer: it looks up a Factory by 16-byte
// DRM system id and owns the arena of active sessions. It implements
// kernel.CdmFactory.
type Registry struct {
	mu        sync.Mutex
	factories map[[16]byte]Factory
	sessions  map[string]*session

	notifier Notifier
}

// NewRegistry returns an empty Registry reporting results back through n.
func NewRegistry(n Notifier) *Registry {
	return &Registry{
		factories: make(map[[16]byte]Factory),
		sessions:  make(map[string]*session),
		notifier:  n,
	}
}

// Register associates a Factory with a 16-byte DRM system id, matched by
// equal-bytes comparison on CdmSetupRequest.
func (r *Registry) Register(drmSystemID [16]byte, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[drmSystemID] = f
}

// Setup looks up the factory for drmSystemID and dispatches an async
// setup, reporting the result via Notifier.NotifyCdmSetupResult.
// Implements kernel.CdmFactory.
func (r *Registry) Setup(sessionID string, drmSystemID [16]byte, initData []byte) {
	r.mu.Lock()
	f, ok := r.factories[drmSystemID]
	r.mu.Unlock()

	if !ok {
		logger.Logger().Warn("cdm setup: no factory registered", "drm_system_id", fmt.Sprintf("%x", drmSystemID))
		r.notifier.NotifyCdmSetupResult(sessionID, codec.CdmSetupDrmSystemNotInstalled)
		return
	}

	go func() {
		engine, result := f.SetupEngine(initData)
		if result == codec.CdmSetupSuccess {
			r.mu.Lock()
			r.sessions[sessionID] = &session{id: sessionID, drmSystemID: drmSystemID, factory: f, engine: engine}
			r.mu.Unlock()
		}
		r.notifier.NotifyCdmSetupResult(sessionID, result)
	}()
}

// Terminate tears down and removes a session, reporting completion via
// Notifier.NotifyCdmTerminateResult. Implements kernel.CdmFactory.
func (r *Registry) Terminate(sessionID string) {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	r.mu.Unlock()

	if !ok {
		r.notifier.NotifyCdmTerminateResult(sessionID)
		return
	}

	go func() {
		s.factory.TerminateEngine(s.engine)
		r.notifier.NotifyCdmTerminateResult(sessionID)
	}()
}

// ActiveEngine arbitrarily picks the first available engine among active
// sessions, per spec §4.3's "re-registers the active decrypt engine... it
// arbitrarily picks the first available among active CDM sessions".
func (r *Registry) ActiveEngine() (Engine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		return s.engine, true
	}
	return nil, false
}

// StubFactory is a built-in Factory for integration tests, deriving test
// key material from the init data with HKDF-SHA256 rather than talking to
// a real DRM engine (there is no real engine in this repo; license
// acquisition is out of scope per spec §1's Non-goals).
type StubFactory struct {
	Salt []byte
}

// stubEngine is the Engine StubFactory produces.
type stubEngine struct {
	key []byte
}

// SetupEngine derives 16 bytes of key material from initData and always
// succeeds; a real factory would instead perform a license exchange.
func (f *StubFactory) SetupEngine(initData []byte) (Engine, codec.CdmSessionSetupResult) {
	h := hkdf.New(sha256.New, initData, f.Salt, []byte("rfbtv-cdm-stub"))
	key := make([]byte, 16)
	if _, err := io.ReadFull(h, key); err != nil {
		return nil, codec.CdmSetupUnspecifiedError
	}
	return &stubEngine{key: key}, codec.CdmSetupSuccess
}

// TerminateEngine is a no-op for the stub: there is no external resource
// to release.
func (f *StubFactory) TerminateEngine(engine Engine) {}
