// Package keyfilter implements the thread-safe X11 key-code disposition
// map the session kernel consults before forwarding a key event to the
// server (spec §3/§4.3: KeyFilter).
package keyfilter

import "sync"

// Disposition bits: whether a key should be handled locally by the
// embedder, forwarded to the server, or both. The default for any key
// absent from the map is remote-only.
const (
	Local  uint8 = 1 << 0
	Remote uint8 = 1 << 1

	defaultDisposition = Remote
)

// Filter is a thread-safe X11KeyCode -> disposition map. It implements
// kernel.KeyFilter.
type Filter struct {
	mu  sync.RWMutex
	dis map[uint32]uint8
}

// New returns an empty Filter; absent keys default to remote-only.
func New() *Filter {
	return &Filter{dis: make(map[uint32]uint8)}
}

// Clear removes all entries, restoring the default-remote-only behavior
// for every key. Called on session start per §3's KeyFilter lifecycle.
func (f *Filter) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dis = make(map[uint32]uint8)
}

// Set records the disposition for an X11 key code, replacing any prior
// entry for that code.
func (f *Filter) Set(x11Code uint32, local, remote bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var bits uint8
	if local {
		bits |= Local
	}
	if remote {
		bits |= Remote
	}
	f.dis[x11Code] = bits
}

// Disposition returns whether x11Code should be handled locally and/or
// forwarded to the server. A key with no explicit entry is remote-only.
func (f *Filter) Disposition(x11Code uint32) (local, remote bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	bits, ok := f.dis[x11Code]
	if !ok {
		bits = defaultDisposition
	}
	return bits&Local != 0, bits&Remote != 0
}
