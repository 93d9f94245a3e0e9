package reports

import (
	"sync"

	"github.com/activevideo/rfbtv-client/internal/rfbtv/codec"
	"github.com/activevideo/rfbtv-client/internal/wire"
)

// StreamStats is the pair of histograms (audio/video) kept per media id.
type StreamStats struct {
	Audio *Histogram
	Video *Histogram
}

// PlaybackReport accumulates the volatile playback metrics the server
// polls for: coarse state, accumulated stalled duration, current PTS, PCR
// delay, estimated bandwidth, plus per-id stall-duration histograms.
// All fields are optional; only fields touched since the last reset are
// serialized.
type PlaybackReport struct {
	mu sync.Mutex

	hasState   bool
	state      string
	hasStalled bool
	stalledMs  int64
	hasPTS     bool
	pts        int64
	hasDelay   bool
	pcrDelayMs int64
	hasBW      bool
	bandwidth  int64

	streams map[string]*StreamStats
}

// NewPlaybackReport returns an empty report.
func NewPlaybackReport() *PlaybackReport {
	return &PlaybackReport{streams: make(map[string]*StreamStats)}
}

// SetState records the current coarse playback state name.
func (r *PlaybackReport) SetState(state string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hasState, r.state = true, state
}

// SetCurrentPTS records the decoder's current presentation timestamp.
func (r *PlaybackReport) SetCurrentPTS(pts int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hasPTS, r.pts = true, pts
}

// SetPcrDelay records the measured PCR delay in milliseconds.
func (r *PlaybackReport) SetPcrDelay(delayMs int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hasDelay, r.pcrDelayMs = true, delayMs
}

// SetBandwidth records the estimated inbound bandwidth in bits per second.
func (r *PlaybackReport) SetBandwidth(bps int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hasBW, r.bandwidth = true, bps
}

// AddStalledDuration merges a fresh stall measurement by taking the
// maximum of the two rather than summing, per §4.3's report-generation
// rule; no running total is kept.
func (r *PlaybackReport) AddStalledDuration(ms int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.hasStalled || ms > r.stalledMs {
		r.stalledMs = ms
	}
	r.hasStalled = true
}

// AddStalledDurationSample increments the correct (audio/video) histogram
// bucket for id at the given millisecond sample value.
func (r *PlaybackReport) AddStalledDurationSample(id string, isAudio bool, sampleMs int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.streams[id]
	if !ok {
		s = &StreamStats{Audio: NewHistogram(), Video: NewHistogram()}
		r.streams[id] = s
	}
	if isAudio {
		s.Audio.Add(sampleMs)
	} else {
		s.Video.Add(sampleMs)
	}
}

// Serialize encodes the report body (without the "playback" subtype tag,
// which ClientReportMsg carries separately) and resets volatile fields.
func (r *PlaybackReport) Serialize() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := wire.New()
	flags := uint8(0)
	if r.hasState {
		flags |= 1 << 0
	}
	if r.hasStalled {
		flags |= 1 << 1
	}
	if r.hasPTS {
		flags |= 1 << 2
	}
	if r.hasDelay {
		flags |= 1 << 3
	}
	if r.hasBW {
		flags |= 1 << 4
	}
	b.WriteUint8(flags)
	if r.hasState {
		b.WriteString(r.state)
	}
	if r.hasStalled {
		b.WriteUint32(uint32(r.stalledMs))
	}
	if r.hasPTS {
		b.WriteUint64(uint64(r.pts))
	}
	if r.hasDelay {
		b.WriteUint32(uint32(r.pcrDelayMs))
	}
	if r.hasBW {
		b.WriteUint64(uint64(r.bandwidth))
	}

	b.WriteUint8(uint8(len(r.streams)))
	for id, s := range r.streams {
		b.WriteString(id)
		writeHistogram(b, s.Audio)
		writeHistogram(b, s.Video)
	}

	r.reset()
	return b.Bytes()
}

func writeHistogram(b *wire.Buffer, h *Histogram) {
	buckets := h.Buckets()
	b.WriteUint8(uint8(len(buckets)))
	for _, count := range buckets {
		b.WriteUint32(uint32(count))
	}
}

func (r *PlaybackReport) reset() {
	r.hasState, r.hasStalled, r.hasPTS, r.hasDelay, r.hasBW = false, false, false, false, false
	r.streams = make(map[string]*StreamStats)
}

func clientReport(kind codec.ClientReportKind, body []byte) codec.ClientReportMsg {
	return codec.ClientReportMsg{Kind: kind, Body: body}
}
