package reports

import (
	"sync"

	"github.com/activevideo/rfbtv-client/internal/wire"
)

// LatencyMeasurementMode is a bitmask selecting which latency sources the
// embedder wants sampled (key-to-display, stream-setup, etc).
type LatencyMeasurementMode uint32

const (
	LatencyModeKeyToDisplay LatencyMeasurementMode = 1 << iota
	LatencyModeStreamSetup
	LatencyModeSessionSetup
)

// LatencyReport holds parallel vectors of (subtype, label, data) latency
// samples plus the currently armed measurement-mode bitmask.
type LatencyReport struct {
	mu sync.Mutex

	mode LatencyMeasurementMode

	subtypes []uint8
	labels   []string
	data     []int64
}

// NewLatencyReport returns an empty report with no measurement modes armed.
func NewLatencyReport() *LatencyReport {
	return &LatencyReport{}
}

// SetMode replaces the armed measurement-mode bitmask.
func (r *LatencyReport) SetMode(mode LatencyMeasurementMode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mode = mode
}

// Mode returns the armed measurement-mode bitmask.
func (r *LatencyReport) Mode() LatencyMeasurementMode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode
}

// AddSample appends one (subtype, label, data) sample, only if the
// corresponding mode bit is armed.
func (r *LatencyReport) AddSample(mode LatencyMeasurementMode, subtype uint8, label string, dataMs int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mode&mode == 0 {
		return
	}
	r.subtypes = append(r.subtypes, subtype)
	r.labels = append(r.labels, label)
	r.data = append(r.data, dataMs)
}

// Serialize encodes the accumulated samples and clears them.
func (r *LatencyReport) Serialize() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := wire.New()
	b.WriteUint32(uint32(r.mode))
	b.WriteUint16(uint16(len(r.subtypes)))
	for i := range r.subtypes {
		b.WriteUint8(r.subtypes[i])
		b.WriteString(r.labels[i])
		b.WriteUint64(uint64(r.data[i]))
	}

	r.subtypes, r.labels, r.data = nil, nil, nil
	return b.Bytes()
}
