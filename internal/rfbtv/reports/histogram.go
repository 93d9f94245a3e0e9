package reports

// binEdges are the fixed bucket boundaries (in milliseconds) used by
// PlaybackReport's stalled-duration sampling. The last bucket is
// unbounded (catches everything above 5001ms).
var binEdges = []int{1, 20, 40, 79, 157, 313, 626, 1251, 2501, 5001}

// Histogram is a fixed-edge sample counter.
type Histogram struct {
	buckets []uint64
}

// NewHistogram returns a histogram with one more bucket than binEdges (the
// trailing bucket catches samples above the highest edge).
func NewHistogram() *Histogram {
	return &Histogram{buckets: make([]uint64, len(binEdges)+1)}
}

// Add records a sample, incrementing the first bucket whose edge the
// sample does not exceed, or the final (unbounded) bucket.
func (h *Histogram) Add(sampleMs int) {
	for i, edge := range binEdges {
		if sampleMs <= edge {
			h.buckets[i]++
			return
		}
	}
	h.buckets[len(h.buckets)-1]++
}

// Buckets returns a copy of the current bucket counts.
func (h *Histogram) Buckets() []uint64 {
	out := make([]uint64, len(h.buckets))
	copy(out, h.buckets)
	return out
}

// Reset zeroes all bucket counts.
func (h *Histogram) Reset() {
	for i := range h.buckets {
		h.buckets[i] = 0
	}
}
