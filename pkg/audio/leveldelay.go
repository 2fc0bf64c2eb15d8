package audio

// LevelDelay is a fixed-depth ring of amplitude readings whose oldest entry is
// exposed as the current display-facing audio level. The constant depth
// compensates for downstream hardware latency so the visual indicator stays in
// sync with audible output.
//
// Not safe for concurrent use; owned by the playback loop.
type LevelDelay struct {
	ring []float64
	head int
	size int
}

// NewLevelDelay creates a LevelDelay with the given depth. Depth must be at
// least 1; smaller values are raised to 1.
func NewLevelDelay(depth int) *LevelDelay {
	if depth < 1 {
		depth = 1
	}
	return &LevelDelay{ring: make([]float64, depth)}
}

// Push records a new amplitude and returns the delayed level: the oldest
// reading once the ring is full, otherwise 0 (silence while the delay fills).
func (d *LevelDelay) Push(level float64) float64 {
	if d.size < len(d.ring) {
		d.ring[(d.head+d.size)%len(d.ring)] = level
		d.size++
		return 0
	}
	oldest := d.ring[d.head]
	d.ring[d.head] = level
	d.head = (d.head + 1) % len(d.ring)
	return oldest
}

// Reset clears all buffered readings. Use when playback is interrupted so a
// stale level does not linger on the display.
func (d *LevelDelay) Reset() {
	d.head = 0
	d.size = 0
}
