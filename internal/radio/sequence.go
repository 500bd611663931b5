package radio

import "sync"

// SequenceTracker follows the 4-bit VITA packet count of one stream. A gap is
// counted once and the tracker resynchronizes on the received value; the
// packet itself is still accepted.
type SequenceTracker struct {
	mu       sync.Mutex
	expected int // -1 until the first packet
	lost     uint64
	received uint64
}

func NewSequenceTracker() *SequenceTracker {
	return &SequenceTracker{expected: -1}
}

// Observe records seq and reports whether a gap preceded it, along with the
// value that was expected.
func (t *SequenceTracker) Observe(seq uint8) (gap bool, expected int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	seq &= 0x0F
	t.received++
	expected = t.expected
	if t.expected >= 0 && int(seq) != t.expected {
		t.lost++
		gap = true
	}
	t.expected = (int(seq) + 1) % 16
	return gap, expected
}

// Lost returns the number of gaps seen.
func (t *SequenceTracker) Lost() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lost
}

// Received returns the number of packets observed.
func (t *SequenceTracker) Received() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.received
}

// Reset forgets the expected value so the next packet is accepted as is.
func (t *SequenceTracker) Reset() {
	t.mu.Lock()
	t.expected = -1
	t.mu.Unlock()
}

// FrameTracker enforces a strictly increasing frame index (panadapter) or
// time code (waterfall). Frames that do not advance are dropped and counted;
// the last accepted value is kept.
type FrameTracker struct {
	mu       sync.Mutex
	seen     bool
	last     uint32
	dropped  uint64
	accepted uint64
}

func NewFrameTracker() *FrameTracker {
	return &FrameTracker{}
}

// Accept reports whether index advances past the last accepted frame.
func (t *FrameTracker) Accept(index uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.seen && index <= t.last {
		t.dropped++
		return false
	}
	t.seen = true
	t.last = index
	t.accepted++
	return true
}

// Last returns the last accepted index.
func (t *FrameTracker) Last() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

// Dropped returns the number of frames rejected.
func (t *FrameTracker) Dropped() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dropped
}

// Accepted returns the number of frames delivered.
func (t *FrameTracker) Accepted() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.accepted
}
