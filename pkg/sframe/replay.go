package sframe

import "sync"

// DefaultWindowSize is the default replay bitmap width in bits.
const DefaultWindowSize = 1024

// WindowStats tallies the outcomes of Check calls for one sender.
type WindowStats struct {
	FramesAccepted  uint64
	ReplaysDetected uint64
	TooOldRejected  uint64
}

// Total returns the sum of all outcome counters, which must equal the
// number of Check calls made against the window (spec §8 invariant 5).
func (s WindowStats) Total() uint64 {
	return s.FramesAccepted + s.ReplaysDetected + s.TooOldRejected
}

// Window is a per-sender sliding-window replay protector over 32-bit
// sequence numbers (spec §4.2). It is not safe for concurrent use by
// multiple goroutines without external synchronization; Manager
// provides that synchronization per sender.
type Window struct {
	size            uint32
	allowWrapAround bool

	hasSeen    bool
	highestSeen uint32
	bitmap      []uint64 // size/64 words; bit 0 of bitmap[0] is highestSeen itself

	stats WindowStats
}

// WindowConfig configures a new Window.
type WindowConfig struct {
	// Size is the bitmap width in bits; must be a power of two. Zero means DefaultWindowSize.
	Size uint32
	// AllowWrapAround enables 32-bit sequence-number wrap tolerance.
	AllowWrapAround bool
}

// NewWindow creates a fresh replay window with no frames seen yet.
func NewWindow(cfg WindowConfig) *Window {
	size := cfg.Size
	if size == 0 {
		size = DefaultWindowSize
	}
	return &Window{
		size:            size,
		allowWrapAround: cfg.AllowWrapAround,
		bitmap:          make([]uint64, (size+63)/64),
	}
}

// Check evaluates sequence number seq against the window, updating its
// state, and reports whether the frame is accepted.
func (w *Window) Check(seq uint32) bool {
	if !w.hasSeen {
		w.accept(seq, 0)
		return true
	}

	ahead, distance := w.isAhead(seq)
	if ahead {
		w.accept(seq, distance)
		return true
	}

	behind := w.distanceBehind(seq)
	if behind >= w.size {
		w.stats.TooOldRejected++
		return false
	}

	if w.testAndSetBit(behind) {
		w.stats.ReplaysDetected++
		return false
	}
	w.stats.FramesAccepted++
	return true
}

// Stats returns a snapshot of this window's counters.
func (w *Window) Stats() WindowStats {
	return w.stats
}

// HighestSeen returns the highest sequence number accepted so far and
// whether any frame has been accepted yet.
func (w *Window) HighestSeen() (uint32, bool) {
	return w.highestSeen, w.hasSeen
}

// isAhead reports whether seq is strictly ahead of the current
// highestSeen, and if so, the forward distance (seq - highestSeen).
// Without wrap tolerance, ahead is decided by plain unsigned ordering
// with a sanity bound so a genuine wrap is rejected as too-old instead
// of silently accepted as "ahead".
func (w *Window) isAhead(seq uint32) (bool, uint32) {
	if w.allowWrapAround {
		d := seq - w.highestSeen // wrapping subtraction
		if d != 0 && d < 1<<31 {
			return true, d
		}
		return false, 0
	}

	if seq > w.highestSeen {
		return true, seq - w.highestSeen
	}
	return false, 0
}

// distanceBehind returns how far behind highestSeen seq falls,
// honoring the wrap comparator when enabled.
func (w *Window) distanceBehind(seq uint32) uint32 {
	if w.allowWrapAround {
		return w.highestSeen - seq // wrapping subtraction
	}
	if seq > w.highestSeen {
		return w.size // can't happen given isAhead's gate, but stay safe
	}
	return w.highestSeen - seq
}

// accept shifts the bitmap forward by distance slots (0 on the very
// first frame) and marks the new highestSeen as seen.
func (w *Window) accept(seq uint32, distance uint32) {
	if w.hasSeen {
		w.shiftLeft(distance)
	}
	w.hasSeen = true
	w.highestSeen = seq
	w.setBit(0)
	w.stats.FramesAccepted++
}

// shiftLeft advances the window by n slots, dropping bits that fall
// off the tail (sequence numbers now below the window).
func (w *Window) shiftLeft(n uint32) {
	if n >= w.size {
		for i := range w.bitmap {
			w.bitmap[i] = 0
		}
		return
	}
	for ; n > 0; n-- {
		// Shift every word left by one bit, carrying the vacated top
		// bit of each word into bit 0 of the next-higher word.
		var prevCarry uint64
		for i := 0; i < len(w.bitmap); i++ {
			cur := w.bitmap[i]
			w.bitmap[i] = (cur << 1) | prevCarry
			prevCarry = cur >> 63
		}
	}
}

// bitIndex returns word and bit offset for bit position pos (pos 0 = highestSeen).
func bitIndex(pos uint32) (int, uint) {
	return int(pos / 64), uint(pos % 64)
}

func (w *Window) setBit(pos uint32) {
	word, bit := bitIndex(pos)
	w.bitmap[word] |= 1 << bit
}

// testAndSetBit reports whether the bit at pos was already set, and
// sets it regardless (so a replay is still recorded as "seen").
func (w *Window) testAndSetBit(pos uint32) bool {
	word, bit := bitIndex(pos)
	mask := uint64(1) << bit
	was := w.bitmap[word]&mask != 0
	w.bitmap[word] |= mask
	return was
}

// Manager owns one Window per remote sender, creating it lazily on the
// sender's first frame and dropping it on RemoveSender.
type Manager struct {
	mu      sync.Mutex
	cfg     WindowConfig
	windows map[ParticipantID]*Window
}

// NewManager creates a multi-sender replay manager. Every Window it
// creates uses cfg.
func NewManager(cfg WindowConfig) *Manager {
	return &Manager{
		cfg:     cfg,
		windows: make(map[ParticipantID]*Window),
	}
}

// Check runs seq through the named sender's window, creating the
// window on first use. The manager's lock is held for the duration of
// the window check, not just the map lookup: Window keeps no lock of
// its own, so two concurrent decrypts for the same sender would
// otherwise race on highestSeen/bitmap/stats.
func (m *Manager) Check(sender ParticipantID, seq uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.windows[sender]
	if !ok {
		w = NewWindow(m.cfg)
		m.windows[sender] = w
	}
	return w.Check(seq)
}

// RemoveSender drops all replay state for a sender (e.g. on participant removal).
func (m *Manager) RemoveSender(sender ParticipantID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.windows, sender)
}

// SenderCount returns the number of senders currently tracked.
func (m *Manager) SenderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}

// Stats returns a snapshot of one sender's counters, if known.
func (m *Manager) Stats(sender ParticipantID) (WindowStats, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.windows[sender]
	if !ok {
		return WindowStats{}, false
	}
	return w.Stats(), true
}
