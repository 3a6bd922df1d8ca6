package sframe

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReplayWindowReplayWithinWindow(t *testing.T) {
	w := NewWindow(WindowConfig{Size: 1024})

	got := []bool{
		w.Check(10),
		w.Check(11),
		w.Check(12),
		w.Check(10),
		w.Check(11),
	}
	assert.Equal(t, []bool{true, true, true, false, false}, got)
	assert.Equal(t, uint64(2), w.Stats().ReplaysDetected)
}

func TestReplayWindowReorderWithinWindow(t *testing.T) {
	w := NewWindow(WindowConfig{Size: 1024})

	assert.True(t, w.Check(500))
	assert.True(t, w.Check(1))
	assert.True(t, w.Check(499))

	highest, ok := w.HighestSeen()
	assert.True(t, ok)
	assert.Equal(t, uint32(500), highest)
}

func TestReplayWindowTooOld(t *testing.T) {
	w := NewWindow(WindowConfig{Size: 256})

	assert.True(t, w.Check(500))
	assert.False(t, w.Check(200))
	assert.Equal(t, uint64(1), w.Stats().TooOldRejected)
}

func TestReplayWindowWrapAround(t *testing.T) {
	w := NewWindow(WindowConfig{Size: 256, AllowWrapAround: true})

	assert.True(t, w.Check(^uint32(0)-1)) // 2^32 - 2
	assert.True(t, w.Check(^uint32(0)))   // 2^32 - 1
	assert.True(t, w.Check(0))
	assert.True(t, w.Check(1))

	highest, ok := w.HighestSeen()
	assert.True(t, ok)
	assert.Equal(t, uint32(1), highest)
}

func TestReplayWindowWrapRejectedWithoutWrapAround(t *testing.T) {
	w := NewWindow(WindowConfig{Size: 256, AllowWrapAround: false})

	assert.True(t, w.Check(^uint32(0)))
	assert.False(t, w.Check(0))
	assert.Equal(t, uint64(1), w.Stats().TooOldRejected)
}

func TestReplayWindowBoundaryValues(t *testing.T) {
	const winSize = 1024
	w := NewWindow(WindowConfig{Size: winSize})

	assert.True(t, w.Check(0))
	assert.True(t, w.Check(1))
	assert.True(t, w.Check(winSize-1))
	assert.True(t, w.Check(winSize)) // shifts the window forward by one

	// seq 0 is now outside the window (winSize slots behind the new highest).
	assert.False(t, w.Check(0))
}

func TestReplayWindowAcceptedPlusRejectedEqualsTotal(t *testing.T) {
	w := NewWindow(WindowConfig{Size: 64})
	seqs := []uint32{1, 2, 3, 1, 2, 100, 50, 1000, 999, 999}
	for _, s := range seqs {
		w.Check(s)
	}
	assert.Equal(t, uint64(len(seqs)), w.Stats().Total())
}

func TestReplayManagerPerSenderIsolation(t *testing.T) {
	m := NewManager(WindowConfig{Size: 256})

	assert.True(t, m.Check("alice", 10))
	assert.True(t, m.Check("bob", 10)) // independent window, not a replay
	assert.False(t, m.Check("alice", 10))

	assert.Equal(t, 2, m.SenderCount())

	m.RemoveSender("alice")
	assert.Equal(t, 1, m.SenderCount())

	// alice's window was dropped entirely; re-submitting 10 is a fresh accept.
	assert.True(t, m.Check("alice", 10))
}

func TestReplayManagerStatsUnknownSender(t *testing.T) {
	m := NewManager(WindowConfig{Size: 256})
	_, ok := m.Stats("nobody")
	assert.False(t, ok)
}
