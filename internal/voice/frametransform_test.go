package voice

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concord-chat/concord/internal/observability"
	"github.com/concord-chat/concord/pkg/sframe"
)

func TestFrameTransformerRoundTrip(t *testing.T) {
	alice := sframe.NewKeyManager(sframe.KeyManagerConfig{LocalID: "alice"}, zerolog.Nop())
	require.NoError(t, alice.GenerateLocalKey())

	bob := sframe.NewKeyManager(sframe.KeyManagerConfig{LocalID: "bob"}, zerolog.Nop())
	exported, ok := alice.Export()
	require.True(t, ok)
	require.NoError(t, bob.ImportRemoteKey(exported))

	sender := NewFrameTransformer("alice", alice, sframe.NewManager(sframe.WindowConfig{}), zerolog.Nop())
	receiver := NewFrameTransformer("bob", bob, sframe.NewManager(sframe.WindowConfig{}), zerolog.Nop())

	plaintext := []byte("opus frame payload")
	wire, err := sender.SendTransform(plaintext)
	require.NoError(t, err)

	got, err := receiver.ReceiveTransform("alice", wire, 100)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestFrameTransformerRejectsReplay(t *testing.T) {
	alice := sframe.NewKeyManager(sframe.KeyManagerConfig{LocalID: "alice"}, zerolog.Nop())
	require.NoError(t, alice.GenerateLocalKey())
	bob := sframe.NewKeyManager(sframe.KeyManagerConfig{LocalID: "bob"}, zerolog.Nop())
	exported, _ := alice.Export()
	require.NoError(t, bob.ImportRemoteKey(exported))

	sender := NewFrameTransformer("alice", alice, sframe.NewManager(sframe.WindowConfig{}), zerolog.Nop())
	receiver := NewFrameTransformer("bob", bob, sframe.NewManager(sframe.WindowConfig{}), zerolog.Nop())

	wire, err := sender.SendTransform([]byte("frame"))
	require.NoError(t, err)

	_, err = receiver.ReceiveTransform("alice", wire, 42)
	require.NoError(t, err)

	_, err = receiver.ReceiveTransform("alice", wire, 42)
	assert.Error(t, err)
}

func TestFrameTransformerDropsUnknownGeneration(t *testing.T) {
	alice := sframe.NewKeyManager(sframe.KeyManagerConfig{LocalID: "alice"}, zerolog.Nop())
	require.NoError(t, alice.GenerateLocalKey())
	bob := sframe.NewKeyManager(sframe.KeyManagerConfig{LocalID: "bob"}, zerolog.Nop())
	// No key imported: bob can't resolve alice's generation.

	sender := NewFrameTransformer("alice", alice, sframe.NewManager(sframe.WindowConfig{}), zerolog.Nop())
	receiver := NewFrameTransformer("bob", bob, sframe.NewManager(sframe.WindowConfig{}), zerolog.Nop())

	wire, err := sender.SendTransform([]byte("frame"))
	require.NoError(t, err)

	_, err = receiver.ReceiveTransform("alice", wire, 1)
	assert.Error(t, err)
}

func TestFrameTransformerSendPassesThroughWithoutLocalKey(t *testing.T) {
	alice := sframe.NewKeyManager(sframe.KeyManagerConfig{LocalID: "alice"}, zerolog.Nop())
	sender := NewFrameTransformer("alice", alice, sframe.NewManager(sframe.WindowConfig{}), zerolog.Nop())

	plaintext := []byte("frame")
	out, err := sender.SendTransform(plaintext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, out)
}

func TestFrameTransformerReceivePassesThroughShortFrame(t *testing.T) {
	bob := sframe.NewKeyManager(sframe.KeyManagerConfig{LocalID: "bob"}, zerolog.Nop())
	receiver := NewFrameTransformer("bob", bob, sframe.NewManager(sframe.WindowConfig{}), zerolog.Nop())

	short := []byte{0x01, 0x02, 0x03}
	got, err := receiver.ReceiveTransform("alice", short, 1)
	require.NoError(t, err)
	assert.Equal(t, short, got)
}

func TestExtendedSequencerUnwrapsRollover(t *testing.T) {
	var s extendedSequencer

	first := s.extend(65530)
	assert.Equal(t, uint32(65530), first)

	// Rolls over past 65535 back to a small value: epoch must advance.
	second := s.extend(5)
	assert.Greater(t, second, first)
}

func TestFrameTransformerRemoveSenderResetsState(t *testing.T) {
	alice := sframe.NewKeyManager(sframe.KeyManagerConfig{LocalID: "alice"}, zerolog.Nop())
	require.NoError(t, alice.GenerateLocalKey())
	bob := sframe.NewKeyManager(sframe.KeyManagerConfig{LocalID: "bob"}, zerolog.Nop())
	exported, _ := alice.Export()
	require.NoError(t, bob.ImportRemoteKey(exported))

	replay := sframe.NewManager(sframe.WindowConfig{})
	receiver := NewFrameTransformer("bob", bob, replay, zerolog.Nop())
	sender := NewFrameTransformer("alice", alice, sframe.NewManager(sframe.WindowConfig{}), zerolog.Nop())

	wire, err := sender.SendTransform([]byte("frame"))
	require.NoError(t, err)
	_, err = receiver.ReceiveTransform("alice", wire, 10)
	require.NoError(t, err)

	receiver.RemoveSender("alice")
	assert.Equal(t, 0, replay.SenderCount())
}

func TestFrameTransformerRecordsReplayAndDecryptMetrics(t *testing.T) {
	alice := sframe.NewKeyManager(sframe.KeyManagerConfig{LocalID: "alice"}, zerolog.Nop())
	require.NoError(t, alice.GenerateLocalKey())
	bob := sframe.NewKeyManager(sframe.KeyManagerConfig{LocalID: "bob"}, zerolog.Nop())
	exported, _ := alice.Export()
	require.NoError(t, bob.ImportRemoteKey(exported))

	metrics := observability.NewMetrics()
	sender := NewFrameTransformer("alice", alice, sframe.NewManager(sframe.WindowConfig{}), zerolog.Nop())
	receiver := NewFrameTransformer("bob", bob, sframe.NewManager(sframe.WindowConfig{}), zerolog.Nop()).
		WithMetrics(metrics, "channel-1")

	wire, err := sender.SendTransform([]byte("frame"))
	require.NoError(t, err)

	_, err = receiver.ReceiveTransform("alice", wire, 7)
	require.NoError(t, err)

	// Replaying the same sequence number trips the replay window.
	_, err = receiver.ReceiveTransform("alice", wire, 7)
	require.Error(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.E2EEReplayRejected.WithLabelValues("channel-1", "replay")))

	// A frame long enough to be valid sframe but naming a generation bob
	// never imported trips the decrypt-failure path, not pass-through.
	unknownGenFrame := make([]byte, sframe.MinFrameSize)
	unknownGenFrame[0] = 9
	_, err = receiver.ReceiveTransform("alice", unknownGenFrame, 8)
	require.Error(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.E2EEDecryptFailures.WithLabelValues("channel-1", "unknown_generation")))

	// A truncated frame is treated as unencrypted pass-through, not counted.
	short := []byte{0x01}
	got, err := receiver.ReceiveTransform("alice", short, 9)
	require.NoError(t, err)
	assert.Equal(t, short, got)
}
