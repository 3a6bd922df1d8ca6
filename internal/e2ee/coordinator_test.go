package e2ee

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concord-chat/concord/internal/network/signaling"
	"github.com/concord-chat/concord/internal/observability"
	"github.com/concord-chat/concord/pkg/sframe"
)

var (
	testMetrics     *observability.Metrics
	testMetricsOnce sync.Once
)

// sharedMetrics returns one Metrics instance for the whole test binary:
// NewMetrics registers on the global Prometheus registry, so a second
// call would panic on duplicate registration.
func sharedMetrics() *observability.Metrics {
	testMetricsOnce.Do(func() { testMetrics = observability.NewMetrics() })
	return testMetrics
}

func newTestCoordinator(t *testing.T, localID sframe.ParticipantID, kind sframe.Kind) (*Coordinator, *signaling.Client) {
	t.Helper()
	topo, err := sframe.NewConfig(kind, 0)
	require.NoError(t, err)

	client := signaling.NewClient("ws://example.invalid/ws/signaling", zerolog.Nop())

	coord, err := New(Config{
		LocalID:          localID,
		ServerID:         "srv1",
		ChannelID:        "chan1",
		Topology:         topo,
		RotationDebounce: 10 * time.Millisecond,
	}, client, zerolog.Nop())
	require.NoError(t, err)
	return coord, client
}

func dispatch(t *testing.T, client *signaling.Client, sigType signaling.SignalType, from string, payload interface{}) {
	t.Helper()
	sig, err := signaling.NewSignal(sigType, from, payload)
	require.NoError(t, err)
	client.Dispatch(sig)
}

func TestCoordinatorPeerJoinedAddsToRoster(t *testing.T) {
	coord, client := newTestCoordinator(t, "alice", sframe.KindMesh)

	dispatch(t, client, signaling.SignalPeerJoined, "bob", signaling.JoinPayload{
		UserID: "bob", PeerID: "peer-bob", Username: "Bob",
	})

	p, ok := coord.Roster().Get("bob")
	require.True(t, ok)
	assert.Equal(t, "Bob", p.DisplayName)
	assert.Equal(t, sframe.KeyStatusPending, p.KeyStatus)
}

func TestCoordinatorPeerLeftClearsAllState(t *testing.T) {
	coord, client := newTestCoordinator(t, "alice", sframe.KindMesh)

	dispatch(t, client, signaling.SignalPeerJoined, "bob", signaling.JoinPayload{UserID: "bob", Username: "Bob"})
	_, ok := coord.Roster().Get("bob")
	require.True(t, ok)

	// Joining must not itself queue a rotation: the newcomer gets the
	// existing local key resent, not a freshly minted one.
	select {
	case <-coord.rotate:
		t.Fatal("peer-joined must not request a rotation")
	default:
	}

	require.NoError(t, coord.keys.ImportRemoteKey(sframe.SerializedSenderKey{
		ParticipantID: "bob",
		KeyMaterial:   make([]byte, sframe.KeyMaterialSize),
	}))
	coord.replay.Check("bob", 1)

	dispatch(t, client, signaling.SignalPeerLeft, "bob", nil)

	_, ok = coord.Roster().Get("bob")
	assert.False(t, ok)
	_, ok = coord.keys.DecryptionKey("bob", 0)
	assert.False(t, ok)
	assert.Equal(t, 0, coord.replay.SenderCount())

	// Leaving must debounce-request a rotation for forward secrecy.
	select {
	case <-coord.rotate:
	default:
		t.Fatal("peer-left must request a rotation")
	}
}

func TestCoordinatorImportsRemoteKeyAndUpdatesRoster(t *testing.T) {
	coord, client := newTestCoordinator(t, "alice", sframe.KindMesh)
	dispatch(t, client, signaling.SignalPeerJoined, "bob", signaling.JoinPayload{UserID: "bob", Username: "Bob"})

	dispatch(t, client, signaling.SignalE2EEKey, "bob", signaling.E2EEKeyPayload{
		ParticipantID: "bob",
		Generation:    3,
		KeyMaterial:   make([]byte, sframe.KeyMaterialSize),
	})

	key, ok := coord.keys.DecryptionKey("bob", 3)
	require.True(t, ok)
	assert.Equal(t, sframe.ParticipantID("bob"), key.Owner)

	p, ok := coord.Roster().Get("bob")
	require.True(t, ok)
	assert.True(t, p.HasKey)
	assert.Equal(t, sframe.KeyStatusActive, p.KeyStatus)
}

func TestCoordinatorIgnoresOwnKeyOnE2EEKeySignal(t *testing.T) {
	coord, client := newTestCoordinator(t, "alice", sframe.KindMesh)

	dispatch(t, client, signaling.SignalE2EEKey, "alice", signaling.E2EEKeyPayload{
		ParticipantID: "alice",
		KeyMaterial:   make([]byte, sframe.KeyMaterialSize),
	})

	_, ok := coord.keys.DecryptionKey("alice", 0)
	assert.False(t, ok)
}

func TestCoordinatorBadKeyMaterialMarksFailed(t *testing.T) {
	coord, client := newTestCoordinator(t, "alice", sframe.KindMesh)
	dispatch(t, client, signaling.SignalPeerJoined, "bob", signaling.JoinPayload{UserID: "bob"})

	dispatch(t, client, signaling.SignalE2EEKey, "bob", signaling.E2EEKeyPayload{
		ParticipantID: "bob",
		KeyMaterial:   []byte{1, 2, 3},
	})

	p, ok := coord.Roster().Get("bob")
	require.True(t, ok)
	assert.Equal(t, sframe.KeyStatusFailed, p.KeyStatus)
}

func TestCoordinatorStartMintsLocalKey(t *testing.T) {
	coord, _ := newTestCoordinator(t, "alice", sframe.KindMesh)
	defer coord.Stop()

	require.NoError(t, coord.Start(context.Background()))

	gen, ok := coord.keys.CurrentGeneration()
	require.True(t, ok)
	assert.Equal(t, sframe.KeyGeneration(0), gen)
}

func TestCoordinatorDoubleStartRejected(t *testing.T) {
	coord, _ := newTestCoordinator(t, "alice", sframe.KindMesh)
	defer coord.Stop()

	require.NoError(t, coord.Start(context.Background()))
	assert.Error(t, coord.Start(context.Background()))
}

func TestCoordinatorRequestRotationDoesNotBlockWhenFull(t *testing.T) {
	coord, _ := newTestCoordinator(t, "alice", sframe.KindMesh)
	coord.RequestRotation()
	coord.RequestRotation() // must not deadlock: second call sees the channel full and drops
}

func TestCoordinatorRecordsRosterSizeMetric(t *testing.T) {
	topo, err := sframe.NewConfig(sframe.KindMesh, 0)
	require.NoError(t, err)
	client := signaling.NewClient("ws://example.invalid/ws/signaling", zerolog.Nop())
	metrics := sharedMetrics()

	coord, err := New(Config{
		LocalID:          "alice",
		ServerID:         "srv1",
		ChannelID:        "chan-metrics",
		Topology:         topo,
		RotationDebounce: 10 * time.Millisecond,
		Metrics:          metrics,
	}, client, zerolog.Nop())
	require.NoError(t, err)
	require.NotNil(t, coord)

	dispatch(t, client, signaling.SignalPeerJoined, "bob", signaling.JoinPayload{UserID: "bob", Username: "Bob"})
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.E2EERosterSize.WithLabelValues("chan-metrics")))

	dispatch(t, client, signaling.SignalPeerLeft, "bob", nil)
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.E2EERosterSize.WithLabelValues("chan-metrics")))
}

func TestCoordinatorRecordsRotationMetric(t *testing.T) {
	topo, err := sframe.NewConfig(sframe.KindMesh, 0)
	require.NoError(t, err)
	client := signaling.NewClient("ws://example.invalid/ws/signaling", zerolog.Nop())
	metrics := sharedMetrics()

	coord, err := New(Config{
		LocalID:          "alice",
		ServerID:         "srv1",
		ChannelID:        "chan-rotate",
		Topology:         topo,
		RotationDebounce: 10 * time.Millisecond,
		Metrics:          metrics,
	}, client, zerolog.Nop())
	require.NoError(t, err)
	defer coord.Stop()

	require.NoError(t, coord.Start(context.Background()))
	coord.RequestRotation()

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.E2EEKeyRotations.WithLabelValues("chan-rotate", "requested")) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestNewRejectsInvalidTopology(t *testing.T) {
	client := signaling.NewClient("ws://example.invalid", zerolog.Nop())
	_, err := New(Config{
		LocalID:  "alice",
		Topology: sframe.Config{Kind: "bogus"},
	}, client, zerolog.Nop())
	assert.ErrorIs(t, err, sframe.ErrInvalidTopology)
}
