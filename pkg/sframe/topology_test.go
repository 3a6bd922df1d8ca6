package sframe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigValidKinds(t *testing.T) {
	for _, kind := range []Kind{KindP2P, KindMesh, KindStar, KindSFU} {
		cfg, err := NewConfig(kind, 0)
		require.NoError(t, err)
		assert.False(t, cfg.ServerCanAccessKeys)
		assert.Equal(t, kind, cfg.Kind)
	}
}

func TestNewConfigUnknownKind(t *testing.T) {
	_, err := NewConfig(Kind("mythical"), 0)
	assert.ErrorIs(t, err, ErrInvalidTopology)
}

func TestNewConfigForcesServerCanAccessKeysFalse(t *testing.T) {
	cfg, err := NewConfig(KindSFU, 0)
	require.NoError(t, err)
	assert.False(t, cfg.ServerCanAccessKeys)
}

func TestConfigDistribution(t *testing.T) {
	cases := []struct {
		kind Kind
		want Distribution
	}{
		{KindP2P, DistributionDirectBroadcast},
		{KindMesh, DistributionDirectBroadcast},
		{KindStar, DistributionServerRelayed},
		{KindSFU, DistributionServerRelayed},
	}
	for _, c := range cases {
		cfg, err := NewConfig(c.kind, 0)
		require.NoError(t, err)
		assert.Equal(t, c.want, cfg.Distribution())
	}
}

func TestConfigValidateRejectsUnknownKind(t *testing.T) {
	cfg := Config{Kind: Kind("bogus")}
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidTopology)
}

func TestConfigValidateRejectsServerCanAccessKeys(t *testing.T) {
	cfg := Config{Kind: KindSFU, ServerCanAccessKeys: true}
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidTopology)
}

func TestConfigValidateAccepts(t *testing.T) {
	cfg, err := NewConfig(KindMesh, 3)
	require.NoError(t, err)
	assert.NoError(t, cfg.Validate())
}

func TestDistributionTargetsDirectBroadcast(t *testing.T) {
	cfg, err := NewConfig(KindMesh, 0)
	require.NoError(t, err)

	peers := []ParticipantID{"alice", "bob", "carol"}
	targets := cfg.DistributionTargets("alice", peers)
	assert.ElementsMatch(t, []ParticipantID{"bob", "carol"}, targets)
}

func TestDistributionTargetsServerRelayed(t *testing.T) {
	cfg, err := NewConfig(KindSFU, 0)
	require.NoError(t, err)

	peers := []ParticipantID{"alice", "bob", "carol"}
	targets := cfg.DistributionTargets("alice", peers)
	assert.Empty(t, targets)
}
