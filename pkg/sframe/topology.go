package sframe

// Kind identifies a key-distribution topology (spec §4.5). The set is
// closed: p2p, mesh, star, sfu.
type Kind string

const (
	KindP2P  Kind = "p2p"
	KindMesh Kind = "mesh"
	KindStar Kind = "star"
	KindSFU  Kind = "sfu"
)

// Distribution describes how a topology kind moves a key from its
// owner to the rest of the session.
type Distribution string

const (
	// DistributionDirectBroadcast means the owner sends the key directly to every peer.
	DistributionDirectBroadcast Distribution = "direct-broadcast"
	// DistributionServerRelayed means the key is sent once and a server fans it out,
	// without the server ever being able to read the key material.
	DistributionServerRelayed Distribution = "server-relayed"
)

// kindDistribution is the fixed mapping from §4.5's table.
var kindDistribution = map[Kind]Distribution{
	KindP2P:  DistributionDirectBroadcast,
	KindMesh: DistributionDirectBroadcast,
	KindStar: DistributionServerRelayed,
	KindSFU:  DistributionServerRelayed,
}

// Config describes a session's fixed topology configuration. It is
// immutable for the life of a session (spec §3). ServerCanAccessKeys
// is always false; Validate rejects any attempt to set it otherwise.
type Config struct {
	Kind                 Kind
	ServerCanAccessKeys  bool
	MaxHops              int
}

// NewConfig builds a topology configuration for kind, with
// ServerCanAccessKeys fixed to false regardless of caller input — the
// spec treats that field as a constant, not a setting (§3).
func NewConfig(kind Kind, maxHops int) (Config, error) {
	if _, ok := kindDistribution[kind]; !ok {
		return Config{}, ErrInvalidTopology
	}
	return Config{Kind: kind, ServerCanAccessKeys: false, MaxHops: maxHops}, nil
}

// Distribution returns the fixed key-distribution mode for cfg.Kind.
func (c Config) Distribution() Distribution {
	return kindDistribution[c.Kind]
}

// Validate reports ErrInvalidTopology if the kind is unrecognized or
// ServerCanAccessKeys has been forced true by a misconfigured caller.
func (c Config) Validate() error {
	if _, ok := kindDistribution[c.Kind]; !ok {
		return ErrInvalidTopology
	}
	if c.ServerCanAccessKeys {
		return ErrInvalidTopology
	}
	return nil
}

// DistributionTargets returns the peer ids that fromID must send its
// key to directly. For a direct-broadcast topology that is every other
// known peer; for a server-relayed topology it is empty (the server,
// an untrusted relay, fans the ciphertext-wrapped key out itself — see
// spec §4.5, "the server sees ciphertext of signaling only").
func (c Config) DistributionTargets(fromID ParticipantID, knownPeers []ParticipantID) []ParticipantID {
	if c.Distribution() == DistributionServerRelayed {
		return nil
	}
	targets := make([]ParticipantID, 0, len(knownPeers))
	for _, p := range knownPeers {
		if p != fromID {
			targets = append(targets, p)
		}
	}
	return targets
}
