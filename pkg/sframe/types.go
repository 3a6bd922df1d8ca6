package sframe

import "time"

// ParticipantID identifies a participant within a session. It is an
// opaque, printable string of at most 128 bytes, unique within the
// session; the local participant's id is fixed for the session's
// lifetime.
type ParticipantID string

// MaxParticipantIDLen is the upper bound on a ParticipantID's length in bytes.
const MaxParticipantIDLen = 128

// KeyGeneration is an 8-bit counter identifying a specific incarnation
// of a sender key. It is monotonic modulo 256 per owner: NextGeneration
// wraps from 255 back to 0.
type KeyGeneration uint8

// NextGeneration returns the generation that follows g, wrapping at 256.
func NextGeneration(g KeyGeneration) KeyGeneration {
	return KeyGeneration((uint16(g) + 1) % 256)
}

// SenderKey is one incarnation of a participant's symmetric sender key.
// The Frame Codec borrows Material for the duration of a single
// encrypt/decrypt call; no other component may retain raw secret
// bytes beyond the Sender Key Manager.
type SenderKey struct {
	Owner      ParticipantID
	Material   Secret
	Generation KeyGeneration
	CreatedAt  time.Time
}

// Clear zeroes the key's material. Call before dropping a SenderKey
// from history or on participant removal / session shutdown.
func (k *SenderKey) Clear() {
	k.Material.Zero()
}

// SerializedSenderKey is the exported, wire-ready form of a local key,
// emitted through the Export interface as an opaque 32-byte blob with
// its generation. It is never produced for remote keys — only a
// participant's own manager exports its local key.
type SerializedSenderKey struct {
	ParticipantID ParticipantID
	KeyMaterial   []byte // 32 bytes; caller must zero after transmission
	Generation    KeyGeneration
	CreatedAt     time.Time
}
