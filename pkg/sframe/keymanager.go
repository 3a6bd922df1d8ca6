package sframe

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultLocalHistoryMax and DefaultRemoteHistoryMax bound the number
// of past generations retained on the send and receive sides,
// respectively (spec §3, §6).
const (
	DefaultLocalHistoryMax  = 5
	DefaultRemoteHistoryMax = 5
	// DefaultRatchetInterval is the number of frames between ratchet hints.
	DefaultRatchetInterval = 100
)

// EventKind identifies a Sender Key Manager lifecycle event (spec §4.3).
type EventKind string

const (
	EventKeyGenerated       EventKind = "key-generated"
	EventKeyRotated         EventKind = "key-rotated"
	EventParticipantAdded   EventKind = "participant-added"
	EventKeyReceived        EventKind = "key-received"
	EventParticipantRemoved EventKind = "participant-removed"
)

// Event carries the details of a single lifecycle event.
type Event struct {
	Kind          EventKind
	ParticipantID ParticipantID
	Generation    *KeyGeneration
	Timestamp     time.Time
}

// EventListener receives Sender Key Manager lifecycle events. Panics
// and errors from a listener are never propagated — listener failures
// are swallowed per spec §4.3 ("listener errors MUST be caught and
// discarded").
type EventListener func(Event)

// KeyManagerConfig configures a KeyManager.
type KeyManagerConfig struct {
	LocalID          ParticipantID
	LocalHistoryMax  int
	RemoteHistoryMax int
	RatchetInterval  int
	EnableRatcheting bool
}

func (c *KeyManagerConfig) setDefaults() {
	if c.LocalHistoryMax <= 0 {
		c.LocalHistoryMax = DefaultLocalHistoryMax
	}
	if c.RemoteHistoryMax <= 0 {
		c.RemoteHistoryMax = DefaultRemoteHistoryMax
	}
	if c.RatchetInterval <= 0 {
		c.RatchetInterval = DefaultRatchetInterval
	}
}

// KeyManager owns the local sender key (plus bounded rotation history)
// and a bounded per-remote-participant key history (spec §4.3). It is
// the only component that holds raw secret bytes.
type KeyManager struct {
	cfg    KeyManagerConfig
	logger zerolog.Logger

	mu sync.RWMutex

	localHistory []SenderKey // most recent last; localHistory[len-1] is current
	remote       map[ParticipantID][]SenderKey

	messagesSinceRotation int

	listenersMu sync.Mutex
	listeners   []EventListener
}

// NewKeyManager constructs a KeyManager with no local key yet; call
// GenerateLocalKey to mint the first one.
func NewKeyManager(cfg KeyManagerConfig, logger zerolog.Logger) *KeyManager {
	cfg.setDefaults()
	return &KeyManager{
		cfg:    cfg,
		logger: logger.With().Str("component", "sframe-keymanager").Logger(),
		remote: make(map[ParticipantID][]SenderKey),
	}
}

// OnEvent registers a listener invoked for every lifecycle event. Install once per manager.
func (m *KeyManager) OnEvent(l EventListener) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.listeners = append(m.listeners, l)
}

func (m *KeyManager) emit(evt Event) {
	m.listenersMu.Lock()
	listeners := append([]EventListener(nil), m.listeners...)
	m.listenersMu.Unlock()

	for _, l := range listeners {
		safeInvoke(l, evt)
	}
}

func safeInvoke(l EventListener, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			// Listener panics are swallowed, per spec §4.3.
		}
	}()
	l(evt)
}

// GenerateLocalKey mints the first local sender key at generation 0.
// Calling it again after a key already exists is equivalent to Rotate.
func (m *KeyManager) GenerateLocalKey() error {
	m.mu.Lock()
	first := len(m.localHistory) == 0
	var gen KeyGeneration
	if !first {
		gen = NextGeneration(m.localHistory[len(m.localHistory)-1].Generation)
	}
	key, err := m.mintKey(m.cfg.LocalID, gen)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.localHistory = append(m.localHistory, key)
	m.trimLocalHistoryLocked()
	m.messagesSinceRotation = 0
	m.mu.Unlock()

	kind := EventKeyRotated
	if first {
		kind = EventKeyGenerated
	}
	m.emit(Event{Kind: kind, ParticipantID: m.cfg.LocalID, Generation: &key.Generation, Timestamp: key.CreatedAt})
	return nil
}

// Rotate is an alias for GenerateLocalKey after the first key: it
// mints a fresh random key at generation (prev+1) mod 256, resetting
// the message counter.
func (m *KeyManager) Rotate() error {
	return m.GenerateLocalKey()
}

// mintKey draws fresh random material and builds a SenderKey. Callers
// must hold m.mu for writing.
func (m *KeyManager) mintKey(owner ParticipantID, gen KeyGeneration) (SenderKey, error) {
	var material [KeyMaterialSize]byte
	if _, err := io.ReadFull(rand.Reader, material[:]); err != nil {
		return SenderKey{}, fmt.Errorf("sframe: generate key material: %w: %w", ErrRngFailure, err)
	}
	secret, err := NewSecret(material[:])
	ZeroBytes(material[:])
	if err != nil {
		return SenderKey{}, err
	}
	return SenderKey{
		Owner:      owner,
		Material:   secret,
		Generation: gen,
		CreatedAt:  time.Now(),
	}, nil
}

// trimLocalHistoryLocked evicts the oldest local generations over the bound.
func (m *KeyManager) trimLocalHistoryLocked() {
	for len(m.localHistory) > m.cfg.LocalHistoryMax {
		m.localHistory[0].Clear()
		m.localHistory = m.localHistory[1:]
	}
}

// RecordMessageSent increments the send-side frame counter used to
// derive ShouldRatchet. Call once per outbound encrypted frame.
func (m *KeyManager) RecordMessageSent() {
	m.mu.Lock()
	m.messagesSinceRotation++
	m.mu.Unlock()
}

// ShouldRatchet reports whether enough frames have elapsed since the
// last local rotation that the caller ought to rotate (spec §4.3). The
// manager only signals; rotating is the caller's decision (see
// internal/e2ee.Coordinator, which auto-rotates on this hint).
func (m *KeyManager) ShouldRatchet() bool {
	if !m.cfg.EnableRatcheting {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.messagesSinceRotation >= m.cfg.RatchetInterval
}

// CurrentGeneration returns the local key's current generation, if any exists.
func (m *KeyManager) CurrentGeneration() (KeyGeneration, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.localHistory) == 0 {
		return 0, false
	}
	return m.localHistory[len(m.localHistory)-1].Generation, true
}

// EncryptionKey returns the current local key for outbound encryption.
func (m *KeyManager) EncryptionKey() (*SenderKey, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.localHistory) == 0 {
		return nil, false
	}
	k := m.localHistory[len(m.localHistory)-1]
	return &k, true
}

// Export serializes the current local key as an opaque blob ready for
// the signaling channel. The returned KeyMaterial is a fresh copy;
// the caller must zero it after transmission.
func (m *KeyManager) Export() (SerializedSenderKey, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.localHistory) == 0 {
		return SerializedSenderKey{}, false
	}
	k := m.localHistory[len(m.localHistory)-1]
	return SerializedSenderKey{
		ParticipantID: k.Owner,
		KeyMaterial:   k.Material.Export(),
		Generation:    k.Generation,
		CreatedAt:     k.CreatedAt,
	}, true
}

// ImportRemoteKey appends a remote participant's key to their bounded
// history, evicting the oldest generation if the bound is exceeded.
// Importing the local participant's own id is rejected.
func (m *KeyManager) ImportRemoteKey(serialized SerializedSenderKey) error {
	if serialized.ParticipantID == m.cfg.LocalID {
		return ErrOwnKeyAsRemote
	}
	secret, err := NewSecret(serialized.KeyMaterial)
	if err != nil {
		return ErrKeyImportFailed
	}

	key := SenderKey{
		Owner:      serialized.ParticipantID,
		Material:   secret,
		Generation: serialized.Generation,
		CreatedAt:  serialized.CreatedAt,
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now()
	}

	m.mu.Lock()
	history, existed := m.remote[serialized.ParticipantID]
	history = append(history, key)
	for len(history) > m.cfg.RemoteHistoryMax {
		history[0].Clear()
		history = history[1:]
	}
	m.remote[serialized.ParticipantID] = history
	m.mu.Unlock()

	gen := key.Generation
	kind := EventKeyReceived
	if !existed {
		kind = EventParticipantAdded
	}
	m.emit(Event{Kind: kind, ParticipantID: serialized.ParticipantID, Generation: &gen, Timestamp: key.CreatedAt})
	return nil
}

// DecryptionKey resolves the key to use to decrypt a frame from
// participantID at the given generation: the local key if
// participantID is the local id and the generation matches current,
// otherwise a search through that participant's remote history.
func (m *KeyManager) DecryptionKey(participantID ParticipantID, generation KeyGeneration) (*SenderKey, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if participantID == m.cfg.LocalID {
		for i := len(m.localHistory) - 1; i >= 0; i-- {
			if m.localHistory[i].Generation == generation {
				k := m.localHistory[i]
				return &k, true
			}
		}
		return nil, false
	}

	history, ok := m.remote[participantID]
	if !ok {
		return nil, false
	}
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Generation == generation {
			k := history[i]
			return &k, true
		}
	}
	return nil, false
}

// RemoteHistoryLen reports how many generations are retained for a remote participant.
func (m *KeyManager) RemoteHistoryLen(participantID ParticipantID) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.remote[participantID])
}

// RemoveParticipant clears all key history for a remote participant.
// It is a no-op for the local id.
func (m *KeyManager) RemoveParticipant(participantID ParticipantID) {
	if participantID == m.cfg.LocalID {
		return
	}
	m.mu.Lock()
	history, ok := m.remote[participantID]
	if ok {
		for i := range history {
			history[i].Clear()
		}
		delete(m.remote, participantID)
	}
	m.mu.Unlock()

	if ok {
		m.emit(Event{Kind: EventParticipantRemoved, ParticipantID: participantID, Timestamp: time.Now()})
	}
}

// Shutdown zeroes every retained key (local and remote) and empties
// state. Call on session teardown.
func (m *KeyManager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.localHistory {
		m.localHistory[i].Clear()
	}
	m.localHistory = nil
	for id, history := range m.remote {
		for i := range history {
			history[i].Clear()
		}
		delete(m.remote, id)
	}
}
