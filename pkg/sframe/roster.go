package sframe

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultMaxParticipants is the roster size cap (spec §3, §6).
const DefaultMaxParticipants = 200

// KeyStatus is the user-visible state of a roster participant's key exchange.
type KeyStatus string

const (
	KeyStatusPending KeyStatus = "pending"
	KeyStatusActive  KeyStatus = "active"
	KeyStatusFailed  KeyStatus = "failed"
)

// Role distinguishes roster participants, mirroring the role concept
// carried by the signaling "joined"/"participant-joined" payloads.
type Role string

const (
	RoleMember Role = "member"
	RoleOwner  Role = "owner"
)

// Participant is a remote participant tracked by the Roster. It never
// holds key material — only the key-state flag and generation the
// Sender Key Manager most recently reported.
type Participant struct {
	ID                ParticipantID
	DisplayName       string
	Role              Role
	HasKey            bool
	CurrentGeneration *KeyGeneration
	KeyStatus         KeyStatus
	JoinedAt          time.Time
}

// RosterEventKind identifies a Roster lifecycle event.
type RosterEventKind string

const (
	RosterEventAdded      RosterEventKind = "participant-added"
	RosterEventRemoved    RosterEventKind = "participant-removed"
	RosterEventKeyUpdated RosterEventKind = "participant-key-updated"
)

// RosterEvent carries the details of a roster lifecycle event.
type RosterEvent struct {
	Kind      RosterEventKind
	Participant Participant
	Timestamp time.Time
}

// RosterEventListener receives Roster lifecycle events.
type RosterEventListener func(RosterEvent)

// Roster tracks the set of remote participants in a session: display
// metadata, key-state flag, and join/leave lifecycle (spec §4.4). The
// local participant is never present in the roster.
type Roster struct {
	localID ParticipantID
	maxSize int
	logger  zerolog.Logger

	mu           sync.RWMutex
	participants map[ParticipantID]*Participant

	listenersMu sync.Mutex
	listeners   []RosterEventListener
}

// NewRoster constructs an empty roster. maxSize<=0 means DefaultMaxParticipants.
func NewRoster(localID ParticipantID, maxSize int, logger zerolog.Logger) *Roster {
	if maxSize <= 0 {
		maxSize = DefaultMaxParticipants
	}
	return &Roster{
		localID:      localID,
		maxSize:      maxSize,
		logger:       logger.With().Str("component", "sframe-roster").Logger(),
		participants: make(map[ParticipantID]*Participant),
	}
}

// OnEvent registers a listener invoked for every roster lifecycle event.
func (r *Roster) OnEvent(l RosterEventListener) {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	r.listeners = append(r.listeners, l)
}

func (r *Roster) emit(evt RosterEvent) {
	r.listenersMu.Lock()
	listeners := append([]RosterEventListener(nil), r.listeners...)
	r.listenersMu.Unlock()
	for _, l := range listeners {
		func() {
			defer func() { recover() }()
			l(evt)
		}()
	}
}

// Add registers a new participant. It is a no-op error if id is the
// local participant's own id, and fails with ErrRosterFull once the
// cap is reached.
func (r *Roster) Add(id ParticipantID, displayName string, role Role) (*Participant, error) {
	if id == r.localID {
		return nil, ErrCannotAddSelf
	}

	r.mu.Lock()
	if _, exists := r.participants[id]; exists {
		p := r.participants[id]
		r.mu.Unlock()
		return p, nil
	}
	if len(r.participants) >= r.maxSize {
		r.mu.Unlock()
		return nil, ErrRosterFull
	}
	p := &Participant{
		ID:          id,
		DisplayName: displayName,
		Role:        role,
		KeyStatus:   KeyStatusPending,
		JoinedAt:    time.Now(),
	}
	r.participants[id] = p
	r.mu.Unlock()

	r.emit(RosterEvent{Kind: RosterEventAdded, Participant: *p, Timestamp: p.JoinedAt})
	return p, nil
}

// Remove drops a participant from the roster.
func (r *Roster) Remove(id ParticipantID) {
	r.mu.Lock()
	p, ok := r.participants[id]
	if ok {
		delete(r.participants, id)
	}
	r.mu.Unlock()

	if ok {
		r.emit(RosterEvent{Kind: RosterEventRemoved, Participant: *p, Timestamp: time.Now()})
	}
}

// UpdateKeyState records that a participant now has a key at the
// given generation, updating their status to active.
func (r *Roster) UpdateKeyState(id ParticipantID, generation KeyGeneration) error {
	r.mu.Lock()
	p, ok := r.participants[id]
	if !ok {
		r.mu.Unlock()
		return ErrParticipantNotFound
	}
	p.HasKey = true
	gen := generation
	p.CurrentGeneration = &gen
	p.KeyStatus = KeyStatusActive
	snapshot := *p
	r.mu.Unlock()

	r.emit(RosterEvent{Kind: RosterEventKeyUpdated, Participant: snapshot, Timestamp: time.Now()})
	return nil
}

// MarkKeyFailed records a failed key exchange for user-visible status (spec §7).
func (r *Roster) MarkKeyFailed(id ParticipantID) error {
	r.mu.Lock()
	p, ok := r.participants[id]
	if !ok {
		r.mu.Unlock()
		return ErrParticipantNotFound
	}
	p.KeyStatus = KeyStatusFailed
	snapshot := *p
	r.mu.Unlock()

	r.emit(RosterEvent{Kind: RosterEventKeyUpdated, Participant: snapshot, Timestamp: time.Now()})
	return nil
}

// Get returns a copy of a participant's current state.
func (r *Roster) Get(id ParticipantID) (Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.participants[id]
	if !ok {
		return Participant{}, false
	}
	return *p, true
}

// Count returns the number of tracked participants.
func (r *Roster) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}

// List returns a snapshot of all tracked participants.
func (r *Roster) List() []Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, *p)
	}
	return out
}
