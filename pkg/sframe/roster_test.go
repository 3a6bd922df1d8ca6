package sframe

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRosterAddAndGet(t *testing.T) {
	r := NewRoster("alice", 0, zerolog.Nop())

	var events []RosterEvent
	r.OnEvent(func(e RosterEvent) { events = append(events, e) })

	p, err := r.Add("bob", "Bob", RoleMember)
	require.NoError(t, err)
	assert.Equal(t, ParticipantID("bob"), p.ID)
	assert.Equal(t, KeyStatusPending, p.KeyStatus)

	got, ok := r.Get("bob")
	require.True(t, ok)
	assert.Equal(t, "Bob", got.DisplayName)

	require.Len(t, events, 1)
	assert.Equal(t, RosterEventAdded, events[0].Kind)
}

func TestRosterCannotAddSelf(t *testing.T) {
	r := NewRoster("alice", 0, zerolog.Nop())
	_, err := r.Add("alice", "Alice", RoleOwner)
	assert.ErrorIs(t, err, ErrCannotAddSelf)
}

func TestRosterCapEnforced(t *testing.T) {
	r := NewRoster("alice", 2, zerolog.Nop())
	_, err := r.Add("bob", "Bob", RoleMember)
	require.NoError(t, err)
	_, err = r.Add("carol", "Carol", RoleMember)
	require.NoError(t, err)

	_, err = r.Add("dave", "Dave", RoleMember)
	assert.ErrorIs(t, err, ErrRosterFull)
	assert.Equal(t, 2, r.Count())
}

func TestRosterUpdateKeyState(t *testing.T) {
	r := NewRoster("alice", 0, zerolog.Nop())
	_, err := r.Add("bob", "Bob", RoleMember)
	require.NoError(t, err)

	require.NoError(t, r.UpdateKeyState("bob", 4))

	got, ok := r.Get("bob")
	require.True(t, ok)
	assert.True(t, got.HasKey)
	require.NotNil(t, got.CurrentGeneration)
	assert.Equal(t, KeyGeneration(4), *got.CurrentGeneration)
	assert.Equal(t, KeyStatusActive, got.KeyStatus)
}

func TestRosterUpdateKeyStateUnknownParticipant(t *testing.T) {
	r := NewRoster("alice", 0, zerolog.Nop())
	err := r.UpdateKeyState("ghost", 1)
	assert.ErrorIs(t, err, ErrParticipantNotFound)
}

func TestRosterRemove(t *testing.T) {
	r := NewRoster("alice", 0, zerolog.Nop())
	_, err := r.Add("bob", "Bob", RoleMember)
	require.NoError(t, err)

	r.Remove("bob")
	_, ok := r.Get("bob")
	assert.False(t, ok)
	assert.Equal(t, 0, r.Count())
}

func TestRosterList(t *testing.T) {
	r := NewRoster("alice", 0, zerolog.Nop())
	_, err := r.Add("bob", "Bob", RoleMember)
	require.NoError(t, err)
	_, err = r.Add("carol", "Carol", RoleMember)
	require.NoError(t, err)

	all := r.List()
	assert.Len(t, all, 2)
}

func TestRosterAddIsIdempotent(t *testing.T) {
	r := NewRoster("alice", 0, zerolog.Nop())
	first, err := r.Add("bob", "Bob", RoleMember)
	require.NoError(t, err)
	second, err := r.Add("bob", "Bob Again", RoleMember)
	require.NoError(t, err)
	assert.Equal(t, first.DisplayName, second.DisplayName)
	assert.Equal(t, 1, r.Count())
}
