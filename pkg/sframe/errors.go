// Package sframe implements the end-to-end media frame encryption core:
// per-frame AEAD, sliding-window replay protection, sender key
// lifecycle management, participant roster, and key-distribution
// topology policy. It has no knowledge of signaling transport, media
// capture, or ICE — those are wired in by internal/e2ee and
// internal/voice.
package sframe

import "errors"

var (
	// ErrAuthFailure means AEAD tag verification failed on decrypt.
	ErrAuthFailure = errors.New("sframe: authentication failure")
	// ErrUnknownGeneration means no key exists for the (sender, generation) pair.
	ErrUnknownGeneration = errors.New("sframe: unknown key generation")
	// ErrFrameTooShort means the wire frame is shorter than the minimum header+tag size.
	ErrFrameTooShort = errors.New("sframe: frame too short")
	// ErrRngFailure means the secure RNG failed to produce random bytes.
	ErrRngFailure = errors.New("sframe: rng failure")

	// ErrOwnKeyAsRemote is returned when importing the local participant's own id as a remote key.
	ErrOwnKeyAsRemote = errors.New("sframe: cannot import own id as a remote key")
	// ErrKeyImportFailed means the imported key material was malformed.
	ErrKeyImportFailed = errors.New("sframe: key import failed")

	// ErrRosterFull is returned when adding a participant would exceed max_participants.
	ErrRosterFull = errors.New("sframe: roster full")
	// ErrParticipantNotFound is returned by roster/key-manager lookups for an unknown id.
	ErrParticipantNotFound = errors.New("sframe: participant not found")
	// ErrParticipantExists names a participant id already present in the roster.
	// Roster.Add does not return it: adding a present id returns the existing entry.
	ErrParticipantExists = errors.New("sframe: participant already present")
	// ErrCannotAddSelf is returned when the roster is asked to add the local participant's own id.
	ErrCannotAddSelf = errors.New("sframe: cannot add local participant to roster")

	// ErrInvalidTopology is returned for an unrecognized topology kind or a
	// configuration that would grant the server access to key material.
	ErrInvalidTopology = errors.New("sframe: invalid topology configuration")
)
