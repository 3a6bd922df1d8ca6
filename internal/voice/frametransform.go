package voice

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/concord-chat/concord/internal/observability"
	"github.com/concord-chat/concord/pkg/sframe"
)

// extendedSequencer unwraps RTP's 16-bit wrapping sequence number into
// a monotonic 32-bit counter suitable for sframe's replay window. It
// assumes no more than one wraparound's worth of reordering between
// consecutive calls for a given sender, the same assumption the
// jitter buffer's seqLessThan comparator makes.
type extendedSequencer struct {
	mu      sync.Mutex
	highest uint16
	epoch   uint32
	primed  bool
}

func (s *extendedSequencer) extend(seq uint16) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.primed {
		s.primed = true
		s.highest = seq
		return uint32(seq)
	}

	if seqLessThan(s.highest, seq) {
		if seq < s.highest {
			s.epoch++
		}
		s.highest = seq
	}
	return s.epoch<<16 | uint32(seq)
}

// FrameTransformer is the Media Transform Glue between pion's RTP
// tracks and the sframe codec: it encrypts outbound RTP payloads with
// the local sender key and decrypts inbound payloads using the
// sender's current key and replay window. It holds no secret material
// of its own — every lookup goes through the Sender Key Manager.
type FrameTransformer struct {
	localID sframe.ParticipantID
	keys    *sframe.KeyManager
	replay  *sframe.Manager
	codec   *sframe.Codec
	logger  zerolog.Logger

	sendMu sync.Mutex

	seqMu  sync.Mutex
	seqsBy map[sframe.ParticipantID]*extendedSequencer

	// metrics and channelID are optional; when metrics is set, rejected
	// and undecryptable frames are counted under channelID's label.
	metrics   *observability.Metrics
	channelID string
}

// NewFrameTransformer builds a transformer bound to a session's key
// manager and replay-protection state.
func NewFrameTransformer(localID sframe.ParticipantID, keys *sframe.KeyManager, replay *sframe.Manager, logger zerolog.Logger) *FrameTransformer {
	return &FrameTransformer{
		localID: localID,
		keys:    keys,
		replay:  replay,
		codec:   sframe.NewCodec(),
		logger:  logger.With().Str("component", "frame-transform").Logger(),
		seqsBy:  make(map[sframe.ParticipantID]*extendedSequencer),
	}
}

// WithMetrics attaches a metrics sink and the channel label frames are
// recorded under. Returns the transformer for chaining at construction.
func (f *FrameTransformer) WithMetrics(metrics *observability.Metrics, channelID string) *FrameTransformer {
	f.metrics = metrics
	f.channelID = channelID
	return f
}

// SendTransform encrypts an outbound RTP payload under the current
// local sender key. It must run on the same synchronous path as the
// encoder that produced plaintext — no per-frame allocation happens
// here beyond the output buffer the codec itself allocates. Per spec
// §4.6, a frame is sent unencrypted, unchanged, when no local sender
// key has been minted yet (e.g. before the Session Coordinator has
// started) — the caller is never blocked on key material existing.
func (f *FrameTransformer) SendTransform(plaintext []byte) ([]byte, error) {
	f.sendMu.Lock()
	defer f.sendMu.Unlock()

	key, ok := f.keys.EncryptionKey()
	if !ok {
		return plaintext, nil
	}
	frame, err := f.codec.Encrypt(plaintext, key, key.Generation)
	if err != nil {
		return nil, err
	}
	f.keys.RecordMessageSent()
	return frame, nil
}

// ReceiveTransform decrypts an inbound RTP payload from senderID, RTP
// sequence rtpSeq. It rejects frames that fail the replay window
// before paying for an AEAD open, and drops frames from unknown key
// generations rather than erroring the whole read loop — the caller
// (handleRemoteTrack) just skips the frame and keeps reading. A frame
// too short to be a valid sframe wire frame is treated as an
// unencrypted pass-through (spec §4.6) rather than a decrypt failure:
// the sender had no key yet, not a corrupt frame.
func (f *FrameTransformer) ReceiveTransform(senderID sframe.ParticipantID, wireFrame []byte, rtpSeq uint16) ([]byte, error) {
	extended := f.sequencerFor(senderID).extend(rtpSeq)
	if !f.replay.Check(senderID, extended) {
		f.recordReplayRejected(senderID)
		return nil, fmt.Errorf("frametransform: replayed or too-old frame from %s", senderID)
	}

	plaintext, err := f.codec.Decrypt(wireFrame, func(gen sframe.KeyGeneration) (*sframe.SenderKey, bool) {
		return f.keys.DecryptionKey(senderID, gen)
	})
	if err != nil {
		if errors.Is(err, sframe.ErrFrameTooShort) {
			return wireFrame, nil
		}
		f.recordDecryptFailure(wireFrame, err)
		return nil, err
	}
	return plaintext, nil
}

// recordReplayRejected counts a Check rejection, distinguishing a
// duplicate/out-of-order frame from one too old for the window by
// diffing the sender's window stats before and after.
func (f *FrameTransformer) recordReplayRejected(senderID sframe.ParticipantID) {
	if f.metrics == nil {
		return
	}
	stats, ok := f.replay.Stats(senderID)
	reason := "replay"
	if ok && stats.TooOldRejected > 0 && stats.ReplaysDetected == 0 {
		reason = "too_old"
	}
	f.metrics.E2EEReplayRejected.WithLabelValues(f.channelID, reason).Inc()
}

func (f *FrameTransformer) recordDecryptFailure(wireFrame []byte, err error) {
	if f.metrics == nil {
		return
	}
	reason := "auth_failure"
	switch {
	case errors.Is(err, sframe.ErrFrameTooShort):
		reason = "frame_too_short"
	case errors.Is(err, sframe.ErrUnknownGeneration):
		reason = "unknown_generation"
	}
	f.metrics.E2EEDecryptFailures.WithLabelValues(f.channelID, reason).Inc()
}

func (f *FrameTransformer) sequencerFor(senderID sframe.ParticipantID) *extendedSequencer {
	f.seqMu.Lock()
	defer f.seqMu.Unlock()
	s, ok := f.seqsBy[senderID]
	if !ok {
		s = &extendedSequencer{}
		f.seqsBy[senderID] = s
	}
	return s
}

// RemoveSender drops replay and sequencing state for a departed
// participant. Key-history cleanup is the Sender Key Manager's job
// (see Coordinator's participant-left handling).
func (f *FrameTransformer) RemoveSender(senderID sframe.ParticipantID) {
	f.replay.RemoveSender(senderID)
	f.seqMu.Lock()
	delete(f.seqsBy, senderID)
	f.seqMu.Unlock()
}
