// Package e2ee wires the sframe key lifecycle (rotation, roster,
// topology) to a signaling client: it is the Session Coordinator
// described for real-time multi-party media conferencing — the piece
// that decides when to rotate, whom to tell, and what to do with a
// peer's key-related signal.
package e2ee

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/concord-chat/concord/internal/network/signaling"
	"github.com/concord-chat/concord/internal/observability"
	"github.com/concord-chat/concord/pkg/sframe"
)

// DefaultRotationDebounce is the quiet period a requested rotation waits
// for, and the interval at which the ratchet hint is polled (spec §4.7,
// §9 Open Question 1: yes, the coordinator auto-rotates on the hint).
const DefaultRotationDebounce = 2 * time.Second

// Config configures a Coordinator.
type Config struct {
	LocalID          sframe.ParticipantID
	DisplayName      string
	ServerID         string
	ChannelID        string
	Topology         sframe.Config
	KeyManager       sframe.KeyManagerConfig
	MaxParticipants  int
	WindowSize       uint32
	AllowWrapAround  bool
	RotationDebounce time.Duration

	// Metrics is optional; when set, the coordinator records key
	// rotations and roster size under ChannelID's label.
	Metrics *observability.Metrics
}

func (c *Config) setDefaults() {
	if c.RotationDebounce <= 0 {
		c.RotationDebounce = DefaultRotationDebounce
	}
}

// Coordinator owns the sframe key manager, roster, and replay state
// for a session and routes signaling messages to them. It is a
// control-context component: every method here may block briefly (a
// mutex, a channel send) but none sits on the per-frame media path —
// that is internal/voice's frametransform, which only ever calls
// KeyManager/Replay read paths directly.
type Coordinator struct {
	cfg    Config
	logger zerolog.Logger

	sig      *signaling.Client
	keys     *sframe.KeyManager
	roster   *sframe.Roster
	replay   *sframe.Manager
	topology sframe.Config

	mu      sync.Mutex
	running bool
	rotate  chan struct{}
	stop    chan struct{}
	done    chan struct{}
}

// New constructs a Coordinator bound to sig. It does not start the
// rotation debounce loop or register signal handlers — call Start.
func New(cfg Config, sig *signaling.Client, logger zerolog.Logger) (*Coordinator, error) {
	cfg.setDefaults()
	if err := cfg.Topology.Validate(); err != nil {
		return nil, err
	}

	logger = logger.With().Str("component", "e2ee-coordinator").Logger()
	cfg.KeyManager.LocalID = cfg.LocalID

	c := &Coordinator{
		cfg:      cfg,
		logger:   logger,
		sig:      sig,
		keys:     sframe.NewKeyManager(cfg.KeyManager, logger),
		roster:   sframe.NewRoster(cfg.LocalID, cfg.MaxParticipants, logger),
		replay:   sframe.NewManager(sframe.WindowConfig{Size: cfg.WindowSize, AllowWrapAround: cfg.AllowWrapAround}),
		topology: cfg.Topology,
		rotate:   make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	c.registerHandlers()
	return c, nil
}

// KeyManager exposes the key manager for the media transform glue.
func (c *Coordinator) KeyManager() *sframe.KeyManager { return c.keys }

// Replay exposes the replay-protection manager for the media transform glue.
func (c *Coordinator) Replay() *sframe.Manager { return c.replay }

// Roster exposes the roster for UI-facing status queries.
func (c *Coordinator) Roster() *sframe.Roster { return c.roster }

// Start mints the local sender key, broadcasts it per the topology's
// distribution mode, and starts the debounced rotation loop. Call once
// after the signaling client is connected and has joined the channel.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("e2ee: coordinator already started")
	}
	c.running = true
	c.mu.Unlock()

	if err := c.keys.GenerateLocalKey(); err != nil {
		return fmt.Errorf("e2ee: generate local key: %w", err)
	}

	c.keys.OnEvent(func(evt sframe.Event) {
		if evt.Kind == sframe.EventKeyGenerated || evt.Kind == sframe.EventKeyRotated {
			c.broadcastLocalKey()
		}
	})

	if err := c.broadcastLocalKey(); err != nil {
		c.logger.Warn().Err(err).Msg("initial key broadcast failed")
	}

	go c.rotationLoop(ctx)
	return nil
}

// Stop terminates the rotation loop and zeroes all retained key
// material. Safe to call multiple times.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.mu.Unlock()

	close(c.stop)
	<-c.done
	c.keys.Shutdown()
}

// RecordFrameSent must be called once per outbound encrypted frame so
// the rotation loop's ratchet hint stays accurate.
func (c *Coordinator) RecordFrameSent() {
	c.keys.RecordMessageSent()
}

// rotationLoop polls ShouldRatchet and debounces rotation requests,
// mirroring the reaper-goroutine shape used for presence expiry: a
// ticker driving a periodic check, with a stop channel for clean
// shutdown. A pending debounced rotation is dropped on shutdown.
func (c *Coordinator) rotationLoop(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.cfg.RotationDebounce)
	defer ticker.Stop()

	// debounce is nil (never ready) until a rotation is requested.
	var debounce <-chan time.Time

	for {
		select {
		case <-ticker.C:
			if c.keys.ShouldRatchet() {
				if err := c.keys.Rotate(); err != nil {
					c.logger.Warn().Err(err).Msg("automatic rotation failed")
				} else {
					c.recordRotation("ratchet_hint")
				}
			}
		case <-c.rotate:
			// Leave or explicit request: (re)start the debounce wait so a
			// burst of requests mints one key, after the last request.
			debounce = time.After(c.cfg.RotationDebounce)
		case <-debounce:
			debounce = nil
			if err := c.keys.Rotate(); err != nil {
				c.logger.Warn().Err(err).Msg("requested rotation failed")
			} else {
				c.recordRotation("requested")
			}
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		}
	}
}

// RequestRotation asks the rotation loop to rotate once RotationDebounce
// has passed with no further request. Each request restarts that wait,
// instead of generating a fresh key per caller, so a burst of requests
// within the debounce interval collapses into one rotation.
func (c *Coordinator) RequestRotation() {
	select {
	case c.rotate <- struct{}{}:
	default:
		// A rotation is already pending; no need to queue another.
	}
}

func (c *Coordinator) broadcastLocalKey() error {
	exported, ok := c.keys.Export()
	if !ok {
		return fmt.Errorf("e2ee: no local key to broadcast")
	}
	defer sframe.ZeroBytes(exported.KeyMaterial)

	payload := signaling.E2EEKeyPayload{
		ParticipantID: string(exported.ParticipantID),
		Generation:    uint8(exported.Generation),
		KeyMaterial:   exported.KeyMaterial,
	}

	targets := c.topology.DistributionTargets(c.cfg.LocalID, c.knownPeerIDs())
	if c.topology.Distribution() == sframe.DistributionServerRelayed {
		// The server fans the key out itself; send once, addressed to
		// no specific peer, and let it relay without ever decrypting it.
		return c.sig.SendE2EEKey(c.cfg.ServerID, c.cfg.ChannelID, "", payload)
	}

	var firstErr error
	for _, target := range targets {
		if err := c.sig.SendE2EEKey(c.cfg.ServerID, c.cfg.ChannelID, string(target), payload); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// recordRotation increments the key-rotation counter for this session's
// channel, if a metrics sink was configured.
func (c *Coordinator) recordRotation(reason string) {
	if c.cfg.Metrics == nil {
		return
	}
	c.cfg.Metrics.E2EEKeyRotations.WithLabelValues(c.cfg.ChannelID, reason).Inc()
}

// recordRosterSize publishes the current roster size, if a metrics sink
// was configured.
func (c *Coordinator) recordRosterSize() {
	if c.cfg.Metrics == nil {
		return
	}
	c.cfg.Metrics.E2EERosterSize.WithLabelValues(c.cfg.ChannelID).Set(float64(len(c.roster.List())))
}

func (c *Coordinator) knownPeerIDs() []sframe.ParticipantID {
	list := c.roster.List()
	ids := make([]sframe.ParticipantID, 0, len(list))
	for _, p := range list {
		ids = append(ids, p.ID)
	}
	return ids
}

// registerHandlers wires the five inbound message kinds to roster and
// key-manager state, following the handler-per-type registration
// pattern used throughout the signaling client.
func (c *Coordinator) registerHandlers() {
	c.sig.On(signaling.SignalPeerList, func(sig *signaling.Signal) {
		var payload signaling.PeerListPayload
		if err := sig.DecodePayload(&payload); err != nil {
			c.logger.Warn().Err(err).Msg("invalid peer_list payload")
			return
		}
		for _, peer := range payload.Peers {
			if _, err := c.roster.Add(sframe.ParticipantID(peer.UserID), peer.Username, sframe.RoleMember); err != nil {
				c.logger.Warn().Err(err).Str("participant_id", peer.UserID).Msg("failed to add participant from peer list")
			}
		}
		c.recordRosterSize()
		// The existing roster already has our key; resend it rather than
		// minting a new one (spec §4.7: "joined" -> broadcast local key).
		if err := c.broadcastLocalKey(); err != nil {
			c.logger.Warn().Err(err).Msg("key broadcast on peer list failed")
		}
	})

	c.sig.On(signaling.SignalPeerJoined, func(sig *signaling.Signal) {
		var payload signaling.JoinPayload
		if err := sig.DecodePayload(&payload); err != nil {
			c.logger.Warn().Err(err).Msg("invalid participant-joined payload")
			return
		}
		if _, err := c.roster.Add(sframe.ParticipantID(payload.UserID), payload.Username, sframe.RoleMember); err != nil {
			c.logger.Warn().Err(err).Str("participant_id", payload.UserID).Msg("failed to add joining participant")
			return
		}
		c.recordRosterSize()
		// A fresh participant needs the current key, not a new one; resend
		// the existing local key to all distribution targets, which now
		// include the newcomer (spec §4.7: "participant-joined").
		if err := c.broadcastLocalKey(); err != nil {
			c.logger.Warn().Err(err).Msg("key broadcast on participant joined failed")
		}
	})

	c.sig.On(signaling.SignalPeerLeft, func(sig *signaling.Signal) {
		id := sframe.ParticipantID(sig.From)
		c.roster.Remove(id)
		c.keys.RemoveParticipant(id)
		c.replay.RemoveSender(id)
		c.recordRosterSize()
		// Forward secrecy on leave (spec §4.7, §8 scenario 8): debounce
		// folds a burst of leaves into a single rotation.
		c.RequestRotation()
	})

	c.sig.On(signaling.SignalE2EEKey, func(sig *signaling.Signal) {
		var payload signaling.E2EEKeyPayload
		if err := sig.DecodePayload(&payload); err != nil {
			c.logger.Warn().Err(err).Msg("invalid e2ee_key payload")
			return
		}
		participantID := sframe.ParticipantID(payload.ParticipantID)
		if participantID == c.cfg.LocalID {
			return
		}
		err := c.keys.ImportRemoteKey(sframe.SerializedSenderKey{
			ParticipantID: participantID,
			KeyMaterial:   payload.KeyMaterial,
			Generation:    sframe.KeyGeneration(payload.Generation),
		})
		if err != nil {
			c.logger.Warn().Err(err).Str("participant_id", string(participantID)).Msg("key import failed")
			if markErr := c.roster.MarkKeyFailed(participantID); markErr != nil {
				c.logger.Debug().Err(markErr).Msg("mark-key-failed on unknown participant")
			}
			return
		}
		if err := c.roster.UpdateKeyState(participantID, sframe.KeyGeneration(payload.Generation)); err != nil {
			c.logger.Debug().Err(err).Str("participant_id", string(participantID)).Msg("roster key-state update for unknown participant")
		}
	})

	c.sig.On(signaling.SignalE2EEKeyRequest, func(sig *signaling.Signal) {
		var payload signaling.E2EEKeyRequestPayload
		if err := sig.DecodePayload(&payload); err != nil {
			c.logger.Warn().Err(err).Msg("invalid e2ee_key_request payload")
			return
		}
		exported, ok := c.keys.Export()
		if !ok {
			return
		}
		defer sframe.ZeroBytes(exported.KeyMaterial)

		resp := signaling.E2EEKeyPayload{
			ParticipantID: string(exported.ParticipantID),
			Generation:    uint8(exported.Generation),
			KeyMaterial:   exported.KeyMaterial,
		}
		if err := c.sig.SendE2EEKey(c.cfg.ServerID, c.cfg.ChannelID, sig.From, resp); err != nil {
			c.logger.Warn().Err(err).Str("to", sig.From).Msg("failed to answer key request")
		}
	})
}
