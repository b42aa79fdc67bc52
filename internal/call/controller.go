package call

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

const defaultRingTimeout = 30 * time.Second

var (
	// ErrBusy is returned when a new call is started while a session exists.
	ErrBusy = errors.New("call: session already in progress")
	// ErrNoSession is returned by operations that require a live session.
	ErrNoSession = errors.New("call: no session")
	// ErrWrongPhase is returned when an operation does not apply to the
	// session's current phase.
	ErrWrongPhase = errors.New("call: operation not valid in current phase")
)

// Snapshot is an immutable view of the session, safe to hand to watchers.
type Snapshot struct {
	SessionID string
	PeerID    string
	Role      Role
	Phase     Phase
	Reason    EndReason
}

// Watcher observes phase transitions. Watchers run outside the controller
// lock, one transition at a time, in registration order.
type Watcher func(Snapshot)

type session struct {
	id     string
	peerID string
	role   Role
	phase  Phase
	reason EndReason

	transport MediaTransport
	remoteSet bool
	pending   []webrtc.ICECandidateInit

	pendingOffer webrtc.SessionDescription
	ringTimer    *time.Timer
}

// Controller owns at most one call session at a time and drives it through
// the signaling client and a media transport. All methods are safe for
// concurrent use; signaling handlers and transport callbacks funnel through
// the same lock, and a stale session pointer is ignored so late callbacks
// from a torn-down session cannot corrupt a newer one.
type Controller struct {
	log      *zerolog.Logger
	signaler Signaler
	factory  TransportFactory

	selfID      string
	ringTimeout time.Duration

	mu       sync.Mutex
	sess     *session
	watchers []Watcher
}

// Option customizes a Controller.
type Option func(*Controller)

// WithRingTimeout overrides how long an unanswered call rings.
func WithRingTimeout(d time.Duration) Option {
	return func(c *Controller) { c.ringTimeout = d }
}

// NewController builds a controller for the given local identity.
func NewController(selfID string, signaler Signaler, factory TransportFactory, logger *zerolog.Logger, opts ...Option) *Controller {
	c := &Controller{
		log:         logger,
		signaler:    signaler,
		factory:     factory,
		selfID:      selfID,
		ringTimeout: defaultRingTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Watch registers a phase watcher. Watchers registered after a session
// started only see transitions from that point on.
func (c *Controller) Watch(w Watcher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchers = append(c.watchers, w)
}

// Phase returns the current phase, PhaseIdle when no session exists.
func (c *Controller) Phase() Phase {
	return c.Session().Phase
}

// Session returns the current session snapshot, or an idle snapshot when no
// session exists.
func (c *Controller) Session() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return Snapshot{Phase: PhaseIdle}
	}
	return c.sess.snapshot()
}

func (s *session) snapshot() Snapshot {
	return Snapshot{
		SessionID: s.id,
		PeerID:    s.peerID,
		Role:      s.role,
		Phase:     s.phase,
		Reason:    s.reason,
	}
}

// StartCall places an outgoing call to peerID. Media is acquired before any
// signaling leaves the machine, so a capture failure returns an error and
// the peer never sees a ring. On success the session enters outgoing_ringing
// and rings until answered, rejected, or the ring timeout expires.
func (c *Controller) StartCall(ctx context.Context, peerID string) error {
	c.mu.Lock()
	if c.sess != nil {
		c.mu.Unlock()
		return ErrBusy
	}
	c.mu.Unlock()

	transport, err := c.factory.NewTransport(ctx)
	if err != nil {
		return err
	}

	offer, err := transport.CreateOffer(ctx)
	if err != nil {
		transport.Close()
		return err
	}

	c.mu.Lock()
	if c.sess != nil {
		// Lost the race to an incoming call while acquiring media.
		c.mu.Unlock()
		transport.Close()
		return ErrBusy
	}
	s := &session{
		id:        uuid.NewString(),
		peerID:    peerID,
		role:      RoleCaller,
		phase:     PhaseOutgoingRinging,
		transport: transport,
	}
	c.sess = s
	c.wireTransportLocked(s)
	s.ringTimer = time.AfterFunc(c.ringTimeout, func() { c.ringExpired(s) })
	notes := []Snapshot{s.snapshot()}
	c.mu.Unlock()
	c.notify(notes)

	if err := c.signaler.InitiateCall(ctx, peerID, offer, c.selfID); err != nil {
		c.mu.Lock()
		notes = c.teardownLocked(s, ReasonFailed)
		c.mu.Unlock()
		c.notify(notes)
		return err
	}
	return nil
}

// HandleOffer processes an incoming call offer. When a session is already in
// progress the offer is declined automatically and the current session is
// untouched; otherwise the controller enters incoming_ringing and waits for
// AcceptCall or RejectCall.
func (c *Controller) HandleOffer(ctx context.Context, from string, offer webrtc.SessionDescription) {
	c.mu.Lock()
	if c.sess != nil {
		c.mu.Unlock()
		c.log.Debug().Str("from", from).Msg("busy, auto-rejecting incoming call")
		if err := c.signaler.RejectCall(ctx, from, c.selfID); err != nil {
			c.log.Warn().Err(err).Str("to", from).Msg("auto-reject failed")
		}
		return
	}
	s := &session{
		id:           uuid.NewString(),
		peerID:       from,
		role:         RoleCallee,
		phase:        PhaseIncomingRinging,
		pendingOffer: offer,
	}
	c.sess = s
	s.ringTimer = time.AfterFunc(c.ringTimeout, func() { c.ringExpired(s) })
	notes := []Snapshot{s.snapshot()}
	c.mu.Unlock()
	c.notify(notes)
}

// AcceptCall answers the pending incoming call. Media is acquired here, the
// stored offer is applied, buffered candidates are flushed, and the answer
// is sent back to the caller.
func (c *Controller) AcceptCall(ctx context.Context) error {
	c.mu.Lock()
	s := c.sess
	if s == nil {
		c.mu.Unlock()
		return ErrNoSession
	}
	if s.phase != PhaseIncomingRinging {
		c.mu.Unlock()
		return ErrWrongPhase
	}
	s.stopRingTimer()
	offer := s.pendingOffer
	notes := c.setPhaseLocked(s, PhaseConnecting)
	c.mu.Unlock()
	c.notify(notes)

	transport, err := c.factory.NewTransport(ctx)
	if err != nil {
		return c.failSession(ctx, s, err)
	}

	answer, err := transport.CreateAnswer(ctx, offer)
	if err != nil {
		transport.Close()
		return c.failSession(ctx, s, err)
	}

	c.mu.Lock()
	if c.sess != s {
		// Caller hung up while we were acquiring media.
		c.mu.Unlock()
		transport.Close()
		return ErrNoSession
	}
	s.transport = transport
	s.remoteSet = true
	c.wireTransportLocked(s)
	flushErr := c.flushCandidatesLocked(s)
	c.mu.Unlock()
	if flushErr != nil {
		c.log.Warn().Err(flushErr).Msg("flushing buffered candidates")
	}

	if err := c.signaler.AnswerCall(ctx, s.peerID, answer, c.selfID); err != nil {
		return c.failSession(ctx, s, err)
	}
	return nil
}

// RejectCall declines the pending incoming call and ends the session.
func (c *Controller) RejectCall(ctx context.Context) error {
	c.mu.Lock()
	s := c.sess
	if s == nil {
		c.mu.Unlock()
		return ErrNoSession
	}
	if s.phase != PhaseIncomingRinging {
		c.mu.Unlock()
		return ErrWrongPhase
	}
	notes := c.teardownLocked(s, ReasonDeclined)
	c.mu.Unlock()
	c.notify(notes)

	if err := c.signaler.RejectCall(ctx, s.peerID, c.selfID); err != nil {
		c.log.Warn().Err(err).Str("to", s.peerID).Msg("reject send failed")
	}
	return nil
}

// HandleAnswer processes the callee's answer to our outgoing offer. Answers
// from anyone but the ringing peer, or outside outgoing_ringing, are dropped.
func (c *Controller) HandleAnswer(ctx context.Context, from string, answer webrtc.SessionDescription) {
	c.mu.Lock()
	s := c.sess
	if s == nil || s.peerID != from || s.phase != PhaseOutgoingRinging {
		c.mu.Unlock()
		c.log.Debug().Str("from", from).Msg("dropping stray answer")
		return
	}
	s.stopRingTimer()
	if err := s.transport.SetRemoteDescription(answer); err != nil {
		notes := c.teardownLocked(s, ReasonFailed)
		c.mu.Unlock()
		c.notify(notes)
		c.sendEndBestEffort(ctx, s.peerID)
		return
	}
	s.remoteSet = true
	flushErr := c.flushCandidatesLocked(s)
	notes := c.setPhaseLocked(s, PhaseConnecting)
	c.mu.Unlock()
	c.notify(notes)
	if flushErr != nil {
		c.log.Warn().Err(flushErr).Msg("flushing buffered candidates")
	}
}

// HandleCandidate feeds one remote ICE candidate to the session. Candidates
// arriving before the remote description is set are buffered and flushed in
// arrival order once it lands; candidates from other peers are dropped.
func (c *Controller) HandleCandidate(from string, candidate webrtc.ICECandidateInit) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.sess
	if s == nil || s.peerID != from {
		return
	}
	if !s.remoteSet || s.transport == nil {
		s.pending = append(s.pending, candidate)
		return
	}
	if err := s.transport.AddICECandidate(candidate); err != nil {
		c.log.Warn().Err(err).Msg("applying remote candidate")
	}
}

// HandleRemoteEnd processes the peer's terminate. The session ends without
// echoing a terminate back.
func (c *Controller) HandleRemoteEnd(from string) {
	c.mu.Lock()
	s := c.sess
	if s == nil || s.peerID != from {
		c.mu.Unlock()
		return
	}
	notes := c.teardownLocked(s, ReasonHangup)
	c.mu.Unlock()
	c.notify(notes)
}

// HandleRemoteReject processes the callee declining our outgoing call.
func (c *Controller) HandleRemoteReject(from string) {
	c.mu.Lock()
	s := c.sess
	if s == nil || s.peerID != from || s.phase != PhaseOutgoingRinging {
		c.mu.Unlock()
		return
	}
	notes := c.teardownLocked(s, ReasonDeclined)
	c.mu.Unlock()
	c.notify(notes)
}

// EndCall hangs up the current session. Calling it with no session, or
// twice, is a no-op.
func (c *Controller) EndCall(ctx context.Context) {
	c.mu.Lock()
	s := c.sess
	if s == nil {
		c.mu.Unlock()
		return
	}
	notes := c.teardownLocked(s, ReasonHangup)
	c.mu.Unlock()
	c.notify(notes)
	c.sendEndBestEffort(ctx, s.peerID)
}

func (c *Controller) ringExpired(s *session) {
	c.mu.Lock()
	if c.sess != s || (s.phase != PhaseOutgoingRinging && s.phase != PhaseIncomingRinging) {
		c.mu.Unlock()
		return
	}
	reason := ReasonUnreachable
	if s.role == RoleCallee {
		reason = ReasonMissed
	}
	notes := c.teardownLocked(s, reason)
	c.mu.Unlock()
	c.notify(notes)

	if s.role == RoleCaller {
		// Clear the callee's ringing state in case they are online but idle.
		c.sendEndBestEffort(context.Background(), s.peerID)
	}
}

// failSession tears the session down after a local failure and tells the
// peer the call is over.
func (c *Controller) failSession(ctx context.Context, s *session, err error) error {
	c.mu.Lock()
	notes := c.teardownLocked(s, ReasonFailed)
	c.mu.Unlock()
	c.notify(notes)
	c.sendEndBestEffort(ctx, s.peerID)
	return err
}

func (c *Controller) sendEndBestEffort(ctx context.Context, peerID string) {
	if err := c.signaler.EndCall(ctx, peerID, c.selfID); err != nil {
		c.log.Warn().Err(err).Str("to", peerID).Msg("terminate send failed")
	}
}

// wireTransportLocked hooks transport callbacks to this session. Callbacks
// capture the session pointer and are ignored once the controller has moved
// on to a different session.
func (c *Controller) wireTransportLocked(s *session) {
	s.transport.OnICECandidate(func(candidate webrtc.ICECandidateInit) {
		c.mu.Lock()
		live := c.sess == s
		peerID := s.peerID
		c.mu.Unlock()
		if !live {
			return
		}
		if err := c.signaler.SendICECandidate(context.Background(), peerID, candidate, c.selfID); err != nil {
			c.log.Warn().Err(err).Msg("sending local candidate")
		}
	})
	s.transport.OnStateChange(func(state TransportState) {
		c.transportStateChanged(s, state)
	})
}

func (c *Controller) transportStateChanged(s *session, state TransportState) {
	c.mu.Lock()
	if c.sess != s {
		c.mu.Unlock()
		return
	}
	var notes []Snapshot
	switch state {
	case TransportConnected:
		if s.phase == PhaseConnecting {
			notes = c.setPhaseLocked(s, PhaseActive)
		}
	case TransportFailed:
		notes = c.teardownLocked(s, ReasonFailed)
	}
	c.mu.Unlock()
	c.notify(notes)

	if state == TransportFailed {
		c.sendEndBestEffort(context.Background(), s.peerID)
	}
}

func (c *Controller) flushCandidatesLocked(s *session) error {
	var firstErr error
	for _, candidate := range s.pending {
		if err := s.transport.AddICECandidate(candidate); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.pending = nil
	return firstErr
}

func (c *Controller) setPhaseLocked(s *session, phase Phase) []Snapshot {
	s.phase = phase
	return []Snapshot{s.snapshot()}
}

// teardownLocked ends the session, releases media, and frees the controller
// for the next call. Safe against double teardown: a stale pointer returns
// no transitions.
func (c *Controller) teardownLocked(s *session, reason EndReason) []Snapshot {
	if c.sess != s {
		return nil
	}
	s.stopRingTimer()
	if s.transport != nil {
		if err := s.transport.Close(); err != nil {
			c.log.Warn().Err(err).Msg("closing media transport")
		}
	}
	s.phase = PhaseEnded
	s.reason = reason
	c.sess = nil
	return []Snapshot{s.snapshot()}
}

func (c *Controller) notify(notes []Snapshot) {
	if len(notes) == 0 {
		return
	}
	c.mu.Lock()
	watchers := make([]Watcher, len(c.watchers))
	copy(watchers, c.watchers)
	c.mu.Unlock()

	for _, note := range notes {
		for _, w := range watchers {
			w(note)
		}
	}
}

func (s *session) stopRingTimer() {
	if s.ringTimer != nil {
		s.ringTimer.Stop()
		s.ringTimer = nil
	}
}
