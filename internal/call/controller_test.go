package call

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/cliptube/signal-server/internal/log"
)

type sentMsg struct {
	kind      string
	to        string
	candidate webrtc.ICECandidateInit
}

// fakeSignaler records every outgoing message and, when peer is set,
// delivers it synchronously to the other controller.
type fakeSignaler struct {
	mu   sync.Mutex
	sent []sentMsg

	self string
	peer *Controller
}

func (f *fakeSignaler) record(m sentMsg) {
	f.mu.Lock()
	f.sent = append(f.sent, m)
	f.mu.Unlock()
}

func (f *fakeSignaler) InitiateCall(ctx context.Context, target string, offer webrtc.SessionDescription, from string) error {
	f.record(sentMsg{kind: "offer", to: target})
	if f.peer != nil {
		f.peer.HandleOffer(ctx, from, offer)
	}
	return nil
}

func (f *fakeSignaler) AnswerCall(ctx context.Context, target string, answer webrtc.SessionDescription, from string) error {
	f.record(sentMsg{kind: "answer", to: target})
	if f.peer != nil {
		f.peer.HandleAnswer(ctx, from, answer)
	}
	return nil
}

func (f *fakeSignaler) SendICECandidate(_ context.Context, target string, candidate webrtc.ICECandidateInit, from string) error {
	f.record(sentMsg{kind: "candidate", to: target, candidate: candidate})
	if f.peer != nil {
		f.peer.HandleCandidate(from, candidate)
	}
	return nil
}

func (f *fakeSignaler) EndCall(_ context.Context, target, from string) error {
	f.record(sentMsg{kind: "end", to: target})
	if f.peer != nil {
		f.peer.HandleRemoteEnd(from)
	}
	return nil
}

func (f *fakeSignaler) RejectCall(_ context.Context, target, from string) error {
	f.record(sentMsg{kind: "reject", to: target})
	if f.peer != nil {
		f.peer.HandleRemoteReject(from)
	}
	return nil
}

func (f *fakeSignaler) countKind(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.sent {
		if m.kind == kind {
			n++
		}
	}
	return n
}

type fakeTransport struct {
	mu          sync.Mutex
	added       []webrtc.ICECandidateInit
	closed      bool
	onCandidate func(webrtc.ICECandidateInit)
	onState     func(TransportState)

	offerErr  error
	answerErr error
	remoteErr error
}

func (t *fakeTransport) CreateOffer(context.Context) (webrtc.SessionDescription, error) {
	if t.offerErr != nil {
		return webrtc.SessionDescription{}, t.offerErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer"}, nil
}

func (t *fakeTransport) CreateAnswer(_ context.Context, _ webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if t.answerErr != nil {
		return webrtc.SessionDescription{}, t.answerErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer"}, nil
}

func (t *fakeTransport) SetRemoteDescription(webrtc.SessionDescription) error {
	return t.remoteErr
}

func (t *fakeTransport) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	t.mu.Lock()
	t.added = append(t.added, candidate)
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) OnICECandidate(fn func(webrtc.ICECandidateInit)) { t.onCandidate = fn }
func (t *fakeTransport) OnStateChange(fn func(TransportState))          { t.onState = fn }

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *fakeTransport) addedCandidates() []webrtc.ICECandidateInit {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]webrtc.ICECandidateInit, len(t.added))
	copy(out, t.added)
	return out
}

type fakeFactory struct {
	mu         sync.Mutex
	transports []*fakeTransport
	err        error
}

func (f *fakeFactory) NewTransport(context.Context) (MediaTransport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	t := &fakeTransport{}
	f.transports = append(f.transports, t)
	return t, nil
}

func (f *fakeFactory) last(t *testing.T) *fakeTransport {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.transports) == 0 {
		t.Fatal("no transport was created")
	}
	return f.transports[len(f.transports)-1]
}

type phaseRecorder struct {
	mu    sync.Mutex
	seen  []Snapshot
	gotCh chan Snapshot
}

func newPhaseRecorder() *phaseRecorder {
	return &phaseRecorder{gotCh: make(chan Snapshot, 16)}
}

func (r *phaseRecorder) watch(s Snapshot) {
	r.mu.Lock()
	r.seen = append(r.seen, s)
	r.mu.Unlock()
	r.gotCh <- s
}

func (r *phaseRecorder) waitPhase(t *testing.T, phase Phase) Snapshot {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-r.gotCh:
			if s.Phase == phase {
				return s
			}
		case <-deadline:
			t.Fatalf("never reached phase %q; saw %v", phase, r.phases())
		}
	}
}

func (r *phaseRecorder) phases() []Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Phase, len(r.seen))
	for i, s := range r.seen {
		out[i] = s.Phase
	}
	return out
}

// pair wires two controllers together with synchronous in-memory signaling.
func pair(t *testing.T, opts ...Option) (caller, callee *Controller, callerSig, calleeSig *fakeSignaler, callerFac, calleeFac *fakeFactory) {
	t.Helper()

	callerSig = &fakeSignaler{self: "alice"}
	calleeSig = &fakeSignaler{self: "bob"}
	callerFac = &fakeFactory{}
	calleeFac = &fakeFactory{}

	caller = NewController("alice", callerSig, callerFac, log.Nop(), opts...)
	callee = NewController("bob", calleeSig, calleeFac, log.Nop(), opts...)
	callerSig.peer = callee
	calleeSig.peer = caller
	return
}

func TestCallHappyPathBothSidesActive(t *testing.T) {
	caller, callee, _, _, callerFac, calleeFac := pair(t)

	callerRec := newPhaseRecorder()
	calleeRec := newPhaseRecorder()
	caller.Watch(callerRec.watch)
	callee.Watch(calleeRec.watch)

	if err := caller.StartCall(context.Background(), "bob"); err != nil {
		t.Fatalf("start call: %v", err)
	}
	callerRec.waitPhase(t, PhaseOutgoingRinging)
	calleeRec.waitPhase(t, PhaseIncomingRinging)

	if err := callee.AcceptCall(context.Background()); err != nil {
		t.Fatalf("accept call: %v", err)
	}
	callerRec.waitPhase(t, PhaseConnecting)
	calleeRec.waitPhase(t, PhaseConnecting)

	callerFac.last(t).onState(TransportConnected)
	calleeFac.last(t).onState(TransportConnected)
	callerRec.waitPhase(t, PhaseActive)
	calleeRec.waitPhase(t, PhaseActive)

	if got := caller.Session().Phase; got != PhaseActive {
		t.Fatalf("caller phase = %q, want active", got)
	}
	if got := callee.Session().Phase; got != PhaseActive {
		t.Fatalf("callee phase = %q, want active", got)
	}

	caller.EndCall(context.Background())
	ended := calleeRec.waitPhase(t, PhaseEnded)
	if ended.Reason != ReasonHangup {
		t.Fatalf("callee end reason = %q, want hangup", ended.Reason)
	}
	if !calleeFac.last(t).isClosed() {
		t.Fatal("callee media should be released after remote hangup")
	}
}

func TestDeclineEndsCallerSession(t *testing.T) {
	caller, callee, _, _, callerFac, _ := pair(t)

	callerRec := newPhaseRecorder()
	caller.Watch(callerRec.watch)

	if err := caller.StartCall(context.Background(), "bob"); err != nil {
		t.Fatalf("start call: %v", err)
	}
	if err := callee.RejectCall(context.Background()); err != nil {
		t.Fatalf("reject call: %v", err)
	}

	ended := callerRec.waitPhase(t, PhaseEnded)
	if ended.Reason != ReasonDeclined {
		t.Fatalf("reason = %q, want declined", ended.Reason)
	}
	if got := caller.Session().Phase; got != PhaseIdle {
		t.Fatalf("caller should be idle again, got %q", got)
	}
	if got := callee.Session().Phase; got != PhaseIdle {
		t.Fatalf("callee should be idle again, got %q", got)
	}
	if !callerFac.last(t).isClosed() {
		t.Fatal("caller media should be released after decline")
	}
}

func TestCandidatesBufferedUntilRemoteDescription(t *testing.T) {
	sig := &fakeSignaler{self: "alice"}
	fac := &fakeFactory{}
	ctrl := NewController("alice", sig, fac, log.Nop())

	if err := ctrl.StartCall(context.Background(), "bob"); err != nil {
		t.Fatalf("start call: %v", err)
	}
	transport := fac.last(t)

	early1 := webrtc.ICECandidateInit{Candidate: "candidate:1"}
	early2 := webrtc.ICECandidateInit{Candidate: "candidate:2"}
	ctrl.HandleCandidate("bob", early1)
	ctrl.HandleCandidate("bob", early2)
	if n := len(transport.addedCandidates()); n != 0 {
		t.Fatalf("candidates applied before remote description: %d", n)
	}

	ctrl.HandleAnswer(context.Background(), "bob", webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer"})

	got := transport.addedCandidates()
	if len(got) != 2 || got[0].Candidate != "candidate:1" || got[1].Candidate != "candidate:2" {
		t.Fatalf("flushed candidates = %v", got)
	}

	// Later candidates apply directly; the buffer must not replay.
	ctrl.HandleCandidate("bob", webrtc.ICECandidateInit{Candidate: "candidate:3"})
	got = transport.addedCandidates()
	if len(got) != 3 || got[2].Candidate != "candidate:3" {
		t.Fatalf("candidates after flush = %v", got)
	}
}

func TestCandidateFromStrangerIsDropped(t *testing.T) {
	sig := &fakeSignaler{self: "alice"}
	fac := &fakeFactory{}
	ctrl := NewController("alice", sig, fac, log.Nop())

	if err := ctrl.StartCall(context.Background(), "bob"); err != nil {
		t.Fatalf("start call: %v", err)
	}
	ctrl.HandleAnswer(context.Background(), "bob", webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer"})
	ctrl.HandleCandidate("mallory", webrtc.ICECandidateInit{Candidate: "candidate:evil"})

	if n := len(fac.last(t).addedCandidates()); n != 0 {
		t.Fatalf("stranger candidate applied, count = %d", n)
	}
}

func TestBusyAutoRejectsSecondOffer(t *testing.T) {
	sig := &fakeSignaler{self: "bob"}
	fac := &fakeFactory{}
	ctrl := NewController("bob", sig, fac, log.Nop())

	ctrl.HandleOffer(context.Background(), "alice", webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer"})
	if got := ctrl.Session().Phase; got != PhaseIncomingRinging {
		t.Fatalf("phase = %q, want incoming_ringing", got)
	}

	ctrl.HandleOffer(context.Background(), "carol", webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer2"})

	sig.mu.Lock()
	defer sig.mu.Unlock()
	if len(sig.sent) != 1 || sig.sent[0].kind != "reject" || sig.sent[0].to != "carol" {
		t.Fatalf("sent = %+v, want one reject to carol", sig.sent)
	}
	if got := ctrl.Session().PeerID; got != "alice" {
		t.Fatalf("busy offer displaced the session, peer = %q", got)
	}
}

func TestStartCallWhileBusyReturnsErrBusy(t *testing.T) {
	sig := &fakeSignaler{self: "alice"}
	fac := &fakeFactory{}
	ctrl := NewController("alice", sig, fac, log.Nop())

	if err := ctrl.StartCall(context.Background(), "bob"); err != nil {
		t.Fatalf("start call: %v", err)
	}
	if err := ctrl.StartCall(context.Background(), "carol"); !errors.Is(err, ErrBusy) {
		t.Fatalf("second start = %v, want ErrBusy", err)
	}
}

func TestRingTimeoutEndsUnreachable(t *testing.T) {
	sig := &fakeSignaler{self: "alice"}
	fac := &fakeFactory{}
	ctrl := NewController("alice", sig, fac, log.Nop(), WithRingTimeout(30*time.Millisecond))

	rec := newPhaseRecorder()
	ctrl.Watch(rec.watch)

	if err := ctrl.StartCall(context.Background(), "bob"); err != nil {
		t.Fatalf("start call: %v", err)
	}
	ended := rec.waitPhase(t, PhaseEnded)
	if ended.Reason != ReasonUnreachable {
		t.Fatalf("reason = %q, want unreachable", ended.Reason)
	}
	if !fac.last(t).isClosed() {
		t.Fatal("media should be released after ring timeout")
	}
	if sig.countKind("end") != 1 {
		t.Fatal("caller should signal termination when the ring expires")
	}
}

func TestIncomingRingTimeoutEndsMissed(t *testing.T) {
	sig := &fakeSignaler{self: "bob"}
	fac := &fakeFactory{}
	ctrl := NewController("bob", sig, fac, log.Nop(), WithRingTimeout(30*time.Millisecond))

	rec := newPhaseRecorder()
	ctrl.Watch(rec.watch)

	ctrl.HandleOffer(context.Background(), "alice", webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer"})
	ended := rec.waitPhase(t, PhaseEnded)
	if ended.Reason != ReasonMissed {
		t.Fatalf("reason = %q, want missed", ended.Reason)
	}
	if sig.countKind("end") != 0 {
		t.Fatal("callee must not signal termination for a missed ring")
	}
}

func TestEndCallIsIdempotent(t *testing.T) {
	sig := &fakeSignaler{self: "alice"}
	fac := &fakeFactory{}
	ctrl := NewController("alice", sig, fac, log.Nop())

	if err := ctrl.StartCall(context.Background(), "bob"); err != nil {
		t.Fatalf("start call: %v", err)
	}
	ctrl.EndCall(context.Background())
	ctrl.EndCall(context.Background())

	if n := sig.countKind("end"); n != 1 {
		t.Fatalf("terminate sent %d times, want 1", n)
	}
	if !fac.last(t).isClosed() {
		t.Fatal("media should be released on hangup")
	}
}

func TestRemoteEndDoesNotEcho(t *testing.T) {
	sig := &fakeSignaler{self: "alice"}
	fac := &fakeFactory{}
	ctrl := NewController("alice", sig, fac, log.Nop())

	if err := ctrl.StartCall(context.Background(), "bob"); err != nil {
		t.Fatalf("start call: %v", err)
	}
	ctrl.HandleRemoteEnd("bob")

	if n := sig.countKind("end"); n != 0 {
		t.Fatalf("terminate echoed %d times, want 0", n)
	}
	if got := ctrl.Session().Phase; got != PhaseIdle {
		t.Fatalf("phase = %q, want idle", got)
	}
}

func TestMediaAcquireFailureStaysIdle(t *testing.T) {
	sig := &fakeSignaler{self: "alice"}
	fac := &fakeFactory{err: errors.New("camera busy")}
	ctrl := NewController("alice", sig, fac, log.Nop())

	if err := ctrl.StartCall(context.Background(), "bob"); err == nil {
		t.Fatal("start call should surface the capture failure")
	}
	if got := ctrl.Session().Phase; got != PhaseIdle {
		t.Fatalf("phase = %q, want idle", got)
	}
	sig.mu.Lock()
	defer sig.mu.Unlock()
	if len(sig.sent) != 0 {
		t.Fatalf("signaling left the machine despite capture failure: %+v", sig.sent)
	}
}

func TestTransportFailureEndsSession(t *testing.T) {
	sig := &fakeSignaler{self: "alice"}
	fac := &fakeFactory{}
	ctrl := NewController("alice", sig, fac, log.Nop())

	rec := newPhaseRecorder()
	ctrl.Watch(rec.watch)

	if err := ctrl.StartCall(context.Background(), "bob"); err != nil {
		t.Fatalf("start call: %v", err)
	}
	ctrl.HandleAnswer(context.Background(), "bob", webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer"})

	fac.last(t).onState(TransportFailed)

	ended := rec.waitPhase(t, PhaseEnded)
	if ended.Reason != ReasonFailed {
		t.Fatalf("reason = %q, want failed", ended.Reason)
	}
	if sig.countKind("end") != 1 {
		t.Fatal("peer should be told the call failed")
	}
	if !fac.last(t).isClosed() {
		t.Fatal("media should be released after transport failure")
	}
}
