// Package media implements the call transport on top of pion's WebRTC stack.
package media

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/cliptube/signal-server/internal/call"
)

// DefaultSTUNServers are used when no ICE servers are configured.
var DefaultSTUNServers = []string{"stun:stun.l.google.com:19302"}

// Factory builds one peer connection per call session.
type Factory struct {
	log *zerolog.Logger
	cfg webrtc.Configuration
}

// NewFactory creates a transport factory using the given STUN/TURN URLs.
func NewFactory(iceServers []string, logger *zerolog.Logger) *Factory {
	if len(iceServers) == 0 {
		iceServers = DefaultSTUNServers
	}
	return &Factory{
		log: logger,
		cfg: webrtc.Configuration{
			ICEServers: []webrtc.ICEServer{{URLs: iceServers}},
		},
	}
}

// NewTransport opens a fresh peer connection with bidirectional audio and
// video transceivers.
func (f *Factory) NewTransport(_ context.Context) (call.MediaTransport, error) {
	pc, err := webrtc.NewPeerConnection(f.cfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionSendrecv,
		}); err != nil {
			pc.Close()
			return nil, fmt.Errorf("add %s transceiver: %w", kind, err)
		}
	}

	t := &transport{log: f.log, pc: pc}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return // gathering finished
		}
		t.mu.Lock()
		fn := t.onCandidate
		t.mu.Unlock()
		if fn != nil {
			fn(c.ToJSON())
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		t.log.Debug().Str("state", state.String()).Msg("peer connection state")
		t.mu.Lock()
		fn := t.onState
		t.mu.Unlock()
		if fn == nil {
			return
		}
		switch state {
		case webrtc.PeerConnectionStateConnected:
			fn(call.TransportConnected)
		case webrtc.PeerConnectionStateFailed:
			fn(call.TransportFailed)
		case webrtc.PeerConnectionStateClosed:
			fn(call.TransportClosed)
		}
	})

	return t, nil
}

type transport struct {
	log *zerolog.Logger
	pc  *webrtc.PeerConnection

	mu          sync.Mutex
	onCandidate func(webrtc.ICECandidateInit)
	onState     func(call.TransportState)
}

func (t *transport) CreateOffer(context.Context) (webrtc.SessionDescription, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	// Candidates trickle through OnICECandidate; no gathering wait here.
	return offer, nil
}

func (t *transport) CreateAnswer(_ context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := t.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set remote description: %w", err)
	}
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return answer, nil
}

func (t *transport) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return t.pc.SetRemoteDescription(desc)
}

func (t *transport) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return t.pc.AddICECandidate(candidate)
}

func (t *transport) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	t.mu.Lock()
	t.onCandidate = fn
	t.mu.Unlock()
}

func (t *transport) OnStateChange(fn func(call.TransportState)) {
	t.mu.Lock()
	t.onState = fn
	t.mu.Unlock()
}

func (t *transport) Close() error {
	return t.pc.Close()
}
