package call

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// TransportState is the coarse connection state of a media transport.
type TransportState int

const (
	TransportNew TransportState = iota
	TransportConnected
	TransportFailed
	TransportClosed
)

// MediaTransport is one peer connection carrying the call's media. The
// controller drives negotiation through it; the implementation owns capture
// devices and releases them on Close.
type MediaTransport interface {
	CreateOffer(ctx context.Context) (webrtc.SessionDescription, error)
	CreateAnswer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error

	// OnICECandidate registers the sink for locally gathered candidates.
	// The callback may fire from transport-internal goroutines.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnStateChange registers the sink for connection state transitions.
	OnStateChange(func(TransportState))

	// Close releases the transport and every capture resource it acquired.
	// Safe to call more than once.
	Close() error
}

// TransportFactory builds a fresh transport per session. Acquiring capture
// devices happens here, so a factory error means the call never leaves the
// local machine.
type TransportFactory interface {
	NewTransport(ctx context.Context) (MediaTransport, error)
}

// Signaler is the slice of the signaling client the controller needs.
type Signaler interface {
	InitiateCall(ctx context.Context, target string, offer webrtc.SessionDescription, from string) error
	AnswerCall(ctx context.Context, target string, answer webrtc.SessionDescription, from string) error
	SendICECandidate(ctx context.Context, target string, candidate webrtc.ICECandidateInit, from string) error
	EndCall(ctx context.Context, target, from string) error
	RejectCall(ctx context.Context, target, from string) error
}
