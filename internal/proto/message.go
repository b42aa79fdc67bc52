package proto

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"
)

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	// Client -> server only.
	InboundTypeRegister = "register"

	// Signaling message kinds, relayed verbatim between peers.
	TypeCallOffer    = "call:offer"
	TypeCallAnswer   = "call:answer"
	TypeICECandidate = "ice-candidate"
	TypeCallEnd      = "call:end"
	TypeCallReject   = "call:reject"

	// Server -> all clients.
	TypePresenceUpdate = "presence:update"

	OutboundTypeSignal   = "signal"
	OutboundTypePresence = "presence"
	OutboundTypeError    = "error"
)

// RegisterData binds the connection to a user identity.
type RegisterData struct {
	UserID string `json:"userId"`
}

// OfferData carries the caller's proposed session description to the callee.
type OfferData struct {
	To    string                    `json:"to"`
	From  string                    `json:"from"`
	Offer webrtc.SessionDescription `json:"offer"`
}

// AnswerData carries the callee's accepted session description back to the caller.
type AnswerData struct {
	To     string                    `json:"to"`
	From   string                    `json:"from"`
	Answer webrtc.SessionDescription `json:"answer"`
}

// CandidateData carries one network-path candidate. Many may be sent per
// call, in any order, until the session is stable.
type CandidateData struct {
	To        string                  `json:"to"`
	From      string                  `json:"from"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

// TerminateData ends or rejects a pending or active call. Shared by
// call:end and call:reject; the envelope type disambiguates.
type TerminateData struct {
	To   string `json:"to"`
	From string `json:"from"`
}

// PresenceData is the full list of currently online user identities.
// Always a complete snapshot, never a delta.
type PresenceData struct {
	Online []string `json:"online"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string          `json:"type"`
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *Error          `json:"error,omitempty"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
