package call

// Phase is the lifecycle stage of a call session.
type Phase string

const (
	PhaseIdle            Phase = "idle"
	PhaseOutgoingRinging Phase = "outgoing_ringing"
	PhaseIncomingRinging Phase = "incoming_ringing"
	PhaseConnecting      Phase = "connecting"
	PhaseActive          Phase = "active"
	PhaseEnded           Phase = "ended"
)

// Role says which side of the call this peer is.
type Role string

const (
	RoleCaller Role = "caller"
	RoleCallee Role = "callee"
)

// EndReason explains why a session reached the ended phase.
type EndReason string

const (
	ReasonHangup      EndReason = "hangup"      // local or remote terminate
	ReasonDeclined    EndReason = "declined"    // callee rejected the offer
	ReasonUnreachable EndReason = "unreachable" // ring timeout expired
	ReasonFailed      EndReason = "failed"      // media transport failure
	ReasonMissed      EndReason = "missed"      // incoming ring expired unanswered
)
