package http

import (
	"encoding/json"

	"github.com/cliptube/signal-server/internal/proto"
)

// wsAction is the decoded intent of one inbound message: either bind an
// identity or relay a signaling payload.
type wsAction struct {
	registerID string
	event      string
	to         string
	data       json.RawMessage
}

func inboundToAction(inbound proto.Inbound) (wsAction, *proto.Error, error) {
	switch inbound.Type {
	case proto.InboundTypeRegister:
		var reg proto.RegisterData
		if err := json.Unmarshal(inbound.Data, &reg); err != nil {
			return wsAction{}, nil, err
		}
		if reg.UserID == "" {
			return wsAction{}, &proto.Error{Code: "bad_request", Msg: "userId is required"}, nil
		}
		return wsAction{registerID: reg.UserID}, nil, nil

	case proto.TypeCallOffer, proto.TypeCallAnswer, proto.TypeICECandidate,
		proto.TypeCallEnd, proto.TypeCallReject:
		// The relay forwards payloads verbatim; only the address is inspected.
		var addr struct {
			To string `json:"to"`
		}
		if err := json.Unmarshal(inbound.Data, &addr); err != nil {
			return wsAction{}, nil, err
		}
		if addr.To == "" {
			return wsAction{}, &proto.Error{Code: "bad_request", Msg: "to is required"}, nil
		}
		return wsAction{event: inbound.Type, to: addr.To, data: inbound.Data}, nil, nil

	default:
		return wsAction{}, &proto.Error{Code: "invalid_message", Msg: "unknown message type"}, nil
	}
}
