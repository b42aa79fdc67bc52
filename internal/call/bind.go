package call

import (
	"context"
	"encoding/json"

	"github.com/cliptube/signal-server/internal/proto"
	"github.com/cliptube/signal-server/internal/signaling"
)

// BindSignaling subscribes the controller to the signaling events that drive
// a call session. The returned func unsubscribes everything; call it before
// discarding the controller.
func BindSignaling(ctx context.Context, ctrl *Controller, sc *signaling.Client) func() {
	type sub struct {
		event string
		token signaling.Subscription
	}
	var subs []sub

	on := func(event string, h signaling.Handler) {
		subs = append(subs, sub{event: event, token: sc.On(event, h)})
	}

	on(proto.TypeCallOffer, func(data json.RawMessage) {
		var offer proto.OfferData
		if err := json.Unmarshal(data, &offer); err != nil {
			ctrl.log.Warn().Err(err).Msg("bad offer payload")
			return
		}
		ctrl.HandleOffer(ctx, offer.From, offer.Offer)
	})

	on(proto.TypeCallAnswer, func(data json.RawMessage) {
		var answer proto.AnswerData
		if err := json.Unmarshal(data, &answer); err != nil {
			ctrl.log.Warn().Err(err).Msg("bad answer payload")
			return
		}
		ctrl.HandleAnswer(ctx, answer.From, answer.Answer)
	})

	on(proto.TypeICECandidate, func(data json.RawMessage) {
		var cand proto.CandidateData
		if err := json.Unmarshal(data, &cand); err != nil {
			ctrl.log.Warn().Err(err).Msg("bad candidate payload")
			return
		}
		ctrl.HandleCandidate(cand.From, cand.Candidate)
	})

	on(proto.TypeCallEnd, func(data json.RawMessage) {
		var term proto.TerminateData
		if err := json.Unmarshal(data, &term); err != nil {
			ctrl.log.Warn().Err(err).Msg("bad terminate payload")
			return
		}
		ctrl.HandleRemoteEnd(term.From)
	})

	on(proto.TypeCallReject, func(data json.RawMessage) {
		var term proto.TerminateData
		if err := json.Unmarshal(data, &term); err != nil {
			ctrl.log.Warn().Err(err).Msg("bad reject payload")
			return
		}
		ctrl.HandleRemoteReject(term.From)
	})

	return func() {
		for _, s := range subs {
			sc.Off(s.event, s.token)
		}
	}
}
