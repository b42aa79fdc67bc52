package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/cliptube/signal-server/internal/proto"
)

const (
	defaultRegisterDebounce = 3 * time.Second
	defaultWriteTimeout     = 5 * time.Second

	initialBackoff = 250 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

// Handler receives the raw payload of one signaling event. Handlers for the
// same event fire in subscription order; cross-event ordering follows
// transport arrival order. All handlers run on the client's read goroutine,
// so they must not block.
type Handler func(data json.RawMessage)

// Subscription identifies one registered handler for removal.
type Subscription uint64

type subscription struct {
	id Subscription
	fn Handler
}

// Client owns exactly one relay connection. It registers the local identity,
// re-registers after every reconnect, and fans incoming events out to typed
// subscribers. Construct once per process and share the instance.
type Client struct {
	url      string
	log      *zerolog.Logger
	debounce time.Duration

	mu               sync.Mutex
	conn             *websocket.Conn
	userID           string
	lastRegisteredID string
	lastRegisterAt   time.Time
	handlers         map[string][]subscription
	nextSub          Subscription

	writeMu sync.Mutex

	presence *PresenceView
}

// Option customizes a Client.
type Option func(*Client)

// WithRegisterDebounce overrides the duplicate-registration window.
func WithRegisterDebounce(d time.Duration) Option {
	return func(c *Client) { c.debounce = d }
}

// New creates a signaling client for the given relay websocket URL.
// The connection is not opened until Run is called.
func New(url string, logger *zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		url:      url,
		log:      logger,
		debounce: defaultRegisterDebounce,
		handlers: make(map[string][]subscription),
		presence: newPresenceView(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Presence returns the view of the last presence snapshot.
func (c *Client) Presence() *PresenceView {
	return c.presence
}

// Run connects to the relay and services the connection until ctx is
// cancelled, reconnecting with backoff after transport failures. The local
// identity is re-registered after every reconnect.
func (c *Client) Run(ctx context.Context) error {
	backoff := initialBackoff

	for {
		conn, _, err := websocket.Dial(ctx, c.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn().Err(err).Dur("retry_in", backoff).Msg("signaling dial failed")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			if backoff *= 2; backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = initialBackoff

		c.mu.Lock()
		c.conn = conn
		// Reconnects always re-register; the debounce only guards
		// duplicate registrations on a live connection.
		c.lastRegisteredID = ""
		userID := c.userID
		c.mu.Unlock()

		if userID != "" {
			if err := c.Register(ctx, userID); err != nil {
				c.log.Warn().Err(err).Msg("re-register after reconnect failed")
			}
		}

		err = c.readLoop(ctx, conn)

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "closing")

		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn().Err(err).Msg("signaling connection lost, reconnecting")
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		var out proto.Outbound
		if err := wsjson.Read(ctx, conn, &out); err != nil {
			return err
		}

		switch out.Type {
		case proto.OutboundTypePresence:
			var data proto.PresenceData
			if err := json.Unmarshal(out.Data, &data); err != nil {
				c.log.Warn().Err(err).Msg("bad presence snapshot")
				continue
			}
			c.presence.replace(data.Online)
			c.dispatch(proto.TypePresenceUpdate, out.Data)
		case proto.OutboundTypeSignal:
			c.dispatch(out.Event, out.Data)
		case proto.OutboundTypeError:
			if out.Error != nil {
				c.log.Warn().Str("code", out.Error.Code).Str("msg", out.Error.Msg).Msg("relay error")
			}
		default:
			c.log.Debug().Str("type", out.Type).Msg("unknown outbound type")
		}
	}
}

func (c *Client) dispatch(event string, data json.RawMessage) {
	c.mu.Lock()
	subs := make([]subscription, len(c.handlers[event]))
	copy(subs, c.handlers[event])
	c.mu.Unlock()

	for _, s := range subs {
		s.fn(data)
	}
}

// On subscribes a handler to one event kind and returns a token for Off.
func (c *Client) On(event string, h Handler) Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextSub++
	c.handlers[event] = append(c.handlers[event], subscription{id: c.nextSub, fn: h})
	return c.nextSub
}

// Off removes a previously subscribed handler. Unknown tokens are a no-op.
func (c *Client) Off(event string, sub Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()

	subs := c.handlers[event]
	for i, s := range subs {
		if s.id == sub {
			c.handlers[event] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// SetUserID stores the local identity and registers it immediately if
// connected. The identity is re-registered automatically on reconnect.
func (c *Client) SetUserID(ctx context.Context, userID string) error {
	c.mu.Lock()
	c.userID = userID
	connected := c.conn != nil
	c.mu.Unlock()

	if !connected {
		return nil
	}
	return c.Register(ctx, userID)
}

// Register announces the identity to the relay. Repeat registrations for the
// same identity within the debounce window are suppressed; this is a traffic
// guard, the server tolerates duplicates idempotently.
func (c *Client) Register(ctx context.Context, userID string) error {
	c.mu.Lock()
	if c.lastRegisteredID == userID && time.Since(c.lastRegisterAt) < c.debounce {
		c.mu.Unlock()
		return nil
	}
	c.lastRegisteredID = userID
	c.lastRegisterAt = time.Now()
	c.mu.Unlock()

	return c.send(ctx, proto.InboundTypeRegister, proto.RegisterData{UserID: userID})
}

// InitiateCall sends the caller's offer toward the target. Fire-and-forget:
// a returned nil means the message was written, not that it was delivered.
func (c *Client) InitiateCall(ctx context.Context, target string, offer webrtc.SessionDescription, from string) error {
	return c.send(ctx, proto.TypeCallOffer, proto.OfferData{To: target, From: from, Offer: offer})
}

// AnswerCall sends the callee's answer back to the caller.
func (c *Client) AnswerCall(ctx context.Context, target string, answer webrtc.SessionDescription, from string) error {
	return c.send(ctx, proto.TypeCallAnswer, proto.AnswerData{To: target, From: from, Answer: answer})
}

// SendICECandidate forwards one network-path candidate to the peer.
func (c *Client) SendICECandidate(ctx context.Context, target string, candidate webrtc.ICECandidateInit, from string) error {
	return c.send(ctx, proto.TypeICECandidate, proto.CandidateData{To: target, From: from, Candidate: candidate})
}

// EndCall tells the peer the session is over.
func (c *Client) EndCall(ctx context.Context, target, from string) error {
	return c.send(ctx, proto.TypeCallEnd, proto.TerminateData{To: target, From: from})
}

// RejectCall declines a pending incoming offer.
func (c *Client) RejectCall(ctx context.Context, target, from string) error {
	return c.send(ctx, proto.TypeCallReject, proto.TerminateData{To: target, From: from})
}

func (c *Client) send(ctx context.Context, msgType string, data any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("signaling: not connected")
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msgType, err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := wsjson.Write(writeCtx, conn, proto.Inbound{Type: msgType, Data: payload}); err != nil {
		return fmt.Errorf("write %s: %w", msgType, err)
	}
	return nil
}
