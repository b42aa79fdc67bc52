package relay

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cliptube/signal-server/internal/proto"
)

// Registry tracks which user identities are currently reachable and relays
// signaling messages between them. It is the only shared mutable state on
// the server: mutated by Register/Detach, read by Relay and presence
// snapshots. Not persisted; rebuilt from scratch on restart.
type Registry struct {
	log *zerolog.Logger

	mu      sync.Mutex
	byUser  map[string]*Client
	userOf  map[*Client]string
	clients map[*Client]struct{}
}

// NewRegistry constructs an empty presence registry.
func NewRegistry(logger *zerolog.Logger) *Registry {
	return &Registry{
		log:     logger,
		byUser:  make(map[string]*Client),
		userOf:  make(map[*Client]string),
		clients: make(map[*Client]struct{}),
	}
}

// Attach records a new connection. The connection is not addressable until
// it registers a user identity.
func (r *Registry) Attach(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c] = struct{}{}
}

// Register binds the connection to a user identity, replacing any prior
// binding for that identity. The superseded connection stays open but is no
// longer addressable. Triggers a presence broadcast.
func (r *Registry) Register(c *Client, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.userOf[c] == userID {
		// Duplicate registration from the same connection, tolerated.
		r.broadcastPresenceLocked()
		return
	}

	if prevUser, ok := r.userOf[c]; ok && r.byUser[prevUser] == c {
		delete(r.byUser, prevUser)
	}

	if prev, ok := r.byUser[userID]; ok && prev != c {
		delete(r.userOf, prev)
		r.log.Debug().Str("user_id", userID).Msg("registration superseded")
	}

	r.byUser[userID] = c
	r.userOf[c] = userID
	r.log.Info().Str("user_id", userID).Str("conn_id", c.ID).Msg("user registered")

	r.broadcastPresenceLocked()
}

// Detach removes the connection and, if it still holds the current binding
// for its identity, frees that identity. Triggers a presence broadcast.
func (r *Registry) Detach(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[c]; !ok {
		return
	}
	delete(r.clients, c)

	if userID, ok := r.userOf[c]; ok {
		delete(r.userOf, c)
		if r.byUser[userID] == c {
			delete(r.byUser, userID)
			r.log.Info().Str("user_id", userID).Msg("user disconnected")
		}
	}

	r.broadcastPresenceLocked()
}

// Relay forwards a signaling payload verbatim to the addressed identity's
// current connection. An unknown or offline target is a silent drop, not an
// error; the caller's own ringing timeout is the only detection mechanism.
func (r *Registry) Relay(event, to string, data json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	target, ok := r.byUser[to]
	if !ok {
		r.log.Debug().Str("event", event).Str("to", to).Msg("relay target offline, dropping")
		return
	}

	out := proto.Outbound{
		Type:  proto.OutboundTypeSignal,
		Event: event,
		Data:  data,
	}
	if !target.send(out) {
		r.log.Warn().Str("event", event).Str("to", to).Msg("relay target queue full, dropping")
	}
}

// Online returns the sorted list of currently registered identities.
func (r *Registry) Online() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.onlineLocked()
}

func (r *Registry) onlineLocked() []string {
	online := make([]string, 0, len(r.byUser))
	for userID := range r.byUser {
		online = append(online, userID)
	}
	sort.Strings(online)
	return online
}

// broadcastPresenceLocked pushes the full online snapshot to every attached
// connection, registered or not. Pushing under the registry lock keeps each
// connection's sequence of snapshots monotonic.
func (r *Registry) broadcastPresenceLocked() {
	data, err := json.Marshal(proto.PresenceData{Online: r.onlineLocked()})
	if err != nil {
		r.log.Error().Err(err).Msg("marshal presence snapshot")
		return
	}

	out := proto.Outbound{
		Type:  proto.OutboundTypePresence,
		Event: proto.TypePresenceUpdate,
		Data:  data,
	}
	for c := range r.clients {
		if !c.send(out) {
			r.log.Warn().Str("conn_id", c.ID).Msg("presence queue full, dropping snapshot")
		}
	}
}
