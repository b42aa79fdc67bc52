package relay

import (
	"github.com/google/uuid"

	"github.com/cliptube/signal-server/internal/proto"
)

// Client is one relay connection as seen by the registry. Events is the
// ordered outbound queue drained by the connection's write loop; pushing
// through it is what serializes delivery per target connection.
type Client struct {
	ID     string
	Events chan proto.Outbound
}

// NewClient constructs a connection handle with an initialized event queue.
func NewClient() *Client {
	return &Client{
		ID:     uuid.NewString(),
		Events: make(chan proto.Outbound, 32),
	}
}

// send enqueues without blocking. A slow consumer loses the message rather
// than stalling the registry.
func (c *Client) send(out proto.Outbound) bool {
	select {
	case c.Events <- out:
		return true
	default:
		return false
	}
}
