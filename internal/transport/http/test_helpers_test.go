package http

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/cliptube/signal-server/internal/auth"
	"github.com/cliptube/signal-server/internal/config"
	"github.com/cliptube/signal-server/internal/log"
	"github.com/cliptube/signal-server/internal/proto"
	"github.com/cliptube/signal-server/internal/relay"
	"github.com/cliptube/signal-server/internal/store"
	"github.com/cliptube/signal-server/internal/store/sqlite"
)

func testJWTConfig() *auth.JWTConfig {
	return &auth.JWTConfig{
		Secret:   []byte("test-secret"),
		Issuer:   "test",
		Audience: "test-clients",
		TTL:      time.Hour,
	}
}

// startTestServer spins up the full HTTP surface over an in-memory store.
func startTestServer(t *testing.T) (*httptest.Server, store.Store, *auth.JWTConfig) {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("create test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	registry := relay.NewRegistry(log.Nop())
	jwtConfig := testJWTConfig()

	server := NewServer(registry, st, jwtConfig, config.Config{
		Addr:              ":0",
		ReadHeaderTimeout: time.Second,
	}, log.Nop())

	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return ts, st, jwtConfig
}

func dialWS(ctx context.Context, t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()

	wsURL := strings.Replace(ts.URL, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

func sendInbound(ctx context.Context, t *testing.T, conn *websocket.Conn, msgType string, data any) {
	t.Helper()

	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal %s data: %v", msgType, err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: msgType, Data: payload}); err != nil {
		t.Fatalf("write %s: %v", msgType, err)
	}
}

func registerUser(ctx context.Context, t *testing.T, conn *websocket.Conn, userID string) {
	t.Helper()
	sendInbound(ctx, t, conn, proto.InboundTypeRegister, proto.RegisterData{UserID: userID})
}

// readUntilEvent discards messages until one with the wanted event arrives.
func readUntilEvent(ctx context.Context, t *testing.T, conn *websocket.Conn, event string) proto.Outbound {
	t.Helper()

	for {
		var out proto.Outbound
		if err := wsjson.Read(ctx, conn, &out); err != nil {
			t.Fatalf("read waiting for %q: %v", event, err)
		}
		if out.Event == event {
			return out
		}
	}
}

// waitForPresence reads presence snapshots until cond is satisfied.
func waitForPresence(ctx context.Context, t *testing.T, conn *websocket.Conn, cond func([]string) bool) []string {
	t.Helper()

	for {
		out := readUntilEvent(ctx, t, conn, proto.TypePresenceUpdate)
		var data proto.PresenceData
		if err := json.Unmarshal(out.Data, &data); err != nil {
			t.Fatalf("unmarshal presence: %v", err)
		}
		if cond(data.Online) {
			return data.Online
		}
	}
}

func hasUser(online []string, id string) bool {
	for _, u := range online {
		if u == id {
			return true
		}
	}
	return false
}
