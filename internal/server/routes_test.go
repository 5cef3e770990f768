package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"bhabi-server/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Server:  config.ServerConfig{Port: 0},
		Logging: config.LoggingConfig{Level: "error", Format: "json"},
		Game: config.GameConfig{
			SettleDelay: 10 * time.Millisecond,
			RateLimit:   100,
		},
	}
}

// setupTestServer starts the full stack on the in-memory store and returns
// the websocket url.
func setupTestServer(t *testing.T, cfg *config.Config) (*Server, string, func()) {
	t.Helper()

	s, _, err := New(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to build server: %v", err)
	}

	ts := httptest.NewServer(s.RegisterRoutes())
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/websocket"
	cleanup := func() {
		ts.Close()
		s.Shutdown(context.Background())
	}
	return s, wsURL, cleanup
}

func sendClientMessage(t *testing.T, conn *websocket.Conn, ctx context.Context, msgType string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	data, err := json.Marshal(ClientMessage{Type: msgType, Payload: raw})
	if err != nil {
		t.Fatalf("marshal message: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write %s: %v", msgType, err)
	}
}

func readServerMessage(t *testing.T, conn *websocket.Conn, ctx context.Context) ServerMessage {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg ServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal server message: %v", err)
	}
	return msg
}

// readUntil reads messages until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, ctx context.Context, msgType string) ServerMessage {
	t.Helper()
	deadline, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for {
		msg := readServerMessage(t, conn, deadline)
		if msg.Type == msgType {
			return msg
		}
	}
}

func TestRootHandler(t *testing.T) {
	assert := assert.New(t)
	s, _, cleanup := setupTestServer(t, testConfig())
	defer cleanup()

	ts := httptest.NewServer(http.HandlerFunc(s.rootHandler))
	defer ts.Close()

	resp, err := http.Get(ts.URL)
	assert.NoError(err)
	defer resp.Body.Close()

	assert.Equal(http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	assert.NoError(err)
	assert.JSONEq(`{"message":"Bhabi Thola game server"}`, string(body))
}

func TestHealthHandler(t *testing.T) {
	assert := assert.New(t)
	s, _, cleanup := setupTestServer(t, testConfig())
	defer cleanup()

	ts := httptest.NewServer(http.HandlerFunc(s.healthHandler))
	defer ts.Close()

	resp, err := http.Get(ts.URL)
	assert.NoError(err)
	defer resp.Body.Close()

	assert.Equal(http.StatusOK, resp.StatusCode)

	var health HealthResponse
	assert.NoError(json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal("ok", health.Status)
	assert.Equal("up", health.Database)
}

func TestStatsHandler_Empty(t *testing.T) {
	assert := assert.New(t)
	s, _, cleanup := setupTestServer(t, testConfig())
	defer cleanup()

	ts := httptest.NewServer(http.HandlerFunc(s.statsHandler))
	defer ts.Close()

	resp, err := http.Get(ts.URL)
	assert.NoError(err)
	defer resp.Body.Close()

	assert.Equal(http.StatusOK, resp.StatusCode)

	var stats StatsResponse
	assert.NoError(json.NewDecoder(resp.Body).Decode(&stats))
	assert.Empty(stats.Leaderboard)
}

func TestWebSocketPingPong(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	_, url, cleanup := setupTestServer(t, testConfig())
	defer cleanup()

	conn, _, err := websocket.Dial(ctx, url, nil)
	assert.NoError(err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	sendClientMessage(t, conn, ctx, "ping", struct{}{})
	msg := readServerMessage(t, conn, ctx)
	assert.Equal("pong", msg.Type)
}

func TestWebSocketInvalidJSON(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	_, url, cleanup := setupTestServer(t, testConfig())
	defer cleanup()

	conn, _, err := websocket.Dial(ctx, url, nil)
	assert.NoError(err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	assert.NoError(conn.Write(ctx, websocket.MessageText, []byte("junk")))
	msg := readServerMessage(t, conn, ctx)
	assert.Equal("error", msg.Type)

	// Connection survives bad input
	sendClientMessage(t, conn, ctx, "ping", struct{}{})
	msg = readUntil(t, conn, ctx, "pong")
	assert.Equal("pong", msg.Type)
}

func TestWebSocketUnknownMessageType(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	_, url, cleanup := setupTestServer(t, testConfig())
	defer cleanup()

	conn, _, err := websocket.Dial(ctx, url, nil)
	assert.NoError(err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	sendClientMessage(t, conn, ctx, "do_a_flip", struct{}{})
	msg := readServerMessage(t, conn, ctx)
	assert.Equal("error", msg.Type)

	var errPayload ErrorMessage
	raw, _ := json.Marshal(msg.Payload)
	assert.NoError(json.Unmarshal(raw, &errPayload))
	assert.Contains(errPayload.Message, "INVALID_MESSAGE_TYPE")
}

func TestWebSocketJoinFlow(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	_, url, cleanup := setupTestServer(t, testConfig())
	defer cleanup()

	conn, _, err := websocket.Dial(ctx, url, nil)
	assert.NoError(err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	sendClientMessage(t, conn, ctx, "join", JoinRequest{Name: "alice"})

	// The joiner gets their id directly, plus the state broadcast
	joined := readUntil(t, conn, ctx, "joined")
	var resp JoinedResponse
	raw, _ := json.Marshal(joined.Payload)
	assert.NoError(json.Unmarshal(raw, &resp))
	assert.NotEmpty(resp.PlayerID)

	state := readUntil(t, conn, ctx, "game_state")
	var payload struct {
		Players []struct {
			Name string `json:"name"`
		} `json:"players"`
		Status string `json:"status"`
	}
	raw, _ = json.Marshal(state.Payload)
	assert.NoError(json.Unmarshal(raw, &payload))
	assert.Equal("LOBBY", payload.Status)
	assert.Equal(1, len(payload.Players))
	assert.Equal("alice", payload.Players[0].Name)
}

func TestWebSocketJoinInvalidName(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	_, url, cleanup := setupTestServer(t, testConfig())
	defer cleanup()

	conn, _, err := websocket.Dial(ctx, url, nil)
	assert.NoError(err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	sendClientMessage(t, conn, ctx, "join", JoinRequest{Name: ""})
	msg := readServerMessage(t, conn, ctx)
	assert.Equal("error", msg.Type)
}

func TestWebSocketPlayWithoutJoin(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	_, url, cleanup := setupTestServer(t, testConfig())
	defer cleanup()

	conn, _, err := websocket.Dial(ctx, url, nil)
	assert.NoError(err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	sendClientMessage(t, conn, ctx, "play_card", PlayCardRequest{})
	msg := readServerMessage(t, conn, ctx)
	assert.Equal("error", msg.Type)
}

func TestWebSocketChatBroadcast(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	_, url, cleanup := setupTestServer(t, testConfig())
	defer cleanup()

	alice, _, err := websocket.Dial(ctx, url, nil)
	assert.NoError(err)
	defer alice.Close(websocket.StatusNormalClosure, "")
	bob, _, err := websocket.Dial(ctx, url, nil)
	assert.NoError(err)
	defer bob.Close(websocket.StatusNormalClosure, "")

	sendClientMessage(t, alice, ctx, "join", JoinRequest{Name: "alice"})
	readUntil(t, alice, ctx, "joined")
	sendClientMessage(t, bob, ctx, "join", JoinRequest{Name: "bob"})
	readUntil(t, bob, ctx, "joined")

	sendClientMessage(t, alice, ctx, "send_message", ChatRequest{Text: "hello table"})

	chat := readUntil(t, bob, ctx, "chat_message")
	var payload struct {
		Sender string `json:"sender"`
		Text   string `json:"text"`
	}
	raw, _ := json.Marshal(chat.Payload)
	assert.NoError(json.Unmarshal(raw, &payload))
	assert.Equal("alice", payload.Sender)
	assert.Equal("hello table", payload.Text)
}

func TestWebSocketRateLimiting(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	cfg := testConfig()
	cfg.Game.RateLimit = 2
	_, url, cleanup := setupTestServer(t, cfg)
	defer cleanup()

	conn, _, err := websocket.Dial(ctx, url, nil)
	assert.NoError(err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	for range 5 {
		sendClientMessage(t, conn, ctx, "ping", struct{}{})
	}

	limited := false
	deadline, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for range 5 {
		msg := readServerMessage(t, conn, deadline)
		if msg.Type != "error" {
			continue
		}
		var errPayload ErrorMessage
		raw, _ := json.Marshal(msg.Payload)
		assert.NoError(json.Unmarshal(raw, &errPayload))
		if strings.Contains(errPayload.Message, "RATE_LIMITED") {
			limited = true
			break
		}
	}
	assert.True(limited, "burst over the limit should trip the rate limiter")
}
