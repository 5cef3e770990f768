package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"bhabi-server/internal/game"
)

func (s *Server) RegisterRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.rootHandler)
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/stats", s.statsHandler)
	mux.HandleFunc("/websocket", s.websocketHandler)

	return s.corsMiddleware(mux)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		s.log.Error("failed to write response", zap.Error(err))
	}
}

func (s *Server) rootHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"message": "Bhabi Thola game server"})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		s.log.Error("health check failed", zap.Error(err))
		s.writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "degraded", Database: "down"})
		return
	}
	s.writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Database: "up"})
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	rows, err := s.store.Leaderboard(ctx, 20)
	if err != nil {
		s.log.Error("failed to load leaderboard", zap.Error(err))
		http.Error(w, "Failed to load stats", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, StatsResponse{Leaderboard: rows})
}

func (s *Server) websocketHandler(w http.ResponseWriter, r *http.Request) {
	socket, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		http.Error(w, "Failed to open websocket", http.StatusInternalServerError)
		return
	}
	defer socket.Close(websocket.StatusGoingAway, "Server closing")

	ctx := r.Context()

	// The connection id is the session-scoped player id for this socket's
	// lifetime; reconnecting players get a fresh one and rebind via join.
	connectionID := uuid.New().String()
	s.log.Info("new connection", zap.String("connection_id", connectionID))
	s.connections.Add(connectionID, socket)

	defer func() {
		s.connections.Remove(connectionID)
		s.limiter.RemoveConnection(connectionID)
		s.log.Info("connection closed", zap.String("connection_id", connectionID))

		dctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.engine.Disconnect(dctx, connectionID); err != nil {
			s.log.Error("failed to handle disconnect",
				zap.String("connection_id", connectionID),
				zap.Error(err),
			)
		}
	}()

	for {
		msgType, data, err := socket.Read(ctx)
		if err != nil {
			s.log.Debug("connection read ended",
				zap.String("connection_id", connectionID),
				zap.Error(err),
			)
			return
		}

		if msgType != websocket.MessageText {
			continue
		}

		if !s.limiter.Allow(connectionID) {
			s.sendError(socket, ctx, "RATE_LIMITED: Too many messages, slow down")
			continue
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.sendError(socket, ctx, "INVALID_PAYLOAD: Invalid JSON")
			continue
		}

		switch msg.Type {
		case "ping":
			s.sendMessage(socket, ctx, ServerMessage{Type: "pong", Payload: struct{}{}})

		case "join":
			s.handleJoin(socket, ctx, connectionID, msg.Payload)

		case "start_game":
			s.handleStartGame(socket, ctx, connectionID)

		case "play_card":
			s.handlePlayCard(socket, ctx, connectionID, msg.Payload)

		case "leave_game":
			s.handleLeaveGame(socket, ctx, connectionID)

		case "terminate_game":
			s.handleTerminateGame(socket, ctx, connectionID)

		case "send_message":
			s.handleChat(socket, ctx, connectionID, msg.Payload)

		case "send_emoji":
			s.handleEmoji(socket, ctx, connectionID, msg.Payload)

		default:
			s.sendError(socket, ctx, fmt.Sprintf("INVALID_MESSAGE_TYPE: Unknown message type '%s'", msg.Type))
		}
	}
}

func (s *Server) sendMessage(socket *websocket.Conn, ctx context.Context, msg ServerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}
	return socket.Write(ctx, websocket.MessageText, data)
}

func (s *Server) sendError(socket *websocket.Conn, ctx context.Context, msg string) {
	response := ServerMessage{
		Type:    "error",
		Payload: ErrorMessage{Message: msg},
	}
	if err := s.sendMessage(socket, ctx, response); err != nil {
		s.log.Error("failed to send error message", zap.Error(err))
	}
}

func (s *Server) handleJoin(socket *websocket.Conn, ctx context.Context, connectionID string, payload json.RawMessage) {
	var req JoinRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(socket, ctx, "INVALID_PAYLOAD: Invalid join payload")
		return
	}
	if err := ValidateName(req.Name); err != nil {
		s.sendError(socket, ctx, err.Error())
		return
	}

	if err := s.engine.Join(ctx, connectionID, req.Name, req.StableID); err != nil {
		s.sendError(socket, ctx, err.Error())
		return
	}

	// The joiner needs their own id; everyone else learns about the join from
	// the state broadcast.
	response := ServerMessage{
		Type:    "joined",
		Payload: JoinedResponse{PlayerID: connectionID},
	}
	if err := s.sendMessage(socket, ctx, response); err != nil {
		s.log.Error("failed to send joined response", zap.Error(err))
	}
}

func (s *Server) handleStartGame(socket *websocket.Conn, ctx context.Context, connectionID string) {
	if err := s.engine.StartGame(ctx, connectionID); err != nil {
		s.sendError(socket, ctx, err.Error())
	}
}

func (s *Server) handlePlayCard(socket *websocket.Conn, ctx context.Context, connectionID string, payload json.RawMessage) {
	var req PlayCardRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(socket, ctx, "INVALID_PAYLOAD: Invalid play_card payload")
		return
	}

	// Rebuild the card so a client cannot smuggle in a bogus rank value.
	card := game.NewCard(req.Card.Suit, req.Card.Rank)
	if card.Value == 0 {
		s.sendError(socket, ctx, "INVALID_PAYLOAD: Unknown card")
		return
	}

	if err := s.engine.PlayCard(ctx, connectionID, card); err != nil {
		s.sendError(socket, ctx, err.Error())
	}
}

func (s *Server) handleLeaveGame(socket *websocket.Conn, ctx context.Context, connectionID string) {
	if err := s.engine.Leave(ctx, connectionID); err != nil {
		s.sendError(socket, ctx, err.Error())
	}
}

func (s *Server) handleTerminateGame(socket *websocket.Conn, ctx context.Context, connectionID string) {
	if err := s.engine.Terminate(ctx, connectionID); err != nil {
		s.sendError(socket, ctx, err.Error())
	}
}

func (s *Server) handleChat(socket *websocket.Conn, ctx context.Context, connectionID string, payload json.RawMessage) {
	var req ChatRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(socket, ctx, "INVALID_PAYLOAD: Invalid send_message payload")
		return
	}
	if err := ValidateChatText(req.Text); err != nil {
		s.sendError(socket, ctx, err.Error())
		return
	}

	if err := s.engine.Chat(ctx, connectionID, req.Text); err != nil {
		s.sendError(socket, ctx, err.Error())
	}
}

func (s *Server) handleEmoji(socket *websocket.Conn, ctx context.Context, connectionID string, payload json.RawMessage) {
	var req EmojiRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(socket, ctx, "INVALID_PAYLOAD: Invalid send_emoji payload")
		return
	}
	if req.Emoji == "" {
		s.sendError(socket, ctx, "INVALID_PAYLOAD: Emoji cannot be empty")
		return
	}

	if err := s.engine.Emoji(ctx, connectionID, req.Emoji); err != nil {
		s.sendError(socket, ctx, err.Error())
	}
}
