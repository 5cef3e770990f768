package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"bhabi-server/internal/bhabi"
)

// WSBroadcaster fans events out to every live connection. Events flow through
// a buffered channel into a single writer goroutine, which keeps broadcast
// order stable and means enqueuing never blocks game actions. A slow or dead
// socket only costs its own write timeout.
type WSBroadcaster struct {
	connections *ConnectionManager
	log         *zap.Logger
	events      chan ServerMessage
	done        chan struct{}

	mu     sync.RWMutex
	closed bool
}

const broadcastBuffer = 64

func NewWSBroadcaster(connections *ConnectionManager, log *zap.Logger) *WSBroadcaster {
	b := &WSBroadcaster{
		connections: connections,
		log:         log,
		events:      make(chan ServerMessage, broadcastBuffer),
		done:        make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *WSBroadcaster) BroadcastState(s *bhabi.Session) {
	b.enqueue(ServerMessage{Type: "game_state", Payload: s})
}

func (b *WSBroadcaster) BroadcastChat(msg bhabi.ChatMessage) {
	b.enqueue(ServerMessage{Type: "chat_message", Payload: msg})
}

func (b *WSBroadcaster) BroadcastEmoji(reaction bhabi.EmojiReaction) {
	b.enqueue(ServerMessage{Type: "emoji_reaction", Payload: reaction})
}

func (b *WSBroadcaster) enqueue(msg ServerMessage) {
	// Disconnect handlers can race shutdown; events after close are dropped.
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	select {
	case b.events <- msg:
		return
	default:
	}

	// The queue is full, so something has to go. The oldest queued event is
	// the most expendable one: a backlogged game_state is superseded by every
	// later snapshot, and shedding the oldest keeps a fresh chat_message from
	// being the event that gets lost.
	select {
	case evicted := <-b.events:
		b.log.Warn("broadcast queue full, evicted oldest event", zap.String("type", evicted.Type))
	default:
	}
	select {
	case b.events <- msg:
	default:
		b.log.Warn("broadcast queue full, dropping event", zap.String("type", msg.Type))
	}
}

func (b *WSBroadcaster) run() {
	defer close(b.done)
	for msg := range b.events {
		data, err := json.Marshal(msg)
		if err != nil {
			b.log.Error("failed to marshal broadcast", zap.String("type", msg.Type), zap.Error(err))
			continue
		}
		for id, conn := range b.connections.All() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				b.log.Debug("broadcast write failed",
					zap.String("connection_id", id),
					zap.Error(err),
				)
			}
			cancel()
		}
	}
}

// Close stops the writer goroutine after draining queued events.
func (b *WSBroadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	close(b.events)
	<-b.done
}
