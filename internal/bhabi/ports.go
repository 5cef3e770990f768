package bhabi

import "context"

// SessionStore reads and writes the single session snapshot. Load returns a
// fresh empty-lobby session when nothing has been persisted yet. The engine
// serializes Load/Save pairs, so implementations only need per-call safety.
type SessionStore interface {
	Load(ctx context.Context) (*Session, error)
	Save(ctx context.Context, s *Session) error
}

// Broadcaster fans state and pass-through events out to observers. Calls must
// not block the caller and their failures must not surface as game errors.
type Broadcaster interface {
	BroadcastState(s *Session)
	BroadcastChat(msg ChatMessage)
	BroadcastEmoji(reaction EmojiReaction)
}

// ResultRecorder persists per-player results when a game finishes. Invoked
// fire-and-forget; errors are logged and never reach game state.
type ResultRecorder interface {
	RecordGameResult(ctx context.Context, results []PlayerResult) error
}

// PlayerResult summarizes one seat at game end. Won means the player emptied
// their hand; the single player left holding cards is the bhabi.
type PlayerResult struct {
	StableID      string
	Name          string
	Won           bool
	TholaReceived int
}

// ChatMessage and EmojiReaction are pass-through events with no game
// semantics. They ride the broadcast sink and never touch the Session.
type ChatMessage struct {
	ID        string `json:"id"`
	Sender    string `json:"sender"`
	SenderID  string `json:"senderId"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

type EmojiReaction struct {
	SenderID string `json:"senderId"`
	Emoji    string `json:"emoji"`
}
