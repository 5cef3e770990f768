package bhabi

import (
	"bhabi-server/internal/game"
)

// SessionID keys the single shared session in the store. There is exactly one
// logical game instance system-wide.
const SessionID = "main-game-session"

// MaxPlayers caps the table at eight seats.
const MaxPlayers = 8

type Status string

const (
	StatusLobby    Status = "LOBBY"
	StatusPlaying  Status = "PLAYING"
	StatusFinished Status = "FINISHED"
)

type Player struct {
	// ID is session-scoped and changes across reconnects. StableID survives
	// reconnects and keys stats recording; it may be empty for guests.
	ID            string      `json:"id"`
	StableID      string      `json:"stableId,omitempty"`
	Name          string      `json:"name"`
	Hand          []game.Card `json:"hand"`
	IsOut         bool        `json:"isOut"`
	IsConnected   bool        `json:"isConnected"`
	JoinOrder     int         `json:"order"`
	TholaReceived int         `json:"tholaReceivedThisGame"`
}

// Session is the single source of truth for the shared game. It round-trips
// through the store as one snapshot; every field must survive serialization.
type Session struct {
	Players     []*Player        `json:"players"`
	CurrentTurn string           `json:"currentTurn"`
	CurrentSuit game.Suit        `json:"currentSuit"`
	TableCards  []game.TableCard `json:"tableCards"`
	Status      Status           `json:"status"`
	WinnerOrder []string         `json:"winnerOrder"`
	Message     string           `json:"message"`

	// TrickSeq is the resolution token: it advances every time the table is
	// cleared, so a deferred settlement scheduled against an older value
	// detects staleness and no-ops.
	TrickSeq uint64 `json:"trickSeq"`
}

const waitingMessage = "Waiting for players..."

func NewSession() *Session {
	return &Session{
		Players:     make([]*Player, 0),
		CurrentSuit: game.NoSuit,
		TableCards:  make([]game.TableCard, 0),
		Status:      StatusLobby,
		WinnerOrder: make([]string, 0),
		Message:     waitingMessage,
	}
}

// Reset returns the session to an empty lobby. TrickSeq keeps advancing so
// settlements scheduled before the reset stay stale.
func (s *Session) Reset(message string) {
	seq := s.TrickSeq + 1
	*s = *NewSession()
	s.TrickSeq = seq
	s.Message = message
}

func (s *Session) FindPlayer(playerID string) *Player {
	for _, p := range s.Players {
		if p.ID == playerID {
			return p
		}
	}
	return nil
}

// ActivePlayers returns players still holding cards (not out).
func (s *Session) ActivePlayers() []*Player {
	active := make([]*Player, 0, len(s.Players))
	for _, p := range s.Players {
		if !p.IsOut {
			active = append(active, p)
		}
	}
	return active
}

// ConnectedActiveCount counts players who are both connected and not out;
// a trick completes when the table holds this many cards.
func (s *Session) ConnectedActiveCount() int {
	count := 0
	for _, p := range s.Players {
		if !p.IsOut && p.IsConnected {
			count++
		}
	}
	return count
}

// NextActivePlayer walks the seating order starting just after the given id,
// skipping players who are out or disconnected, wrapping around. Returns ""
// when no eligible player remains.
func (s *Session) NextActivePlayer(afterID string) string {
	if len(s.Players) == 0 {
		return ""
	}

	start := 0
	for i, p := range s.Players {
		if p.ID == afterID {
			start = i + 1
			break
		}
	}

	for i := range len(s.Players) {
		p := s.Players[(start+i)%len(s.Players)]
		if !p.IsOut && p.IsConnected {
			return p.ID
		}
	}
	return ""
}

// ClearTable ends the current trick and advances the resolution token.
func (s *Session) ClearTable() {
	s.TableCards = s.TableCards[:0]
	s.CurrentSuit = game.NoSuit
	s.TrickSeq++
}

// Clone deep-copies the session so broadcasting can proceed without holding
// the engine lock.
func (s *Session) Clone() *Session {
	c := *s
	c.Players = make([]*Player, len(s.Players))
	for i, p := range s.Players {
		cp := *p
		cp.Hand = append([]game.Card(nil), p.Hand...)
		c.Players[i] = &cp
	}
	c.TableCards = append([]game.TableCard(nil), s.TableCards...)
	c.WinnerOrder = append([]string(nil), s.WinnerOrder...)
	return &c
}
