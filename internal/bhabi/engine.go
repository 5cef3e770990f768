package bhabi

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"bhabi-server/internal/game"
)

// Engine orchestrates every action against the shared session. All player
// actions and deferred settlements funnel through one mutex-guarded
// load-mutate-save cycle, so each action applies atomically and concurrent
// callers never observe half-applied state.
type Engine struct {
	store       SessionStore
	broadcaster Broadcaster
	recorder    ResultRecorder
	settleDelay time.Duration
	log         *zap.Logger

	mu sync.Mutex
}

func NewEngine(store SessionStore, broadcaster Broadcaster, recorder ResultRecorder, settleDelay time.Duration, log *zap.Logger) *Engine {
	return &Engine{
		store:       store,
		broadcaster: broadcaster,
		recorder:    recorder,
		settleDelay: settleDelay,
		log:         log,
	}
}

// persist saves the mutated session and hands a detached copy to the
// broadcaster. Save failure means the action did not take effect; nothing is
// broadcast and the caller reports the failure upstream.
func (e *Engine) persist(ctx context.Context, s *Session) error {
	if err := e.store.Save(ctx, s); err != nil {
		e.log.Error("failed to persist session", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}
	e.broadcaster.BroadcastState(s.Clone())
	return nil
}

// Join adds a new player in the lobby, or rebinds an existing identity to a
// new session-scoped id (reconnection). Rebinding is idempotent and works in
// any status so a player can return mid-game.
func (e *Engine) Join(ctx context.Context, playerID, name, stableID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := e.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}

	if existing := findIdentity(s, name, stableID); existing != nil {
		oldID := existing.ID
		if s.CurrentTurn == oldID {
			s.CurrentTurn = playerID
		}
		for i := range s.TableCards {
			if s.TableCards[i].PlayerID == oldID {
				s.TableCards[i].PlayerID = playerID
			}
		}
		for i := range s.WinnerOrder {
			if s.WinnerOrder[i] == oldID {
				s.WinnerOrder[i] = playerID
			}
		}
		existing.ID = playerID
		existing.IsConnected = true
		if oldID == playerID {
			s.Message = fmt.Sprintf("%s is ready!", name)
		} else {
			s.Message = fmt.Sprintf("%s reconnected!", name)
			e.log.Info("player reconnected",
				zap.String("name", name),
				zap.String("old_id", oldID),
				zap.String("new_id", playerID),
			)
		}
		return e.persist(ctx, s)
	}

	if s.Status != StatusLobby {
		return ErrGameInProgress
	}
	if len(s.Players) >= MaxPlayers {
		return ErrRoomFull
	}

	s.Players = append(s.Players, &Player{
		ID:          playerID,
		StableID:    stableID,
		Name:        name,
		Hand:        make([]game.Card, 0),
		IsConnected: true,
		JoinOrder:   len(s.Players),
	})
	s.Message = fmt.Sprintf("%s joined!", name)
	e.log.Info("player joined", zap.String("name", name), zap.String("id", playerID))
	return e.persist(ctx, s)
}

// findIdentity matches a returning player by stable id when available,
// falling back to display name for guests.
func findIdentity(s *Session, name, stableID string) *Player {
	for _, p := range s.Players {
		if stableID != "" && p.StableID == stableID {
			return p
		}
		if stableID == "" && p.Name == name {
			return p
		}
	}
	return nil
}

// StartGame deals and begins play. Host privilege is positional: only the
// player in seat 0 may start.
func (e *Engine) StartGame(ctx context.Context, playerID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := e.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}

	if s.Status == StatusPlaying {
		return ErrGameAlreadyGoing
	}
	if len(s.Players) < 2 {
		return ErrNotEnoughPlayers
	}
	if s.Players[0].ID != playerID {
		return ErrNotHost
	}

	hands := game.DealHands(len(s.Players))
	for i, p := range s.Players {
		p.Hand = hands[i]
		p.IsOut = false
		p.TholaReceived = 0
	}

	s.Status = StatusPlaying
	s.CurrentTurn = s.Players[game.StartingSeat(hands)].ID
	s.ClearTable()
	s.WinnerOrder = s.WinnerOrder[:0]
	s.Message = "Game Started! ACE of SPADES starts."
	e.log.Info("game started", zap.Int("players", len(s.Players)))
	return e.persist(ctx, s)
}

// PlayCard validates and applies one play, then either settles a thola
// (branch A), settles a completed trick (branch B), or passes the turn
// (branch C). Branches A and B publish the table immediately and defer the
// actual resolution behind the settle delay.
func (e *Engine) PlayCard(ctx context.Context, playerID string, card game.Card) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := e.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}

	player := s.FindPlayer(playerID)
	if player == nil {
		return ErrPlayerNotFound
	}
	if s.Status != StatusPlaying || s.CurrentTurn != playerID {
		return ErrNotYourTurn
	}

	held := -1
	for i, c := range player.Hand {
		if c.Equals(card) {
			held = i
			break
		}
	}
	if held == -1 {
		return ErrCardNotHeld
	}
	played := player.Hand[held]
	if !game.IsLegalMove(player.Hand, played, s.CurrentSuit) {
		return ErrIllegalMove
	}

	player.Hand = append(player.Hand[:held], player.Hand[held+1:]...)
	s.TableCards = append(s.TableCards, game.TableCard{PlayerID: playerID, Card: played})
	if s.CurrentSuit == game.NoSuit {
		s.CurrentSuit = played.Suit
	}

	// Branch A: off-suit discard (thola)
	if played.Suit != s.CurrentSuit {
		recipientID, ok := game.HighestOfSuit(s.CurrentSuit, s.TableCards)
		if recipient := s.FindPlayer(recipientID); ok && recipient != nil {
			s.Message = fmt.Sprintf("%s gave THOLA to %s!", player.Name, recipient.Name)
		}
		s.CurrentTurn = "" // pause interactions until settlement
		e.scheduleSettle(s.TrickSeq, e.settleThola)
		return e.persist(ctx, s)
	}

	// Branch B: trick complete, everyone followed suit
	if len(s.TableCards) >= s.ConnectedActiveCount() {
		winnerID, _ := game.HighestOfSuit(s.CurrentSuit, s.TableCards)
		if winner := s.FindPlayer(winnerID); winner != nil {
			s.Message = fmt.Sprintf("%s won the trick.", winner.Name)
		}
		s.CurrentTurn = ""
		e.scheduleSettle(s.TrickSeq, e.settleTrick)
		return e.persist(ctx, s)
	}

	// Branch C: trick continues
	s.CurrentTurn = s.NextActivePlayer(playerID)
	e.checkWinners(s)
	return e.persist(ctx, s)
}

// scheduleSettle arms the deferred resolution. The token pins the trick the
// settlement belongs to; by the time the timer fires the session may have
// moved on, in which case the settlement must be a silent no-op.
func (e *Engine) scheduleSettle(token uint64, settle func(token uint64)) {
	time.AfterFunc(e.settleDelay, func() {
		settle(token)
	})
}

// settleGuard reloads the session and checks the resolution token. A stale
// token means the trick was already resolved (or the session reset); the
// settlement is skipped.
func (e *Engine) settleGuard(ctx context.Context, token uint64) (*Session, bool) {
	s, err := e.store.Load(ctx)
	if err != nil {
		e.log.Error("settlement could not load session", zap.Error(err))
		return nil, false
	}
	if s.TrickSeq != token || len(s.TableCards) == 0 {
		e.log.Debug("stale settlement skipped",
			zap.Uint64("token", token),
			zap.Uint64("trick_seq", s.TrickSeq),
		)
		return nil, false
	}
	return s, true
}

// settleThola transfers the whole table to the holder of the highest card of
// the led suit. A recipient who was already out re-enters play and loses
// their slot in the winner order.
func (e *Engine) settleThola(token uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, ok := e.settleGuard(ctx, token)
	if !ok {
		return
	}

	// Recompute from current state: a reconnect may have remapped the ids
	// on the table since the thola was played.
	recipientID, ok := game.HighestOfSuit(s.CurrentSuit, s.TableCards)
	recipient := s.FindPlayer(recipientID)
	if !ok || recipient == nil {
		// No one left to receive the table. The trick is void; clear it and
		// resume play rather than stranding the session with no turn holder.
		s.ClearTable()
		if s.Status == StatusPlaying {
			s.CurrentTurn = s.NextActivePlayer(s.CurrentTurn)
		}
		if err := e.persist(ctx, s); err != nil {
			e.log.Error("thola settlement not persisted", zap.Error(err))
		}
		return
	}

	for _, tc := range s.TableCards {
		recipient.Hand = append(recipient.Hand, tc.Card)
	}
	recipient.TholaReceived++
	if recipient.IsOut {
		recipient.IsOut = false
		s.WinnerOrder = removeID(s.WinnerOrder, recipient.ID)
	}

	e.checkWinners(s)
	received := len(s.TableCards)
	s.ClearTable()
	if s.Status == StatusPlaying {
		s.CurrentTurn = recipient.ID
		s.Message = fmt.Sprintf("%s received %d card(s)!", recipient.Name, received)
	}

	if err := e.persist(ctx, s); err != nil {
		e.log.Error("thola settlement not persisted", zap.Error(err))
	}
}

// settleTrick clears a completed trick and hands the turn to the winner. If
// the winner went out playing their final card the turn skips to the next
// active seat.
func (e *Engine) settleTrick(token uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, ok := e.settleGuard(ctx, token)
	if !ok {
		return
	}

	winnerID, ok := game.HighestOfSuit(s.CurrentSuit, s.TableCards)
	if !ok {
		return
	}

	e.checkWinners(s)
	s.ClearTable()
	if s.Status != StatusPlaying {
		if err := e.persist(ctx, s); err != nil {
			e.log.Error("trick settlement not persisted", zap.Error(err))
		}
		return
	}

	winner := s.FindPlayer(winnerID)
	if winner == nil || winner.IsOut {
		s.CurrentTurn = s.NextActivePlayer(winnerID)
		if next := s.FindPlayer(s.CurrentTurn); next != nil {
			name := "The winner"
			if winner != nil {
				name = winner.Name
			}
			s.Message = fmt.Sprintf("%s won the trick but is OUT. Turn passes to %s.", name, next.Name)
		}
	} else {
		s.CurrentTurn = winnerID
		s.Message = fmt.Sprintf("%s's turn", winner.Name)
	}

	if err := e.persist(ctx, s); err != nil {
		e.log.Error("trick settlement not persisted", zap.Error(err))
	}
}

// checkWinners marks every player whose hand just emptied as out (they
// survived) and finishes the game when a single player is left holding
// cards: the bhabi. Result recording is fire-and-forget.
func (e *Engine) checkWinners(s *Session) {
	for _, p := range s.Players {
		if !p.IsOut && len(p.Hand) == 0 {
			p.IsOut = true
			s.WinnerOrder = append(s.WinnerOrder, p.ID)
			s.Message = fmt.Sprintf("%s cleared all cards!", p.Name)
		}
	}

	active := s.ActivePlayers()
	if s.Status == StatusPlaying && len(active) == 1 {
		bhabi := active[0]
		s.Status = StatusFinished
		s.CurrentTurn = ""
		s.Message = fmt.Sprintf("GAME OVER! %s is the BHABI!", bhabi.Name)
		e.log.Info("game finished", zap.String("bhabi", bhabi.Name))

		results := make([]PlayerResult, 0, len(s.Players))
		for _, p := range s.Players {
			results = append(results, PlayerResult{
				StableID:      p.StableID,
				Name:          p.Name,
				Won:           p.IsOut,
				TholaReceived: p.TholaReceived,
			})
		}
		go e.recordResults(results)
	}
}

func (e *Engine) recordResults(results []PlayerResult) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := e.recorder.RecordGameResult(ctx, results); err != nil {
		e.log.Error("failed to record game results", zap.Error(err))
	}
}

// Leave removes a player entirely, dropping any cards they have on the table.
// The game collapses back to the lobby when fewer than two players remain.
func (e *Engine) Leave(ctx context.Context, playerID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := e.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}

	leaving := s.FindPlayer(playerID)
	if leaving == nil {
		return ErrPlayerNotFound
	}

	nextID := ""
	if s.CurrentTurn == playerID && s.Status == StatusPlaying {
		nextID = s.NextActivePlayer(playerID)
	}

	s.Players = removePlayer(s.Players, playerID)
	s.TableCards = removeTableCards(s.TableCards, playerID)
	s.WinnerOrder = removeID(s.WinnerOrder, playerID)
	if nextID != "" {
		s.CurrentTurn = nextID
	}

	// The leaver may have taken the last card of the led suit with them,
	// leaving nothing for a settlement to resolve. The trick is void: clear
	// the table (which advances the token, so a pending timer stays stale)
	// and resume play if a settlement had paused the turn.
	if _, ok := game.HighestOfSuit(s.CurrentSuit, s.TableCards); !ok && s.CurrentSuit != game.NoSuit {
		s.ClearTable()
		if s.CurrentTurn == "" && s.Status == StatusPlaying {
			s.CurrentTurn = s.NextActivePlayer(playerID)
		}
	}

	switch {
	case len(s.Players) == 0:
		s.Reset(waitingMessage)
	case s.Status == StatusPlaying && len(s.Players) < 2:
		s.Status = StatusLobby
		s.CurrentTurn = ""
		s.ClearTable()
		s.Message = fmt.Sprintf("%s left. Waiting for players...", leaving.Name)
	default:
		s.Message = fmt.Sprintf("%s left the game.", leaving.Name)
	}

	// The departure can leave a single player holding cards, which ends the
	// game the same as playing out would.
	if s.Status == StatusPlaying {
		e.checkWinners(s)
	}

	e.log.Info("player left", zap.String("name", leaving.Name))
	return e.persist(ctx, s)
}

// Disconnect handles a transport-level drop. Mid-game the seat and hand are
// kept for reconnection; in the lobby the player is removed outright. When
// the last connected player drops, the whole session resets.
func (e *Engine) Disconnect(ctx context.Context, playerID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := e.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}

	player := s.FindPlayer(playerID)
	if player == nil {
		// Drop of a connection that never joined, or a player already
		// removed by Leave. Nothing to do.
		return nil
	}

	player.IsConnected = false
	wasTurn := s.CurrentTurn == playerID

	if s.Status == StatusLobby {
		s.Players = removePlayer(s.Players, playerID)
	}

	allGone := true
	for _, p := range s.Players {
		if p.IsConnected {
			allGone = false
			break
		}
	}

	if allGone {
		s.Reset(waitingMessage)
	} else if s.Status == StatusPlaying && wasTurn {
		s.CurrentTurn = s.NextActivePlayer(playerID)
	}

	e.log.Info("player disconnected", zap.String("name", player.Name))
	return e.persist(ctx, s)
}

// Terminate is the administrative kill-switch: any current player may reset
// the whole session to an empty lobby, discarding all progress.
func (e *Engine) Terminate(ctx context.Context, playerID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := e.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}

	requester := s.FindPlayer(playerID)
	if requester == nil {
		return ErrPlayerNotFound
	}

	s.Reset("Room terminated. Waiting for players...")
	e.log.Info("room terminated", zap.String("by", requester.Name))
	return e.persist(ctx, s)
}

// Chat publishes a chat message from a current player. The message never
// enters the session snapshot.
func (e *Engine) Chat(ctx context.Context, playerID, text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := e.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}

	player := s.FindPlayer(playerID)
	if player == nil {
		return ErrPlayerNotFound
	}

	now := time.Now()
	e.broadcaster.BroadcastChat(ChatMessage{
		ID:        strconv.FormatInt(now.UnixMilli(), 10),
		Sender:    player.Name,
		SenderID:  playerID,
		Text:      text,
		Timestamp: now.Format("15:04:05"),
	})
	return nil
}

// Emoji publishes an emoji reaction from a current player.
func (e *Engine) Emoji(ctx context.Context, playerID, emoji string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := e.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}

	if s.FindPlayer(playerID) == nil {
		return ErrPlayerNotFound
	}

	e.broadcaster.BroadcastEmoji(EmojiReaction{SenderID: playerID, Emoji: emoji})
	return nil
}

func removePlayer(players []*Player, playerID string) []*Player {
	kept := players[:0]
	for _, p := range players {
		if p.ID != playerID {
			kept = append(kept, p)
		}
	}
	return kept
}

func removeTableCards(table []game.TableCard, playerID string) []game.TableCard {
	kept := table[:0]
	for _, tc := range table {
		if tc.PlayerID != playerID {
			kept = append(kept, tc)
		}
	}
	return kept
}

func removeID(ids []string, id string) []string {
	kept := ids[:0]
	for _, v := range ids {
		if v != id {
			kept = append(kept, v)
		}
	}
	return kept
}
