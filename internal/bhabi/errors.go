package bhabi

import "errors"

// Player-facing failures carry a machine code before the colon; the websocket
// edge forwards them verbatim. None of these leave the session mutated.
var (
	ErrGameInProgress    = errors.New("GAME_IN_PROGRESS: Cannot join, game already started")
	ErrRoomFull          = errors.New("ROOM_FULL: Game is full (8 players max)")
	ErrPlayerNotFound    = errors.New("PLAYER_NOT_FOUND: Player is not in the game")
	ErrNotYourTurn       = errors.New("NOT_YOUR_TURN: Not your turn or game not in progress")
	ErrIllegalMove       = errors.New("ILLEGAL_MOVE: Must follow suit when able")
	ErrCardNotHeld       = errors.New("ILLEGAL_MOVE: Card is not in your hand")
	ErrNotEnoughPlayers  = errors.New("NEED_PLAYERS: Need at least 2 players")
	ErrNotHost           = errors.New("NOT_HOST: Only the first player can start the game")
	ErrGameAlreadyGoing  = errors.New("GAME_IN_PROGRESS: Game is already running")
	ErrPersistenceFailed = errors.New("PERSISTENCE_FAILED: Could not save game state")
)
