package server

import (
	"bhabi-server/internal/game"
	"bhabi-server/internal/store"
)

type JoinRequest struct {
	Name     string `json:"name"`
	StableID string `json:"stableId"`
}

type JoinedResponse struct {
	PlayerID string `json:"playerId"`
}

type PlayCardRequest struct {
	Card game.Card `json:"card"`
}

type ChatRequest struct {
	Text string `json:"text"`
}

type EmojiRequest struct {
	Emoji string `json:"emoji"`
}

type ErrorMessage struct {
	Message string `json:"message"`
}

type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

type StatsResponse struct {
	Leaderboard []store.PlayerStats `json:"leaderboard"`
}
