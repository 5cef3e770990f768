package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"bhabi-server/internal/bhabi"
	"bhabi-server/internal/game"
)

// setupPostgres spins up a throwaway postgres container. Requires Docker;
// skipped in short mode.
func setupPostgres(t *testing.T) *Postgres {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("bhabi_test"),
		tcpostgres.WithUsername("bhabi"),
		tcpostgres.WithPassword("bhabi"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	pg, err := NewPostgres(ctx, dsn, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(pg.Close)
	return pg
}

func TestPostgres_LoadCreatesLobby(t *testing.T) {
	assert := assert.New(t)
	pg := setupPostgres(t)

	s, err := pg.Load(context.Background())
	assert.NoError(err)
	assert.Equal(bhabi.StatusLobby, s.Status)
	assert.Empty(s.Players)
}

func TestPostgres_SaveLoadRoundTrip(t *testing.T) {
	assert := assert.New(t)
	pg := setupPostgres(t)
	ctx := context.Background()

	s, err := pg.Load(ctx)
	assert.NoError(err)

	s.Status = bhabi.StatusPlaying
	s.CurrentTurn = "p1"
	s.CurrentSuit = game.Spades
	s.Players = append(s.Players,
		&bhabi.Player{
			ID:          "p1",
			StableID:    "u1",
			Name:        "alice",
			Hand:        []game.Card{game.NewCard(game.Spades, game.Ace), game.NewCard(game.Hearts, game.Two)},
			IsConnected: true,
		},
		&bhabi.Player{
			ID:            "p2",
			Name:          "bob",
			Hand:          []game.Card{game.NewCard(game.Clubs, game.King)},
			IsConnected:   true,
			JoinOrder:     1,
			TholaReceived: 2,
		},
	)
	s.TableCards = append(s.TableCards, game.TableCard{PlayerID: "p1", Card: game.NewCard(game.Spades, game.Three)})
	s.WinnerOrder = append(s.WinnerOrder, "p1")
	s.Message = "test state"
	s.TrickSeq = 9

	assert.NoError(pg.Save(ctx, s))

	loaded, err := pg.Load(ctx)
	assert.NoError(err)
	assert.Equal(s, loaded)
}

func TestPostgres_SaveReplacesSnapshot(t *testing.T) {
	assert := assert.New(t)
	pg := setupPostgres(t)
	ctx := context.Background()

	s, _ := pg.Load(ctx)
	s.Message = "first"
	assert.NoError(pg.Save(ctx, s))

	s.Message = "second"
	s.TrickSeq = 4
	assert.NoError(pg.Save(ctx, s))

	loaded, err := pg.Load(ctx)
	assert.NoError(err)
	assert.Equal("second", loaded.Message)
	assert.Equal(uint64(4), loaded.TrickSeq)
}

func TestPostgres_RecordGameResultUpserts(t *testing.T) {
	assert := assert.New(t)
	pg := setupPostgres(t)
	ctx := context.Background()

	assert.NoError(pg.RecordGameResult(ctx, []bhabi.PlayerResult{
		{StableID: "u1", Name: "alice", Won: true},
		{StableID: "u2", Name: "bob", Won: false, TholaReceived: 2},
		{StableID: "", Name: "guest", Won: false},
	}))
	assert.NoError(pg.RecordGameResult(ctx, []bhabi.PlayerResult{
		{StableID: "u2", Name: "bob", Won: true, TholaReceived: 1},
	}))

	rows, err := pg.Leaderboard(ctx, 10)
	assert.NoError(err)
	assert.Equal(2, len(rows), "guests without a stable id are not recorded")

	for _, row := range rows {
		switch row.StableID {
		case "u1":
			assert.Equal(1, row.GamesPlayed)
			assert.Equal(1, row.GamesWon)
			assert.Equal(0, row.GamesLost)
		case "u2":
			assert.Equal(2, row.GamesPlayed)
			assert.Equal(1, row.GamesWon)
			assert.Equal(1, row.GamesLost)
			assert.Equal(3, row.TholaReceived)
		default:
			t.Fatalf("unexpected row: %+v", row)
		}
	}
}

func TestPostgres_LeaderboardOrder(t *testing.T) {
	assert := assert.New(t)
	pg := setupPostgres(t)
	ctx := context.Background()

	for range 2 {
		assert.NoError(pg.RecordGameResult(ctx, []bhabi.PlayerResult{
			{StableID: "u1", Name: "alice", Won: true},
			{StableID: "u2", Name: "bob", Won: false},
		}))
	}

	rows, err := pg.Leaderboard(ctx, 1)
	assert.NoError(err)
	assert.Equal(1, len(rows))
	assert.Equal("alice", rows[0].Name)
}
