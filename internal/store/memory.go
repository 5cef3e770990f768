package store

import (
	"context"
	"sort"
	"sync"

	"bhabi-server/internal/bhabi"
)

// PlayerStats is one row of the aggregate leaderboard. Stats are keyed by
// stable id; guests without one are not recorded.
type PlayerStats struct {
	StableID      string `json:"stableId"`
	Name          string `json:"name"`
	GamesPlayed   int    `json:"gamesPlayed"`
	GamesWon      int    `json:"gamesWon"`
	GamesLost     int    `json:"gamesLost"`
	TholaReceived int    `json:"tholaReceived"`
}

// Memory keeps the session and stats in process. Used when no DATABASE_URL is
// configured and as the store under test.
type Memory struct {
	mu      sync.Mutex
	session *bhabi.Session
	stats   map[string]*PlayerStats
}

func NewMemory() *Memory {
	return &Memory{stats: make(map[string]*PlayerStats)}
}

func (m *Memory) Load(ctx context.Context) (*bhabi.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		m.session = bhabi.NewSession()
	}
	return m.session.Clone(), nil
}

func (m *Memory) Save(ctx context.Context, s *bhabi.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = s.Clone()
	return nil
}

func (m *Memory) RecordGameResult(ctx context.Context, results []bhabi.PlayerResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range results {
		if r.StableID == "" {
			continue
		}
		row, ok := m.stats[r.StableID]
		if !ok {
			row = &PlayerStats{StableID: r.StableID}
			m.stats[r.StableID] = row
		}
		row.Name = r.Name
		row.GamesPlayed++
		if r.Won {
			row.GamesWon++
		} else {
			row.GamesLost++
		}
		row.TholaReceived += r.TholaReceived
	}
	return nil
}

// Leaderboard returns up to limit rows ordered by wins, then games played.
func (m *Memory) Leaderboard(ctx context.Context, limit int) ([]PlayerStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows := make([]PlayerStats, 0, len(m.stats))
	for _, row := range m.stats {
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].GamesWon != rows[j].GamesWon {
			return rows[i].GamesWon > rows[j].GamesWon
		}
		if rows[i].GamesPlayed != rows[j].GamesPlayed {
			return rows[i].GamesPlayed > rows[j].GamesPlayed
		}
		return rows[i].Name < rows[j].Name
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) Close() {}
