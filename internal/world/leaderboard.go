package world

import (
	"context"
	"sort"

	"github.com/annel0/arena/internal/game"
)

// DefaultLeaderboardLimit размер таблицы лидеров по умолчанию
const DefaultLeaderboardLimit = 10

// Leaderboard строит таблицу лидеров по живым игрокам.
// Сортировка по массе по убыванию устойчивая: при равной массе сохраняется
// порядок входного списка. limit <= 0 означает DefaultLeaderboardLimit.
func Leaderboard(players []game.Player, limit int) []game.LeaderboardEntry {
	if limit <= 0 {
		limit = DefaultLeaderboardLimit
	}

	alive := make([]game.Player, 0, len(players))
	for _, p := range players {
		if p.IsAlive {
			alive = append(alive, p)
		}
	}

	sort.SliceStable(alive, func(i, j int) bool {
		return alive[i].Mass > alive[j].Mass
	})

	if len(alive) > limit {
		alive = alive[:limit]
	}

	entries := make([]game.LeaderboardEntry, len(alive))
	for i, p := range alive {
		entries[i] = game.LeaderboardEntry{
			PlayerID:   p.ID,
			PlayerName: p.Name,
			Mass:       p.Mass,
			Rank:       i + 1,
		}
	}
	return entries
}

// Leaderboard строит таблицу лидеров по текущему состоянию мира
func (s *EntityStore) Leaderboard(ctx context.Context, limit int) ([]game.LeaderboardEntry, error) {
	players, err := s.ListPlayers(ctx)
	if err != nil {
		return nil, err
	}
	return Leaderboard(players, limit), nil
}
