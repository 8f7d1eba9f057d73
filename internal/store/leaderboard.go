package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"arthouse/internal/models"
)

const leaderboardKey = "arthouse:referrals:leaderboard"

// Leaderboard mirrors referral counts into a Redis sorted set. Postgres holds
// the authoritative count; the set is rewritten from it on every increment.
type Leaderboard struct {
	rdb redis.Cmdable
	key string
}

func NewLeaderboard(rdb redis.Cmdable) *Leaderboard {
	return &Leaderboard{rdb: rdb, key: leaderboardKey}
}

// Set records the current count for a referrer.
func (l *Leaderboard) Set(ctx context.Context, email string, count int64) error {
	if err := l.rdb.ZAdd(ctx, l.key, redis.Z{Score: float64(count), Member: email}).Err(); err != nil {
		return fmt.Errorf("update leaderboard: %w", err)
	}
	return nil
}

// Top returns up to n referrers ordered by count, highest first.
func (l *Leaderboard) Top(ctx context.Context, n int) ([]models.LeaderboardEntry, error) {
	if n <= 0 {
		n = 10
	}

	members, err := l.rdb.ZRevRangeWithScores(ctx, l.key, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read leaderboard: %w", err)
	}

	entries := make([]models.LeaderboardEntry, 0, len(members))
	for i, m := range members {
		email, _ := m.Member.(string)
		entries = append(entries, models.LeaderboardEntry{
			Rank:  i + 1,
			Email: email,
			Count: int64(m.Score),
		})
	}
	return entries, nil
}
