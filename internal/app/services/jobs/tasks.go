package jobs

import (
	"context"
	"fmt"

	"github.com/R3E-Network/cosmicminer/internal/app/metrics"
	"github.com/R3E-Network/cosmicminer/internal/app/services/leaderboard"
)

// Refresher recomputes a cached view.
type Refresher interface {
	Refresh(ctx context.Context) ([]leaderboard.Entry, error)
}

// PendingCounter reports the number of claims awaiting review.
type PendingCounter interface {
	CountPending(ctx context.Context) (int64, error)
}

// LeaderboardRefresh rebuilds the leaderboard cache.
func LeaderboardRefresh(r Refresher) Func {
	return func(ctx context.Context) error {
		_, err := r.Refresh(ctx)
		return err
	}
}

// PendingClaims publishes pending claim counts keyed by claim kind.
func PendingClaims(counters map[string]PendingCounter) Func {
	return func(ctx context.Context) error {
		for kind, counter := range counters {
			n, err := counter.CountPending(ctx)
			if err != nil {
				return fmt.Errorf("count pending %s: %w", kind, err)
			}
			metrics.SetPendingClaims(kind, n)
		}
		return nil
	}
}
