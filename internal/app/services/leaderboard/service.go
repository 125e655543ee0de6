// Package leaderboard ranks accounts by lifetime earnings.
package leaderboard

import (
	"context"
	"time"

	"github.com/R3E-Network/cosmicminer/internal/app/domain/catalog"
	"github.com/R3E-Network/cosmicminer/internal/app/storage"
	apperr "github.com/R3E-Network/cosmicminer/internal/errors"
	"github.com/R3E-Network/cosmicminer/pkg/logger"
)

const defaultSize = 50

// Entry is one leaderboard row.
type Entry struct {
	Rank        int    `json:"rank"`
	Username    string `json:"username"`
	TotalEarned int64  `json:"total_earned"`
	ShipImage   string `json:"ship_image"`
}

// Cache stores a computed leaderboard. A miss is reported with ok=false.
type Cache interface {
	Get(ctx context.Context) (entries []Entry, ok bool, err error)
	Set(ctx context.Context, entries []Entry, ttl time.Duration) error
}

// Service computes and serves the leaderboard.
type Service struct {
	accounts storage.AccountStore
	catalog  *catalog.Catalog
	cache    Cache
	size     int
	ttl      time.Duration
	log      *logger.Logger
}

// New constructs a leaderboard service. cache may be nil.
func New(accounts storage.AccountStore, cat *catalog.Catalog, cache Cache, size int, ttl time.Duration, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("leaderboard")
	}
	if cat == nil {
		cat = catalog.MustDefault()
	}
	if size <= 0 {
		size = defaultSize
	}
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Service{accounts: accounts, catalog: cat, cache: cache, size: size, ttl: ttl, log: log}
}

// Top returns the cached leaderboard, computing it on a miss. Cache errors
// fall through to the store.
func (s *Service) Top(ctx context.Context) ([]Entry, error) {
	if s.cache != nil {
		entries, ok, err := s.cache.Get(ctx)
		if err != nil {
			s.log.WithError(err).Warn("leaderboard cache read failed")
		} else if ok {
			return entries, nil
		}
	}
	return s.Refresh(ctx)
}

// Refresh recomputes the leaderboard and stores it in the cache.
func (s *Service) Refresh(ctx context.Context) ([]Entry, error) {
	entries, err := s.compute(ctx)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, entries, s.ttl); err != nil {
			s.log.WithError(err).Warn("leaderboard cache write failed")
		}
	}
	return entries, nil
}

func (s *Service) compute(ctx context.Context) ([]Entry, error) {
	top, err := s.accounts.TopByEarnings(ctx, s.size)
	if err != nil {
		return nil, apperr.Internal("load leaderboard", err)
	}
	entries := make([]Entry, 0, len(top))
	for i, acct := range top {
		entries = append(entries, Entry{
			Rank:        i + 1,
			Username:    acct.Username,
			TotalEarned: acct.TotalEarned,
			ShipImage:   s.catalog.Ship(acct.ActiveShip).Image,
		})
	}
	return entries, nil
}
