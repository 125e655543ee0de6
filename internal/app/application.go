package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/cosmicminer/internal/app/domain/catalog"
	"github.com/R3E-Network/cosmicminer/internal/app/services/accounts"
	"github.com/R3E-Network/cosmicminer/internal/app/services/jobs"
	"github.com/R3E-Network/cosmicminer/internal/app/services/leaderboard"
	"github.com/R3E-Network/cosmicminer/internal/app/services/ledger"
	"github.com/R3E-Network/cosmicminer/internal/app/services/payments"
	"github.com/R3E-Network/cosmicminer/internal/app/services/withdrawals"
	"github.com/R3E-Network/cosmicminer/internal/app/storage"
	"github.com/R3E-Network/cosmicminer/internal/app/storage/memory"
	"github.com/R3E-Network/cosmicminer/internal/app/system"
	"github.com/R3E-Network/cosmicminer/internal/auth"
	"github.com/R3E-Network/cosmicminer/internal/config"
	"github.com/R3E-Network/cosmicminer/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Accounts    storage.AccountStore
	Payments    storage.PaymentStore
	Withdrawals storage.WithdrawalStore
}

// Options tunes the economy. Zero values select the defaults.
type Options struct {
	JWTSecret string
	JWTTTL    time.Duration

	Catalog     *catalog.Catalog
	Accounts    *accounts.Policy
	Withdrawals *withdrawals.Policy

	LeaderboardSize  int
	LeaderboardTTL   time.Duration
	LeaderboardCache leaderboard.Cache

	LeaderboardCron   string
	PendingClaimsCron string

	DepositAddress string
	DepositNetwork string
}

// OptionsFromConfig maps runtime configuration onto Options, loading the
// catalog override when one is configured.
func OptionsFromConfig(cfg config.Config) (Options, error) {
	rate, err := cfg.Rate()
	if err != nil {
		return Options{}, err
	}

	cat := catalog.MustDefault()
	if path := strings.TrimSpace(cfg.CatalogPath); path != "" {
		cat, err = catalog.Load(path)
		if err != nil {
			return Options{}, fmt.Errorf("load catalog: %w", err)
		}
	}

	validate := withdrawals.ValidateTronAddress
	if cfg.SkipAddressCheck {
		validate = withdrawals.AcceptNonEmpty
	}

	return Options{
		JWTSecret: cfg.JWTSecret,
		JWTTTL:    cfg.JWTTTL,
		Catalog:   cat,
		Accounts: &accounts.Policy{
			WelcomeBonus: cfg.WelcomeBonus,
			InvitedBonus: cfg.InvitedBonus,
			InviterBonus: cfg.InviterBonus,
			Admins:       cfg.Admins(),
		},
		Withdrawals: &withdrawals.Policy{
			Threshold: cfg.WithdrawThreshold,
			Rate:      rate,
			Validate:  validate,
		},
		LeaderboardSize:   cfg.LeaderboardSize,
		LeaderboardTTL:    cfg.LeaderboardCacheTTL,
		LeaderboardCron:   cfg.LeaderboardCron,
		PendingClaimsCron: cfg.PendingClaimsCron,
		DepositAddress:    cfg.DepositAddress,
		DepositNetwork:    cfg.DepositNetwork,
	}, nil
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Tokens      *auth.Issuer
	Catalog     *catalog.Catalog
	Accounts    *accounts.Service
	Ledger      *ledger.Service
	Payments    *payments.Service
	Withdrawals *withdrawals.Service
	Leaderboard *leaderboard.Service
	Jobs        *jobs.Scheduler

	DepositAddress string
	DepositNetwork string
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Accounts == nil {
		stores.Accounts = mem
	}
	if stores.Payments == nil {
		stores.Payments = mem
	}
	if stores.Withdrawals == nil {
		stores.Withdrawals = mem
	}

	secret := opts.JWTSecret
	if strings.TrimSpace(secret) == "" {
		secret = uuid.NewString()
		log.Warn("no JWT secret configured; tokens will not survive a restart")
	}
	ttl := opts.JWTTTL
	if ttl <= 0 {
		ttl = auth.DefaultTTL
	}
	cat := opts.Catalog
	if cat == nil {
		cat = catalog.MustDefault()
	}
	acctPolicy := accounts.DefaultPolicy()
	if opts.Accounts != nil {
		acctPolicy = *opts.Accounts
	}
	wdPolicy := withdrawals.DefaultPolicy()
	if opts.Withdrawals != nil {
		wdPolicy = *opts.Withdrawals
	}
	cache := opts.LeaderboardCache
	if cache == nil {
		cache = leaderboard.NewMemoryCache()
	}

	tokens := auth.NewIssuer(secret, ttl)
	acctService := accounts.New(stores.Accounts, tokens, acctPolicy, log.Named("accounts"))
	ledgerService := ledger.New(stores.Accounts, cat, log.Named("ledger"))
	paymentService := payments.New(stores.Accounts, stores.Payments, cat, acctService, log.Named("payments"))
	withdrawalService := withdrawals.New(stores.Accounts, stores.Withdrawals, acctService, wdPolicy, log.Named("withdrawals"))
	boardService := leaderboard.New(stores.Accounts, cat, cache, opts.LeaderboardSize, opts.LeaderboardTTL, log.Named("leaderboard"))

	scheduler := jobs.NewScheduler(log.Named("jobs"))
	if err := scheduler.Add("leaderboard_refresh", orDefault(opts.LeaderboardCron, "@every 30s"), jobs.LeaderboardRefresh(boardService)); err != nil {
		return nil, err
	}
	counters := map[string]jobs.PendingCounter{
		"payment":    paymentService,
		"withdrawal": withdrawalService,
	}
	if err := scheduler.Add("pending_claims", orDefault(opts.PendingClaimsCron, "@every 1m"), jobs.PendingClaims(counters)); err != nil {
		return nil, err
	}

	manager := system.NewManager(log)
	if err := manager.Register(scheduler); err != nil {
		return nil, fmt.Errorf("register jobs: %w", err)
	}

	return &Application{
		manager:        manager,
		log:            log,
		Tokens:         tokens,
		Catalog:        cat,
		Accounts:       acctService,
		Ledger:         ledgerService,
		Payments:       paymentService,
		Withdrawals:    withdrawalService,
		Leaderboard:    boardService,
		Jobs:           scheduler,
		DepositAddress: opts.DepositAddress,
		DepositNetwork: opts.DepositNetwork,
	}, nil
}

// Attach registers an additional lifecycle-managed service.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
