// Package config loads runtime settings for the economy server.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Storage drivers understood by the server.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

// Config is decoded from the process environment.
type Config struct {
	ListenAddr string `env:"LISTEN_ADDR,default=:8080"`

	JWTSecret string        `env:"JWT_SECRET,default=cosmic-miner-dev-secret"`
	JWTTTL    time.Duration `env:"JWT_TTL,default=720h"`

	StorageDriver string `env:"STORAGE_DRIVER,default=memory"`
	DatabaseURL   string `env:"DATABASE_URL"`
	MongoURL      string `env:"MONGO_URL"`
	MongoDB       string `env:"MONGO_DB,default=cosmic_miner"`
	RedisAddr     string `env:"REDIS_ADDR"`

	CatalogPath string `env:"CATALOG_PATH"`

	CORSOrigins    string `env:"CORS_ORIGINS,default=*"`
	RateLimitRPS   int    `env:"RATE_LIMIT_RPS,default=20"`
	RateLimitBurst int    `env:"RATE_LIMIT_BURST,default=40"`
	AdminEmails    string `env:"ADMIN_EMAILS"`
	AuditLogPath   string `env:"AUDIT_LOG_PATH"`

	WelcomeBonus      int64  `env:"WELCOME_BONUS,default=100"`
	InvitedBonus      int64  `env:"INVITED_BONUS,default=50"`
	InviterBonus      int64  `env:"INVITER_BONUS,default=200"`
	WithdrawThreshold int64  `env:"WITHDRAW_THRESHOLD,default=10000"`
	WithdrawRate      string `env:"WITHDRAW_RATE,default=0.001"`
	DepositAddress    string `env:"DEPOSIT_ADDRESS,default=TP92d2cyjwXNdFuJN9P8WeQ2jDWW7rvJMA"`
	DepositNetwork    string `env:"DEPOSIT_NETWORK,default=TRC20"`
	SkipAddressCheck  bool   `env:"SKIP_ADDRESS_CHECK,default=false"`

	LeaderboardSize     int           `env:"LEADERBOARD_SIZE,default=50"`
	LeaderboardCacheTTL time.Duration `env:"LEADERBOARD_CACHE_TTL,default=2m"`
	LeaderboardCron     string        `env:"LEADERBOARD_CRON,default=@every 30s"`
	PendingClaimsCron   string        `env:"PENDING_CLAIMS_CRON,default=@every 1m"`
}

// Default returns the configuration used when no variables are set.
func Default() Config {
	return Config{
		ListenAddr:          ":8080",
		JWTSecret:           "cosmic-miner-dev-secret",
		JWTTTL:              720 * time.Hour,
		StorageDriver:       DriverMemory,
		MongoDB:             "cosmic_miner",
		CORSOrigins:         "*",
		RateLimitRPS:        20,
		RateLimitBurst:      40,
		WelcomeBonus:        100,
		InvitedBonus:        50,
		InviterBonus:        200,
		WithdrawThreshold:   10000,
		WithdrawRate:        "0.001",
		DepositAddress:      "TP92d2cyjwXNdFuJN9P8WeQ2jDWW7rvJMA",
		DepositNetwork:      "TRC20",
		LeaderboardSize:     50,
		LeaderboardCacheTTL: 2 * time.Minute,
		LeaderboardCron:     "@every 30s",
		PendingClaimsCron:   "@every 1m",
	}
}

// Load reads an optional .env file and decodes the environment. Missing .env
// files are not an error.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		_ = godotenv.Load(f)
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("decode environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	switch c.StorageDriver {
	case DriverMemory:
	case DriverPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres driver")
		}
	case DriverMongo:
		if strings.TrimSpace(c.MongoURL) == "" {
			return fmt.Errorf("MONGO_URL is required for the mongo driver")
		}
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}
	if strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("JWT_SECRET must not be empty")
	}
	rate, err := c.Rate()
	if err != nil {
		return err
	}
	if !rate.IsPositive() {
		return fmt.Errorf("WITHDRAW_RATE must be positive")
	}
	if c.WithdrawThreshold <= 0 {
		return fmt.Errorf("WITHDRAW_THRESHOLD must be positive")
	}
	return nil
}

// Rate returns the coin to external-currency conversion rate.
func (c Config) Rate() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(strings.TrimSpace(c.WithdrawRate))
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse WITHDRAW_RATE: %w", err)
	}
	return rate, nil
}

// Origins returns the configured CORS origins.
func (c Config) Origins() []string {
	return splitCSV(c.CORSOrigins)
}

// Admins returns the lower-cased bootstrap admin emails.
func (c Config) Admins() map[string]struct{} {
	out := make(map[string]struct{})
	for _, email := range splitCSV(c.AdminEmails) {
		out[strings.ToLower(email)] = struct{}{}
	}
	return out
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
