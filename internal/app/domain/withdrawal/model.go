package withdrawal

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status of a withdrawal request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Request holds coins debited from an account until an admin decides.
type Request struct {
	ID             string          `json:"id"`
	AccountID      string          `json:"user_id"`
	Username       string          `json:"username"`
	Coins          int64           `json:"coins_amount"`
	ExternalAmount decimal.Decimal `json:"usdt_amount"`
	Address        string          `json:"wallet_address"`
	Status         Status          `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	ProcessedAt    *time.Time      `json:"processed_at,omitempty"`
}
