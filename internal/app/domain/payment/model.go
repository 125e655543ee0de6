package payment

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status of a payment claim.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Request is a user-submitted proof of an external payment for a shop item.
type Request struct {
	ID          string          `json:"id"`
	AccountID   string          `json:"user_id"`
	Username    string          `json:"username"`
	TxReference string          `json:"tx_hash"`
	Amount      decimal.Decimal `json:"amount_usdt"`
	ItemID      string          `json:"item_id"`
	ItemName    string          `json:"item_name"`
	Status      Status          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
}
