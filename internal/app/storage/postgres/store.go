package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/R3E-Network/cosmicminer/internal/app/domain/account"
	"github.com/R3E-Network/cosmicminer/internal/app/domain/payment"
	"github.com/R3E-Network/cosmicminer/internal/app/domain/withdrawal"
	"github.com/R3E-Network/cosmicminer/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

var _ storage.Store = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

const uniqueViolation = "23505"

func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return storage.ErrDuplicate
	}
	return err
}

// --- AccountStore -----------------------------------------------------------

const accountColumns = `id, email, username, password_hash, coins, total_earned, owned_ships, active_ship,
	active_boosts, is_admin, referral_code, referred_by, referral_count, created_at, updated_at`

type accountRow struct {
	ID            string         `db:"id"`
	Email         string         `db:"email"`
	Username      string         `db:"username"`
	PasswordHash  string         `db:"password_hash"`
	Coins         int64          `db:"coins"`
	TotalEarned   int64          `db:"total_earned"`
	OwnedShips    pq.StringArray `db:"owned_ships"`
	ActiveShip    string         `db:"active_ship"`
	ActiveBoosts  []byte         `db:"active_boosts"`
	IsAdmin       bool           `db:"is_admin"`
	ReferralCode  string         `db:"referral_code"`
	ReferredBy    sql.NullString `db:"referred_by"`
	ReferralCount int64          `db:"referral_count"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

func (r accountRow) toAccount() (account.Account, error) {
	acct := account.Account{
		ID:            r.ID,
		Email:         r.Email,
		Username:      r.Username,
		PasswordHash:  r.PasswordHash,
		Coins:         r.Coins,
		TotalEarned:   r.TotalEarned,
		OwnedShips:    []string(r.OwnedShips),
		ActiveShip:    r.ActiveShip,
		IsAdmin:       r.IsAdmin,
		ReferralCode:  r.ReferralCode,
		ReferredBy:    r.ReferredBy.String,
		ReferralCount: r.ReferralCount,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	if len(r.ActiveBoosts) > 0 {
		if err := json.Unmarshal(r.ActiveBoosts, &acct.Boosts); err != nil {
			return account.Account{}, fmt.Errorf("decode boosts for %s: %w", r.ID, err)
		}
	}
	return acct, nil
}

func boostsJSON(boosts []account.Boost) ([]byte, error) {
	if boosts == nil {
		boosts = []account.Boost{}
	}
	return json.Marshal(boosts)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (s *Store) CreateAccount(ctx context.Context, acct account.Account) (account.Account, error) {
	if acct.ID == "" {
		acct.ID = uuid.NewString()
	}
	now := s.now()
	acct.CreatedAt = now
	acct.UpdatedAt = now

	boosts, err := boostsJSON(acct.Boosts)
	if err != nil {
		return account.Account{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, acct.ID, acct.Email, acct.Username, acct.PasswordHash, acct.Coins, acct.TotalEarned,
		pq.StringArray(acct.OwnedShips), acct.ActiveShip, boosts, acct.IsAdmin, acct.ReferralCode,
		nullString(acct.ReferredBy), acct.ReferralCount, acct.CreatedAt, acct.UpdatedAt)
	if err != nil {
		return account.Account{}, translate(err)
	}
	return acct, nil
}

func (s *Store) getAccountWhere(ctx context.Context, where string, arg any) (account.Account, error) {
	var row accountRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+accountColumns+` FROM accounts WHERE `+where, arg); err != nil {
		return account.Account{}, translate(err)
	}
	return row.toAccount()
}

func (s *Store) GetAccount(ctx context.Context, id string) (account.Account, error) {
	return s.getAccountWhere(ctx, "id = $1", id)
}

func (s *Store) GetAccountByEmail(ctx context.Context, email string) (account.Account, error) {
	return s.getAccountWhere(ctx, "email = $1", email)
}

func (s *Store) GetAccountByUsername(ctx context.Context, username string) (account.Account, error) {
	return s.getAccountWhere(ctx, "username = $1", username)
}

func (s *Store) GetAccountByReferralCode(ctx context.Context, code string) (account.Account, error) {
	return s.getAccountWhere(ctx, "referral_code = $1", code)
}

// ApplyMutation locks the row, checks the mutation's guards and writes the
// result inside one transaction.
func (s *Store) ApplyMutation(ctx context.Context, id string, m storage.Mutation) (account.Account, error) {
	if err := m.Validate(); err != nil {
		return account.Account{}, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return account.Account{}, err
	}
	defer tx.Rollback() //nolint:errcheck

	var row accountRow
	if err := tx.GetContext(ctx, &row, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id); err != nil {
		return account.Account{}, translate(err)
	}
	acct, err := row.toAccount()
	if err != nil {
		return account.Account{}, err
	}
	if err := storage.Apply(&acct, m, s.now()); err != nil {
		return account.Account{}, err
	}

	boosts, err := boostsJSON(acct.Boosts)
	if err != nil {
		return account.Account{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET coins = $2, total_earned = $3, referral_count = $4, owned_ships = $5,
			active_ship = $6, active_boosts = $7, is_admin = $8, updated_at = $9
		WHERE id = $1
	`, acct.ID, acct.Coins, acct.TotalEarned, acct.ReferralCount, pq.StringArray(acct.OwnedShips),
		acct.ActiveShip, boosts, acct.IsAdmin, acct.UpdatedAt); err != nil {
		return account.Account{}, err
	}
	if err := tx.Commit(); err != nil {
		return account.Account{}, err
	}
	return acct, nil
}

func (s *Store) selectAccounts(ctx context.Context, query string, args ...any) ([]account.Account, error) {
	var rows []accountRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]account.Account, 0, len(rows))
	for _, r := range rows {
		acct, err := r.toAccount()
		if err != nil {
			return nil, err
		}
		out = append(out, acct)
	}
	return out, nil
}

func (s *Store) ListReferredBy(ctx context.Context, inviterID string, limit int) ([]account.Account, error) {
	return s.selectAccounts(ctx, `
		SELECT `+accountColumns+` FROM accounts
		WHERE referred_by = $1
		ORDER BY created_at, id
		LIMIT $2
	`, inviterID, sqlLimit(limit))
}

func (s *Store) TopByEarnings(ctx context.Context, limit int) ([]account.Account, error) {
	return s.selectAccounts(ctx, `
		SELECT `+accountColumns+` FROM accounts
		ORDER BY total_earned DESC, id ASC
		LIMIT $1
	`, sqlLimit(limit))
}

// sqlLimit maps a non-positive limit to NULL, which Postgres treats as no
// limit.
func sqlLimit(limit int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(limit), Valid: limit > 0}
}

// --- PaymentStore -----------------------------------------------------------

const paymentColumns = `id, user_id, username, tx_hash, amount_usdt, item_id, item_name, status, created_at, processed_at`

type paymentRow struct {
	ID          string          `db:"id"`
	AccountID   string          `db:"user_id"`
	Username    string          `db:"username"`
	TxReference string          `db:"tx_hash"`
	Amount      decimal.Decimal `db:"amount_usdt"`
	ItemID      string          `db:"item_id"`
	ItemName    string          `db:"item_name"`
	Status      string          `db:"status"`
	CreatedAt   time.Time       `db:"created_at"`
	ProcessedAt sql.NullTime    `db:"processed_at"`
}

func (r paymentRow) toRequest() payment.Request {
	req := payment.Request{
		ID:          r.ID,
		AccountID:   r.AccountID,
		Username:    r.Username,
		TxReference: r.TxReference,
		Amount:      r.Amount,
		ItemID:      r.ItemID,
		ItemName:    r.ItemName,
		Status:      payment.Status(r.Status),
		CreatedAt:   r.CreatedAt,
	}
	if r.ProcessedAt.Valid {
		at := r.ProcessedAt.Time
		req.ProcessedAt = &at
	}
	return req
}

func (s *Store) CreatePayment(ctx context.Context, req payment.Request) (payment.Request, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payments (id, user_id, username, tx_hash, amount_usdt, item_id, item_name, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, req.ID, req.AccountID, req.Username, req.TxReference, req.Amount, req.ItemID, req.ItemName, string(req.Status), req.CreatedAt)
	if err != nil {
		return payment.Request{}, translate(err)
	}
	return req, nil
}

func (s *Store) GetPayment(ctx context.Context, id string) (payment.Request, error) {
	var row paymentRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id); err != nil {
		return payment.Request{}, translate(err)
	}
	return row.toRequest(), nil
}

func (s *Store) TransitionPayment(ctx context.Context, id string, status payment.Status, at time.Time) (payment.Request, error) {
	var row paymentRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE payments SET status = $2, processed_at = $3
		WHERE id = $1 AND status = 'pending'
		RETURNING `+paymentColumns, id, string(status), at)
	if errors.Is(err, sql.ErrNoRows) {
		current, getErr := s.GetPayment(ctx, id)
		if getErr != nil {
			return payment.Request{}, getErr
		}
		return current, storage.ErrConflict
	}
	if err != nil {
		return payment.Request{}, err
	}
	return row.toRequest(), nil
}

func (s *Store) selectPayments(ctx context.Context, query string, args ...any) ([]payment.Request, error) {
	var rows []paymentRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]payment.Request, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toRequest())
	}
	return out, nil
}

func (s *Store) ListPendingPayments(ctx context.Context, limit int) ([]payment.Request, error) {
	return s.selectPayments(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE status = 'pending'
		ORDER BY created_at, id
		LIMIT $1
	`, sqlLimit(limit))
}

func (s *Store) ListPaymentsByAccount(ctx context.Context, accountID string, limit int) ([]payment.Request, error) {
	return s.selectPayments(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE user_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2
	`, accountID, sqlLimit(limit))
}

func (s *Store) CountPendingPayments(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM payments WHERE status = 'pending'`)
	return n, err
}

// --- WithdrawalStore --------------------------------------------------------

const withdrawalColumns = `id, user_id, username, coin_amount, usdt_amount, wallet_address, status, created_at, processed_at`

type withdrawalRow struct {
	ID             string          `db:"id"`
	AccountID      string          `db:"user_id"`
	Username       string          `db:"username"`
	Coins          int64           `db:"coin_amount"`
	ExternalAmount decimal.Decimal `db:"usdt_amount"`
	Address        string          `db:"wallet_address"`
	Status         string          `db:"status"`
	CreatedAt      time.Time       `db:"created_at"`
	ProcessedAt    sql.NullTime    `db:"processed_at"`
}

func (r withdrawalRow) toRequest() withdrawal.Request {
	req := withdrawal.Request{
		ID:             r.ID,
		AccountID:      r.AccountID,
		Username:       r.Username,
		Coins:          r.Coins,
		ExternalAmount: r.ExternalAmount,
		Address:        r.Address,
		Status:         withdrawal.Status(r.Status),
		CreatedAt:      r.CreatedAt,
	}
	if r.ProcessedAt.Valid {
		at := r.ProcessedAt.Time
		req.ProcessedAt = &at
	}
	return req
}

func (s *Store) CreateWithdrawal(ctx context.Context, req withdrawal.Request) (withdrawal.Request, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO withdrawals (id, user_id, username, coin_amount, usdt_amount, wallet_address, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, req.ID, req.AccountID, req.Username, req.Coins, req.ExternalAmount, req.Address, string(req.Status), req.CreatedAt)
	if err != nil {
		return withdrawal.Request{}, translate(err)
	}
	return req, nil
}

func (s *Store) GetWithdrawal(ctx context.Context, id string) (withdrawal.Request, error) {
	var row withdrawalRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1`, id); err != nil {
		return withdrawal.Request{}, translate(err)
	}
	return row.toRequest(), nil
}

func (s *Store) TransitionWithdrawal(ctx context.Context, id string, status withdrawal.Status, at time.Time) (withdrawal.Request, error) {
	var row withdrawalRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE withdrawals SET status = $2, processed_at = $3
		WHERE id = $1 AND status = 'pending'
		RETURNING `+withdrawalColumns, id, string(status), at)
	if errors.Is(err, sql.ErrNoRows) {
		current, getErr := s.GetWithdrawal(ctx, id)
		if getErr != nil {
			return withdrawal.Request{}, getErr
		}
		return current, storage.ErrConflict
	}
	if err != nil {
		return withdrawal.Request{}, err
	}
	return row.toRequest(), nil
}

func (s *Store) selectWithdrawals(ctx context.Context, query string, args ...any) ([]withdrawal.Request, error) {
	var rows []withdrawalRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]withdrawal.Request, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toRequest())
	}
	return out, nil
}

func (s *Store) ListPendingWithdrawals(ctx context.Context, limit int) ([]withdrawal.Request, error) {
	return s.selectWithdrawals(ctx, `
		SELECT `+withdrawalColumns+` FROM withdrawals
		WHERE status = 'pending'
		ORDER BY created_at, id
		LIMIT $1
	`, sqlLimit(limit))
}

func (s *Store) ListWithdrawalsByAccount(ctx context.Context, accountID string, limit int) ([]withdrawal.Request, error) {
	return s.selectWithdrawals(ctx, `
		SELECT `+withdrawalColumns+` FROM withdrawals
		WHERE user_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2
	`, accountID, sqlLimit(limit))
}

func (s *Store) CountPendingWithdrawals(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM withdrawals WHERE status = 'pending'`)
	return n, err
}
