// Package mongo implements the storage interfaces on MongoDB. Each account
// mutation is a single FindOneAndUpdate whose filter carries the guards.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/R3E-Network/cosmicminer/internal/app/domain/account"
	"github.com/R3E-Network/cosmicminer/internal/app/domain/payment"
	"github.com/R3E-Network/cosmicminer/internal/app/domain/withdrawal"
	"github.com/R3E-Network/cosmicminer/internal/app/storage"
)

// Store persists accounts, payments and withdrawals in three collections.
type Store struct {
	client      *mongo.Client
	accounts    *mongo.Collection
	payments    *mongo.Collection
	withdrawals *mongo.Collection
	now         func() time.Time
}

var _ storage.Store = (*Store)(nil)

// Connect dials the server, verifies it with a ping and ensures indexes.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	s := New(client, database)
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

// New wraps an existing client.
func New(client *mongo.Client, database string) *Store {
	db := client.Database(database)
	return &Store{
		client:      client,
		accounts:    db.Collection("users"),
		payments:    db.Collection("payments"),
		withdrawals: db.Collection("withdrawals"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// EnsureIndexes creates the unique and ordering indexes the store relies on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)
	if _, err := s.accounts.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: unique},
		{Keys: bson.D{{Key: "username", Value: 1}}, Options: unique},
		{Keys: bson.D{{Key: "referral_code", Value: 1}}, Options: unique},
		{Keys: bson.D{{Key: "referred_by", Value: 1}}},
		{Keys: bson.D{{Key: "total_earned", Value: -1}, {Key: "_id", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("create account indexes: %w", err)
	}
	for _, coll := range []*mongo.Collection{s.payments, s.withdrawals} {
		if _, err := coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}}},
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
		}); err != nil {
			return fmt.Errorf("create %s indexes: %w", coll.Name(), err)
		}
	}
	return nil
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return storage.ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return storage.ErrDuplicate
	default:
		return err
	}
}

// --- documents --------------------------------------------------------------

type boostDoc struct {
	ID         string    `bson:"id"`
	Name       string    `bson:"name"`
	Multiplier float64   `bson:"multiplier"`
	ExpiresAt  time.Time `bson:"expires_at"`
}

type accountDoc struct {
	ID            string     `bson:"_id"`
	Email         string     `bson:"email"`
	Username      string     `bson:"username"`
	PasswordHash  string     `bson:"password_hash"`
	Coins         int64      `bson:"coins"`
	TotalEarned   int64      `bson:"total_earned"`
	OwnedShips    []string   `bson:"owned_ships"`
	ActiveShip    string     `bson:"active_ship"`
	Boosts        []boostDoc `bson:"active_boosts"`
	IsAdmin       bool       `bson:"is_admin"`
	ReferralCode  string     `bson:"referral_code"`
	ReferredBy    string     `bson:"referred_by,omitempty"`
	ReferralCount int64      `bson:"referral_count"`
	CreatedAt     time.Time  `bson:"created_at"`
	UpdatedAt     time.Time  `bson:"updated_at"`
}

func toBoostDoc(b account.Boost) boostDoc {
	return boostDoc{ID: b.ID, Name: b.Name, Multiplier: b.Multiplier, ExpiresAt: b.ExpiresAt.UTC()}
}

func fromAccount(a account.Account) accountDoc {
	doc := accountDoc{
		ID:            a.ID,
		Email:         a.Email,
		Username:      a.Username,
		PasswordHash:  a.PasswordHash,
		Coins:         a.Coins,
		TotalEarned:   a.TotalEarned,
		OwnedShips:    append([]string(nil), a.OwnedShips...),
		ActiveShip:    a.ActiveShip,
		Boosts:        make([]boostDoc, 0, len(a.Boosts)),
		IsAdmin:       a.IsAdmin,
		ReferralCode:  a.ReferralCode,
		ReferredBy:    a.ReferredBy,
		ReferralCount: a.ReferralCount,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
	for _, b := range a.Boosts {
		doc.Boosts = append(doc.Boosts, toBoostDoc(b))
	}
	return doc
}

func (d accountDoc) toAccount() account.Account {
	acct := account.Account{
		ID:            d.ID,
		Email:         d.Email,
		Username:      d.Username,
		PasswordHash:  d.PasswordHash,
		Coins:         d.Coins,
		TotalEarned:   d.TotalEarned,
		OwnedShips:    d.OwnedShips,
		ActiveShip:    d.ActiveShip,
		IsAdmin:       d.IsAdmin,
		ReferralCode:  d.ReferralCode,
		ReferredBy:    d.ReferredBy,
		ReferralCount: d.ReferralCount,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
	acct.Boosts = make([]account.Boost, 0, len(d.Boosts))
	for _, b := range d.Boosts {
		acct.Boosts = append(acct.Boosts, account.Boost{ID: b.ID, Name: b.Name, Multiplier: b.Multiplier, ExpiresAt: b.ExpiresAt})
	}
	return acct
}

// --- AccountStore -----------------------------------------------------------

func (s *Store) CreateAccount(ctx context.Context, acct account.Account) (account.Account, error) {
	if acct.ID == "" {
		acct.ID = uuid.NewString()
	}
	now := s.now()
	acct.CreatedAt = now
	acct.UpdatedAt = now

	if _, err := s.accounts.InsertOne(ctx, fromAccount(acct)); err != nil {
		return account.Account{}, translate(err)
	}
	return acct, nil
}

func (s *Store) findAccount(ctx context.Context, filter bson.M) (account.Account, error) {
	var doc accountDoc
	if err := s.accounts.FindOne(ctx, filter).Decode(&doc); err != nil {
		return account.Account{}, translate(err)
	}
	return doc.toAccount(), nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (account.Account, error) {
	return s.findAccount(ctx, bson.M{"_id": id})
}

func (s *Store) GetAccountByEmail(ctx context.Context, email string) (account.Account, error) {
	return s.findAccount(ctx, bson.M{"email": email})
}

func (s *Store) GetAccountByUsername(ctx context.Context, username string) (account.Account, error) {
	return s.findAccount(ctx, bson.M{"username": username})
}

func (s *Store) GetAccountByReferralCode(ctx context.Context, code string) (account.Account, error) {
	return s.findAccount(ctx, bson.M{"referral_code": code})
}

// buildUpdate translates a mutation into a guarded filter and an update
// document.
func buildUpdate(id string, m storage.Mutation, now time.Time) (bson.M, bson.M, error) {
	if err := m.Validate(); err != nil {
		return nil, nil, err
	}

	filter := bson.M{"_id": id}
	if m.Coins < 0 {
		filter["coins"] = bson.M{"$gte": -m.Coins}
	}
	for field, delta := range map[string]int64{"coins": m.Coins, "total_earned": m.TotalEarned, "referral_count": m.ReferralCount} {
		if delta > 0 {
			filter[field] = bson.M{"$lte": storage.MaxBefore(delta)}
		}
	}
	if m.AddShip != "" && !m.AllowOwned {
		filter["owned_ships"] = bson.M{"$ne": m.AddShip}
	}
	if m.ActiveShip != "" {
		filter["owned_ships"] = m.ActiveShip
	}

	set := bson.M{"updated_at": now}
	if m.ActiveShip != "" {
		set["active_ship"] = m.ActiveShip
	}
	if m.Admin != nil {
		set["is_admin"] = *m.Admin
	}
	update := bson.M{"$set": set}

	inc := bson.M{}
	if m.Coins != 0 {
		inc["coins"] = m.Coins
	}
	if m.TotalEarned != 0 {
		inc["total_earned"] = m.TotalEarned
	}
	if m.ReferralCount != 0 {
		inc["referral_count"] = m.ReferralCount
	}
	if len(inc) > 0 {
		update["$inc"] = inc
	}
	if m.AddShip != "" {
		update["$addToSet"] = bson.M{"owned_ships": m.AddShip}
	}
	if m.PushBoost != nil {
		update["$push"] = bson.M{"active_boosts": toBoostDoc(*m.PushBoost)}
	}
	if m.PruneBoostsAt != nil {
		update["$pull"] = bson.M{"active_boosts": bson.M{"expires_at": bson.M{"$lte": m.PruneBoostsAt.UTC()}}}
	}
	return filter, update, nil
}

func (s *Store) ApplyMutation(ctx context.Context, id string, m storage.Mutation) (account.Account, error) {
	now := s.now()
	filter, update, err := buildUpdate(id, m, now)
	if err != nil {
		return account.Account{}, err
	}

	var doc accountDoc
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	err = s.accounts.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return account.Account{}, s.diagnose(ctx, id, m, now)
	}
	if err != nil {
		return account.Account{}, err
	}
	return doc.toAccount(), nil
}

// diagnose explains why a guarded update matched nothing.
func (s *Store) diagnose(ctx context.Context, id string, m storage.Mutation, now time.Time) error {
	acct, err := s.GetAccount(ctx, id)
	if err != nil {
		return err
	}
	if err := storage.Apply(&acct, m, now); err != nil {
		return err
	}
	// The guard held on re-read: the document changed between the two calls.
	return storage.ErrConflict
}

func (s *Store) findAccounts(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]account.Account, error) {
	cur, err := s.accounts.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var docs []accountDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]account.Account, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toAccount())
	}
	return out, nil
}

func (s *Store) ListReferredBy(ctx context.Context, inviterID string, limit int) ([]account.Account, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return s.findAccounts(ctx, bson.M{"referred_by": inviterID}, opts)
}

func (s *Store) TopByEarnings(ctx context.Context, limit int) ([]account.Account, error) {
	opts := options.Find().SetSort(bson.D{{Key: "total_earned", Value: -1}, {Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return s.findAccounts(ctx, bson.M{}, opts)
}

// --- claims -----------------------------------------------------------------

type paymentDoc struct {
	ID          string               `bson:"_id"`
	AccountID   string               `bson:"user_id"`
	Username    string               `bson:"username"`
	TxReference string               `bson:"tx_hash"`
	Amount      primitive.Decimal128 `bson:"amount_usdt"`
	ItemID      string               `bson:"item_id"`
	ItemName    string               `bson:"item_name"`
	Status      string               `bson:"status"`
	CreatedAt   time.Time            `bson:"created_at"`
	ProcessedAt *time.Time           `bson:"processed_at,omitempty"`
}

type withdrawalDoc struct {
	ID             string               `bson:"_id"`
	AccountID      string               `bson:"user_id"`
	Username       string               `bson:"username"`
	Coins          int64                `bson:"coin_amount"`
	ExternalAmount primitive.Decimal128 `bson:"usdt_amount"`
	Address        string               `bson:"wallet_address"`
	Status         string               `bson:"status"`
	CreatedAt      time.Time            `bson:"created_at"`
	ProcessedAt    *time.Time           `bson:"processed_at,omitempty"`
}

func toDecimal128(d decimal.Decimal) (primitive.Decimal128, error) {
	return primitive.ParseDecimal128(d.String())
}

func fromDecimal128(d primitive.Decimal128) decimal.Decimal {
	v, err := decimal.NewFromString(d.String())
	if err != nil {
		return decimal.Zero
	}
	return v
}

func (d paymentDoc) toRequest() payment.Request {
	return payment.Request{
		ID:          d.ID,
		AccountID:   d.AccountID,
		Username:    d.Username,
		TxReference: d.TxReference,
		Amount:      fromDecimal128(d.Amount),
		ItemID:      d.ItemID,
		ItemName:    d.ItemName,
		Status:      payment.Status(d.Status),
		CreatedAt:   d.CreatedAt,
		ProcessedAt: d.ProcessedAt,
	}
}

func (d withdrawalDoc) toRequest() withdrawal.Request {
	return withdrawal.Request{
		ID:             d.ID,
		AccountID:      d.AccountID,
		Username:       d.Username,
		Coins:          d.Coins,
		ExternalAmount: fromDecimal128(d.ExternalAmount),
		Address:        d.Address,
		Status:         withdrawal.Status(d.Status),
		CreatedAt:      d.CreatedAt,
		ProcessedAt:    d.ProcessedAt,
	}
}

func transitionFilter(id string) bson.M {
	return bson.M{"_id": id, "status": "pending"}
}

func transitionUpdate(status string, at time.Time) bson.M {
	return bson.M{"$set": bson.M{"status": status, "processed_at": at.UTC()}}
}

func listOptions(newestFirst bool, limit int) *options.FindOptions {
	dir := 1
	if newestFirst {
		dir = -1
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: dir}, {Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return opts
}

// --- PaymentStore -----------------------------------------------------------

func (s *Store) CreatePayment(ctx context.Context, req payment.Request) (payment.Request, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = s.now()
	}
	amount, err := toDecimal128(req.Amount)
	if err != nil {
		return payment.Request{}, fmt.Errorf("encode amount: %w", err)
	}
	doc := paymentDoc{
		ID:          req.ID,
		AccountID:   req.AccountID,
		Username:    req.Username,
		TxReference: req.TxReference,
		Amount:      amount,
		ItemID:      req.ItemID,
		ItemName:    req.ItemName,
		Status:      string(req.Status),
		CreatedAt:   req.CreatedAt,
	}
	if _, err := s.payments.InsertOne(ctx, doc); err != nil {
		return payment.Request{}, translate(err)
	}
	return req, nil
}

func (s *Store) GetPayment(ctx context.Context, id string) (payment.Request, error) {
	var doc paymentDoc
	if err := s.payments.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return payment.Request{}, translate(err)
	}
	return doc.toRequest(), nil
}

func (s *Store) TransitionPayment(ctx context.Context, id string, status payment.Status, at time.Time) (payment.Request, error) {
	var doc paymentDoc
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	err := s.payments.FindOneAndUpdate(ctx, transitionFilter(id), transitionUpdate(string(status), at), opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		current, getErr := s.GetPayment(ctx, id)
		if getErr != nil {
			return payment.Request{}, getErr
		}
		return current, storage.ErrConflict
	}
	if err != nil {
		return payment.Request{}, err
	}
	return doc.toRequest(), nil
}

func (s *Store) findPayments(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]payment.Request, error) {
	cur, err := s.payments.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var docs []paymentDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]payment.Request, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toRequest())
	}
	return out, nil
}

func (s *Store) ListPendingPayments(ctx context.Context, limit int) ([]payment.Request, error) {
	return s.findPayments(ctx, bson.M{"status": "pending"}, listOptions(false, limit))
}

func (s *Store) ListPaymentsByAccount(ctx context.Context, accountID string, limit int) ([]payment.Request, error) {
	return s.findPayments(ctx, bson.M{"user_id": accountID}, listOptions(true, limit))
}

func (s *Store) CountPendingPayments(ctx context.Context) (int64, error) {
	return s.payments.CountDocuments(ctx, bson.M{"status": "pending"})
}

// --- WithdrawalStore --------------------------------------------------------

func (s *Store) CreateWithdrawal(ctx context.Context, req withdrawal.Request) (withdrawal.Request, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = s.now()
	}
	amount, err := toDecimal128(req.ExternalAmount)
	if err != nil {
		return withdrawal.Request{}, fmt.Errorf("encode amount: %w", err)
	}
	doc := withdrawalDoc{
		ID:             req.ID,
		AccountID:      req.AccountID,
		Username:       req.Username,
		Coins:          req.Coins,
		ExternalAmount: amount,
		Address:        req.Address,
		Status:         string(req.Status),
		CreatedAt:      req.CreatedAt,
	}
	if _, err := s.withdrawals.InsertOne(ctx, doc); err != nil {
		return withdrawal.Request{}, translate(err)
	}
	return req, nil
}

func (s *Store) GetWithdrawal(ctx context.Context, id string) (withdrawal.Request, error) {
	var doc withdrawalDoc
	if err := s.withdrawals.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return withdrawal.Request{}, translate(err)
	}
	return doc.toRequest(), nil
}

func (s *Store) TransitionWithdrawal(ctx context.Context, id string, status withdrawal.Status, at time.Time) (withdrawal.Request, error) {
	var doc withdrawalDoc
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	err := s.withdrawals.FindOneAndUpdate(ctx, transitionFilter(id), transitionUpdate(string(status), at), opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		current, getErr := s.GetWithdrawal(ctx, id)
		if getErr != nil {
			return withdrawal.Request{}, getErr
		}
		return current, storage.ErrConflict
	}
	if err != nil {
		return withdrawal.Request{}, err
	}
	return doc.toRequest(), nil
}

func (s *Store) findWithdrawals(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]withdrawal.Request, error) {
	cur, err := s.withdrawals.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var docs []withdrawalDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]withdrawal.Request, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toRequest())
	}
	return out, nil
}

func (s *Store) ListPendingWithdrawals(ctx context.Context, limit int) ([]withdrawal.Request, error) {
	return s.findWithdrawals(ctx, bson.M{"status": "pending"}, listOptions(false, limit))
}

func (s *Store) ListWithdrawalsByAccount(ctx context.Context, accountID string, limit int) ([]withdrawal.Request, error) {
	return s.findWithdrawals(ctx, bson.M{"user_id": accountID}, listOptions(true, limit))
}

func (s *Store) CountPendingWithdrawals(ctx context.Context) (int64, error) {
	return s.withdrawals.CountDocuments(ctx, bson.M{"status": "pending"})
}
