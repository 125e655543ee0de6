// Package accounts registers players, authenticates them and runs the
// one-shot referral bonus at sign-up. It also owns the admin flag.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/cosmicminer/internal/app/domain/account"
	"github.com/R3E-Network/cosmicminer/internal/app/metrics"
	"github.com/R3E-Network/cosmicminer/internal/app/storage"
	"github.com/R3E-Network/cosmicminer/internal/auth"
	apperr "github.com/R3E-Network/cosmicminer/internal/errors"
	"github.com/R3E-Network/cosmicminer/pkg/logger"
)

const (
	referralCodeLength = 8
	maxInvitedListed   = 100
	codeAttempts       = 5
)

// Policy holds the registration economics.
type Policy struct {
	WelcomeBonus int64
	InvitedBonus int64
	InviterBonus int64
	// Admins lists lower-cased emails promoted to admin when they register.
	Admins map[string]struct{}
}

// DefaultPolicy returns the standard registration bonuses.
func DefaultPolicy() Policy {
	return Policy{WelcomeBonus: 100, InvitedBonus: 50, InviterBonus: 200}
}

// Registration is the input to Register.
type Registration struct {
	Email        string
	Username     string
	Password     string
	ReferralCode string
}

// Session is an authenticated account with its bearer token.
type Session struct {
	Token   string
	Account account.Account
}

// ReferralInfo summarises an account's referral standing.
type ReferralInfo struct {
	Code            string `json:"referral_code"`
	Count           int64  `json:"referral_count"`
	BonusPerInvite  int64  `json:"bonus_per_invite"`
	BonusForInvited int64  `json:"bonus_for_invited"`
	TotalEarned     int64  `json:"total_earned_from_referrals"`
}

// InvitedUser is one account registered with the caller's code.
type InvitedUser struct {
	Username    string    `json:"username"`
	JoinedAt    time.Time `json:"joined_at"`
	TotalEarned int64     `json:"total_earned"`
}

// Service manages the account directory.
type Service struct {
	store  storage.AccountStore
	tokens *auth.Issuer
	policy Policy
	log    *logger.Logger
}

// New constructs an account service.
func New(store storage.AccountStore, tokens *auth.Issuer, policy Policy, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("accounts")
	}
	if policy.Admins == nil {
		policy.Admins = map[string]struct{}{}
	}
	return &Service{store: store, tokens: tokens, policy: policy, log: log}
}

// Register creates an account and runs the referral cascade. An unknown
// referral code is ignored.
func (s *Service) Register(ctx context.Context, reg Registration) (Session, error) {
	email, err := normalizeEmail(reg.Email)
	if err != nil {
		return Session{}, err
	}
	username := strings.TrimSpace(reg.Username)
	if username == "" {
		return Session{}, apperr.InvalidArgument("username is required")
	}
	if reg.Password == "" {
		return Session{}, apperr.InvalidArgument("password is required")
	}

	if _, err := s.store.GetAccountByEmail(ctx, email); err == nil {
		return Session{}, apperr.EmailTaken(email)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return Session{}, apperr.Internal("lookup email", err)
	}
	if _, err := s.store.GetAccountByUsername(ctx, username); err == nil {
		return Session{}, apperr.UsernameTaken(username)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return Session{}, apperr.Internal("lookup username", err)
	}

	hash, err := auth.HashPassword(reg.Password)
	if err != nil {
		return Session{}, apperr.Internal("hash password", err)
	}

	bonus := s.policy.WelcomeBonus
	var inviter *account.Account
	if code := normalizeCode(reg.ReferralCode); code != "" {
		found, err := s.store.GetAccountByReferralCode(ctx, code)
		switch {
		case err == nil:
			inviter = &found
			bonus += s.policy.InvitedBonus
		case errors.Is(err, storage.ErrNotFound):
			s.log.WithField("referral_code", code).Info("unknown referral code ignored")
		default:
			return Session{}, apperr.Internal("lookup referral code", err)
		}
	}

	_, admin := s.policy.Admins[email]
	acct := account.Account{
		Email:        email,
		Username:     username,
		PasswordHash: hash,
		Coins:        bonus,
		TotalEarned:  bonus,
		OwnedShips:   []string{account.BasicShip},
		ActiveShip:   account.BasicShip,
		Boosts:       []account.Boost{},
		IsAdmin:      admin,
	}
	if inviter != nil {
		acct.ReferredBy = inviter.ID
	}

	created, err := s.insert(ctx, acct)
	if err != nil {
		return Session{}, err
	}
	metrics.RecordCredit("welcome", bonus)

	if inviter != nil {
		s.rewardInviter(ctx, inviter.ID, created.ID)
	}

	s.log.WithField("account_id", created.ID).
		WithField("username", created.Username).
		WithField("referred_by", created.ReferredBy).
		WithField("admin", created.IsAdmin).
		Info("account registered")

	return s.session(created)
}

// insert assigns a fresh referral code, retrying on collisions.
func (s *Service) insert(ctx context.Context, acct account.Account) (account.Account, error) {
	for attempt := 0; attempt < codeAttempts; attempt++ {
		acct.ReferralCode = newReferralCode()
		created, err := s.store.CreateAccount(ctx, acct)
		if err == nil {
			return created, nil
		}
		if !errors.Is(err, storage.ErrDuplicate) {
			return account.Account{}, apperr.Internal("create account", err)
		}
		// A concurrent registration may have claimed the email or username.
		if _, lookupErr := s.store.GetAccountByEmail(ctx, acct.Email); lookupErr == nil {
			return account.Account{}, apperr.EmailTaken(acct.Email)
		}
		if _, lookupErr := s.store.GetAccountByUsername(ctx, acct.Username); lookupErr == nil {
			return account.Account{}, apperr.UsernameTaken(acct.Username)
		}
	}
	return account.Account{}, apperr.Internal("create account", fmt.Errorf("no free referral code after %d attempts", codeAttempts))
}

// rewardInviter credits the referring account. The new account already
// exists, so a failure here is recorded rather than returned.
func (s *Service) rewardInviter(ctx context.Context, inviterID, inviteeID string) {
	_, err := s.store.ApplyMutation(ctx, inviterID, storage.Mutation{
		Coins:         s.policy.InviterBonus,
		TotalEarned:   s.policy.InviterBonus,
		ReferralCount: 1,
	})
	if err != nil {
		metrics.RecordConsistencyHazard("referral_reward")
		s.log.WithError(err).
			WithField("inviter_id", inviterID).
			WithField("invitee_id", inviteeID).
			Error("referral reward not applied")
		return
	}
	metrics.RecordCredit("referral", s.policy.InviterBonus)
	s.log.WithField("inviter_id", inviterID).
		WithField("invitee_id", inviteeID).
		WithField("bonus", s.policy.InviterBonus).
		Info("referral reward applied")
}

// Login verifies credentials and issues a token.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	acct, err := s.store.GetAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Session{}, apperr.InvalidCredentials()
		}
		return Session{}, apperr.Internal("lookup email", err)
	}
	if !auth.CheckPassword(acct.PasswordHash, password) {
		return Session{}, apperr.InvalidCredentials()
	}
	return s.session(acct)
}

// Authenticate resolves a bearer token to its account.
func (s *Service) Authenticate(ctx context.Context, token string) (account.Account, error) {
	id, err := s.tokens.Validate(token)
	if err != nil {
		return account.Account{}, apperr.InvalidToken(err)
	}
	acct, err := s.store.GetAccount(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return account.Account{}, apperr.Unauthorized("account no longer exists")
		}
		return account.Account{}, apperr.Internal("load account", err)
	}
	return acct, nil
}

// Get returns an account by id.
func (s *Service) Get(ctx context.Context, id string) (account.Account, error) {
	acct, err := s.store.GetAccount(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return account.Account{}, apperr.AccountNotFound(id)
		}
		return account.Account{}, apperr.Internal("load account", err)
	}
	return acct, nil
}

// ReferralInfo reports the caller's referral code and earnings.
func (s *Service) ReferralInfo(ctx context.Context, id string) (ReferralInfo, error) {
	acct, err := s.Get(ctx, id)
	if err != nil {
		return ReferralInfo{}, err
	}
	return ReferralInfo{
		Code:            acct.ReferralCode,
		Count:           acct.ReferralCount,
		BonusPerInvite:  s.policy.InviterBonus,
		BonusForInvited: s.policy.InvitedBonus,
		TotalEarned:     acct.ReferralCount * s.policy.InviterBonus,
	}, nil
}

// InvitedUsers lists accounts registered with the caller's code.
func (s *Service) InvitedUsers(ctx context.Context, id string) ([]InvitedUser, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	invited, err := s.store.ListReferredBy(ctx, id, maxInvitedListed)
	if err != nil {
		return nil, apperr.Internal("list invited users", err)
	}
	out := make([]InvitedUser, 0, len(invited))
	for _, acct := range invited {
		out = append(out, InvitedUser{
			Username:    acct.Username,
			JoinedAt:    acct.CreatedAt,
			TotalEarned: acct.TotalEarned,
		})
	}
	return out, nil
}

// RequireAdmin fails with Forbidden unless the account is an admin.
func (s *Service) RequireAdmin(ctx context.Context, id string) (account.Account, error) {
	acct, err := s.store.GetAccount(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return account.Account{}, apperr.Forbidden("admin privileges required")
		}
		return account.Account{}, apperr.Internal("load account", err)
	}
	if !acct.IsAdmin {
		return account.Account{}, apperr.Forbidden("admin privileges required")
	}
	return acct, nil
}

// MakeAdmin grants the admin flag to the account with the given email.
func (s *Service) MakeAdmin(ctx context.Context, actorID, email string) (account.Account, error) {
	if _, err := s.RequireAdmin(ctx, actorID); err != nil {
		return account.Account{}, err
	}
	email = strings.ToLower(strings.TrimSpace(email))
	target, err := s.store.GetAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return account.Account{}, apperr.AccountNotFound(email)
		}
		return account.Account{}, apperr.Internal("lookup email", err)
	}
	admin := true
	updated, err := s.store.ApplyMutation(ctx, target.ID, storage.Mutation{Admin: &admin})
	if err != nil {
		return account.Account{}, apperr.Internal("grant admin", err)
	}
	s.log.WithField("actor_id", actorID).WithField("account_id", updated.ID).Info("admin granted")
	return updated, nil
}

func (s *Service) session(acct account.Account) (Session, error) {
	token, err := s.tokens.Issue(acct.ID)
	if err != nil {
		return Session{}, apperr.Internal("issue token", err)
	}
	return Session{Token: token, Account: acct}, nil
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apperr.InvalidArgument("a valid email is required")
	}
	return email, nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func newReferralCode() string {
	return strings.ToUpper(uuid.NewString()[:referralCodeLength])
}
