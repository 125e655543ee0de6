package accounts

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/R3E-Network/cosmicminer/internal/app/storage/memory"
	"github.com/R3E-Network/cosmicminer/internal/auth"
	apperr "github.com/R3E-Network/cosmicminer/internal/errors"
	"github.com/R3E-Network/cosmicminer/pkg/logger"
)

func newService(admins ...string) (*Service, *memory.Store) {
	store := memory.New()
	policy := DefaultPolicy()
	policy.Admins = map[string]struct{}{}
	for _, a := range admins {
		policy.Admins[a] = struct{}{}
	}
	return New(store, auth.NewIssuer("test-secret", time.Hour), policy, logger.Discard()), store
}

func register(t *testing.T, svc *Service, email, username, code string) Session {
	t.Helper()
	sess, err := svc.Register(context.Background(), Registration{
		Email:        email,
		Username:     username,
		Password:     "hunter22",
		ReferralCode: code,
	})
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	return sess
}

func TestService(t *testing.T) {
	svc, _ := newService()

	sess := register(t, svc, "Alice@Example.com", "alice", "")
	if sess.Account.ID == "" || sess.Token == "" {
		t.Fatalf("expected id and token to be generated")
	}
	acct := sess.Account
	if acct.Email != "alice@example.com" {
		t.Fatalf("email not normalised: %s", acct.Email)
	}
	if acct.Coins != 100 || acct.TotalEarned != 100 {
		t.Fatalf("expected welcome bonus of 100, got %d/%d", acct.Coins, acct.TotalEarned)
	}
	if len(acct.ReferralCode) != referralCodeLength || acct.ReferralCode != strings.ToUpper(acct.ReferralCode) {
		t.Fatalf("unexpected referral code %q", acct.ReferralCode)
	}
	if acct.ActiveShip != "basic" || len(acct.OwnedShips) != 1 {
		t.Fatalf("expected basic ship, got %+v", acct.OwnedShips)
	}

	login, err := svc.Login(context.Background(), "alice@example.com", "hunter22")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	me, err := svc.Authenticate(context.Background(), login.Token)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if me.ID != acct.ID {
		t.Fatalf("token resolved to %s, want %s", me.ID, acct.ID)
	}

	if _, err := svc.Login(context.Background(), "alice@example.com", "wrong"); !errors.Is(err, apperr.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, err := svc.Login(context.Background(), "nobody@example.com", "hunter22"); !errors.Is(err, apperr.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for unknown email, got %v", err)
	}
}

func TestRegisterReferralCascade(t *testing.T) {
	svc, store := newService()
	inviter := register(t, svc, "a@example.com", "a", "")

	invitee := register(t, svc, "b@example.com", "b", strings.ToLower(inviter.Account.ReferralCode))
	if invitee.Account.Coins != 150 || invitee.Account.TotalEarned != 150 {
		t.Fatalf("expected invitee to receive 150, got %d", invitee.Account.Coins)
	}
	if invitee.Account.ReferredBy != inviter.Account.ID {
		t.Fatalf("expected back-reference to inviter")
	}

	updated, _ := store.GetAccount(context.Background(), inviter.Account.ID)
	if updated.Coins != 300 || updated.TotalEarned != 300 || updated.ReferralCount != 1 {
		t.Fatalf("expected inviter 300/300/1, got %d/%d/%d", updated.Coins, updated.TotalEarned, updated.ReferralCount)
	}

	info, err := svc.ReferralInfo(context.Background(), inviter.Account.ID)
	if err != nil {
		t.Fatalf("referral info: %v", err)
	}
	if info.Count != 1 || info.TotalEarned != 200 || info.BonusPerInvite != 200 || info.BonusForInvited != 50 {
		t.Fatalf("unexpected referral info %+v", info)
	}

	invited, err := svc.InvitedUsers(context.Background(), inviter.Account.ID)
	if err != nil {
		t.Fatalf("invited users: %v", err)
	}
	if len(invited) != 1 || invited[0].Username != "b" || invited[0].TotalEarned != 150 {
		t.Fatalf("unexpected invited users %+v", invited)
	}
}

func TestRegisterUnknownReferralCode(t *testing.T) {
	svc, _ := newService()
	sess := register(t, svc, "c@example.com", "c", "NOPE1234")
	if sess.Account.Coins != 100 || sess.Account.ReferredBy != "" {
		t.Fatalf("unknown code should grant only the welcome bonus: %+v", sess.Account)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newService()
	register(t, svc, "taken@example.com", "taken", "")

	cases := []struct {
		name string
		reg  Registration
		want error
	}{
		{"bad email", Registration{Email: "not-an-email", Username: "x", Password: "p"}, apperr.ErrInvalidArgument},
		{"missing username", Registration{Email: "x@example.com", Password: "p"}, apperr.ErrInvalidArgument},
		{"missing password", Registration{Email: "x@example.com", Username: "x"}, apperr.ErrInvalidArgument},
		{"email taken", Registration{Email: "TAKEN@example.com", Username: "other", Password: "p"}, apperr.ErrEmailTaken},
		{"username taken", Registration{Email: "new@example.com", Username: "taken", Password: "p"}, apperr.ErrUsernameTaken},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Register(context.Background(), tc.reg); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestAdminBootstrapAndMakeAdmin(t *testing.T) {
	svc, _ := newService("root@example.com")
	root := register(t, svc, "root@example.com", "root", "")
	if !root.Account.IsAdmin {
		t.Fatalf("expected bootstrap admin")
	}
	user := register(t, svc, "user@example.com", "user", "")
	if user.Account.IsAdmin {
		t.Fatalf("regular user must not be admin")
	}

	if _, err := svc.MakeAdmin(context.Background(), user.Account.ID, "root@example.com"); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := svc.MakeAdmin(context.Background(), root.Account.ID, "ghost@example.com"); !errors.Is(err, apperr.ErrAccountNotFound) {
		t.Fatalf("expected account not found, got %v", err)
	}
	promoted, err := svc.MakeAdmin(context.Background(), root.Account.ID, "USER@example.com")
	if err != nil {
		t.Fatalf("make admin: %v", err)
	}
	if !promoted.IsAdmin {
		t.Fatalf("expected user to be promoted")
	}
	if _, err := svc.RequireAdmin(context.Background(), user.Account.ID); err != nil {
		t.Fatalf("promoted user should pass admin check: %v", err)
	}
}

func TestAuthenticateRejectsGarbage(t *testing.T) {
	svc, _ := newService()
	if _, err := svc.Authenticate(context.Background(), "garbage"); !errors.Is(err, apperr.ErrInvalidToken) {
		t.Fatalf("expected invalid token, got %v", err)
	}
}
