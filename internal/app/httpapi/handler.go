// Package httpapi exposes the economy over HTTP/JSON.
package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	app "github.com/R3E-Network/cosmicminer/internal/app"
	"github.com/R3E-Network/cosmicminer/internal/app/domain/account"
	"github.com/R3E-Network/cosmicminer/internal/app/domain/payment"
	"github.com/R3E-Network/cosmicminer/internal/app/domain/withdrawal"
	"github.com/R3E-Network/cosmicminer/internal/app/metrics"
	"github.com/R3E-Network/cosmicminer/internal/app/services/accounts"
	"github.com/R3E-Network/cosmicminer/internal/app/services/payments"
	apperr "github.com/R3E-Network/cosmicminer/internal/errors"
	"github.com/R3E-Network/cosmicminer/internal/httputil"
	"github.com/R3E-Network/cosmicminer/internal/middleware"
	"github.com/R3E-Network/cosmicminer/pkg/logger"
)

// PublicPaths are served without a bearer token.
var PublicPaths = []string{
	"/healthz",
	"/metrics",
	"/api/auth/login",
	"/api/auth/register",
	"/api/shop/items",
	"/api/leaderboard",
}

const maxBodyBytes = 1 << 20

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app   *app.Application
	audit *AuditLog
	log   *logger.Logger
}

// NewHandler returns a router exposing the API. Identity is read from the
// request context, so the router must sit behind the auth middleware.
func NewHandler(application *app.Application, audit *AuditLog, log *logger.Logger) *mux.Router {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	if audit == nil {
		audit = NewAuditLog(0, nil)
	}
	h := &handler{app: application, audit: audit, log: log}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/auth/register", h.register).Methods(http.MethodPost)
	api.HandleFunc("/auth/login", h.login).Methods(http.MethodPost)
	api.HandleFunc("/auth/me", h.me).Methods(http.MethodGet)

	api.HandleFunc("/referral/info", h.referralInfo).Methods(http.MethodGet)
	api.HandleFunc("/referral/invited-users", h.invitedUsers).Methods(http.MethodGet)

	api.HandleFunc("/game/result", h.gameResult).Methods(http.MethodPost)
	api.HandleFunc("/game/ship-data", h.shipData).Methods(http.MethodGet)
	api.HandleFunc("/game/select-ship/{ship_id}", h.selectShip).Methods(http.MethodPost)

	api.HandleFunc("/shop/items", h.shopItems).Methods(http.MethodGet)
	api.HandleFunc("/shop/buy-with-coins/{item_id}", h.buyWithCoins).Methods(http.MethodPost)
	api.HandleFunc("/shop/submit-payment", h.submitPayment).Methods(http.MethodPost)
	api.HandleFunc("/payments", h.myPayments).Methods(http.MethodGet)

	api.HandleFunc("/withdraw/request", h.requestWithdrawal).Methods(http.MethodPost)
	api.HandleFunc("/withdraw/info", h.withdrawInfo).Methods(http.MethodGet)
	api.HandleFunc("/withdrawals", h.myWithdrawals).Methods(http.MethodGet)

	api.HandleFunc("/leaderboard", h.leaderboard).Methods(http.MethodGet)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(audit.Middleware)
	admin.HandleFunc("/payments", h.pendingPayments).Methods(http.MethodGet)
	admin.HandleFunc("/approve-payment/{id}", h.approvePayment).Methods(http.MethodPost)
	admin.HandleFunc("/reject-payment/{id}", h.rejectPayment).Methods(http.MethodPost)
	admin.HandleFunc("/withdrawals", h.pendingWithdrawals).Methods(http.MethodGet)
	admin.HandleFunc("/process-withdrawal/{id}", h.processWithdrawal).Methods(http.MethodPost)
	admin.HandleFunc("/make-admin/{email}", h.makeAdmin).Methods(http.MethodPost)
	admin.HandleFunc("/audit", h.auditTrail).Methods(http.MethodGet)

	return r
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- auth ---

type tokenResponse struct {
	AccessToken string          `json:"access_token"`
	TokenType   string          `json:"token_type"`
	User        account.Account `json:"user"`
}

func newTokenResponse(s accounts.Session) tokenResponse {
	return tokenResponse{AccessToken: s.Token, TokenType: "bearer", User: s.Account}
}

func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email        string `json:"email"`
		Password     string `json:"password"`
		Username     string `json:"username"`
		ReferralCode string `json:"referral_code"`
	}
	if !h.decode(w, r, &payload) {
		return
	}
	session, err := h.app.Accounts.Register(r.Context(), accounts.Registration{
		Email:        payload.Email,
		Username:     payload.Username,
		Password:     payload.Password,
		ReferralCode: payload.ReferralCode,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, newTokenResponse(session))
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !h.decode(w, r, &payload) {
		return
	}
	session, err := h.app.Accounts.Login(r.Context(), payload.Email, payload.Password)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, newTokenResponse(session))
}

func (h *handler) me(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}
	acct, err := h.app.Accounts.Get(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, acct)
}

// --- referral ---

func (h *handler) referralInfo(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}
	info, err := h.app.Accounts.ReferralInfo(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, info)
}

func (h *handler) invitedUsers(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}
	users, err := h.app.Accounts.InvitedUsers(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if users == nil {
		users = []accounts.InvitedUser{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"invited_users": users})
}

// --- game ---

func (h *handler) gameResult(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}
	var payload struct {
		CoinsEarned       int64 `json:"coins_earned"`
		Distance          int64 `json:"distance"`
		CrystalsCollected int64 `json:"crystals_collected"`
	}
	if !h.decode(w, r, &payload) {
		return
	}
	result, err := h.app.Ledger.ApplyGameplayResult(r.Context(), id, payload.CoinsEarned, payload.Distance, payload.CrystalsCollected)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *handler) shipData(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}
	data, err := h.app.Ledger.ShipData(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, data)
}

func (h *handler) selectShip(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}
	acct, err := h.app.Ledger.SelectShip(r.Context(), id, mux.Vars(r)["ship_id"])
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"message":     "ship selected",
		"active_ship": acct.ActiveShip,
	})
}

// --- shop ---

func (h *handler) shopItems(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"items":           h.app.Catalog.Items(),
		"trc20_address":   h.app.DepositAddress,
		"deposit_network": h.app.DepositNetwork,
	})
}

func (h *handler) buyWithCoins(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}
	purchase, err := h.app.Ledger.PurchaseWithCoins(r.Context(), id, mux.Vars(r)["item_id"])
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("%s purchased", purchase.Item.Name),
		"item":    purchase.Item,
		"coins":   purchase.Balance,
	})
}

func (h *handler) submitPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}
	var payload struct {
		TxHash     string          `json:"tx_hash"`
		AmountUSDT decimal.Decimal `json:"amount_usdt"`
		ItemID     string          `json:"item_id"`
	}
	if !h.decode(w, r, &payload) {
		return
	}
	req, err := h.app.Payments.Submit(r.Context(), id, payments.Submission{
		TxReference: payload.TxHash,
		Amount:      payload.AmountUSDT,
		ItemID:      payload.ItemID,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"message":    "payment received; it will be credited after admin review",
		"payment_id": req.ID,
	})
}

func (h *handler) myPayments(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}
	list, err := h.app.Payments.ListMine(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"payments": nonNilPayments(list)})
}

// --- withdrawals ---

func (h *handler) requestWithdrawal(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}
	var payload struct {
		CoinsAmount   int64  `json:"coins_amount"`
		WalletAddress string `json:"wallet_address"`
	}
	if !h.decode(w, r, &payload) {
		return
	}
	req, err := h.app.Withdrawals.Submit(r.Context(), id, payload.CoinsAmount, payload.WalletAddress)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"message":      "withdrawal requested",
		"coins_amount": req.Coins,
		"usdt_amount":  req.ExternalAmount,
		"withdraw_id":  req.ID,
	})
}

func (h *handler) withdrawInfo(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}
	info, err := h.app.Withdrawals.Info(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, info)
}

func (h *handler) myWithdrawals(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}
	list, err := h.app.Withdrawals.ListMine(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"withdrawals": nonNilWithdrawals(list)})
}

// --- leaderboard ---

func (h *handler) leaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := h.app.Leaderboard.Top(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"leaderboard": entries})
}

// --- admin ---

func (h *handler) pendingPayments(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}
	list, err := h.app.Payments.ListPending(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"payments": nonNilPayments(list)})
}

func (h *handler) approvePayment(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}
	decision, err := h.app.Payments.Approve(r.Context(), id, mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"message": "payment approved",
		"item":    decision.Item.Name,
	})
}

func (h *handler) rejectPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}
	if _, err := h.app.Payments.Reject(r.Context(), id, mux.Vars(r)["id"]); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"message": "payment rejected"})
}

func (h *handler) pendingWithdrawals(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}
	list, err := h.app.Withdrawals.ListPending(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"withdrawals": nonNilWithdrawals(list)})
}

func (h *handler) processWithdrawal(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}
	approve, err := strconv.ParseBool(r.URL.Query().Get("approve"))
	if err != nil {
		httputil.WriteError(w, apperr.InvalidArgument("approve must be true or false"))
		return
	}
	if _, err := h.app.Withdrawals.Process(r.Context(), id, mux.Vars(r)["id"], approve); err != nil {
		httputil.WriteError(w, err)
		return
	}
	message := "withdrawal rejected"
	if approve {
		message = "withdrawal approved"
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"message": message})
}

func (h *handler) makeAdmin(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}
	email := mux.Vars(r)["email"]
	if _, err := h.app.Accounts.MakeAdmin(r.Context(), id, email); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"message": email + " is now an admin"})
}

func (h *handler) auditTrail(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}
	if _, err := h.app.Accounts.RequireAdmin(r.Context(), id); err != nil {
		httputil.WriteError(w, err)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			httputil.WriteError(w, apperr.InvalidArgument("limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"entries": h.audit.Recent(limit)})
}

// --- helpers ---

func caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := middleware.GetUserID(r.Context())
	if id == "" {
		httputil.WriteError(w, apperr.Unauthorized("authentication required"))
		return "", false
	}
	return id, true
}

func (h *handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSON(http.MaxBytesReader(w, r.Body, maxBodyBytes), dst); err != nil {
		h.log.WithError(err).WithField("path", r.URL.Path).Debug("rejecting malformed body")
		httputil.WriteError(w, apperr.InvalidArgument("malformed request body").WithDetails("reason", err.Error()))
		return false
	}
	return true
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func nonNilPayments(list []payment.Request) []payment.Request {
	if list == nil {
		return []payment.Request{}
	}
	return list
}

func nonNilWithdrawals(list []withdrawal.Request) []withdrawal.Request {
	if list == nil {
		return []withdrawal.Request{}
	}
	return list
}
