//go:build integration && postgres

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	app "github.com/R3E-Network/cosmicminer/internal/app"
	"github.com/R3E-Network/cosmicminer/internal/app/storage/postgres"
	"github.com/R3E-Network/cosmicminer/internal/middleware"
	"github.com/R3E-Network/cosmicminer/internal/platform/migrations"
	"github.com/R3E-Network/cosmicminer/pkg/logger"
)

// Integration test against Postgres to ensure migrations + core flows work with persistence.
func TestIntegrationPostgres(t *testing.T) {
	_ = godotenv.Load() // allow .env for local runs
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping Postgres integration")
	}

	db, err := sqlx.Open("postgres", dsn)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, migrations.Apply(db.DB))

	store := postgres.New(db)
	application, err := app.New(app.Stores{Accounts: store, Payments: store, Withdrawals: store}, app.Options{
		JWTSecret: "integration-secret",
	}, logger.Discard())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, application.Start(ctx))
	t.Cleanup(func() { _ = application.Stop(ctx) })

	router := NewHandler(application, nil, logger.Discard())
	handler := middleware.NewAuthMiddleware(application.Tokens, logger.Discard(), PublicPaths).Handler(router)
	server := httptest.NewServer(handler)
	defer server.Close()

	suffix := uuid.NewString()[:8]
	email := "pg-" + suffix + "@example.com"

	resp := post(t, server.URL+"/api/auth/register", "", map[string]any{
		"email": email, "username": "pg-" + suffix, "password": "hunter22",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = post(t, server.URL+"/api/auth/login", "", map[string]any{"email": email, "password": "hunter22"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token := readJSON(t, resp).Get("access_token").String()

	resp = post(t, server.URL+"/api/game/result", token, map[string]any{
		"coins_earned": 500, "distance": 1, "crystals_collected": 0,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = post(t, server.URL+"/api/shop/buy-with-coins/ship_silver", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, int64(100), readJSON(t, resp).Get("coins").Int())

	health, err := server.Client().Get(server.URL + "/healthz")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, health.StatusCode)
}

func post(t *testing.T, url, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(http.MethodPost, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func readJSON(t *testing.T, resp *http.Response) gjson.Result {
	t.Helper()
	var buf bytes.Buffer
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return gjson.ParseBytes(buf.Bytes())
}
