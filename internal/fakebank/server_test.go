package fakebank

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doJSON(t *testing.T, s *Server, method, path, token string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}

	resp, err := s.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

// registerAndLogin はユーザーを作成してトークンを返す
func registerAndLogin(t *testing.T, s *Server, username string) string {
	t.Helper()

	status, _ := doJSON(t, s, http.MethodPost, RouteRegister, "", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": "pw",
	})
	require.Equal(t, http.StatusOK, status)

	status, body := doJSON(t, s, http.MethodPost, RouteLogin, "", map[string]string{
		"username": username,
		"password": "pw",
	})
	require.Equal(t, http.StatusOK, status)

	var login loginResponse
	require.NoError(t, json.Unmarshal(body, &login))
	require.NotEmpty(t, login.Token)
	return login.Token
}

func walletOf(t *testing.T, s *Server, token string) walletResponse {
	t.Helper()
	status, body := doJSON(t, s, http.MethodGet, RouteWallet, token, nil)
	require.Equal(t, http.StatusOK, status)
	var w walletResponse
	require.NoError(t, json.Unmarshal(body, &w))
	return w
}

func TestHealth(t *testing.T) {
	s := New(DefaultConfig())
	status, body := doJSON(t, s, http.MethodGet, RouteHealth, "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"status":"UP"}`, string(body))
}

func TestRegisterDuplicate(t *testing.T) {
	s := New(DefaultConfig())
	registerAndLogin(t, s, "alice")

	status, _ := doJSON(t, s, http.MethodPost, RouteRegister, "", map[string]string{
		"username": "alice",
		"email":    "other@example.com",
		"password": "pw",
	})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = doJSON(t, s, http.MethodPost, RouteRegister, "", map[string]string{
		"username": "bob",
		"email":    "alice@example.com",
		"password": "pw",
	})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = doJSON(t, s, http.MethodPost, RouteRegister, "", map[string]string{"username": "carol"})
	assert.Equal(t, http.StatusBadRequest, status)

	assert.Equal(t, 1, s.Users())
}

func TestLogin(t *testing.T) {
	s := New(DefaultConfig())
	registerAndLogin(t, s, "alice")

	status, body := doJSON(t, s, http.MethodPost, RouteLogin, "", map[string]string{
		"username": "alice",
		"password": "pw",
	})
	require.Equal(t, http.StatusOK, status)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(body, &raw))
	userData := raw["userData"].(map[string]any)
	assert.Equal(t, 1.0, userData["id"])

	status, _ = doJSON(t, s, http.MethodPost, RouteLogin, "", map[string]string{
		"username": "alice",
		"password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestWalletRequiresToken(t *testing.T) {
	s := New(DefaultConfig())

	status, _ := doJSON(t, s, http.MethodGet, RouteWallet, "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = doJSON(t, s, http.MethodGet, RouteWallet, "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	other := New(Config{JWTSecret: "other"})
	token := registerAndLogin(t, other, "mallory")
	status, _ = doJSON(t, s, http.MethodGet, RouteWallet, token, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestWalletInitialBalance(t *testing.T) {
	config := DefaultConfig()
	config.InitialBalance = decimal.RequireFromString("50.00")
	s := New(config)

	token := registerAndLogin(t, s, "alice")
	w := walletOf(t, s, token)
	assert.NotEmpty(t, w.ID)
	assert.Equal(t, int64(1), w.UserID)
	assert.Equal(t, 50.0, w.Balance)
}

func TestTopup(t *testing.T) {
	s := New(DefaultConfig())
	token := registerAndLogin(t, s, "alice")

	status, _ := doJSON(t, s, http.MethodPost, RouteTopup, token, map[string]any{
		"amount":             25.5,
		"description":        "Topup via Bank Account 1234",
		"externalWalletInfo": AcceptWalletID,
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 25.5, walletOf(t, s, token).Balance)

	status, _ = doJSON(t, s, http.MethodPost, RouteTopup, token, map[string]any{
		"amount":             0,
		"externalWalletInfo": AcceptWalletID,
	})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = doJSON(t, s, http.MethodPost, RouteTopup, token, map[string]any{"amount": 10})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestDebinExternalRules(t *testing.T) {
	s := New(DefaultConfig())
	token := registerAndLogin(t, s, "alice")

	tests := []struct {
		wallet string
		want   int
	}{
		{AcceptWalletID, http.StatusOK},
		{RejectWalletID, http.StatusInternalServerError},
		{"random-wallet-4242", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.wallet, func(t *testing.T) {
			status, _ := doJSON(t, s, http.MethodPost, RouteDebin, token, map[string]any{
				"amount":             10,
				"description":        "Payment to merchant 123",
				"externalWalletInfo": tt.wallet,
			})
			assert.Equal(t, tt.want, status)
		})
	}

	// 成功した1件のみ残高に反映される
	assert.Equal(t, 10.0, walletOf(t, s, token).Balance)
}

func TestP2P(t *testing.T) {
	config := DefaultConfig()
	config.InitialBalance = decimal.NewFromInt(20)
	s := New(config)

	alice := registerAndLogin(t, s, "alice")
	bob := registerAndLogin(t, s, "bob")
	bobWallet := walletOf(t, s, bob)

	status, _ := doJSON(t, s, http.MethodPost, RouteP2P, alice, map[string]any{
		"amount":           5,
		"description":      "Transfer to friend 321",
		"receiverWalletId": "3f1c2a4e-0000-4000-8000-000000000000",
	})
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = doJSON(t, s, http.MethodPost, RouteP2P, alice, map[string]any{
		"amount":           500,
		"receiverWalletId": bobWallet.ID,
	})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = doJSON(t, s, http.MethodPost, RouteP2P, alice, map[string]any{
		"amount":           -1,
		"receiverWalletId": bobWallet.ID,
	})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = doJSON(t, s, http.MethodPost, RouteP2P, alice, map[string]any{
		"amount":           7.25,
		"receiverWalletId": bobWallet.ID,
	})
	require.Equal(t, http.StatusOK, status)

	assert.Equal(t, 12.75, walletOf(t, s, alice).Balance)
	assert.Equal(t, 27.25, walletOf(t, s, bob).Balance)

	balance, err := s.Balance("bob")
	require.NoError(t, err)
	assert.Equal(t, "27.25", balance.StringFixed(2))
}

func TestTransactionsNewestFirst(t *testing.T) {
	s := New(DefaultConfig())
	token := registerAndLogin(t, s, "alice")

	for _, amount := range []float64{10, 20} {
		status, _ := doJSON(t, s, http.MethodPost, RouteTopup, token, map[string]any{
			"amount":             amount,
			"externalWalletInfo": AcceptWalletID,
		})
		require.Equal(t, http.StatusOK, status)
	}

	status, body := doJSON(t, s, http.MethodGet, RouteTransactions, token, nil)
	require.Equal(t, http.StatusOK, status)

	var txs []map[string]any
	require.NoError(t, json.Unmarshal(body, &txs))
	require.Len(t, txs, 2)
	assert.Equal(t, 20.0, txs[0]["amount"])
	assert.Equal(t, TxExternalTopup, txs[0]["type"])
}

func TestForceStatusAndTracking(t *testing.T) {
	s := New(DefaultConfig())
	s.ForceStatus(RouteLogin, http.StatusUnauthorized)

	status, _ := doJSON(t, s, http.MethodPost, RouteRegister, "", map[string]string{
		"username": "alice", "email": "a@example.com", "password": "pw",
	})
	require.Equal(t, http.StatusOK, status)

	status, _ = doJSON(t, s, http.MethodPost, RouteLogin, "", map[string]string{
		"username": "alice", "password": "pw",
	})
	assert.Equal(t, http.StatusUnauthorized, status)

	s.ForceStatus(RouteLogin, 0)
	status, _ = doJSON(t, s, http.MethodPost, RouteLogin, "", map[string]string{
		"username": "alice", "password": "pw",
	})
	assert.Equal(t, http.StatusOK, status)

	s.ForceStatus(RouteWallet, http.StatusServiceUnavailable)
	status, _ = doJSON(t, s, http.MethodGet, RouteWallet, "tok", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)

	assert.Equal(t, uint64(1), s.Calls(RouteRegister))
	assert.Equal(t, uint64(2), s.Calls(RouteLogin))
	assert.Equal(t, uint64(1), s.Calls(RouteWallet))
	assert.Equal(t, uint64(4), s.TotalCalls())
	assert.Equal(t, "Bearer tok", s.LastAuthorization(RouteWallet))
}

func TestFaults(t *testing.T) {
	s := New(DefaultConfig())

	s.SetUnavailable(true)
	status, _ := doJSON(t, s, http.MethodPost, RouteLogin, "", map[string]string{})
	assert.Equal(t, http.StatusServiceUnavailable, status)

	s.ClearFaults()
	s.SetLatency(50 * time.Millisecond)
	start := time.Now()
	doJSON(t, s, http.MethodPost, RouteLogin, "", map[string]string{"username": "x", "password": "y"})
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	// ヘルスチェックは障害の影響を受けない
	s.SetUnavailable(true)
	status, _ = doJSON(t, s, http.MethodGet, RouteHealth, "", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestChaosInjectsAndClears(t *testing.T) {
	s := New(DefaultConfig())
	chaos := NewChaos(s, ChaosConfig{
		Interval:      20 * time.Millisecond,
		FaultDuration: 10 * time.Millisecond,
		FaultTypes:    []FaultType{FaultUnavailable},
	})

	chaos.Start(context.Background())
	assert.True(t, chaos.IsRunning())

	require.Eventually(t, func() bool {
		return chaos.FaultCount() > 0
	}, time.Second, 10*time.Millisecond)

	chaos.Stop()
	assert.False(t, chaos.IsRunning())
	assert.False(t, s.faults.unavailable.Load())

	stats := chaos.Stats()
	assert.Equal(t, stats.TotalFaults, stats.ByType["unavailable"])
}

func TestStartStop(t *testing.T) {
	s := New(DefaultConfig())
	require.NoError(t, s.Start())
	assert.Error(t, s.Start())

	resp, err := http.Get(s.URL() + RouteHealth)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
}

func TestParseFaultTypes(t *testing.T) {
	faults, err := ParseFaultTypes([]string{"latency", "UNAVAILABLE"})
	require.NoError(t, err)
	assert.Equal(t, []FaultType{FaultLatency, FaultUnavailable}, faults)

	_, err = ParseFaultTypes([]string{"kill"})
	assert.Error(t, err)
}

func TestStorePasswordsAreHashed(t *testing.T) {
	st := newStore(decimal.Zero)

	u, err := st.register("alice", "alice@example.com", "secret")
	require.NoError(t, err)
	assert.NotEqual(t, []byte("secret"), u.PasswordHash)

	_, err = st.authenticate("alice", "secret")
	require.NoError(t, err)

	_, err = st.authenticate("alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = st.authenticate("bob", "secret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}
