package scenario

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bankload/internal/bank"
	"bankload/internal/fakebank"
	"bankload/internal/metrics"
)

func startFakeBank(t *testing.T, config fakebank.Config) *fakebank.Server {
	t.Helper()
	srv := fakebank.New(config)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Stop() })
	return srv
}

func fastClass() ClientClass {
	return ClientClass{Name: "FastUser", Weight: 1, WaitMin: 5 * time.Millisecond, WaitMax: 10 * time.Millisecond}
}

func newTestSession(baseURL string, rec Recorder) *Session {
	return NewSession(SessionConfig{
		ID:       "user-1",
		Class:    fastClass(),
		Client:   bank.New(bank.Config{BaseURL: baseURL, Timeout: 5 * time.Second}),
		Rand:     rand.New(rand.NewPCG(1, 2)),
		Recorder: rec,
	})
}

func TestSessionStartHappyPath(t *testing.T) {
	config := fakebank.DefaultConfig()
	config.InitialBalance = decimal.RequireFromString("50.00")
	srv := startFakeBank(t, config)

	reg := metrics.NewRegistry()
	s := newTestSession(srv.URL(), reg)

	require.NoError(t, s.Start(context.Background()))

	assert.Regexp(t, `^testuser_\d{4}_\d{3}$`, s.Username)
	assert.Equal(t, s.Username+"@example.com", s.Email)
	assert.Equal(t, "SecurePassword123!", s.Password)
	assert.NotEmpty(t, s.Token)
	assert.Equal(t, bank.ID("1"), s.UserID)
	assert.NotEmpty(t, s.WalletID)
	assert.Equal(t, "50.00", s.Balance.StringFixed(2))

	for _, name := range []string{ActionRegister, ActionLogin, ActionGetWallet} {
		m := reg.Get(name)
		assert.Equal(t, uint64(1), m.SuccessRequests(), name)
		assert.Zero(t, m.FailedRequests(), name)
	}
	assert.Equal(t, "Bearer "+s.Token, srv.LastAuthorization(fakebank.RouteWallet))
}

func TestSessionUsernameRanges(t *testing.T) {
	srv := startFakeBank(t, fakebank.DefaultConfig())

	for i := range 20 {
		s := NewSession(SessionConfig{
			ID:     "user",
			Class:  fastClass(),
			Client: bank.New(bank.Config{BaseURL: srv.URL(), Timeout: 5 * time.Second}),
			Rand:   rand.New(rand.NewPCG(uint64(i), 99)),
		})
		require.NoError(t, s.Start(context.Background()))

		var a, b int
		n, err := fmt.Sscanf(s.Username, "testuser_%d_%d", &a, &b)
		require.NoError(t, err)
		require.Equal(t, 2, n)
		assert.GreaterOrEqual(t, a, 1000)
		assert.LessOrEqual(t, a, 9999)
		assert.GreaterOrEqual(t, b, 100)
		assert.LessOrEqual(t, b, 999)
	}
}

func TestSessionLoginFailureStopsUser(t *testing.T) {
	srv := startFakeBank(t, fakebank.DefaultConfig())
	srv.ForceStatus(fakebank.RouteLogin, http.StatusUnauthorized)

	reg := metrics.NewRegistry()
	s := newTestSession(srv.URL(), reg)

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStopUser)
	assert.Empty(t, s.Token)

	assert.Equal(t, uint64(1), srv.Calls(fakebank.RouteRegister))
	assert.Equal(t, uint64(1), srv.Calls(fakebank.RouteLogin))
	assert.Zero(t, srv.Calls(fakebank.RouteWallet))
	assert.Equal(t, uint64(2), srv.TotalCalls())

	assert.Equal(t, uint64(1), reg.Get(ActionLogin).FailedRequests())
	assert.Equal(t, uint64(1), reg.Get(ActionLogin).StatusCounts()[401])
}

func TestSessionRegisterFailureStopsUser(t *testing.T) {
	srv := startFakeBank(t, fakebank.DefaultConfig())
	srv.ForceStatus(fakebank.RouteRegister, http.StatusBadRequest)

	s := newTestSession(srv.URL(), nil)

	err := s.Start(context.Background())
	assert.ErrorIs(t, err, ErrStopUser)
	assert.Zero(t, srv.Calls(fakebank.RouteLogin))
}

func TestSessionLoginUnparseableBody(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(bank.PathRegister, func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc(bank.PathLogin, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "<html>ok</html>")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	reg := metrics.NewRegistry()
	s := newTestSession(srv.URL, reg)

	err := s.Start(context.Background())
	assert.ErrorIs(t, err, ErrStopUser)
	assert.Equal(t, uint64(1), reg.Get(ActionLogin).FailedRequests())
}

func TestSessionWalletFailureContinues(t *testing.T) {
	srv := startFakeBank(t, fakebank.DefaultConfig())
	srv.ForceStatus(fakebank.RouteWallet, http.StatusInternalServerError)

	var failures []string
	reg := metrics.NewRegistry()
	s := NewSession(SessionConfig{
		ID:       "user-1",
		Class:    fastClass(),
		Client:   bank.New(bank.Config{BaseURL: srv.URL(), Timeout: 5 * time.Second}),
		Rand:     rand.New(rand.NewPCG(1, 2)),
		Recorder: reg,
		OnFailure: func(action string, status int, err error) {
			failures = append(failures, action)
		},
	})

	require.NoError(t, s.Start(context.Background()))
	assert.NotEmpty(t, s.Token)
	assert.Empty(t, s.WalletID)
	assert.True(t, s.Balance.IsZero())
	assert.Equal(t, uint64(1), reg.Get(ActionGetWallet).FailedRequests())
	assert.Equal(t, []string{ActionGetWallet}, failures)
}

func TestSessionTopupUpdatesBalance(t *testing.T) {
	config := fakebank.DefaultConfig()
	config.InitialBalance = decimal.RequireFromString("50.00")
	srv := startFakeBank(t, config)

	reg := metrics.NewRegistry()
	s := newTestSession(srv.URL(), reg)
	require.NoError(t, s.Start(context.Background()))

	outcome := s.Perform(context.Background(), actionByName(t, ActionTopup))
	assert.Equal(t, OutcomeSuccess, outcome)

	added := s.Balance.Sub(decimal.NewFromInt(50))
	assert.True(t, added.GreaterThanOrEqual(decimal.NewFromInt(10)), added.String())
	assert.True(t, added.LessThanOrEqual(decimal.NewFromInt(100)), added.String())
	assert.True(t, added.Equal(added.Round(2)))

	serverBalance, err := srv.Balance(s.Username)
	require.NoError(t, err)
	assert.True(t, serverBalance.Equal(s.Balance), "server %s client %s", serverBalance, s.Balance)
	assert.Equal(t, "Bearer "+s.Token, srv.LastAuthorization(fakebank.RouteTopup))
}

func TestSessionCheckBalanceRefreshes(t *testing.T) {
	config := fakebank.DefaultConfig()
	config.InitialBalance = decimal.RequireFromString("12.50")
	srv := startFakeBank(t, config)

	s := newTestSession(srv.URL(), nil)
	require.NoError(t, s.Start(context.Background()))

	s.Balance = decimal.NewFromInt(999)
	assert.Equal(t, OutcomeSuccess, s.Perform(context.Background(), actionByName(t, ActionCheckBalance)))
	assert.Equal(t, "12.50", s.Balance.StringFixed(2))

	// 失敗時は残高を変更しない
	srv.ForceStatus(fakebank.RouteWallet, http.StatusBadGateway)
	s.Balance = decimal.NewFromInt(7)
	assert.Equal(t, OutcomeFailure, s.Perform(context.Background(), actionByName(t, ActionCheckBalance)))
	assert.Equal(t, "7.00", s.Balance.StringFixed(2))
}

func TestSessionDebinClassification(t *testing.T) {
	srv := startFakeBank(t, fakebank.DefaultConfig())
	reg := metrics.NewRegistry()
	s := newTestSession(srv.URL(), reg)
	require.NoError(t, s.Start(context.Background()))

	debin := actionByName(t, ActionDebin)
	for _, status := range []int{400, 404, 500} {
		srv.ForceStatus(fakebank.RouteDebin, status)
		assert.Equal(t, OutcomeSuccess, s.Perform(context.Background(), debin), "status %d", status)
		assert.True(t, s.Balance.IsZero())
	}

	srv.ForceStatus(fakebank.RouteDebin, http.StatusUnauthorized)
	assert.Equal(t, OutcomeFailure, s.Perform(context.Background(), debin))

	srv.ForceStatus(fakebank.RouteDebin, http.StatusOK)
	assert.Equal(t, OutcomeSuccess, s.Perform(context.Background(), debin))
	assert.True(t, s.Balance.GreaterThanOrEqual(decimal.NewFromInt(5)))
	assert.True(t, s.Balance.LessThanOrEqual(decimal.NewFromInt(50)))

	m := reg.Get(ActionDebin)
	assert.Equal(t, uint64(5), m.TotalRequests())
	assert.Equal(t, uint64(1), m.FailedRequests())
}

func TestSessionP2PSkippedBelowMinimum(t *testing.T) {
	srv := startFakeBank(t, fakebank.DefaultConfig())
	reg := metrics.NewRegistry()
	s := newTestSession(srv.URL(), reg)
	require.NoError(t, s.Start(context.Background()))

	s.Balance = decimal.RequireFromString("9.99")
	assert.Equal(t, OutcomeSkipped, s.Perform(context.Background(), actionByName(t, ActionP2P)))
	assert.Zero(t, srv.Calls(fakebank.RouteP2P))
	assert.Zero(t, reg.Get(ActionP2P).TotalRequests())
}

func TestSessionP2P(t *testing.T) {
	config := fakebank.DefaultConfig()
	config.InitialBalance = decimal.NewFromInt(40)
	srv := startFakeBank(t, config)
	s := newTestSession(srv.URL(), nil)
	require.NoError(t, s.Start(context.Background()))

	p2p := actionByName(t, ActionP2P)

	// ランダムな受取人は存在しないので404、想定内
	assert.Equal(t, OutcomeSuccess, s.Perform(context.Background(), p2p))
	assert.Equal(t, "40.00", s.Balance.StringFixed(2))

	srv.ForceStatus(fakebank.RouteP2P, http.StatusOK)
	assert.Equal(t, OutcomeSuccess, s.Perform(context.Background(), p2p))
	sent := decimal.NewFromInt(40).Sub(s.Balance)
	assert.True(t, sent.IsPositive())
	assert.True(t, sent.LessThanOrEqual(decimal.NewFromInt(20)))

	srv.ForceStatus(fakebank.RouteP2P, http.StatusInternalServerError)
	assert.Equal(t, OutcomeFailure, s.Perform(context.Background(), p2p))
}

func TestSessionTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	reg := metrics.NewRegistry()
	s := newTestSession(url, reg)
	s.Token = "t"

	assert.Equal(t, OutcomeFailure, s.Perform(context.Background(), actionByName(t, ActionViewTransactions)))
	assert.Equal(t, uint64(1), reg.Get(ActionViewTransactions).StatusCounts()[0])

	// 登録時のトランスポートエラーもセッション破棄
	assert.ErrorIs(t, s.Start(context.Background()), ErrStopUser)
}

func TestSessionCancelledNotRecorded(t *testing.T) {
	srv := startFakeBank(t, fakebank.DefaultConfig())
	reg := metrics.NewRegistry()
	s := newTestSession(srv.URL(), reg)
	require.NoError(t, s.Start(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Equal(t, OutcomeCancelled, s.Perform(ctx, actionByName(t, ActionCheckBalance)))
	assert.Zero(t, reg.Get(ActionCheckBalance).TotalRequests())

	err := newTestSession(srv.URL(), nil).Start(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrStopUser)
}

// TestSessionEndToEndBalance は登録から入金、残高確認までの流れを検証する
func TestSessionEndToEndBalance(t *testing.T) {
	var (
		mu      sync.Mutex
		balance = decimal.RequireFromString("50.00")
		topups  []decimal.Decimal
	)

	mux := http.NewServeMux()
	mux.HandleFunc(bank.PathRegister, func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc(bank.PathLogin, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"token":"abc","userData":{"id":1}}`)
	})
	mux.HandleFunc(bank.PathWallet, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"id": 10, "balance": balance.InexactFloat64()})
	})
	mux.HandleFunc(bank.PathTopup, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Amount             decimal.Decimal `json:"amount"`
			ExternalWalletInfo string          `json:"externalWalletInfo"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ExternalWalletInfo != AcceptWalletID {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		topups = append(topups, req.Amount)
		balance = balance.Add(req.Amount)
		mu.Unlock()
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	var bounds [2]float64
	s := NewSession(SessionConfig{
		ID:     "user-1",
		Class:  fastClass(),
		Client: bank.New(bank.Config{BaseURL: srv.URL, Timeout: 5 * time.Second}),
		Rand:   rand.New(rand.NewPCG(1, 2)),
		Amount: func(lo, hi float64) decimal.Decimal {
			bounds = [2]float64{lo, hi}
			return decimal.RequireFromString("25.00")
		},
		Recorder: metrics.NewRegistry(),
	})
	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, bank.ID("1"), s.UserID)
	assert.Equal(t, bank.ID("10"), s.WalletID)
	assert.Equal(t, "50.00", s.Balance.StringFixed(2))

	// 入金成功直後にキャッシュ残高が 50.00 + 25.00 になる
	require.Equal(t, OutcomeSuccess, s.Perform(context.Background(), actionByName(t, ActionTopup)))
	assert.Equal(t, "75.00", s.Balance.StringFixed(2))
	assert.Equal(t, [2]float64{10, 100}, bounds)
	mu.Lock()
	require.Len(t, topups, 1)
	assert.Equal(t, "25.00", topups[0].StringFixed(2))
	mu.Unlock()

	require.Equal(t, OutcomeSuccess, s.Perform(context.Background(), actionByName(t, ActionCheckBalance)))
	assert.Equal(t, "75.00", s.Balance.StringFixed(2))
}

func TestSessionLoopStopsOnCancel(t *testing.T) {
	srv := startFakeBank(t, fakebank.DefaultConfig())
	reg := metrics.NewRegistry()
	s := newTestSession(srv.URL(), reg)
	require.NoError(t, s.Start(context.Background()))

	p, err := NewPicker(DefaultActions(), func(a Action) int { return a.Weight })
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.Loop(ctx, p)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("loop did not stop after cancel")
	}

	assert.Greater(t, reg.Total().TotalRequests(), uint64(3))
	assert.Zero(t, reg.Total().FailedRequests())
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "success", OutcomeSuccess.String())
	assert.Equal(t, "failure", OutcomeFailure.String())
	assert.Equal(t, "skipped", OutcomeSkipped.String())
	assert.Equal(t, "cancelled", OutcomeCancelled.String())
	assert.Equal(t, "unknown", Outcome(42).String())
}
