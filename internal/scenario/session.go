package scenario

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"bankload/internal/bank"
	"bankload/internal/logger"
)

// ErrStopUser は登録またはログインに失敗し、セッションを破棄すべきことを表す
var ErrStopUser = errors.New("stop user")

const defaultPassword = "SecurePassword123!"

// Recorder はリクエスト結果の記録先
// metrics.Registry がこれを満たす
type Recorder interface {
	Record(name string, success bool, status int, latency time.Duration)
}

// Outcome は1回の操作の扱い
type Outcome int

const (
	OutcomeSuccess   Outcome = iota // 受理されたステータス
	OutcomeFailure                  // 受理されないステータスまたはレスポンスなし
	OutcomeSkipped                  // 前提条件を満たさずリクエストなし
	OutcomeCancelled                // 実行終了で中断、記録しない
)

// String は文字列表現を返す
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// SessionConfig はSessionの設定
type SessionConfig struct {
	ID       string
	Class    ClientClass
	Client   *bank.Client
	Rand     *rand.Rand // nilなら自動でシードする
	Recorder Recorder   // nilなら記録しない

	// Amount は [lo, hi] から送金・入金額を引く。nilなら Rand から一様に引く
	Amount func(lo, hi float64) decimal.Decimal

	// OnFailure は失敗と判定された記録ごとに呼ばれる
	OnFailure func(action string, status int, err error)
}

// Session は1人の模擬ユーザーの状態
// 1つのゴルーチンだけが所有する
type Session struct {
	ID    string
	Class ClientClass

	Username string
	Email    string
	Password string
	Token    string
	UserID   bank.ID
	WalletID bank.ID
	Balance  decimal.Decimal

	client    *bank.Client
	rng       *rand.Rand
	amount    func(lo, hi float64) decimal.Decimal
	recorder  Recorder
	onFailure func(action string, status int, err error)
}

// NewSession は新しいSessionを作成する
func NewSession(config SessionConfig) *Session {
	rng := config.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Session{
		ID:        config.ID,
		Class:     config.Class,
		client:    config.Client,
		rng:       rng,
		amount:    config.Amount,
		recorder:  config.Recorder,
		onFailure: config.OnFailure,
	}
}

// Start は登録、ログイン、ウォレット取得を順に行う
// 登録かログインに失敗した場合は ErrStopUser をラップしたエラーを返す
func (s *Session) Start(ctx context.Context) error {
	s.Username = fmt.Sprintf("testuser_%d_%d", s.intBetween(1000, 9999), s.intBetween(100, 999))
	s.Email = s.Username + "@example.com"
	s.Password = defaultPassword

	if err := s.register(ctx); err != nil {
		return err
	}
	if err := s.login(ctx); err != nil {
		return err
	}
	s.fetchWallet(ctx)
	return nil
}

func (s *Session) register(ctx context.Context) error {
	resp := s.client.Register(ctx, bank.RegisterRequest{
		Username: s.Username,
		Email:    s.Email,
		Password: s.Password,
	})

	switch s.record(ctx, ActionRegister, resp, resp.OK(), nil) {
	case OutcomeSuccess:
		logger.Info(s.logID(), "registered")
		return nil
	case OutcomeCancelled:
		return ctx.Err()
	}

	logger.Warn(s.logID(), "registration failed: status %d: %s", resp.Status, bodySnippet(resp))
	return fmt.Errorf("register %s: status %d: %w", s.Username, resp.Status, ErrStopUser)
}

func (s *Session) login(ctx context.Context) error {
	resp := s.client.Login(ctx, bank.LoginRequest{
		Username: s.Username,
		Password: s.Password,
	})

	var (
		login bank.LoginResponse
		err   error
	)
	if resp.OK() {
		login, err = bank.DecodeLogin(resp.Body)
	}

	switch s.record(ctx, ActionLogin, resp, resp.OK() && err == nil, err) {
	case OutcomeSuccess:
		s.Token = login.Token
		s.UserID = login.UserData.ID
		logger.Info(s.logID(), "logged in")
		return nil
	case OutcomeCancelled:
		return ctx.Err()
	}

	if err != nil {
		logger.Warn(s.logID(), "login failed: %v", err)
		return fmt.Errorf("login %s: %w: %w", s.Username, err, ErrStopUser)
	}
	logger.Warn(s.logID(), "login failed: status %d: %s", resp.Status, bodySnippet(resp))
	return fmt.Errorf("login %s: status %d: %w", s.Username, resp.Status, ErrStopUser)
}

// fetchWallet の失敗は記録するだけでセッションは続行する
func (s *Session) fetchWallet(ctx context.Context) {
	resp := s.client.Wallet(ctx, s.Token)

	var err error
	if resp.OK() {
		var wallet bank.WalletResponse
		wallet, err = bank.DecodeWallet(resp.Body)
		if err == nil {
			s.WalletID = wallet.ID
			s.Balance = wallet.Balance
		}
	}

	switch s.record(ctx, ActionGetWallet, resp, resp.OK() && err == nil, err) {
	case OutcomeSuccess:
		logger.Info(s.logID(), "wallet %s retrieved, balance %s", s.WalletID, s.Balance.StringFixed(2))
	case OutcomeFailure:
		logger.Warn(s.logID(), "failed to get wallet info: status %d", resp.Status)
	}
}

// Perform は1つのアクションを実行して分類する
func (s *Session) Perform(ctx context.Context, a Action) Outcome {
	if !a.MinBalance.IsZero() && s.Balance.LessThan(a.MinBalance) {
		return OutcomeSkipped
	}

	accept := a.Accept
	if accept == nil {
		accept = acceptStatuses(http.StatusOK)
	}

	resp, err := a.run(s, ctx)
	return s.record(ctx, a.Name, resp, accept(resp.Status) && err == nil, err)
}

// Loop は ctx が終わるまで重み付きでアクションを選んで実行する
func (s *Session) Loop(ctx context.Context, actions *Picker[Action]) {
	for ctx.Err() == nil {
		s.Perform(ctx, actions.Pick(s.rng))
		if !sleep(ctx, s.Class.Wait(s.rng)) {
			return
		}
	}
}

// record は結果を記録する。実行終了による中断は記録しない
func (s *Session) record(ctx context.Context, name string, resp *bank.Response, success bool, err error) Outcome {
	if resp.Err != nil && ctx.Err() != nil {
		return OutcomeCancelled
	}

	success = success && resp.Err == nil
	if s.recorder != nil {
		s.recorder.Record(name, success, resp.Status, resp.Latency)
	}
	if success {
		return OutcomeSuccess
	}

	if err == nil {
		err = resp.Err
	}
	if s.onFailure != nil {
		s.onFailure(name, resp.Status, err)
	}
	logger.Debug(s.logID(), "%s failed: status %d", name, resp.Status)
	return OutcomeFailure
}

func (s *Session) logID() string {
	if s.Username != "" {
		return s.Username
	}
	return s.ID
}

// intBetween は [lo, hi] の一様乱数を返す
func (s *Session) intBetween(lo, hi int) int {
	return lo + s.rng.IntN(hi-lo+1)
}

// uniformAmount は [lo, hi] の金額を小数2桁で返す
func (s *Session) uniformAmount(lo, hi float64) decimal.Decimal {
	if s.amount != nil {
		return s.amount(lo, hi).Round(2)
	}
	return decimal.NewFromFloat(lo + s.rng.Float64()*(hi-lo)).Round(2)
}

func bodySnippet(resp *bank.Response) string {
	const limit = 200
	if resp.Err != nil {
		return resp.Err.Error()
	}
	if len(resp.Body) > limit {
		return string(resp.Body[:limit]) + "..."
	}
	return string(resp.Body)
}

// sleep は d だけ待つ。ctx が先に終われば false
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
