package scenario

import (
	"context"
	"fmt"
	"net/http"
	"slices"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"bankload/internal/bank"
	"bankload/internal/logger"
)

// メトリクス名
const (
	ActionRegister         = "Register"
	ActionLogin            = "Login"
	ActionGetWallet        = "Get Wallet Info"
	ActionCheckBalance     = "Check Balance"
	ActionViewTransactions = "View Transactions"
	ActionTopup            = "External Topup"
	ActionDebin            = "External Debin"
	ActionP2P              = "P2P Transfer"
)

// 外部サービスのモックで挙動が決まっているウォレットID
const (
	AcceptWalletID = "11111111-1111-1111-1111-111111111111"
	RejectWalletID = "22222222-2222-2222-2222-222222222222"
)

// p2pMinBalance を下回るとP2P送金はスキップされる
var p2pMinBalance = decimal.NewFromInt(10)

// Action は重み付きで繰り返し実行される操作
type Action struct {
	Name       string
	Weight     int
	MinBalance decimal.Decimal // ゼロなら前提条件なし
	Accept     func(status int) bool

	run func(*Session, context.Context) (*bank.Response, error)
}

// acceptStatuses は指定ステータスのみ成功とする判定関数を返す
// 0（レスポンスなし）は常に失敗
func acceptStatuses(codes ...int) func(int) bool {
	return func(status int) bool {
		return status != 0 && slices.Contains(codes, status)
	}
}

// DefaultActions は標準のアクション表を返す
func DefaultActions() []Action {
	return []Action{
		{
			Name:   ActionCheckBalance,
			Weight: 10,
			Accept: acceptStatuses(http.StatusOK),
			run:    (*Session).checkBalance,
		},
		{
			Name:   ActionViewTransactions,
			Weight: 8,
			Accept: acceptStatuses(http.StatusOK),
			run:    (*Session).viewTransactions,
		},
		{
			Name:   ActionTopup,
			Weight: 6,
			Accept: acceptStatuses(http.StatusOK),
			run:    (*Session).topup,
		},
		{
			Name:   ActionDebin,
			Weight: 4,
			Accept: acceptStatuses(http.StatusOK, http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError),
			run:    (*Session).debin,
		},
		{
			Name:       ActionP2P,
			Weight:     3,
			MinBalance: p2pMinBalance,
			Accept:     acceptStatuses(http.StatusOK, http.StatusBadRequest, http.StatusNotFound),
			run:        (*Session).p2p,
		},
	}
}

// ActionNames は標準アクションの名前を表の順で返す
func ActionNames() []string {
	actions := DefaultActions()
	names := make([]string, len(actions))
	for i, a := range actions {
		names[i] = a.Name
	}
	return names
}

// BuildActions は重みを上書きしたアクション表を返す
// 重み0でそのアクションを無効化できる
func BuildActions(weights map[string]int) ([]Action, error) {
	actions := DefaultActions()
	for name, w := range weights {
		if w < 0 {
			return nil, fmt.Errorf("action %q: weight must be non-negative", name)
		}
		idx := slices.IndexFunc(actions, func(a Action) bool { return a.Name == name })
		if idx < 0 {
			return nil, fmt.Errorf("unknown action %q", name)
		}
		actions[idx].Weight = w
	}
	return actions, nil
}

func (s *Session) checkBalance(ctx context.Context) (*bank.Response, error) {
	resp := s.client.Wallet(ctx, s.Token)
	if !resp.OK() {
		return resp, nil
	}
	wallet, err := bank.DecodeWallet(resp.Body)
	if err != nil {
		return resp, err
	}
	s.Balance = wallet.Balance
	return resp, nil
}

func (s *Session) viewTransactions(ctx context.Context) (*bank.Response, error) {
	return s.client.Transactions(ctx, s.Token), nil
}

func (s *Session) topup(ctx context.Context) (*bank.Response, error) {
	amount := s.uniformAmount(10, 100)
	resp := s.client.Topup(ctx, s.Token, bank.ExternalRequest{
		Amount:             amount.InexactFloat64(),
		Description:        fmt.Sprintf("Topup via Bank Account %d", s.intBetween(1000, 9999)),
		ExternalWalletInfo: AcceptWalletID,
	})
	if resp.OK() {
		s.Balance = s.Balance.Add(amount)
	}
	return resp, nil
}

func (s *Session) debin(ctx context.Context) (*bank.Response, error) {
	amount := s.uniformAmount(5, 50)
	wallets := []string{
		AcceptWalletID,
		RejectWalletID,
		fmt.Sprintf("random-wallet-%d", s.intBetween(1000, 9999)),
	}
	resp := s.client.Debin(ctx, s.Token, bank.ExternalRequest{
		Amount:             amount.InexactFloat64(),
		Description:        fmt.Sprintf("Payment to merchant %d", s.intBetween(100, 999)),
		ExternalWalletInfo: wallets[s.rng.IntN(len(wallets))],
	})
	// DEBINは外部口座から自分のウォレットへの入金
	if resp.OK() {
		s.Balance = s.Balance.Add(amount)
	}
	return resp, nil
}

func (s *Session) p2p(ctx context.Context) (*bank.Response, error) {
	amount := P2PAmount(s.uniformAmount(1, 20), s.Balance)
	receiver := uuid.NewString()
	resp := s.client.P2P(ctx, s.Token, bank.P2PRequest{
		Amount:           amount.InexactFloat64(),
		Description:      fmt.Sprintf("Transfer to friend %d", s.intBetween(100, 999)),
		ReceiverWalletID: receiver,
	})
	if resp.OK() {
		s.Balance = s.Balance.Sub(amount)
		logger.Debug(s.logID(), "sent %s to %s...", amount.StringFixed(2), receiver[:8])
	}
	return resp, nil
}

// P2PAmount は送金額を min(drawn, balance/2) の小数2桁で返す
// 丸めで残高の半分を超える場合は切り捨てる
func P2PAmount(drawn, balance decimal.Decimal) decimal.Decimal {
	half := balance.Mul(decimal.NewFromFloat(0.5))
	amount := decimal.Min(drawn, half).Round(2)
	if amount.GreaterThan(half) {
		amount = half.Truncate(2)
	}
	return amount
}
