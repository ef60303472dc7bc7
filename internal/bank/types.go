package bank

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// RegisterRequest は POST /auth/register のボディ
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest は POST /auth/login のボディ
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// ExternalRequest は topup / debin のボディ
type ExternalRequest struct {
	Amount             float64 `json:"amount"`
	Description        string  `json:"description"`
	ExternalWalletInfo string  `json:"externalWalletInfo"`
}

// P2PRequest は POST /wallets/transactions/p2p のボディ
type P2PRequest struct {
	Amount           float64 `json:"amount"`
	Description      string  `json:"description"`
	ReceiverWalletID string  `json:"receiverWalletId"`
}

// ID は数値または文字列のJSON識別子を文字列として保持する
type ID string

// UnmarshalJSON は 1 と "1" の両方を受け付ける
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// UserData は login レスポンスのユーザー情報
type UserData struct {
	ID       ID     `json:"id"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
}

// LoginResponse は POST /auth/login の200レスポンス
type LoginResponse struct {
	Token    string   `json:"token"`
	UserData UserData `json:"userData"`
}

// WalletResponse は GET /wallets/user の200レスポンス
// balance が無い場合はゼロになる
type WalletResponse struct {
	ID      ID              `json:"id"`
	UserID  ID              `json:"userId,omitempty"`
	Balance decimal.Decimal `json:"balance"`
}

// DecodeLogin はloginレスポンスをパースする
func DecodeLogin(body []byte) (LoginResponse, error) {
	var resp LoginResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return resp, fmt.Errorf("decode login response: %w", err)
	}
	if resp.Token == "" {
		return resp, fmt.Errorf("decode login response: token missing")
	}
	return resp, nil
}

// DecodeWallet はwalletレスポンスをパースする
func DecodeWallet(body []byte) (WalletResponse, error) {
	var resp WalletResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return resp, fmt.Errorf("decode wallet response: %w", err)
	}
	return resp, nil
}
