package bank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// APIのパス
const (
	PathRegister     = "/auth/register"
	PathLogin        = "/auth/login"
	PathWallet       = "/wallets/user"
	PathTransactions = "/wallets/transactions"
	PathTopup        = "/wallets/transactions/topup"
	PathDebin        = "/wallets/transactions/debin"
	PathP2P          = "/wallets/transactions/p2p"
)

const maxBodyBytes = 1 << 20

// Config はClientの設定
type Config struct {
	BaseURL string        // 例: http://localhost:8080
	Timeout time.Duration // リクエストごとのタイムアウト
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8080",
		Timeout: 30 * time.Second,
	}
}

// Response は1回のHTTP交換の結果
// Status 0 はレスポンスを得られなかったこと（Errに理由）を表す
type Response struct {
	Method  string
	Path    string
	Status  int
	Body    []byte
	Latency time.Duration
	Err     error
}

// OK はボディまで読み切れた200レスポンスかどうかを返す
func (r *Response) OK() bool {
	return r != nil && r.Status == http.StatusOK && r.Err == nil
}

// Client は銀行APIのHTTPクライアント
// リトライは行わない
type Client struct {
	baseURL string
	http    *http.Client
}

// New は新しいClientを作成する
func New(config Config) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultConfig().Timeout
	}
	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        1000,
				MaxIdleConnsPerHost: 1000,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// BaseURL は接続先を返す
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Register はアカウントを作成する
func (c *Client) Register(ctx context.Context, req RegisterRequest) *Response {
	return c.do(ctx, http.MethodPost, PathRegister, "", req)
}

// Login は認証してトークンを取得する
func (c *Client) Login(ctx context.Context, req LoginRequest) *Response {
	return c.do(ctx, http.MethodPost, PathLogin, "", req)
}

// Wallet は現在のユーザーのウォレットを取得する
func (c *Client) Wallet(ctx context.Context, token string) *Response {
	return c.do(ctx, http.MethodGet, PathWallet, token, nil)
}

// Transactions は取引履歴を取得する
func (c *Client) Transactions(ctx context.Context, token string) *Response {
	return c.do(ctx, http.MethodGet, PathTransactions, token, nil)
}

// Topup は外部からの入金を行う
func (c *Client) Topup(ctx context.Context, token string, req ExternalRequest) *Response {
	return c.do(ctx, http.MethodPost, PathTopup, token, req)
}

// Debin は外部口座からのDEBINを行う
func (c *Client) Debin(ctx context.Context, token string, req ExternalRequest) *Response {
	return c.do(ctx, http.MethodPost, PathDebin, token, req)
}

// P2P は他のウォレットへ送金する
func (c *Client) P2P(ctx context.Context, token string, req P2PRequest) *Response {
	return c.do(ctx, http.MethodPost, PathP2P, token, req)
}

// AuthHeaders は認証付きリクエストのヘッダを返す
// トークンが空でも検証はしない（サーバーが拒否する）
func AuthHeaders(token string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	h.Set("Content-Type", "application/json")
	return h
}

// do はリクエストを1回だけ送信する
// register / login 以外には Authorization ヘッダを付ける
func (c *Client) do(ctx context.Context, method, path, token string, body any) *Response {
	resp := &Response{Method: method, Path: path}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			resp.Err = fmt.Errorf("encode %s body: %w", path, err)
			return resp
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		resp.Err = fmt.Errorf("build %s %s: %w", method, path, err)
		return resp
	}

	if path == PathRegister || path == PathLogin {
		req.Header.Set("Content-Type", "application/json")
	} else {
		req.Header = AuthHeaders(token)
	}

	start := time.Now()
	httpResp, err := c.http.Do(req)
	if err != nil {
		resp.Latency = time.Since(start)
		resp.Err = fmt.Errorf("%s %s: %w", method, path, err)
		return resp
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	resp.Latency = time.Since(start)
	resp.Status = httpResp.StatusCode
	resp.Body = data
	if err != nil {
		resp.Err = fmt.Errorf("read %s response: %w", path, err)
	}
	return resp
}
