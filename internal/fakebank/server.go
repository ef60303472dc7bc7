package fakebank

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"

	"bankload/internal/logger"
)

// ルート
const (
	RouteRegister     = "/auth/register"
	RouteLogin        = "/auth/login"
	RouteWallet       = "/wallets/user"
	RouteTransactions = "/wallets/transactions"
	RouteTopup        = "/wallets/transactions/topup"
	RouteDebin        = "/wallets/transactions/debin"
	RouteP2P          = "/wallets/transactions/p2p"
	RouteHealth       = "/health"
)

// Config はフェイク銀行の設定
type Config struct {
	Addr           string          // 待ち受けアドレス（":0" でランダムポート）
	JWTSecret      string          // トークン署名鍵
	TokenTTL       time.Duration   // トークン有効期限
	InitialBalance decimal.Decimal // 新規ウォレットの残高
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Addr:      "127.0.0.1:0",
		JWTSecret: "fakebank-secret",
		TokenTTL:  time.Hour,
	}
}

// Server は銀行APIのテストダブル
type Server struct {
	config Config
	app    *fiber.App
	store  *store
	faults *faultState

	running  atomic.Bool
	listener net.Listener
	done     chan error

	mu       sync.RWMutex
	forced   map[string]int
	calls    map[string]uint64
	lastAuth map[string]string
}

// New は新しいServerを作成する
func New(config Config) *Server {
	if config.JWTSecret == "" {
		config.JWTSecret = DefaultConfig().JWTSecret
	}
	if config.TokenTTL <= 0 {
		config.TokenTTL = DefaultConfig().TokenTTL
	}

	s := &Server{
		config:   config,
		store:    newStore(config.InitialBalance),
		faults:   &faultState{},
		forced:   make(map[string]int),
		calls:    make(map[string]uint64),
		lastAuth: make(map[string]string),
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "fakebank",
		DisableStartupMessage: true,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
		ErrorHandler:          errorHandler,
	})
	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Get(RouteHealth, func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "UP"})
	})

	s.app.Use(s.track, s.injectFaults, s.forceStatus)

	s.app.Post(RouteRegister, s.handleRegister)
	s.app.Post(RouteLogin, s.handleLogin)

	wallets := s.app.Group("/wallets", s.requireAuth)
	wallets.Get("/user", s.handleWallet)
	wallets.Get("/transactions", s.handleTransactions)
	wallets.Post("/transactions/topup", s.handleTopup)
	wallets.Post("/transactions/debin", s.handleDebin)
	wallets.Post("/transactions/p2p", s.handleP2P)
}

// App はテスト用にFiberアプリを返す（app.Test で直接呼べる）
func (s *Server) App() *fiber.App {
	return s.app
}

// Start はサーバーを起動する
func (s *Server) Start() error {
	if s.running.Swap(true) {
		return fmt.Errorf("fakebank is already running")
	}

	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		s.running.Store(false)
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	s.listener = ln
	s.done = make(chan error, 1)

	go func() {
		s.done <- s.app.Listener(ln)
	}()

	logger.Info("fakebank", "Listening on %s", s.URL())
	return nil
}

// Stop はサーバーを停止する
func (s *Server) Stop() error {
	if !s.running.Swap(false) {
		return nil
	}
	if err := s.app.ShutdownWithTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("failed to shutdown fakebank: %w", err)
	}
	if err := <-s.done; err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	logger.Info("fakebank", "Stopped")
	return nil
}

// URL はベースURLを返す
func (s *Server) URL() string {
	if s.listener == nil {
		return ""
	}
	return "http://" + s.listener.Addr().String()
}

// ForceStatus は指定ルートが常に status を返すようにする
// status 0 で解除する
func (s *Server) ForceStatus(route string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == 0 {
		delete(s.forced, route)
		return
	}
	s.forced[route] = status
}

// Calls は指定ルートへのリクエスト数を返す
func (s *Server) Calls(route string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[route]
}

// TotalCalls は全ルートへのリクエスト数を返す
func (s *Server) TotalCalls() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total uint64
	for _, n := range s.calls {
		total += n
	}
	return total
}

// LastAuthorization は指定ルートで最後に受けた Authorization ヘッダを返す
func (s *Server) LastAuthorization(route string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastAuth[route]
}

// Balance はユーザーのウォレット残高を返す
func (s *Server) Balance(username string) (decimal.Decimal, error) {
	w, err := s.store.walletOf(username)
	if err != nil {
		return decimal.Zero, err
	}
	return w.Balance, nil
}

// Users は登録済みユーザー数を返す
func (s *Server) Users() int {
	return s.store.userCount()
}

// track は呼び出し回数とヘッダを記録する
func (s *Server) track(c *fiber.Ctx) error {
	// fiberの文字列はリクエスト後に再利用されるのでコピーする
	route := strings.Clone(c.Path())
	s.mu.Lock()
	s.calls[route]++
	s.lastAuth[route] = strings.Clone(c.Get(fiber.HeaderAuthorization))
	s.mu.Unlock()
	return c.Next()
}

func (s *Server) forceStatus(c *fiber.Ctx) error {
	s.mu.RLock()
	status, ok := s.forced[c.Path()]
	s.mu.RUnlock()
	if !ok {
		return c.Next()
	}
	return c.Status(status).JSON(fiber.Map{"error": http.StatusText(status)})
}

// requireAuth はBearerトークンを検証してユーザー名をLocalsに入れる
func (s *Server) requireAuth(c *fiber.Ctx) error {
	authz := c.Get(fiber.HeaderAuthorization)
	if !strings.HasPrefix(authz, "Bearer ") {
		return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
	}

	username, err := s.parseToken(strings.TrimSpace(authz[len("Bearer "):]))
	if err != nil {
		return fiber.NewError(http.StatusUnauthorized, "invalid token")
	}
	c.Locals("username", username)
	return c.Next()
}

func (s *Server) issueToken(username string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.config.TokenTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.config.JWTSecret))
}

func (s *Server) parseToken(raw string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return []byte(s.config.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

// errorHandler はエラーを {"error": message} で返す
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
