package fakebank

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type externalRequest struct {
	Amount             decimal.Decimal `json:"amount"`
	Description        string          `json:"description"`
	ExternalWalletInfo string          `json:"externalWalletInfo"`
}

type p2pRequest struct {
	Amount           decimal.Decimal `json:"amount"`
	Description      string          `json:"description"`
	ReceiverWalletID string          `json:"receiverWalletId"`
}

type userData struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

type loginResponse struct {
	Token    string   `json:"token"`
	UserData userData `json:"userData"`
}

type walletResponse struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"userId"`
	Balance   float64   `json:"balance"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type transactionResponse struct {
	Transaction
	Amount float64 `json:"amount"`
}

func (s *Server) handleRegister(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "request body is missing or malformed")
	}
	if _, err := s.store.register(req.Username, req.Email, req.Password); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return c.Status(http.StatusOK).SendString("User created successfully")
}

func (s *Server) handleLogin(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "request body is missing or malformed")
	}
	u, err := s.store.authenticate(req.Username, req.Password)
	if err != nil {
		return fiber.NewError(http.StatusUnauthorized, err.Error())
	}
	token, err := s.issueToken(u.Username)
	if err != nil {
		return err
	}
	return c.JSON(loginResponse{
		Token: token,
		UserData: userData{
			ID:       u.ID,
			Username: u.Username,
			Email:    u.Email,
		},
	})
}

func (s *Server) handleWallet(c *fiber.Ctx) error {
	w, err := s.store.walletOf(currentUser(c))
	if err != nil {
		return storeError(err)
	}
	return c.JSON(walletResponse{
		ID:        w.ID,
		UserID:    w.UserID,
		Balance:   w.Balance.InexactFloat64(),
		CreatedAt: w.CreatedAt,
		UpdatedAt: w.UpdatedAt,
	})
}

func (s *Server) handleTransactions(c *fiber.Ctx) error {
	txs, err := s.store.transactionsOf(currentUser(c))
	if err != nil {
		return storeError(err)
	}
	out := make([]transactionResponse, len(txs))
	for i, tx := range txs {
		out[i] = toTransactionResponse(tx)
	}
	return c.JSON(out)
}

func (s *Server) handleTopup(c *fiber.Ctx) error {
	var req externalRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "request body is missing or malformed")
	}
	tx, err := s.store.topup(currentUser(c), req.Amount, req.Description, req.ExternalWalletInfo)
	if err != nil {
		return storeError(err)
	}
	return c.JSON(toTransactionResponse(tx))
}

func (s *Server) handleDebin(c *fiber.Ctx) error {
	var req externalRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "request body is missing or malformed")
	}
	tx, err := s.store.debin(currentUser(c), req.Amount, req.Description, req.ExternalWalletInfo)
	if err != nil {
		return storeError(err)
	}
	return c.JSON(toTransactionResponse(tx))
}

func (s *Server) handleP2P(c *fiber.Ctx) error {
	var req p2pRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "request body is missing or malformed")
	}
	if req.ReceiverWalletID == "" {
		return fiber.NewError(http.StatusBadRequest, "receiver wallet ID must be provided")
	}
	tx, err := s.store.p2p(currentUser(c), req.Amount, req.Description, req.ReceiverWalletID)
	if err != nil {
		return storeError(err)
	}
	return c.JSON(toTransactionResponse(tx))
}

func currentUser(c *fiber.Ctx) string {
	username, _ := c.Locals("username").(string)
	return username
}

func toTransactionResponse(tx Transaction) transactionResponse {
	return transactionResponse{
		Transaction: tx,
		Amount:      tx.Amount.InexactFloat64(),
	}
}

// storeError はストアのエラーをHTTPステータスに変換する
func storeError(err error) error {
	switch {
	case errors.Is(err, ErrUserNotFound), errors.Is(err, ErrWalletNotFound), errors.Is(err, ErrExternalNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrExternalRejected):
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInsufficientFunds), errors.Is(err, ErrMissingExternal):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	default:
		return err
	}
}
