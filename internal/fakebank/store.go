package fakebank

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
)

// 外部サービスのモックで結果が決まるウォレットID
const (
	AcceptWalletID = "11111111-1111-1111-1111-111111111111"
	RejectWalletID = "22222222-2222-2222-2222-222222222222"
)

// 取引種別
const (
	TxP2P           = "P2P"
	TxExternalTopup = "EXTERNAL_TOPUP"
	TxExternalDebin = "EXTERNAL_DEBIN"
)

var (
	ErrDuplicateUser      = errors.New("user already exists")
	ErrMissingFields      = errors.New("username, email and password are required")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUserNotFound       = errors.New("user not found")
	ErrWalletNotFound     = errors.New("wallet not found")
	ErrInvalidAmount      = errors.New("amount must be positive")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrMissingExternal    = errors.New("external wallet info is required")
	ErrExternalRejected   = errors.New("external service rejected the debin")
	ErrExternalNotFound   = errors.New("external wallet not found")
)

// テストダブル用の最小ハッシュコスト
const passwordCost = bcrypt.MinCost

type user struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash []byte
	WalletID     string
}

type wallet struct {
	ID        string
	UserID    int64
	Balance   decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Transaction は記録された取引
type Transaction struct {
	ID                 int64           `json:"id"`
	Type               string          `json:"type"`
	Amount             decimal.Decimal `json:"-"`
	Timestamp          time.Time       `json:"timestamp"`
	Description        string          `json:"description"`
	SenderWalletID     string          `json:"senderWalletId,omitempty"`
	ReceiverWalletID   string          `json:"receiverWalletId,omitempty"`
	ExternalWalletInfo string          `json:"externalWalletInfo,omitempty"`
}

// store はユーザー、ウォレット、取引のインメモリ保存先
type store struct {
	mu             sync.Mutex
	initialBalance decimal.Decimal
	nextUserID     int64
	nextTxID       int64
	users          map[string]*user
	emails         map[string]struct{}
	wallets        map[string]*wallet
	transactions   []Transaction
}

func newStore(initialBalance decimal.Decimal) *store {
	return &store{
		initialBalance: initialBalance,
		users:          make(map[string]*user),
		emails:         make(map[string]struct{}),
		wallets:        make(map[string]*wallet),
	}
}

// register はユーザーとウォレットを作成する
func (s *store) register(username, email, password string) (*user, error) {
	if username == "" || email == "" || password == "" {
		return nil, ErrMissingFields
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), passwordCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[username]; ok {
		return nil, ErrDuplicateUser
	}
	if _, ok := s.emails[email]; ok {
		return nil, ErrDuplicateUser
	}

	now := time.Now()
	s.nextUserID++
	w := &wallet{
		ID:        uuid.NewString(),
		UserID:    s.nextUserID,
		Balance:   s.initialBalance,
		CreatedAt: now,
		UpdatedAt: now,
	}
	u := &user{
		ID:           s.nextUserID,
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		WalletID:     w.ID,
	}
	s.users[username] = u
	s.emails[email] = struct{}{}
	s.wallets[w.ID] = w
	return u, nil
}

func (s *store) authenticate(username, password string) (*user, error) {
	s.mu.Lock()
	u, ok := s.users[username]
	s.mu.Unlock()
	if !ok {
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// walletOf はユーザー名に対応するウォレットのコピーを返す
func (s *store) walletOf(username string) (wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, err := s.walletLocked(username)
	if err != nil {
		return wallet{}, err
	}
	return *w, nil
}

func (s *store) walletLocked(username string) (*wallet, error) {
	u, ok := s.users[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	w, ok := s.wallets[u.WalletID]
	if !ok {
		return nil, ErrWalletNotFound
	}
	return w, nil
}

// transactionsOf は送受信した取引を新しい順に返す
func (s *store) transactionsOf(username string) ([]Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, err := s.walletLocked(username)
	if err != nil {
		return nil, err
	}

	out := make([]Transaction, 0)
	for _, tx := range s.transactions {
		if tx.SenderWalletID == w.ID || tx.ReceiverWalletID == w.ID {
			out = append(out, tx)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *store) topup(username string, amount decimal.Decimal, description, external string) (Transaction, error) {
	if !amount.IsPositive() {
		return Transaction{}, ErrInvalidAmount
	}
	if external == "" {
		return Transaction{}, ErrMissingExternal
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	w, err := s.walletLocked(username)
	if err != nil {
		return Transaction{}, err
	}
	w.Balance = w.Balance.Add(amount)
	w.UpdatedAt = time.Now()
	return s.appendLocked(Transaction{
		Type:               TxExternalTopup,
		Amount:             amount,
		Description:        description,
		ReceiverWalletID:   w.ID,
		ExternalWalletInfo: external,
	}), nil
}

// debin は外部口座からウォレットへ資金を引き込む
func (s *store) debin(username string, amount decimal.Decimal, description, external string) (Transaction, error) {
	if !amount.IsPositive() {
		return Transaction{}, ErrInvalidAmount
	}
	if external == "" {
		return Transaction{}, ErrMissingExternal
	}
	if err := externalDebinRequest(external); err != nil {
		return Transaction{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	w, err := s.walletLocked(username)
	if err != nil {
		return Transaction{}, err
	}
	w.Balance = w.Balance.Add(amount)
	w.UpdatedAt = time.Now()
	return s.appendLocked(Transaction{
		Type:               TxExternalDebin,
		Amount:             amount,
		Description:        description,
		ReceiverWalletID:   w.ID,
		ExternalWalletInfo: external,
	}), nil
}

func (s *store) p2p(username string, amount decimal.Decimal, description, receiverID string) (Transaction, error) {
	if !amount.IsPositive() {
		return Transaction{}, ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sender, err := s.walletLocked(username)
	if err != nil {
		return Transaction{}, err
	}
	receiver, ok := s.wallets[receiverID]
	if !ok {
		return Transaction{}, ErrWalletNotFound
	}
	if sender.Balance.LessThan(amount) {
		return Transaction{}, ErrInsufficientFunds
	}

	now := time.Now()
	sender.Balance = sender.Balance.Sub(amount)
	sender.UpdatedAt = now
	receiver.Balance = receiver.Balance.Add(amount)
	receiver.UpdatedAt = now
	return s.appendLocked(Transaction{
		Type:             TxP2P,
		Amount:           amount,
		Description:      description,
		SenderWalletID:   sender.ID,
		ReceiverWalletID: receiver.ID,
	}), nil
}

func (s *store) appendLocked(tx Transaction) Transaction {
	s.nextTxID++
	tx.ID = s.nextTxID
	tx.Timestamp = time.Now()
	s.transactions = append(s.transactions, tx)
	return tx
}

func (s *store) userCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

// externalDebinRequest は外部サービスのDEBIN判定を再現する
func externalDebinRequest(walletID string) error {
	switch walletID {
	case AcceptWalletID:
		return nil
	case RejectWalletID:
		return ErrExternalRejected
	default:
		return ErrExternalNotFound
	}
}
