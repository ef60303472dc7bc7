package fakebank

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"

	"bankload/internal/logger"
)

// FaultType は注入する障害の種類を表す
type FaultType int

const (
	FaultLatency FaultType = iota
	FaultUnavailable
)

func (f FaultType) String() string {
	switch f {
	case FaultLatency:
		return "latency"
	case FaultUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// ParseFaultTypes は文字列の障害タイプをパースする
func ParseFaultTypes(types []string) ([]FaultType, error) {
	var faults []FaultType

	for _, t := range types {
		switch strings.ToLower(t) {
		case "latency":
			faults = append(faults, FaultLatency)
		case "unavailable":
			faults = append(faults, FaultUnavailable)
		default:
			return nil, fmt.Errorf("unknown fault type: %s", t)
		}
	}

	return faults, nil
}

// faultState はリクエストごとに参照される現在の障害状態
type faultState struct {
	latency     atomic.Int64 // ナノ秒
	unavailable atomic.Bool
}

// injectFaults は障害状態に従って遅延または503を返す
func (s *Server) injectFaults(c *fiber.Ctx) error {
	if s.faults.unavailable.Load() {
		return c.Status(http.StatusServiceUnavailable).JSON(fiber.Map{"error": "service unavailable"})
	}
	if d := time.Duration(s.faults.latency.Load()); d > 0 {
		time.Sleep(d)
	}
	return c.Next()
}

// SetLatency は全リクエストに遅延を加える（0で解除）
func (s *Server) SetLatency(d time.Duration) {
	s.faults.latency.Store(int64(d))
}

// SetUnavailable は全リクエストを503にする
func (s *Server) SetUnavailable(on bool) {
	s.faults.unavailable.Store(on)
}

// ClearFaults は注入中の障害をすべて解除する
func (s *Server) ClearFaults() {
	s.faults.latency.Store(0)
	s.faults.unavailable.Store(false)
}

// ChaosConfig はChaosの設定
type ChaosConfig struct {
	Interval      time.Duration // 障害注入の間隔
	FaultDuration time.Duration // 1回の障害の継続時間
	Latency       time.Duration // latency 障害の遅延
	FaultTypes    []FaultType   // 有効な障害タイプ
}

// DefaultChaosConfig はデフォルト設定を返す
func DefaultChaosConfig() ChaosConfig {
	return ChaosConfig{
		Interval:      10 * time.Second,
		FaultDuration: 2 * time.Second,
		Latency:       300 * time.Millisecond,
		FaultTypes:    []FaultType{FaultLatency, FaultUnavailable},
	}
}

// ChaosStats は障害注入の統計情報
type ChaosStats struct {
	TotalFaults uint64            `json:"total_faults"`
	ByType      map[string]uint64 `json:"faults_by_type"`
}

// Chaos は一定間隔でフェイク銀行に障害を注入する
type Chaos struct {
	config ChaosConfig
	server *Server

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu          sync.RWMutex
	faultCount  uint64
	faultByType map[FaultType]uint64
	activeSince time.Time
}

// NewChaos は新しいChaosを作成する
func NewChaos(s *Server, config ChaosConfig) *Chaos {
	return &Chaos{
		config:      config,
		server:      s,
		faultByType: make(map[FaultType]uint64),
	}
}

// Start は障害注入を開始する
func (m *Chaos) Start(ctx context.Context) {
	if m.running.Swap(true) {
		return
	}

	m.ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go m.injectLoop()

	if m.config.FaultDuration > 0 {
		m.wg.Add(1)
		go m.clearLoop()
	}

	logger.Info("fakebank", "Chaos started (interval: %v, fault duration: %v)",
		m.config.Interval, m.config.FaultDuration)
}

// Stop は障害注入を停止し、残っている障害を解除する
func (m *Chaos) Stop() {
	if !m.running.Swap(false) {
		return
	}

	m.cancel()
	m.wg.Wait()
	m.server.ClearFaults()

	logger.Info("fakebank", "Chaos stopped (total faults: %d)", m.FaultCount())
}

func (m *Chaos) injectLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.inject(m.selectFaultType())
		}
	}
}

// clearLoop は継続時間を過ぎた障害を解除する
func (m *Chaos) clearLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.checkAndClear()
		}
	}
}

func (m *Chaos) selectFaultType() FaultType {
	if len(m.config.FaultTypes) == 0 {
		return FaultLatency
	}
	return m.config.FaultTypes[rand.IntN(len(m.config.FaultTypes))]
}

// inject は障害を1つ注入する
func (m *Chaos) inject(ft FaultType) {
	switch ft {
	case FaultLatency:
		m.server.SetLatency(m.config.Latency)
		logger.Warn("fakebank", "Chaos: injected %v latency", m.config.Latency)
	case FaultUnavailable:
		m.server.SetUnavailable(true)
		logger.Warn("fakebank", "Chaos: service unavailable")
	}

	m.mu.Lock()
	m.faultCount++
	m.faultByType[ft]++
	m.activeSince = time.Now()
	m.mu.Unlock()
}

func (m *Chaos) checkAndClear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.activeSince.IsZero() || time.Since(m.activeSince) < m.config.FaultDuration {
		return
	}
	m.server.ClearFaults()
	m.activeSince = time.Time{}
	logger.Info("fakebank", "Chaos: faults cleared")
}

// IsRunning は実行中かどうかを返す
func (m *Chaos) IsRunning() bool {
	return m.running.Load()
}

// FaultCount は注入回数を返す
func (m *Chaos) FaultCount() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.faultCount
}

// Stats は注入統計を返す
func (m *Chaos) Stats() ChaosStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byType := make(map[string]uint64)
	for t, count := range m.faultByType {
		byType[t.String()] = count
	}

	return ChaosStats{
		TotalFaults: m.faultCount,
		ByType:      byType,
	}
}
