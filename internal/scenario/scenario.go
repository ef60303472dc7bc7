package scenario

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"bankload/internal/bank"
	"bankload/internal/events"
	"bankload/internal/logger"
	"bankload/internal/metrics"
	"bankload/internal/worker"
)

// ErrAlreadyRunning は実行中に Run が呼ばれたときに返される
var ErrAlreadyRunning = errors.New("scenario is already running")

// Config はシナリオの設定
type Config struct {
	Name        string        // シナリオ名
	Description string        // 説明
	Host        string        // 対象APIのベースURL
	Duration    time.Duration // 実行時間

	// ユーザー設定
	Users     int     // 同時ユーザー数
	SpawnRate float64 // 1秒あたりの起動数（0以下で一斉起動）

	RequestTimeout time.Duration // リクエストごとのタイムアウト
	Seed           uint64        // 乱数シード（0で毎回ランダム）

	Classes       []ClientClass  // クライアントクラス
	ActionWeights map[string]int // アクション重みの上書き
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Name:           "default",
		Description:    "Default banking API load scenario",
		Host:           "http://localhost:8080",
		Duration:       30 * time.Second,
		Users:          10,
		SpawnRate:      2,
		RequestTimeout: 10 * time.Second,
		Classes:        DefaultClasses(),
	}
}

// Validate は設定を検証する
func (c Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Duration <= 0 {
		return fmt.Errorf("duration must be positive")
	}
	if c.Users <= 0 {
		return fmt.Errorf("users must be positive")
	}
	if len(c.Classes) == 0 {
		return fmt.Errorf("at least one client class is required")
	}
	for _, class := range c.Classes {
		if err := class.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// SessionStats はセッション数の統計
type SessionStats struct {
	Spawned uint64 `json:"spawned"`
	Started uint64 `json:"started"`
	Aborted uint64 `json:"aborted"`
	Active  int64  `json:"active"`
}

// Result はシナリオ実行結果
type Result struct {
	ScenarioName string        `json:"scenario"`
	Host         string        `json:"host"`
	StartTime    time.Time     `json:"start_time"`
	EndTime      time.Time     `json:"end_time"`
	Duration     time.Duration `json:"duration"`

	// セッション
	Users    int          `json:"users"`
	Sessions SessionStats `json:"sessions"`

	// メトリクス
	Total   metrics.Snapshot   `json:"total"`
	Actions []metrics.Snapshot `json:"actions"`
}

// Engine はシナリオ実行エンジン
type Engine struct {
	config   Config
	eventBus *events.Bus
	exporter *metrics.Exporter

	mu       sync.RWMutex
	running  bool
	cancel   context.CancelFunc
	registry *metrics.Registry

	spawned atomic.Uint64
	started atomic.Uint64
	aborted atomic.Uint64
	active  atomic.Int64
}

// New は新しいEngineを作成する
func New(config Config) *Engine {
	return &Engine{
		config:   config,
		exporter: metrics.NewExporter(),
	}
}

// SetEventBus はイベントバスを設定する
func (e *Engine) SetEventBus(bus *events.Bus) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.eventBus = bus
}

// SetExporter は実行間で共有するエクスポーターを設定する
// Run より前に呼ぶこと
func (e *Engine) SetExporter(exp *metrics.Exporter) {
	if exp == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.exporter = exp
}

// Config は設定を返す
func (e *Engine) Config() Config {
	return e.config
}

// Exporter はPrometheusエクスポーターを返す
func (e *Engine) Exporter() *metrics.Exporter {
	return e.exporter
}

// Run はシナリオを実行する
// Duration の経過か ctx のキャンセルで終了し、その時点の結果を返す
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	if err := e.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	actions, err := BuildActions(e.config.ActionWeights)
	if err != nil {
		return nil, fmt.Errorf("invalid actions: %w", err)
	}
	actionPicker, err := NewPicker(actions, func(a Action) int { return a.Weight })
	if err != nil {
		return nil, fmt.Errorf("invalid actions: %w", err)
	}
	classPicker, err := NewPicker(e.config.Classes, func(c ClientClass) int { return c.Weight })
	if err != nil {
		return nil, fmt.Errorf("invalid classes: %w", err)
	}

	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	runCtx, cancel := context.WithTimeout(ctx, e.config.Duration)
	registry := metrics.NewRegistry()
	registry.SetExporter(e.exporter)
	e.running = true
	e.cancel = cancel
	e.registry = registry
	e.spawned.Store(0)
	e.started.Store(0)
	e.aborted.Store(0)
	e.mu.Unlock()

	defer func() {
		cancel()
		e.mu.Lock()
		e.running = false
		e.cancel = nil
		e.mu.Unlock()
	}()

	logger.Info("", "=== Scenario '%s' started ===", e.config.Name)
	logger.Info("", "Target: %s, users: %d, spawn rate: %.1f/s, duration: %v",
		e.config.Host, e.config.Users, e.config.SpawnRate, e.config.Duration)

	result := &Result{
		ScenarioName: e.config.Name,
		Host:         e.config.Host,
		Users:        e.config.Users,
		StartTime:    time.Now(),
	}
	e.publish(events.NewRunStartedEvent(e.config.Name, e.config.Users))

	client := bank.New(bank.Config{
		BaseURL: e.config.Host,
		Timeout: e.config.RequestTimeout,
	})

	// 1セッション1ワーカー
	pool := worker.NewPool(e.config.Users)
	pool.Start(runCtx)

	e.spawn(runCtx, pool, client, registry, classPicker, actionPicker)

	<-runCtx.Done()
	logger.Info("", "Scenario duration completed, stopping sessions...")
	pool.Stop()

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	result.Sessions = e.Sessions()
	result.Total = registry.Total().Snapshot()
	result.Total.Name = "Aggregated"
	result.Actions = registry.Snapshots()

	e.publish(events.NewRunCompletedEvent(e.config.Name, result.Duration))
	logger.Info("", "=== Scenario '%s' completed ===", e.config.Name)

	return result, nil
}

// spawn はレート制限に従ってセッションを起動する
func (e *Engine) spawn(ctx context.Context, pool *worker.Pool, client *bank.Client, rec Recorder,
	classes *Picker[ClientClass], actions *Picker[Action]) {
	seed := e.config.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	master := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	limit := rate.Inf
	if e.config.SpawnRate > 0 {
		limit = rate.Limit(e.config.SpawnRate)
	}
	limiter := rate.NewLimiter(limit, 1)

	for i := range e.config.Users {
		if err := limiter.Wait(ctx); err != nil {
			logger.Debug("", "spawning stopped after %d users: %v", i, err)
			return
		}

		id := fmt.Sprintf("user-%d", i+1)
		sess := NewSession(SessionConfig{
			ID:       id,
			Class:    classes.Pick(master),
			Client:   client,
			Rand:     rand.New(rand.NewPCG(master.Uint64(), master.Uint64())),
			Recorder: rec,
			OnFailure: func(action string, status int, err error) {
				e.publish(events.NewActionFailedEvent(id, action, status, err))
			},
		})

		if !pool.Submit(func(jobCtx context.Context) { e.runSession(jobCtx, sess, actions) }) {
			return
		}
		e.spawned.Add(1)
	}
}

// runSession は1セッションのライフサイクルを実行する
func (e *Engine) runSession(ctx context.Context, sess *Session, actions *Picker[Action]) {
	e.active.Add(1)
	e.exporter.SessionStarted()
	defer func() {
		e.active.Add(-1)
		e.exporter.SessionEnded()
	}()

	if err := sess.Start(ctx); err != nil {
		if errors.Is(err, ErrStopUser) {
			e.aborted.Add(1)
			e.exporter.SessionAborted()
			e.publish(events.NewSessionStoppedEvent(sess.ID, events.StopReasonAborted, err))
			return
		}
		e.publish(events.NewSessionStoppedEvent(sess.ID, events.StopReasonFinished, nil))
		return
	}

	e.started.Add(1)
	e.publish(events.NewSessionStartedEvent(sess.ID, sess.Class.Name))

	sess.Loop(ctx, actions)

	e.publish(events.NewSessionStoppedEvent(sess.ID, events.StopReasonFinished, nil))
}

func (e *Engine) publish(ev events.Event) {
	e.mu.RLock()
	bus := e.eventBus
	e.mu.RUnlock()
	if bus != nil {
		bus.Publish(ev)
	}
}

// Stop は実行中のシナリオを終了させる
func (e *Engine) Stop() {
	e.mu.RLock()
	cancel := e.cancel
	e.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

// IsRunning は実行中かどうかを返す
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Stats は現在（または直前）の実行の集計メトリクスを返す
func (e *Engine) Stats() *metrics.Snapshot {
	e.mu.RLock()
	registry := e.registry
	e.mu.RUnlock()
	if registry == nil {
		return nil
	}
	snapshot := registry.Total().Snapshot()
	snapshot.Name = "Aggregated"
	return &snapshot
}

// ActionStats はアクションごとのメトリクスを返す
func (e *Engine) ActionStats() []metrics.Snapshot {
	e.mu.RLock()
	registry := e.registry
	e.mu.RUnlock()
	if registry == nil {
		return nil
	}
	return registry.Snapshots()
}

// Sessions はセッション数の統計を返す
func (e *Engine) Sessions() SessionStats {
	return SessionStats{
		Spawned: e.spawned.Load(),
		Started: e.started.Load(),
		Aborted: e.aborted.Load(),
		Active:  e.active.Load(),
	}
}
