package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"bankload/internal/logger"
	"bankload/internal/scenario"
)

// Config はRedis保存先の設定
type Config struct {
	Addr     string // host:port または redis:// URL
	Password string
	DB       int
	Key      string // 実行履歴リストのキー
	Keep     int    // 保持する実行数
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Addr: "127.0.0.1:6379",
		Key:  "bankload:runs",
		Keep: 50,
	}
}

// Record は保存された1回分の実行結果
type Record struct {
	ID      string    `json:"id"`
	SavedAt time.Time `json:"saved_at"`
	scenario.Result
}

// ActionTotals はアクションごとの累積カウンタ
type ActionTotals struct {
	Total  uint64 `json:"total"`
	Failed uint64 `json:"failed"`
}

// Sink は実行結果をRedisに保存する
type Sink struct {
	client *redis.Client
	key    string
	keep   int
}

// New はRedisへ接続してSinkを作成する
func New(ctx context.Context, config Config) (*Sink, error) {
	opt, err := options(config)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return NewWithClient(client, config), nil
}

// NewWithClient は既存のクライアントからSinkを作成する
func NewWithClient(client *redis.Client, config Config) *Sink {
	def := DefaultConfig()
	if config.Key == "" {
		config.Key = def.Key
	}
	if config.Keep <= 0 {
		config.Keep = def.Keep
	}
	return &Sink{client: client, key: config.Key, keep: config.Keep}
}

func options(config Config) (*redis.Options, error) {
	if config.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if strings.HasPrefix(config.Addr, "redis://") || strings.HasPrefix(config.Addr, "rediss://") {
		opt, err := redis.ParseURL(config.Addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return opt, nil
	}
	return &redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	}, nil
}

// Save は実行結果を履歴リストの先頭に追加し、アクション別カウンタを加算する
// 履歴は Keep 件に切り詰められる
func (s *Sink) Save(ctx context.Context, result *scenario.Result) (string, error) {
	if result == nil {
		return "", fmt.Errorf("result is nil")
	}

	rec := Record{
		ID:      uuid.NewString(),
		SavedAt: time.Now().UTC(),
		Result:  *result,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encode run %s: %w", rec.ID, err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, s.key, data)
		pipe.LTrim(ctx, s.key, 0, int64(s.keep-1))
		for _, a := range result.Actions {
			pipe.HIncrBy(ctx, s.actionsKey(), a.Name+":total", int64(a.TotalRequests))
			pipe.HIncrBy(ctx, s.actionsKey(), a.Name+":failed", int64(a.FailedRequests))
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("save run %s: %w", rec.ID, err)
	}

	logger.Debug("", "Saved run %s (%s) to %s", rec.ID, result.ScenarioName, s.key)
	return rec.ID, nil
}

// Recent は新しい順に最大n件の実行結果を返す
func (s *Sink) Recent(ctx context.Context, n int) ([]Record, error) {
	if n <= 0 {
		return nil, nil
	}

	items, err := s.client.LRange(ctx, s.key, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read runs: %w", err)
	}

	records := make([]Record, 0, len(items))
	for _, item := range items {
		var rec Record
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			// 壊れたエントリは読み飛ばす
			logger.Warn("", "Skipping unreadable run entry: %v", err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Totals は全実行を通したアクション別の累積カウンタを返す
func (s *Sink) Totals(ctx context.Context) (map[string]ActionTotals, error) {
	fields, err := s.client.HGetAll(ctx, s.actionsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("read action totals: %w", err)
	}

	totals := make(map[string]ActionTotals)
	for field, value := range fields {
		idx := strings.LastIndex(field, ":")
		if idx < 0 {
			continue
		}
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			continue
		}
		name := field[:idx]
		t := totals[name]
		switch field[idx+1:] {
		case "total":
			t.Total = n
		case "failed":
			t.Failed = n
		default:
			continue
		}
		totals[name] = t
	}
	return totals, nil
}

// Close は接続を閉じる
func (s *Sink) Close() error {
	return s.client.Close()
}

func (s *Sink) actionsKey() string {
	return s.key + ":actions"
}
