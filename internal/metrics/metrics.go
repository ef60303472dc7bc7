package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const defaultMaxLatencySamples = 10000

// Config はMetricsの設定
type Config struct {
	MaxLatencySamples int // P50/P95/P99計算用のサンプル上限
}

// Metrics は1つのアクションのリクエストメトリクスを収集する
type Metrics struct {
	totalRequests   atomic.Uint64
	successRequests atomic.Uint64
	failedRequests  atomic.Uint64
	totalLatencyNs  atomic.Uint64

	mu                sync.RWMutex
	startTime         time.Time
	lastResetTime     time.Time
	windowRequests    uint64
	latencies         []time.Duration
	maxLatencySamples int
	minLatency        time.Duration
	maxLatency        time.Duration
	statusCounts      map[int]uint64
}

// New は新しいメトリクスを作成する
func New() *Metrics {
	return NewWithConfig(Config{MaxLatencySamples: defaultMaxLatencySamples})
}

// NewWithConfig は設定を指定してメトリクスを作成する
func NewWithConfig(config Config) *Metrics {
	samples := config.MaxLatencySamples
	if samples <= 0 {
		samples = defaultMaxLatencySamples
	}
	now := time.Now()
	return &Metrics{
		startTime:         now,
		lastResetTime:     now,
		latencies:         make([]time.Duration, 0, min(samples, 1000)),
		maxLatencySamples: samples,
		statusCounts:      make(map[int]uint64),
	}
}

// Record はステータスコード付きでリクエストを記録する
// status 0 はトランスポートエラー（レスポンスなし）を表す
func (m *Metrics) Record(success bool, status int, latency time.Duration) {
	m.totalRequests.Add(1)
	if success {
		m.successRequests.Add(1)
	} else {
		m.failedRequests.Add(1)
	}
	m.totalLatencyNs.Add(uint64(latency.Nanoseconds()))

	m.mu.Lock()
	m.windowRequests++
	m.statusCounts[status]++
	if len(m.latencies) < m.maxLatencySamples {
		m.latencies = append(m.latencies, latency)
	}
	if m.minLatency == 0 || latency < m.minLatency {
		m.minLatency = latency
	}
	if latency > m.maxLatency {
		m.maxLatency = latency
	}
	m.mu.Unlock()
}

// TotalRequests は総リクエスト数を返す
func (m *Metrics) TotalRequests() uint64 {
	return m.totalRequests.Load()
}

// SuccessRequests は成功リクエスト数を返す
func (m *Metrics) SuccessRequests() uint64 {
	return m.successRequests.Load()
}

// FailedRequests は失敗リクエスト数を返す
func (m *Metrics) FailedRequests() uint64 {
	return m.failedRequests.Load()
}

// RPS は現在のRequests Per Secondを返す
func (m *Metrics) RPS() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	elapsed := time.Since(m.lastResetTime).Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(m.windowRequests) / elapsed
}

// OverallRPS は開始からの平均RPSを返す
func (m *Metrics) OverallRPS() float64 {
	elapsed := time.Since(m.startTime).Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(m.totalRequests.Load()) / elapsed
}

// AverageLatency は平均レイテンシを返す
func (m *Metrics) AverageLatency() time.Duration {
	total := m.totalRequests.Load()
	if total == 0 {
		return 0
	}
	avgNs := m.totalLatencyNs.Load() / total
	return time.Duration(avgNs)
}

// Percentile はサンプルベースのパーセンタイルを返す（p は 0〜1）
func (m *Metrics) Percentile(p float64) time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return percentile(m.latencies, p)
}

// P99Latency はP99レイテンシを返す（サンプルベース）
func (m *Metrics) P99Latency() time.Duration {
	return m.Percentile(0.99)
}

func percentile(samples []time.Duration, p float64) time.Duration {
	if len(samples) == 0 {
		return 0
	}

	// コピーしてソート
	sorted := make([]time.Duration, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	idx := int(float64(len(sorted)) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// ErrorRate はエラー率を返す（0.0〜1.0）
func (m *Metrics) ErrorRate() float64 {
	total := m.totalRequests.Load()
	if total == 0 {
		return 0
	}
	return float64(m.failedRequests.Load()) / float64(total)
}

// StatusCounts はステータスコードごとの件数のコピーを返す
func (m *Metrics) StatusCounts() map[int]uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[int]uint64, len(m.statusCounts))
	for k, v := range m.statusCounts {
		out[k] = v
	}
	return out
}

// Reset はウィンドウメトリクスをリセットする
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.windowRequests = 0
	m.lastResetTime = time.Now()
	m.latencies = m.latencies[:0]
}

// Snapshot はメトリクスのスナップショット
type Snapshot struct {
	Name            string         `json:"name,omitempty"`
	TotalRequests   uint64         `json:"total_requests"`
	SuccessRequests uint64         `json:"success_requests"`
	FailedRequests  uint64         `json:"failed_requests"`
	RPS             float64        `json:"rps"`
	OverallRPS      float64        `json:"overall_rps"`
	AverageLatency  time.Duration  `json:"avg_latency"`
	MinLatency      time.Duration  `json:"min_latency"`
	MaxLatency      time.Duration  `json:"max_latency"`
	P50Latency      time.Duration  `json:"p50_latency"`
	P95Latency      time.Duration  `json:"p95_latency"`
	P99Latency      time.Duration  `json:"p99_latency"`
	ErrorRate       float64        `json:"error_rate"`
	StatusCounts    map[int]uint64 `json:"status_counts,omitempty"`
	Elapsed         time.Duration  `json:"elapsed"`
}

// Snapshot は現在のメトリクスのスナップショットを返す
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	p50 := percentile(m.latencies, 0.50)
	p95 := percentile(m.latencies, 0.95)
	p99 := percentile(m.latencies, 0.99)
	minLat, maxLat := m.minLatency, m.maxLatency
	m.mu.RUnlock()

	return Snapshot{
		TotalRequests:   m.TotalRequests(),
		SuccessRequests: m.SuccessRequests(),
		FailedRequests:  m.FailedRequests(),
		RPS:             m.RPS(),
		OverallRPS:      m.OverallRPS(),
		AverageLatency:  m.AverageLatency(),
		MinLatency:      minLat,
		MaxLatency:      maxLat,
		P50Latency:      p50,
		P95Latency:      p95,
		P99Latency:      p99,
		ErrorRate:       m.ErrorRate(),
		StatusCounts:    m.StatusCounts(),
		Elapsed:         time.Since(m.startTime),
	}
}
