package metrics

import (
	"sync"
	"time"
)

// Registry はアクション名ごとのMetricsを保持する
// 集計用のtotalにも同時に記録する
type Registry struct {
	config Config

	mu     sync.RWMutex
	byName map[string]*Metrics
	order  []string
	total  *Metrics

	exporter *Exporter
}

// NewRegistry は新しいRegistryを作成する
func NewRegistry() *Registry {
	return NewRegistryWithConfig(Config{MaxLatencySamples: defaultMaxLatencySamples})
}

// NewRegistryWithConfig は設定を指定してRegistryを作成する
func NewRegistryWithConfig(config Config) *Registry {
	return &Registry{
		config: config,
		byName: make(map[string]*Metrics),
		total:  NewWithConfig(config),
	}
}

// SetExporter はPrometheusエクスポーターを設定する
func (r *Registry) SetExporter(e *Exporter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exporter = e
}

// Get は名前に対応するMetricsを返す（なければ作成する）
func (r *Registry) Get(name string) *Metrics {
	r.mu.RLock()
	m, ok := r.byName[name]
	r.mu.RUnlock()
	if ok {
		return m
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.byName[name]; ok {
		return m
	}
	m = NewWithConfig(r.config)
	r.byName[name] = m
	r.order = append(r.order, name)
	return m
}

// Record はアクションの結果を記録する
func (r *Registry) Record(name string, success bool, status int, latency time.Duration) {
	r.Get(name).Record(success, status, latency)
	r.total.Record(success, status, latency)

	r.mu.RLock()
	exp := r.exporter
	r.mu.RUnlock()
	if exp != nil {
		exp.ObserveRequest(name, success, latency)
	}
}

// Names は最初に記録された順のアクション名を返す
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Total は全アクション合計のMetricsを返す
func (r *Registry) Total() *Metrics {
	return r.total
}

// Snapshots は全アクションのスナップショットを記録順に返す
func (r *Registry) Snapshots() []Snapshot {
	names := r.Names()
	out := make([]Snapshot, 0, len(names))
	for _, name := range names {
		snap := r.Get(name).Snapshot()
		snap.Name = name
		out = append(out, snap)
	}
	return out
}
