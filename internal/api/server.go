package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"bankload/internal/events"
	"bankload/internal/logger"
	"bankload/internal/metrics"
	"bankload/internal/scenario"
	"bankload/internal/sink"

	"golang.org/x/net/websocket"
)

const statsInterval = 1 * time.Second

// Server はロードテストを操作するAPIサーバー
type Server struct {
	addr     string
	defaults scenario.Config
	exporter *metrics.Exporter
	bus      *events.Bus
	sink     *sink.Sink
	baseCtx  context.Context

	mu         sync.RWMutex
	running    bool
	engine     *scenario.Engine
	config     scenario.Config
	cancel     context.CancelFunc
	lastResult *scenario.Result
	wsClients  map[*websocket.Conn]bool

	runs   sync.WaitGroup
	server *http.Server
}

// NewServer は新しいAPIサーバーを作成する
func NewServer(addr string) *Server {
	return &Server{
		addr:      addr,
		defaults:  scenario.QuickScenario(),
		exporter:  metrics.NewExporter(),
		bus:       events.NewBus(),
		baseCtx:   context.Background(),
		wsClients: make(map[*websocket.Conn]bool),
	}
}

// SetDefaults はプリセット未指定時の設定と接続先を設定する
func (s *Server) SetDefaults(config scenario.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaults = config
}

// SetSink は実行結果の保存先を設定する
func (s *Server) SetSink(sk *sink.Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sk
}

// Exporter はPrometheusエクスポーターを返す
func (s *Server) Exporter() *metrics.Exporter {
	return s.exporter
}

// Handler はルーティング済みのハンドラを返す
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// API routes
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/metrics", s.handleMetrics)
	mux.HandleFunc("/api/result", s.handleResult)
	mux.HandleFunc("/api/run/start", s.handleRunStart)
	mux.HandleFunc("/api/run/stop", s.handleRunStop)
	mux.HandleFunc("/api/presets", s.handlePresets)

	// WebSocket
	mux.Handle("/ws", websocket.Handler(s.handleWebSocket))

	// Prometheus
	mux.Handle("/metrics", s.exporter.Handler())

	return mux
}

// Start はサーバーを開始する
// ctx がキャンセルされると実行中のシナリオを止めてシャットダウンする
func (s *Server) Start(ctx context.Context) error {
	s.baseCtx = ctx
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// バックグラウンドでイベントとメトリクスを配信
	s.startBackground(ctx)

	logger.Info("", "API Server starting on http://%s", s.addr)

	go func() {
		<-ctx.Done()
		s.stopRun()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.runs.Wait()
	// 購読チャネルを閉じてWebSocketの転送ループを終わらせる
	s.bus.Close()
	return nil
}

func (s *Server) startBackground(ctx context.Context) {
	go s.broadcastLoop(ctx)
}

// StatusResponse はステータスレスポンス
type StatusResponse struct {
	Running      bool                  `json:"running"`
	ScenarioName string                `json:"scenario_name,omitempty"`
	Host         string                `json:"host,omitempty"`
	Users        int                   `json:"users"`
	Sessions     scenario.SessionStats `json:"sessions"`
	Watchers     int                   `json:"watchers"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.writeJSON(w, s.status())
}

func (s *Server) status() StatusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	resp := StatusResponse{Running: s.running, Watchers: s.bus.SubscriberCount()}
	if s.config.Name != "" {
		resp.ScenarioName = s.config.Name
		resp.Host = s.config.Host
		resp.Users = s.config.Users
	}
	if s.engine != nil {
		resp.Sessions = s.engine.Sessions()
	}
	return resp
}

// MetricsResponse はメトリクスレスポンス
type MetricsResponse struct {
	Running bool               `json:"running"`
	Total   *metrics.Snapshot  `json:"total,omitempty"`
	Actions []metrics.Snapshot `json:"actions"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.writeJSON(w, s.metricsResponse())
}

func (s *Server) metricsResponse() MetricsResponse {
	s.mu.RLock()
	engine := s.engine
	running := s.running
	s.mu.RUnlock()

	resp := MetricsResponse{Running: running, Actions: []metrics.Snapshot{}}
	if engine != nil {
		resp.Total = engine.Stats()
		if actions := engine.ActionStats(); actions != nil {
			resp.Actions = actions
		}
	}
	return resp
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.RLock()
	result := s.lastResult
	s.mu.RUnlock()

	if result == nil {
		http.Error(w, "No completed run", http.StatusNotFound)
		return
	}
	s.writeJSON(w, result)
}

// RunRequest はシナリオ開始リクエスト
type RunRequest struct {
	Preset    string  `json:"preset"`
	Host      string  `json:"host,omitempty"`
	Duration  string  `json:"duration,omitempty"`
	Users     int     `json:"users,omitempty"`
	SpawnRate float64 `json:"spawn_rate,omitempty"`
	Seed      uint64  `json:"seed,omitempty"`
}

func (s *Server) handleRunStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	config, status, msg := s.buildConfig(req)
	if status != 0 {
		http.Error(w, msg, status)
		return
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		http.Error(w, "Scenario already running", http.StatusConflict)
		return
	}

	engine := scenario.New(config)
	engine.SetEventBus(s.bus)
	engine.SetExporter(s.exporter)

	runCtx, cancel := context.WithCancel(s.baseCtx)
	s.config = config
	s.engine = engine
	s.cancel = cancel
	s.running = true
	sk := s.sink
	s.runs.Add(1)
	s.mu.Unlock()

	// バックグラウンドで実行
	go func() {
		defer s.runs.Done()
		defer cancel()

		result, err := engine.Run(runCtx)

		s.mu.Lock()
		s.running = false
		s.cancel = nil
		if result != nil {
			s.lastResult = result
		}
		s.mu.Unlock()

		if err != nil {
			logger.Error("", "Scenario failed: %v", err)
			return
		}
		logger.Info("", "Scenario completed: %d requests", result.Total.TotalRequests)

		if sk != nil {
			saveCtx, saveCancel := context.WithTimeout(context.Background(), 5*time.Second)
			if id, err := sk.Save(saveCtx, result); err != nil {
				logger.Warn("", "Failed to save result: %v", err)
			} else {
				logger.Info("", "Result saved as %s", id)
			}
			saveCancel()
		}

		s.broadcast(map[string]any{
			"type":   "run_complete",
			"result": result,
		})
	}()

	s.writeJSON(w, map[string]string{"status": "started", "scenario": config.Name})
}

// buildConfig はリクエストから実行設定を組み立てる
// 失敗時はHTTPステータスとメッセージを返す
func (s *Server) buildConfig(req RunRequest) (scenario.Config, int, string) {
	s.mu.RLock()
	config := s.defaults
	s.mu.RUnlock()

	if req.Preset != "" {
		preset, ok := scenario.GetPreset(req.Preset)
		if !ok {
			return config, http.StatusBadRequest, "Unknown preset: " + req.Preset
		}
		// 接続先はサーバーの既定値を引き継ぐ
		preset.Host = config.Host
		config = preset
	}

	// オーバーライド
	if req.Host != "" {
		config.Host = req.Host
	}
	if req.Duration != "" {
		d, err := time.ParseDuration(req.Duration)
		if err != nil {
			return config, http.StatusBadRequest, "Invalid duration: " + req.Duration
		}
		config.Duration = d
	}
	if req.Users > 0 {
		config.Users = req.Users
	}
	if req.SpawnRate > 0 {
		config.SpawnRate = req.SpawnRate
	}
	if req.Seed != 0 {
		config.Seed = req.Seed
	}

	if err := config.Validate(); err != nil {
		return config, http.StatusBadRequest, err.Error()
	}
	return config, 0, ""
}

func (s *Server) handleRunStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !s.stopRun() {
		http.Error(w, "No scenario running", http.StatusBadRequest)
		return
	}

	s.writeJSON(w, map[string]string{"status": "stop requested"})
}

// stopRun は実行中のシナリオをキャンセルする
func (s *Server) stopRun() bool {
	s.mu.RLock()
	running := s.running
	cancel := s.cancel
	s.mu.RUnlock()

	if !running || cancel == nil {
		return false
	}
	cancel()
	return true
}

// Wait は実行中のシナリオの終了を待つ
func (s *Server) Wait() {
	s.runs.Wait()
}

// PresetInfo はプリセット情報
type PresetInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Users       int    `json:"users"`
	Duration    string `json:"duration"`
}

func (s *Server) handlePresets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var presets []PresetInfo
	for _, name := range scenario.ListPresets() {
		config, _ := scenario.GetPreset(name)
		presets = append(presets, PresetInfo{
			Name:        name,
			Description: config.Description,
			Users:       config.Users,
			Duration:    config.Duration.String(),
		})
	}

	s.writeJSON(w, presets)
}

// handleWebSocket はクライアントごとにイベントを購読する
// ?exclude=action_failed のように受け取らないタイプを指定できる
func (s *Server) handleWebSocket(ws *websocket.Conn) {
	var types []events.EventType
	if r := ws.Request(); r != nil {
		types = events.ExcludeTypes(r.URL.Query()["exclude"])
	}
	ch := s.bus.Subscribe(types...)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.forwardEvents(ws, ch)
	}()

	s.mu.Lock()
	s.wsClients[ws] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.wsClients, ws)
		s.mu.Unlock()
		s.bus.Unsubscribe(ch)
		<-done
		_ = ws.Close()
	}()

	// Keep connection alive
	for {
		var msg string
		if err := websocket.Message.Receive(ws, &msg); err != nil {
			break
		}
	}
}

func (s *Server) clientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.wsClients)
}

func (s *Server) broadcast(data any) {
	s.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(s.wsClients))
	for ws := range s.wsClients {
		clients = append(clients, ws)
	}
	s.mu.RUnlock()

	if len(clients) == 0 {
		return
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}

	for _, ws := range clients {
		_ = websocket.Message.Send(ws, string(jsonData))
	}
}

// forwardEvents は購読チャネルが閉じるまでイベントを ws へ流す
func (s *Server) forwardEvents(ws *websocket.Conn, ch <-chan events.Event) {
	for ev := range ch {
		data, err := json.Marshal(map[string]any{
			"type":  "event",
			"event": ev,
		})
		if err != nil {
			continue
		}
		_ = websocket.Message.Send(ws, string(data))
	}
}

func (s *Server) broadcastLoop(ctx context.Context) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status := s.status()
			if !status.Running {
				continue
			}

			s.broadcast(map[string]any{
				"type":    "stats",
				"status":  status,
				"metrics": s.metricsResponse(),
			})
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("", "Failed to encode JSON: %v", err)
	}
}
