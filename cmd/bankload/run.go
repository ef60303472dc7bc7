package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"bankload/internal/config"
	"bankload/internal/logger"
	"bankload/internal/scenario"
	"bankload/internal/sink"
)

// runOptions は run コマンドのフラグ
type runOptions struct {
	configFile string
	preset     string
	host       string
	duration   time.Duration
	users      int
	spawnRate  float64
	timeout    time.Duration
	seed       uint64
	output     string

	redisAddr string
	redisKey  string
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "シナリオを実行してレポートを表示",
		Example: `  # プリセットシナリオを実行
  bankload run --preset quick --host http://localhost:8080

  # 設定ファイルから実行
  bankload run --config scenario.yaml

  # フラグでカスタマイズし、結果をRedisに保存
  bankload run --preset baseline --users 20 --duration 1m --redis 127.0.0.1:6379`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, sinkCfg, err := buildScenarioConfig(opts)
			if err != nil {
				return err
			}
			return runScenario(cmd.OutOrStdout(), cfg, sinkCfg, opts.output)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.configFile, "config", "", "設定ファイルパス (YAML/JSON)")
	f.StringVar(&opts.preset, "preset", "", fmt.Sprintf("プリセットシナリオ名 %v", scenario.ListPresets()))
	f.StringVar(&opts.host, "host", "", "対象APIのベースURL")
	f.DurationVar(&opts.duration, "duration", 0, "シナリオ実行時間 (例: 30s, 5m)")
	f.IntVar(&opts.users, "users", 0, "同時ユーザー数")
	f.Float64Var(&opts.spawnRate, "spawn-rate", 0, "1秒あたりのユーザー起動数")
	f.DurationVar(&opts.timeout, "timeout", 0, "リクエストごとのタイムアウト")
	f.Uint64Var(&opts.seed, "seed", 0, "乱数シード (0でランダム)")
	f.StringVarP(&opts.output, "output", "o", "text", "出力形式 (text, json)")
	f.StringVar(&opts.redisAddr, "redis", "", "結果を保存するRedisアドレス")
	f.StringVar(&opts.redisKey, "redis-key", "", "結果を保存するRedisキー")

	return cmd
}

// buildScenarioConfig はシナリオ設定を構築する
// 優先順位: 設定ファイル > プリセット > quick、その上にフラグを適用する
func buildScenarioConfig(opts *runOptions) (scenario.Config, *sink.Config, error) {
	var cfg scenario.Config
	var sinkCfg *sink.Config

	// 1. 設定ファイルから読み込み
	if opts.configFile != "" {
		fileConfig, err := config.LoadFile(opts.configFile)
		if err != nil {
			return cfg, nil, fmt.Errorf("設定ファイル読み込みエラー: %w", err)
		}
		if err := fileConfig.Validate(); err != nil {
			return cfg, nil, fmt.Errorf("設定検証エラー: %w", err)
		}
		cfg, err = fileConfig.ToScenarioConfig()
		if err != nil {
			return cfg, nil, fmt.Errorf("設定変換エラー: %w", err)
		}
		if sc, ok := fileConfig.ToSinkConfig(); ok {
			sinkCfg = &sc
		}
	} else if opts.preset != "" {
		// 2. プリセットから読み込み
		preset, ok := scenario.GetPreset(opts.preset)
		if !ok {
			return cfg, nil, fmt.Errorf("不明なプリセット: %s (利用可能: %v)", opts.preset, scenario.ListPresets())
		}
		cfg = preset
	} else {
		// 3. デフォルト（quickシナリオ）
		cfg = scenario.QuickScenario()
	}

	// フラグでオーバーライド
	if opts.host != "" {
		cfg.Host = opts.host
	}
	if opts.duration > 0 {
		cfg.Duration = opts.duration
	}
	if opts.users > 0 {
		cfg.Users = opts.users
	}
	if opts.spawnRate > 0 {
		cfg.SpawnRate = opts.spawnRate
	}
	if opts.timeout > 0 {
		cfg.RequestTimeout = opts.timeout
	}
	if opts.seed != 0 {
		cfg.Seed = opts.seed
	}

	if opts.redisAddr != "" {
		sc := sink.DefaultConfig()
		if sinkCfg != nil {
			sc = *sinkCfg
		}
		sc.Addr = opts.redisAddr
		sinkCfg = &sc
	}
	if opts.redisKey != "" && sinkCfg != nil {
		sinkCfg.Key = opts.redisKey
	}

	switch opts.output {
	case "", "text", "json":
	default:
		return cfg, nil, fmt.Errorf("不明な出力形式: %s", opts.output)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, nil, fmt.Errorf("設定検証エラー: %w", err)
	}

	return cfg, sinkCfg, nil
}

// runScenario はシナリオを実行する
func runScenario(out io.Writer, cfg scenario.Config, sinkCfg *sink.Config, output string) error {
	if output != "json" {
		headColor.Fprintln(out, "bankload - Banking API load generator")
		fmt.Fprintln(out, "====================================================")
		fmt.Fprintf(out, "Scenario: %s\n", cfg.Name)
		fmt.Fprintf(out, "Target:   %s\n", cfg.Host)
		fmt.Fprintf(out, "Duration: %v\n", cfg.Duration)
		fmt.Fprintf(out, "Users: %d, Spawn rate: %.1f/s\n", cfg.Users, cfg.SpawnRate)
		fmt.Fprintln(out, "====================================================")
		fmt.Fprintln(out)
	}

	ctx, cancel := signalContext("中断シグナルを受信、シナリオを終了中...")
	defer cancel()

	// Redisは実行前に疎通確認する
	var sk *sink.Sink
	if sinkCfg != nil {
		var err error
		sk, err = sink.New(ctx, *sinkCfg)
		if err != nil {
			return fmt.Errorf("結果保存先に接続できません: %w", err)
		}
		defer sk.Close()
	}

	// シナリオ実行
	engine := scenario.New(cfg)
	result, err := engine.Run(ctx)
	if err != nil {
		return err
	}

	// レポート出力
	if output == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return fmt.Errorf("結果の出力に失敗: %w", err)
		}
	} else {
		fmt.Fprintln(out, result.Report())
		printVerdict(out, result)
	}

	if sk != nil {
		saveCtx, saveCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer saveCancel()
		id, err := sk.Save(saveCtx, result)
		if err != nil {
			return fmt.Errorf("結果の保存に失敗: %w", err)
		}
		logger.Info("", "Result saved as %s", id)
	}

	return nil
}

// printVerdict はエラー率に応じて色付きの一行サマリを出す
func printVerdict(out io.Writer, result *scenario.Result) {
	total := result.Total
	switch {
	case total.TotalRequests == 0:
		warnColor.Fprintln(out, "No requests were recorded")
	case total.FailedRequests == 0:
		okColor.Fprintf(out, "PASS  %d requests, no failures\n", total.TotalRequests)
	default:
		errColor.Fprintf(out, "FAIL  %d of %d requests failed (%.2f%%)\n",
			total.FailedRequests, total.TotalRequests, total.ErrorRate*100)
	}
	if result.Sessions.Aborted > 0 {
		warnColor.Fprintf(out, "%d sessions aborted during register/login\n", result.Sessions.Aborted)
	}
}
