package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"bankload/internal/api"
	"bankload/internal/fakebank"
	"bankload/internal/scenario"
	"bankload/internal/sink"
)

func newPresetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "利用可能なプリセットを表示",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			headColor.Fprintln(out, "利用可能なプリセットシナリオ:")
			fmt.Fprintln(out)

			table := tablewriter.NewWriter(out)
			table.SetHeader([]string{"Name", "Users", "Spawn/s", "Duration", "Description"})
			table.SetAutoWrapText(false)
			for _, name := range scenario.ListPresets() {
				cfg, _ := scenario.GetPreset(name)
				table.Append([]string{
					name,
					strconv.Itoa(cfg.Users),
					strconv.FormatFloat(cfg.SpawnRate, 'f', 1, 64),
					cfg.Duration.String(),
					cfg.Description,
				})
			}
			table.Render()

			fmt.Fprintln(out)
			fmt.Fprintln(out, "使用例: bankload run --preset quick --host http://localhost:8080")
		},
	}
}

func newServeCmd() *cobra.Command {
	var (
		addr      string
		host      string
		redisAddr string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "制御APIサーバーを起動",
		Long: `制御APIサーバーを起動する。

  GET  /api/status     実行状態
  GET  /api/metrics    アクション別メトリクス
  GET  /api/result     直前の実行結果
  POST /api/run/start  シナリオ開始 {"preset":"quick","duration":"30s"}
  POST /api/run/stop   シナリオ停止
  GET  /api/presets    プリセット一覧
  GET  /ws             イベントと統計のストリーム
  GET  /metrics        Prometheus`,
		RunE: func(cmd *cobra.Command, args []string) error {
			headColor.Println("bankload - Control Server")
			fmt.Println("========================")
			fmt.Printf("Starting server on http://%s\n", addr)
			fmt.Println("Press Ctrl+C to stop")
			fmt.Println()

			ctx, cancel := signalContext("中断シグナルを受信、サーバーを終了中...")
			defer cancel()

			server := api.NewServer(addr)
			defaults := scenario.QuickScenario()
			if host != "" {
				defaults.Host = host
			}
			server.SetDefaults(defaults)

			if redisAddr != "" {
				sc := sink.DefaultConfig()
				sc.Addr = redisAddr
				sk, err := sink.New(ctx, sc)
				if err != nil {
					return fmt.Errorf("結果保存先に接続できません: %w", err)
				}
				defer sk.Close()
				server.SetSink(sk)
			}

			return server.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":9090", "サーバーアドレス (例: :9090, 0.0.0.0:3000)")
	cmd.Flags().StringVar(&host, "host", "", "既定の対象APIのベースURL")
	cmd.Flags().StringVar(&redisAddr, "redis", "", "結果を保存するRedisアドレス")

	return cmd
}

func newFakebankCmd() *cobra.Command {
	var (
		addr           string
		secret         string
		initialBalance string
		enableChaos    bool
		faultTypes     []string
	)
	chaosCfg := fakebank.DefaultChaosConfig()

	cmd := &cobra.Command{
		Use:   "fakebank",
		Short: "ローカル検証用のフェイク銀行APIを起動",
		RunE: func(cmd *cobra.Command, args []string) error {
			balance, err := decimal.NewFromString(initialBalance)
			if err != nil {
				return fmt.Errorf("invalid initial balance %q: %w", initialBalance, err)
			}

			cfg := fakebank.DefaultConfig()
			cfg.Addr = addr
			cfg.JWTSecret = secret
			cfg.InitialBalance = balance

			ctx, cancel := signalContext("中断シグナルを受信、フェイク銀行を終了中...")
			defer cancel()

			server := fakebank.New(cfg)
			if err := server.Start(); err != nil {
				return err
			}
			okColor.Printf("Fake bank listening on %s\n", server.URL())

			var chaos *fakebank.Chaos
			if enableChaos {
				faults, err := fakebank.ParseFaultTypes(faultTypes)
				if err != nil {
					_ = server.Stop()
					return err
				}
				chaosCfg.FaultTypes = faults
				chaos = fakebank.NewChaos(server, chaosCfg)
				chaos.Start(ctx)
				warnColor.Printf("Fault injection every %v (%v)\n", chaosCfg.Interval, faultTypes)
			}

			<-ctx.Done()

			if chaos != nil {
				chaos.Stop()
				stats := chaos.Stats()
				fmt.Printf("Faults injected: %d %v\n", stats.TotalFaults, stats.ByType)
			}
			fmt.Printf("Users: %d, requests: %d\n", server.Users(), server.TotalCalls())
			return server.Stop()
		},
	}

	f := cmd.Flags()
	f.StringVar(&addr, "addr", "127.0.0.1:8080", "待ち受けアドレス")
	f.StringVar(&secret, "jwt-secret", fakebank.DefaultConfig().JWTSecret, "トークン署名鍵")
	f.StringVar(&initialBalance, "initial-balance", "0", "新規ウォレットの残高")
	f.BoolVar(&enableChaos, "chaos", false, "障害注入を有効化")
	f.DurationVar(&chaosCfg.Interval, "chaos-interval", chaosCfg.Interval, "障害注入の間隔")
	f.DurationVar(&chaosCfg.FaultDuration, "fault-duration", chaosCfg.FaultDuration, "1回の障害の継続時間")
	f.DurationVar(&chaosCfg.Latency, "fault-latency", chaosCfg.Latency, "latency 障害の遅延")
	f.StringSliceVar(&faultTypes, "faults", []string{"latency", "unavailable"}, "障害タイプ (latency, unavailable)")

	return cmd
}

func newHistoryCmd() *cobra.Command {
	var (
		limit int
		cfg   = sink.DefaultConfig()
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Redisに保存された実行結果を表示",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			sk, err := sink.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer sk.Close()

			runs, err := sk.Recent(ctx, limit)
			if err != nil {
				return err
			}
			totals, err := sk.Totals(ctx)
			if err != nil {
				return err
			}

			printHistory(cmd, runs, totals)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.Addr, "redis", cfg.Addr, "Redisアドレス")
	f.StringVar(&cfg.Key, "redis-key", cfg.Key, "Redisキー")
	f.IntVarP(&limit, "limit", "n", 10, "表示する件数")

	return cmd
}

func printHistory(cmd *cobra.Command, runs []sink.Record, totals map[string]sink.ActionTotals) {
	out := cmd.OutOrStdout()

	if len(runs) == 0 {
		warnColor.Fprintln(out, "No saved runs")
		return
	}

	headColor.Fprintln(out, "Recent runs:")
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Saved", "Scenario", "Host", "Users", "Requests", "Failed", "Err%", "P95"})
	table.SetAutoWrapText(false)
	for _, r := range runs {
		table.Append([]string{
			r.SavedAt.Local().Format("2006-01-02 15:04:05"),
			r.ScenarioName,
			r.Host,
			strconv.Itoa(r.Users),
			strconv.FormatUint(r.Total.TotalRequests, 10),
			strconv.FormatUint(r.Total.FailedRequests, 10),
			fmt.Sprintf("%.2f", r.Total.ErrorRate*100),
			r.Total.P95Latency.String(),
		})
	}
	table.Render()

	if len(totals) == 0 {
		return
	}

	fmt.Fprintln(out)
	headColor.Fprintln(out, "Cumulative by action:")
	table = tablewriter.NewWriter(out)
	table.SetHeader([]string{"Action", "Requests", "Failed"})
	for _, name := range scenario.ActionNames() {
		t, ok := totals[name]
		if !ok {
			continue
		}
		table.Append([]string{name, strconv.FormatUint(t.Total, 10), strconv.FormatUint(t.Failed, 10)})
	}
	for _, name := range []string{scenario.ActionRegister, scenario.ActionLogin, scenario.ActionGetWallet} {
		if t, ok := totals[name]; ok {
			table.Append([]string{name, strconv.FormatUint(t.Total, 10), strconv.FormatUint(t.Failed, 10)})
		}
	}
	table.Render()
}
