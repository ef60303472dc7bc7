// Package main is the entry point for bankload.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"bankload/internal/logger"
)

var (
	version = "dev"
)

// グローバルフラグ
var (
	logLevel string
	noColor  bool
)

var (
	okColor   = color.New(color.FgGreen, color.Bold)
	warnColor = color.New(color.FgYellow)
	errColor  = color.New(color.FgRed, color.Bold)
	headColor = color.New(color.FgCyan, color.Bold)
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "bankload",
		Short: "Banking API load generator",
		Long: `bankload - Banking API load generator

Simulated users register, log in and then repeatedly check balances,
list transactions, top up, pull DEBIN funds and send P2P transfers
against a digital-wallet HTTP API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := logger.ParseLevel(logLevel)
			if err != nil {
				return err
			}
			logger.Default.SetLevel(level)
			if noColor {
				color.NoColor = true
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "ログレベル (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&noColor, "no-color", false, "色付き出力を無効化")

	root.AddCommand(
		newRunCmd(),
		newPresetsCmd(),
		newServeCmd(),
		newFakebankCmd(),
		newHistoryCmd(),
		newVersionCmd(),
	)
	root.CompletionOptions.DisableDefaultCmd = true

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "バージョンを表示",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "bankload version %s\n", version)
		},
	}
}

// signalContext はSIGINT/SIGTERMでキャンセルされるcontextを返す
func signalContext(msg string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
			fmt.Println()
			warnColor.Println(msg)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}

func main() {
	defer func() { _ = logger.Default.Sync() }()

	if err := newRootCmd().Execute(); err != nil {
		errColor.Fprintf(os.Stderr, "Error: %v\n", err)
		_ = logger.Default.Sync()
		os.Exit(1)
	}
}
