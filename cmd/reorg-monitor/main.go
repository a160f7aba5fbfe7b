package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/goware/pp"
	"github.com/spf13/cobra"

	"github.com/chainsentry/reorgmon"
)

const version = "v0.1"

var rootCmd = &cobra.Command{
	Use:   "reorg-monitor",
	Short: "reorg-monitor - blockchain chain-reorganization monitor",
}

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("reorg-monitor", version)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "run the monitor against RPC_URL until interrupted",
		RunE:  runMonitor,
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func runMonitor(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	nodeURL := os.Getenv("RPC_URL")
	if nodeURL == "" {
		return fmt.Errorf("reorg-monitor: RPC_URL is required")
	}

	rpc, err := reorgmon.DialEthRPCClient(ctx, nodeURL)
	if err != nil {
		return err
	}

	opts := reorgmon.Options{
		Logger:                    slog.New(slog.NewTextHandler(os.Stdout, nil)),
		ChainLabel:                os.Getenv("CHAIN_LABEL"),
		PollInterval:              envDuration("POLL_INTERVAL_MS"),
		RecheckDepth:              envInt("RECHECK_DEPTH"),
		CacheDepth:                envInt("CACHE_DEPTH"),
		ChainMetadataPollInterval: envDuration("CHAIN_METADATA_POLL_MS"),
		HourlyReportInterval:      envDuration("HOURLY_REPORT_INTERVAL_MS"),
	}

	if url := os.Getenv("ALERT_WEBHOOK_URL"); url != "" {
		alerter, err := reorgmon.NewWebhookAlerter(url)
		if err != nil {
			return err
		}
		opts.Alerter = alerter
	}

	monitor, err := reorgmon.NewMonitor(rpc, opts)
	if err != nil {
		return err
	}

	pp.Green("### reorg-monitor %s", version).Blue("chain=%s", opts.ChainLabel).Println()
	pp.Green("### watching %s", nodeURL).Println()

	return monitor.Run(ctx)
}

func envDuration(key string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
