package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/danmuck/togglectl/internal/config"
	"github.com/danmuck/togglectl/internal/engine"
	"github.com/danmuck/togglectl/internal/idempotency"
	"github.com/danmuck/togglectl/internal/observability"
	"github.com/danmuck/togglectl/internal/protocol/wire"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "togglectl",
		Short: "Reliable command delivery for networked actuators",
	}
	rootCmd.AddCommand(toggleCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func toggleCmd() *cobra.Command {
	var (
		deviceID    string
		addr        string
		state       bool
		configPath  string
		attempts    int
		timeout     time.Duration
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "toggle",
		Short: "Deliver one toggle command and report its terminal outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			log := observability.InitLogger("togglectl")

			cfg := config.Default()
			if configPath != "" {
				loaded, err := config.Load(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			if attempts > 0 {
				cfg.MaxAttempts = attempts
			}
			if timeout > 0 {
				cfg.OverallTimeoutMS = timeout.Milliseconds()
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			registry := prometheus.NewRegistry()
			metrics := observability.NewMetrics(registry)
			sink := observability.MultiSink(observability.NewLogSink(log), metrics)
			if metricsAddr != "" {
				go serveMetrics(metricsAddr, registry)
			}

			cache, err := idempotency.New(cfg.CacheCapacity, cfg.CacheTTL())
			if err != nil {
				return err
			}
			eng, err := engine.New(cfg.EngineConfig(), cache, sink, log)
			if err != nil {
				return err
			}
			defer eng.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			command, err := engine.NewCommand(ctx, deviceID, addr, wire.OpcodeToggle, state)
			if err != nil {
				return err
			}

			res := eng.Execute(command)
			if !res.Success() {
				log.Error().
					Str("msg_id", command.MsgID).
					Str("reason", res.Reason).
					Int("attempts", res.Attempts).
					Err(res.Err).
					Msg("command failed")
				return fmt.Errorf("toggle failed: %s", res.Reason)
			}
			log.Info().
				Str("msg_id", command.MsgID).
				Int("attempts", res.Attempts).
				Bool("state", state).
				Msg("command succeeded")
			return nil
		},
	}

	cmd.Flags().StringVar(&deviceID, "device", "", "device identifier")
	cmd.Flags().StringVar(&addr, "addr", "", "device host:port")
	cmd.Flags().BoolVar(&state, "state", true, "desired power state")
	cmd.Flags().StringVar(&configPath, "config", "", "path to a TOML config file")
	cmd.Flags().IntVar(&attempts, "attempts", 0, "override max attempts")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "override overall command deadline")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "expose prometheus metrics on this address during the run")
	_ = cmd.MarkFlagRequired("device")
	_ = cmd.MarkFlagRequired("addr")
	return cmd
}

func serveMetrics(addr string, registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	_ = http.ListenAndServe(addr, mux)
}
