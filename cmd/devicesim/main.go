package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/danmuck/togglectl/internal/devicesim"
	"github.com/danmuck/togglectl/internal/observability"
)

func main() {
	var (
		addr      string
		dropFirst int
		nackAll   bool
		delay     time.Duration
	)

	rootCmd := &cobra.Command{
		Use:   "devicesim",
		Short: "Frame-speaking actuator simulator for manual testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			log := observability.InitLogger("devicesim")

			sim := devicesim.New(devicesim.Config{
				Addr:          addr,
				DropFirst:     dropFirst,
				NackAll:       nackAll,
				ResponseDelay: delay,
			}, log)
			if err := sim.Start(); err != nil {
				return err
			}
			log.Info().Str("addr", sim.Addr()).Msg("running until interrupted")

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			<-sigCh
			return sim.Close()
		},
	}

	rootCmd.Flags().StringVar(&addr, "addr", "127.0.0.1:7010", "listen address")
	rootCmd.Flags().IntVar(&dropFirst, "drop-first", 0, "swallow the first N commands without responding")
	rootCmd.Flags().BoolVar(&nackAll, "nack", false, "refuse every command")
	rootCmd.Flags().DurationVar(&delay, "delay", 0, "pause before each response")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
