package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/danmuck/togglectl/internal/capture"
	"github.com/danmuck/togglectl/internal/protocol/frame"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "capturectl",
		Short: "Offline analysis of captured actuator-protocol traffic",
	}
	rootCmd.AddCommand(analyzeCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func analyzeCmd() *cobra.Command {
	var maxFrameBytes uint32

	cmd := &cobra.Command{
		Use:   "analyze <dump-file>",
		Short: "Walk a raw byte dump and summarize every frame found",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			report, err := capture.Analyze(f, frame.Limits{MaxPayloadBytes: maxFrameBytes})
			if err != nil {
				return err
			}
			printReport(report)
			return nil
		},
	}

	cmd.Flags().Uint32Var(&maxFrameBytes, "max-frame-bytes", frame.DefaultLimits().MaxPayloadBytes, "payload size cap while scanning")
	return cmd
}

func printReport(report capture.Report) {
	for i, fr := range report.Frames {
		switch fr.Kind {
		case capture.KindResponse:
			fmt.Printf("%4d off=%-8d %-8s opcode=%-8s device=%-12s msg_id=%s status=%s\n",
				i, fr.Offset, fr.Kind, fr.Opcode, fr.DeviceID, fr.MsgID, fr.Status)
		case capture.KindCommand:
			fmt.Printf("%4d off=%-8d %-8s opcode=%-8s device=%-12s msg_id=%s\n",
				i, fr.Offset, fr.Kind, fr.Opcode, fr.DeviceID, fr.MsgID)
		default:
			fmt.Printf("%4d off=%-8d %-8s payload_len=%d\n", i, fr.Offset, fr.Kind, fr.PayloadLen)
		}
	}

	fmt.Printf("\nframes=%d skipped_bytes=%d tail_bytes=%d\n",
		len(report.Frames), report.SkippedBytes, report.TailBytes)
	if dups := report.Duplicates(); len(dups) > 0 {
		fmt.Println("repeated msg_ids (retries or duplicate responses):")
		for id, n := range dups {
			fmt.Printf("  %s x%d\n", id, n)
		}
	}
}
