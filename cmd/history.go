// -- cmd/history.go --
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/droidpilot/droidpilot/internal/config"
	"github.com/droidpilot/droidpilot/internal/observability"
	"github.com/droidpilot/droidpilot/internal/store"
)

// newHistoryCmd creates the `history` command, which inspects the trace
// database written by `run --trace`.
func newHistoryCmd() *cobra.Command {
	historyCmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Lists recorded agent runs, or the steps of one run",
		Args:  cobra.MaximumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return viper.BindPFlag("trace.path", cmd.Flags().Lookup("trace-path"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return err
			}

			traceStore, err := store.NewTraceStore(cfg.Trace().Path, logger)
			if err != nil {
				return fmt.Errorf("failed to open trace store: %w", err)
			}
			defer traceStore.Close()

			if len(args) == 0 {
				runs, err := traceStore.RecentRuns(ctx, 20)
				if err != nil {
					return err
				}
				if len(runs) == 0 {
					fmt.Println("No recorded runs.")
					return nil
				}
				for _, r := range runs {
					fmt.Printf("%s  [%s]  %s\n", r.RunID, r.Status, r.Task)
				}
				return nil
			}

			steps, err := traceStore.RunSteps(ctx, args[0])
			if err != nil {
				return err
			}
			if len(steps) == 0 {
				fmt.Println("No steps recorded for that run.")
				return nil
			}
			for _, s := range steps {
				status := "ok"
				if !s.Success {
					status = "failed"
				}
				fmt.Printf("[step %d] %s (%s)\n", s.Step, s.ActionText, status)
				if s.Message != "" {
					fmt.Printf("         %s\n", s.Message)
				}
			}
			return nil
		},
	}

	historyCmd.Flags().String("trace-path", "", "Path of the trace database. (Overrides config/env)")

	return historyCmd
}
