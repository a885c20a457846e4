// -- cmd/run.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/droidpilot/droidpilot/api/schemas"
	"github.com/droidpilot/droidpilot/internal/agent"
	"github.com/droidpilot/droidpilot/internal/config"
	"github.com/droidpilot/droidpilot/internal/device"
	"github.com/droidpilot/droidpilot/internal/llmclient"
	"github.com/droidpilot/droidpilot/internal/observability"
	"github.com/droidpilot/droidpilot/internal/store"
)

// newRunCmd creates and configures the `run` command.
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run <task...>",
		Short: "Runs the agent against the connected device until the task completes",
		Args:  cobra.MinimumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind flags to their Viper keys so command-line flags override
			// values from the config file and environment variables.
			if err := viper.BindPFlag("device.serial", cmd.Flags().Lookup("serial")); err != nil {
				return err
			}
			if err := viper.BindPFlag("agent.mode", cmd.Flags().Lookup("mode")); err != nil {
				return err
			}
			if err := viper.BindPFlag("trace.enabled", cmd.Flags().Lookup("trace")); err != nil {
				return err
			}
			return viper.BindPFlag("trace.path", cmd.Flags().Lookup("trace-path"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			// Re-resolve the config now that run flags are bound.
			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return err
			}

			task := strings.Join(args, " ")
			logger.Info("Starting agent run",
				zap.String("task", task),
				zap.String("mode", cfg.Agent().Mode),
				zap.String("serial", cfg.Device().Serial),
			)

			components, err := initializeRunComponents(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize run components: %w", err)
			}
			defer components.Shutdown(ctx)

			if components.Trace != nil {
				runID, err := components.Trace.BeginRun(ctx, task)
				if err != nil {
					return err
				}
				logger.Info("Recording run trace", zap.String("run_id", runID))
			}

			type completion struct {
				message string
				err     error
			}
			resultCh := make(chan completion, 1)

			if err := components.Loop.Run(ctx, task, func(message string, err error) {
				resultCh <- completion{message, err}
			}); err != nil {
				return err
			}

			res := <-resultCh

			if components.Trace != nil {
				status := string(components.Loop.State())
				if err := components.Trace.EndRun(context.Background(), status, res.message); err != nil {
					logger.Warn("Failed to finalize run trace", zap.Error(err))
				}
			}

			if res.err != nil {
				if errors.Is(res.err, context.Canceled) {
					logger.Warn("Agent run aborted by user signal")
					return res.err
				}
				return res.err
			}

			fmt.Printf("\nTask complete: %s\n", res.message)
			return nil
		},
	}

	runCmd.Flags().StringP("serial", "s", "", "Device serial to target. (Overrides config/env)")
	runCmd.Flags().StringP("mode", "m", "", "Observation mode: vision, accessibility or hybrid. (Overrides config/env)")
	runCmd.Flags().Bool("trace", false, "Record the run to the trace database. (Overrides config/env)")
	runCmd.Flags().String("trace-path", "", "Path of the trace database. (Overrides config/env)")

	return runCmd
}

// runComponents holds initialized services for one agent run.
type runComponents struct {
	Loop  *agent.Loop
	Trace *store.TraceStore
}

// Shutdown gracefully closes all components.
func (rc *runComponents) Shutdown(ctx context.Context) {
	if rc.Trace != nil {
		if err := rc.Trace.Close(); err != nil {
			observability.GetLogger().Warn("Error closing trace store", zap.Error(err))
		}
	}
}

// initializeRunComponents handles dependency injection for the run command.
func initializeRunComponents(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*runComponents, error) {
	components := &runComponents{}

	// 1. Device surface
	runner := device.ExecRunner{}
	controller := device.NewAdbController(cfg.Device(), runner, logger)
	screen := device.NewAdbScreenSource(cfg.Device(), runner, logger)
	resolver := device.NewPackageResolver(cfg.Device(), runner, logger)

	if !controller.Connected() {
		return nil, fmt.Errorf("no connected device (serial %q); check `adb devices`", cfg.Device().Serial)
	}

	// 2. Model gateways
	router, err := llmclient.NewRouterFromConfig(cfg.LLM(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM router: %w", err)
	}

	// 3. Sinks
	sinks := []agent.StepSink{consoleSink{}}
	if cfg.Trace().Enabled {
		traceStore, err := store.NewTraceStore(cfg.Trace().Path, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open trace store: %w", err)
		}
		components.Trace = traceStore
		sinks = append(sinks, traceStore)
	}

	// 4. Agent loop
	contextStore := agent.NewContextStore(logger, router.Gateway(llmclient.TierLite), cfg.Agent().KeepRecent)
	dispatcher := agent.NewDispatcher(logger, controller, resolver, cfg.Device().GestureWait)

	loopCfg := agent.LoopConfig{
		Mode:                      schemas.ObservationMode(cfg.Agent().Mode),
		CompressThreshold:         cfg.Agent().CompressThreshold,
		ReplanAfterFailures:       cfg.Agent().ReplanAfterFailures,
		TakeoverHintAfterFailures: cfg.Agent().TakeoverHintAfterFailures,
		StepPacing:                cfg.Agent().StepPacing,
		InterventionWait:          cfg.Agent().InterventionWait,
	}
	components.Loop = agent.NewLoop(logger, loopCfg, router, contextStore,
		agent.NewDecoder(logger), dispatcher, controller, screen, multiSink(sinks))

	return components, nil
}

// consoleSink renders step results for the terminal.
type consoleSink struct{}

func (consoleSink) OnStep(result agent.StepResult) {
	status := "ok"
	if !result.Success {
		status = "failed"
	}
	fmt.Printf("[step %d] %s (%s)\n", result.Step, result.ActionText, status)
	if result.Message != "" {
		fmt.Printf("         %s\n", result.Message)
	}
}

func (consoleSink) OnTakeover(message string) {
	fmt.Printf("\n*** YOUR TURN: %s ***\n\n", message)
}

// multiSink fans step events out to several sinks.
type multiSink []agent.StepSink

func (m multiSink) OnStep(result agent.StepResult) {
	for _, s := range m {
		s.OnStep(result)
	}
}

func (m multiSink) OnTakeover(message string) {
	for _, s := range m {
		s.OnTakeover(message)
	}
}
