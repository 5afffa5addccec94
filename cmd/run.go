package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/hr-assistant/internal/workflow"
)

var runCmd = &cobra.Command{
	Use:       "run <recommend|greet|chat|followup>",
	Short:     "Run one workflow batch",
	Long:      "Run one batch of a workflow: screen recommended candidates, answer new greetings, continue active chats or follow up quiet candidates.",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{string(workflow.KindRecommend), string(workflow.KindGreet), string(workflow.KindChat), string(workflow.KindFollowup)},
	Run: func(cmd *cobra.Command, args []string) {
		run(cmd, args[0])
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().IntP("limit", "l", 0, "process at most this many candidates. Default is unlimited.")
	runCmd.Flags().Int("concurrency", 0, "candidates processed in parallel. Default is taken from the config.")
	runCmd.Flags().StringP("report", "r", "", "write the run report to this file (.json or .yaml)")

	viper.BindPFlag("workflow.limit", runCmd.Flags().Lookup("limit"))
	viper.BindPFlag("report.file", runCmd.Flags().Lookup("report"))
}

// run is the main command for the cli.
func run(cmd *cobra.Command, name string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env := setup()
	defer env.Close()
	logger := env.logger

	kind, err := workflow.ParseKind(name)
	if err != nil {
		logger.Fatal("parsing workflow", zap.Error(err))
	}

	if c := cmd.Flag("concurrency"); c != nil && c.Changed {
		if n, err := cmd.Flags().GetInt("concurrency"); err == nil {
			env.config.Workflow.Concurrency = n
		}
	}

	logger.Info("starting the hr-assistant", zap.String("version", version), zap.String("workflow", string(kind)))

	runner, err := env.runner(ctx)
	if err != nil {
		logger.Fatal("preparing the workflow", zap.Error(err))
	}

	report, err := runner.Run(ctx, kind)
	if report != nil {
		writeReport(logger, report, env.config.Report.File)
	}

	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		logger.Warn("exiting", zap.String("reason", "interrupted"), zap.Error(err))
		return
	default:
		logger.Fatal("running the workflow", zap.Error(err))
	}

	for _, f := range report.Failures() {
		logger.Warn("candidate failed",
			zap.String("candidate_name", f.Name),
			zap.String("chat_id", f.ChatID),
			zap.String("error", f.Error),
		)
	}
}

func writeReport(logger *zap.Logger, report *workflow.Report, path string) {
	if strings.TrimSpace(path) == "" {
		return
	}
	if err := report.WriteFile(path); err != nil {
		logger.Error("writing the report", zap.Error(err))
		return
	}
	logger.Info("report written", zap.String("filename", path), zap.Int("candidates", len(report.Outcomes)))
}
