package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ingesil/gazette-crawler/internal/logging"
	"github.com/ingesil/gazette-crawler/internal/metrics"
	"github.com/ingesil/gazette-crawler/pkg/config"
)

var (
	cfgFile string
	verbose bool

	// logger is built once in the root PersistentPreRunE and shared by all
	// subcommands.
	logger *zap.Logger
)

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gazette-crawler",
		Short: "Resumable browser crawler for official gazettes.",
		Long: `gazette-crawler drives a real browser through official gazette sites
(daily issues and the notices inside them) as a resumable state machine.
Progress is persisted after every page, so an interrupted run can simply be
re-executed: the crawl window resumes after the newest stored issue and all
writes are idempotent.`,

		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			l, err := logging.New(verbose)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			logger = l
			config.Init(cfgFile, logger)
			metrics.Init()
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ., /etc/gazette-crawler, $HOME/.gazette-crawler)")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "development logging (colored, debug level)")

	cmd.AddCommand(newCrawlCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		if logger != nil {
			logger.Error("command failed", zap.Error(err))
			_ = logger.Sync()
		}
		os.Exit(1)
	}
	if logger != nil {
		_ = logger.Sync()
	}
}
