// Package cmd defines and implements the CLI commands for the
// gazette-crawler executable.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ingesil/gazette-crawler/internal/api"
	"github.com/ingesil/gazette-crawler/internal/artifacts"
	"github.com/ingesil/gazette-crawler/internal/browser"
	"github.com/ingesil/gazette-crawler/internal/clock/system"
	"github.com/ingesil/gazette-crawler/internal/crawl"
	runid "github.com/ingesil/gazette-crawler/internal/id/uuid"
	"github.com/ingesil/gazette-crawler/internal/sources"
	"github.com/ingesil/gazette-crawler/internal/store"
)

type crawlFlags struct {
	source      string
	day         string
	fromDate    string
	toDate      string
	headed      bool
	timeout     time.Duration
	maxSteps    int
	runID       string
	metricsAddr string
}

// newCrawlCmd creates and configures the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	flags := &crawlFlags{}

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run one crawl for a registered gazette source",
		Long: `Runs a single crawl for one source. Without date flags the crawl window
resumes right after the newest stored issue (or at the source's start date on
the first run) and ends today. An empty window is a successful no-op.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd.Context(), flags)
		},
	}

	cmd.Flags().StringVar(&flags.source, "source", "", "source slug to crawl (one of: boe, dogc)")
	cmd.Flags().StringVar(&flags.day, "day", "", "crawl exactly one day (YYYY-MM-DD); excludes --from-date/--to-date")
	cmd.Flags().StringVar(&flags.fromDate, "from-date", "", "explicit window start (YYYY-MM-DD); requires --to-date")
	cmd.Flags().StringVar(&flags.toDate, "to-date", "", "explicit window end (YYYY-MM-DD); requires --from-date")
	cmd.Flags().BoolVar(&flags.headed, "headed", false, "run the browser with a visible window")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", 0, "per-operation browser timeout (default from config)")
	cmd.Flags().IntVar(&flags.maxSteps, "max-steps", 0, "override the source's state step budget")
	cmd.Flags().StringVar(&flags.runID, "run-id", "", "run identifier used in artifact paths (default: random)")
	cmd.Flags().StringVar(&flags.metricsAddr, "metrics-addr", "", "serve /healthz and /metrics on this address while crawling")
	_ = cmd.MarkFlagRequired("source")

	return cmd
}

func runCrawl(parent context.Context, flags *crawlFlags) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	builder, err := sources.Lookup(flags.source)
	if err != nil {
		return err
	}

	overrides, err := parseDateOverrides(flags)
	if err != nil {
		return err
	}

	runID := flags.runID
	if runID == "" {
		if runID, err = runid.New().NewID(); err != nil {
			return fmt.Errorf("generate run id: %w", err)
		}
	}
	log := logger.With(zap.String("source", flags.source), zap.String("run_id", runID))

	repo, err := store.NewPostgresRepository(ctx, store.Config{
		DSN:             viper.GetString("db.dsn"),
		MaxConns:        viper.GetInt32("db.max_conns"),
		MinConns:        viper.GetInt32("db.min_conns"),
		MaxConnLifetime: viper.GetDuration("db.max_conn_lifetime"),
	}, log)
	if err != nil {
		return fmt.Errorf("connect store: %w", err)
	}
	defer repo.Close()

	source, err := repo.SourceBySlug(ctx, flags.source)
	if err != nil {
		return err
	}
	if source.BaseURL == "" {
		source.BaseURL = viper.GetString("sources." + flags.source + ".url")
	}

	window, err := crawl.NewWindowResolver(repo, system.New(), log).
		Resolve(ctx, source.ID, source.StartAt, overrides)
	if err != nil {
		return err
	}
	if window.Empty() {
		log.Info("nothing to crawl: window is empty", zap.Stringer("window", window))
		return nil
	}
	log.Info("starting crawl", zap.Stringer("window", window))

	metricsAddr := flags.metricsAddr
	if metricsAddr == "" {
		metricsAddr = viper.GetString("metrics.addr")
	}
	if metricsAddr != "" {
		debug := api.NewServer(metricsAddr, log)
		debug.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = debug.Shutdown(shutdownCtx)
		}()
	}

	timeout := flags.timeout
	if timeout <= 0 {
		timeout = viper.GetDuration("crawler.timeout")
	}
	driver, err := browser.NewSession(ctx, browser.Config{
		Headless:     !flags.headed && viper.GetBool("browser.headless"),
		UserAgent:    viper.GetString("browser.user_agent"),
		Timeout:      timeout,
		DomainQPS:    viper.GetFloat64("browser.domain_qps"),
		WindowWidth:  viper.GetInt("browser.window_width"),
		WindowHeight: viper.GetInt("browser.window_height"),
	}, log)
	if err != nil {
		return err
	}
	defer driver.Close()

	writer, err := artifacts.NewWriter(viper.GetString("artifacts.dir"), flags.source, runID, log)
	if err != nil {
		return err
	}

	maxSteps := flags.maxSteps
	if maxSteps <= 0 {
		maxSteps = viper.GetInt("crawler.max_steps")
	}
	runner, err := builder(crawl.Deps{
		Logger:    log,
		Driver:    driver,
		Artifacts: writer,
		Store:     repo,
		Pacer:     crawl.NewPacer(log),
		Source:    source,
		Window:    window,
		Timeout:   timeout,
		MaxSteps:  maxSteps,
	})
	if err != nil {
		return err
	}

	if err := runner.Run(ctx); err != nil {
		log.Error("crawl failed", zap.Error(err))
		captureFailure(writer, driver, log)
		return err
	}

	log.Info("crawl finished")
	return nil
}

// captureFailure takes one best-effort forensic snapshot of whatever page
// the browser is on. A fresh context is used: the run context may already
// be canceled.
func captureFailure(writer *artifacts.Writer, driver *browser.Session, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := writer.Capture(ctx, driver, "ERROR", "run_failed"); err != nil {
		log.Warn("failure capture not written", zap.Error(err))
	}
}

func parseDateOverrides(flags *crawlFlags) (crawl.Overrides, error) {
	parse := func(name, value string) (*time.Time, error) {
		if value == "" {
			return nil, nil
		}
		t, err := time.Parse(time.DateOnly, value)
		if err != nil {
			return nil, fmt.Errorf("invalid --%s %q: expected YYYY-MM-DD", name, value)
		}
		return &t, nil
	}

	var (
		ov  crawl.Overrides
		err error
	)
	if ov.Day, err = parse("day", flags.day); err != nil {
		return crawl.Overrides{}, err
	}
	if ov.From, err = parse("from-date", flags.fromDate); err != nil {
		return crawl.Overrides{}, err
	}
	if ov.To, err = parse("to-date", flags.toDate); err != nil {
		return crawl.Overrides{}, err
	}
	return ov, nil
}
