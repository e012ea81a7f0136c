package crawl

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ingesil/gazette-crawler/internal/artifacts"
	"github.com/ingesil/gazette-crawler/internal/metrics"
	"github.com/ingesil/gazette-crawler/internal/store"
)

// Session is the mutable per-run working state threaded through every state
// handler. It holds no durable state: everything here is discarded at run
// end and recovery relies solely on the repository and the watermark.
type Session struct {
	Logger    *zap.Logger
	Driver    Driver
	Artifacts *artifacts.Writer
	Store     store.Repository
	Source    store.Source
	Window    Window
	Timeout   time.Duration

	// attempted records issue ids already picked this run so an issue that
	// still has zero notices after processing is not immediately re-picked.
	attempted map[int64]struct{}
}

// NewSession builds the shared session state for one run.
func NewSession(logger *zap.Logger, driver Driver, writer *artifacts.Writer, repo store.Repository, source store.Source, window Window, timeout time.Duration) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		Logger:    logger,
		Driver:    driver,
		Artifacts: writer,
		Store:     repo,
		Source:    source,
		Window:    window,
		Timeout:   timeout,
		attempted: make(map[int64]struct{}),
	}
}

// MarkAttempted records that an issue was picked during this run.
func (s *Session) MarkAttempted(issueID int64) {
	s.attempted[issueID] = struct{}{}
}

// WasAttempted reports whether an issue was already picked during this run.
func (s *Session) WasAttempted(issueID int64) bool {
	_, ok := s.attempted[issueID]
	return ok
}

// Capture saves a forensic snapshot for the current state. Capture failures
// are logged and swallowed: observability must not abort the run.
func (s *Session) Capture(ctx context.Context, state, note string) {
	if s.Artifacts == nil {
		return
	}
	saved, err := s.Artifacts.Capture(ctx, s.Driver, state, note)
	if err != nil {
		metrics.ObserveCaptureFailure()
		s.Logger.Warn("artifact capture failed",
			zap.String("state", state), zap.String("note", note), zap.Error(err))
		return
	}
	s.Logger.Debug("artifacts saved",
		zap.String("state", state), zap.String("png", saved.PNG))
}

// Runner is a fully wired per-source crawler ready to execute.
type Runner interface {
	Run(ctx context.Context) error
}

// Deps is everything a source-specific crawler builder needs.
type Deps struct {
	Logger    *zap.Logger
	Driver    Driver
	Artifacts *artifacts.Writer
	Store     store.Repository
	Pacer     *Pacer
	Source    store.Source
	Window    Window
	Timeout   time.Duration
	MaxSteps  int
}
