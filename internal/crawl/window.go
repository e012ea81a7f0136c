package crawl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrWindowConfig indicates conflicting or incomplete date-window arguments.
var ErrWindowConfig = errors.New("crawl: invalid date window configuration")

// Window is the inclusive date range a run is allowed to crawl.
type Window struct {
	From time.Time
	To   time.Time
}

// Empty reports whether the window contains no days. An empty window is a
// legitimate no-op, not an error: it means the watermark already covers
// every day up to today.
func (w Window) Empty() bool {
	return w.From.After(w.To)
}

func (w Window) String() string {
	return fmt.Sprintf("[%s -> %s]", w.From.Format(time.DateOnly), w.To.Format(time.DateOnly))
}

// Contains reports whether day falls inside the window.
func (w Window) Contains(day time.Time) bool {
	day = Day(day)
	return !day.Before(w.From) && !day.After(w.To)
}

// Day truncates t to midnight UTC. Windows and watermarks carry date
// precision only.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Overrides are the optional explicit date arguments from the process
// boundary. Day is mutually exclusive with From/To.
type Overrides struct {
	Day  *time.Time
	From *time.Time
	To   *time.Time
}

// watermarkQuerier is the slice of the repository the resolver needs.
type watermarkQuerier interface {
	MaxIssueDate(ctx context.Context, sourceID int64) (time.Time, bool, error)
}

// WindowResolver computes a non-overlapping crawl window from persisted
// progress plus optional explicit overrides.
type WindowResolver struct {
	store  watermarkQuerier
	clock  Clock
	logger *zap.Logger
}

// NewWindowResolver builds a resolver over the given store and clock.
func NewWindowResolver(store watermarkQuerier, clock Clock, logger *zap.Logger) *WindowResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WindowResolver{store: store, clock: clock, logger: logger}
}

// Resolve applies the override rules in priority order, then falls back to
// the persisted watermark. Absent overrides, two successive runs never
// re-open a window strictly before the previously observed watermark; the
// watermark day itself may be revisited, which is safe under upsert
// idempotence.
func (r *WindowResolver) Resolve(ctx context.Context, sourceID int64, sourceStart time.Time, ov Overrides) (Window, error) {
	if ov.Day != nil {
		if ov.From != nil || ov.To != nil {
			return Window{}, fmt.Errorf("%w: use either a single day or a from/to range, not both", ErrWindowConfig)
		}
		day := Day(*ov.Day)
		r.logger.Info("using explicit single-day crawl window", zap.Time("day", day))
		return Window{From: day, To: day}, nil
	}

	if ov.From != nil || ov.To != nil {
		if ov.From == nil || ov.To == nil {
			return Window{}, fmt.Errorf("%w: both from and to are required for a range override", ErrWindowConfig)
		}
		from, to := Day(*ov.From), Day(*ov.To)
		if from.After(to) {
			return Window{}, fmt.Errorf("%w: from %s is after to %s",
				ErrWindowConfig, from.Format(time.DateOnly), to.Format(time.DateOnly))
		}
		r.logger.Info("using explicit crawl window",
			zap.Time("from", from), zap.Time("to", to))
		return Window{From: from, To: to}, nil
	}

	watermark, found, err := r.store.MaxIssueDate(ctx, sourceID)
	if err != nil {
		return Window{}, fmt.Errorf("query watermark: %w", err)
	}

	var from time.Time
	if found {
		from = Day(watermark).AddDate(0, 0, 1)
		r.logger.Info("resuming after persisted watermark",
			zap.Time("watermark", Day(watermark)), zap.Time("from", from))
	} else {
		from = Day(sourceStart)
		r.logger.Info("no persisted issues, starting from source start date",
			zap.Time("from", from))
	}

	window := Window{From: from, To: Day(r.clock.Now())}
	r.logger.Info("crawl window resolved", zap.Stringer("window", window))
	return window, nil
}
