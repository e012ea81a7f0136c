package crawl

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// fallbackViewportHeight is used when the driver cannot report
// window.innerHeight (e.g. mid-navigation).
const fallbackViewportHeight = 900

// Scroller is the slice of the driver the pacer needs.
type Scroller interface {
	ViewportHeight(ctx context.Context) (int, error)
	ScrollBy(ctx context.Context, px int) error
}

// Pacer injects randomized think-time and scroll jitter between state
// transitions to avoid uniform-timing automation signatures. It has no
// control-flow impact: it only delays reaching the next state.
type Pacer struct {
	rand   *rand.Rand
	sleep  func(ctx context.Context, d time.Duration) error
	logger *zap.Logger
}

// NewPacer builds a pacer with its own random source.
func NewPacer(logger *zap.Logger) *Pacer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pacer{
		rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:  sleepCtx,
		logger: logger,
	}
}

// Apply performs the pacing sequence: pause, scroll forward, pause, scroll
// a smaller amount back, pause.
func (p *Pacer) Apply(ctx context.Context, scroller Scroller) error {
	if err := p.sleep(ctx, p.between(400*time.Millisecond, 1200*time.Millisecond)); err != nil {
		return err
	}

	height, err := scroller.ViewportHeight(ctx)
	if err != nil || height <= 0 {
		height = fallbackViewportHeight
	}

	down := p.intBetween(max(80, height/10), max(180, height*28/100))
	up := p.intBetween(max(30, height/20), max(120, height*16/100))

	if err := scroller.ScrollBy(ctx, down); err != nil {
		return fmt.Errorf("pacing scroll down: %w", err)
	}
	p.logger.Debug("pacing scrolled down", zap.Int("px", down))

	if err := p.sleep(ctx, p.between(200*time.Millisecond, 700*time.Millisecond)); err != nil {
		return err
	}

	if err := scroller.ScrollBy(ctx, -up); err != nil {
		return fmt.Errorf("pacing scroll up: %w", err)
	}
	p.logger.Debug("pacing scrolled up", zap.Int("px", up))

	return p.sleep(ctx, p.between(300*time.Millisecond, 900*time.Millisecond))
}

func (p *Pacer) between(lo, hi time.Duration) time.Duration {
	return lo + time.Duration(p.rand.Int63n(int64(hi-lo)))
}

func (p *Pacer) intBetween(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + p.rand.Intn(hi-lo+1)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
