// Package fsm implements the generic finite-state crawl engine: a step
// executor over a named-state graph with a step budget, a transition hook,
// and an interrupt-detour mechanism for transient page obstructions.
package fsm

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var (
	// ErrMissingHandler indicates an engine integrity defect: a declared
	// state has no handler registered for it.
	ErrMissingHandler = errors.New("fsm: missing handler for state")

	// ErrStepBudgetExceeded guards against runaway loops. It fires when the
	// engine would execute more steps than the configured maximum.
	ErrStepBudgetExceeded = errors.New("fsm: step budget exceeded")
)

// defaultMaxSteps bounds machines whose config omits an explicit budget.
const defaultMaxSteps = 50

// Handler advances the machine from one state to the next. Handlers must
// return a declared state; they are not required to be idempotent. Run-level
// idempotence comes from the repository contract, not from engine retries.
type Handler[S comparable, C any] func(ctx context.Context, sess C) (S, error)

// TransitionHook observes every non-terminal transition. The engine skips
// the hook entirely when the destination is the terminal state.
type TransitionHook[S comparable, C any] func(ctx context.Context, sess C, from, to S) error

// Config declares a state machine: its state graph, budget, and hook.
type Config[S comparable, C any] struct {
	Initial      S
	Terminal     S
	Handlers     map[S]Handler[S, C]
	OnTransition TransitionHook[S, C]
	MaxSteps     int
	Logger       *zap.Logger
}

// Engine executes a finite, named-state graph strictly sequentially.
type Engine[S comparable, C any] struct {
	initial      S
	terminal     S
	handlers     map[S]Handler[S, C]
	onTransition TransitionHook[S, C]
	maxSteps     int
	logger       *zap.Logger
}

// New validates the state graph and builds an Engine. Every declared state
// must have exactly one handler; the terminal state must have none.
func New[S comparable, C any](cfg Config[S, C]) (*Engine[S, C], error) {
	if len(cfg.Handlers) == 0 {
		return nil, fmt.Errorf("fsm: at least one handler is required")
	}
	if cfg.Initial == cfg.Terminal {
		return nil, fmt.Errorf("fsm: initial and terminal state must differ")
	}
	if _, ok := cfg.Handlers[cfg.Initial]; !ok {
		return nil, fmt.Errorf("%w: initial state %v", ErrMissingHandler, cfg.Initial)
	}
	if _, ok := cfg.Handlers[cfg.Terminal]; ok {
		return nil, fmt.Errorf("fsm: terminal state %v must not have a handler", cfg.Terminal)
	}
	maxSteps := cfg.MaxSteps
	if maxSteps <= 0 {
		maxSteps = defaultMaxSteps
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine[S, C]{
		initial:      cfg.Initial,
		terminal:     cfg.Terminal,
		handlers:     cfg.Handlers,
		onTransition: cfg.OnTransition,
		maxSteps:     maxSteps,
		logger:       logger,
	}, nil
}

// Run drives the machine from the initial state to the terminal state and
// returns the terminal state. Handler failures propagate out uncaught; the
// caller's recovery strategy is to re-invoke the whole process and rely on
// stateless resume.
func (e *Engine[S, C]) Run(ctx context.Context, sess C) (S, error) {
	state := e.initial
	steps := 0

	for state != e.terminal {
		if err := ctx.Err(); err != nil {
			return state, fmt.Errorf("fsm: run canceled in state %v: %w", state, err)
		}
		if steps >= e.maxSteps {
			return state, fmt.Errorf("%w: %d steps", ErrStepBudgetExceeded, e.maxSteps)
		}

		handler, ok := e.handlers[state]
		if !ok {
			return state, fmt.Errorf("%w: %v", ErrMissingHandler, state)
		}

		next, err := handler(ctx, sess)
		if err != nil {
			return state, fmt.Errorf("fsm: handler for state %v: %w", state, err)
		}
		e.logger.Debug("fsm transition",
			zap.Any("from", state),
			zap.Any("to", next),
			zap.Int("step", steps+1),
		)

		if next != e.terminal && e.onTransition != nil {
			if err := e.onTransition(ctx, sess, state, next); err != nil {
				return state, fmt.Errorf("fsm: transition hook %v -> %v: %w", state, next, err)
			}
		}

		state = next
		steps++
	}

	return state, nil
}
