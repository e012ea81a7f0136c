package fsm

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var (
	// ErrUnresolvedObstruction indicates the obstruction state ran with an
	// empty resume register, so there is no trustworthy state to return to.
	// The engine fails loudly here rather than guessing a resume target.
	ErrUnresolvedObstruction = errors.New("fsm: obstruction resolved with no resume state")

	// ErrObstructionPending fires when a second obstruction is detected
	// before the first one has been resolved. Nested obstructions are
	// unsupported: the resume register holds at most one entry.
	ErrObstructionPending = errors.New("fsm: resume register already occupied")
)

// ResumeRegister is a capacity-1 slot holding the state to return to after
// an obstruction detour.
type ResumeRegister[S comparable] struct {
	state    S
	occupied bool
}

// Push parks the resume state. Fails if the slot is already occupied.
func (r *ResumeRegister[S]) Push(state S) error {
	if r.occupied {
		return fmt.Errorf("%w: holding %v", ErrObstructionPending, r.state)
	}
	r.state = state
	r.occupied = true
	return nil
}

// Pop clears the slot and returns its value, reporting whether it was set.
func (r *ResumeRegister[S]) Pop() (S, bool) {
	state, ok := r.state, r.occupied
	var zero S
	r.state = zero
	r.occupied = false
	return state, ok
}

// Occupied reports whether a resume state is parked.
func (r *ResumeRegister[S]) Occupied() bool {
	return r.occupied
}

// Probe reports whether a transient obstruction (e.g. a blocking overlay)
// is currently present. Site-specific.
type Probe[C any] func(ctx context.Context, sess C) (bool, error)

// Resolver performs the single deterministic action that clears the
// obstruction (e.g. clicking the accept button). Site-specific.
type Resolver[C any] func(ctx context.Context, sess C) error

// InterruptRouter detours any wrapped state through a dedicated
// obstruction-handling state and returns to the interrupted state
// afterwards. Wrapped states stay unaware of the obstruction.
type InterruptRouter[S comparable, C any] struct {
	obstruction S
	probe       Probe[C]
	resolve     Resolver[C]
	register    ResumeRegister[S]
	logger      *zap.Logger
}

// NewInterruptRouter builds a router whose detours run through obstruction.
func NewInterruptRouter[S comparable, C any](obstruction S, probe Probe[C], resolve Resolver[C], logger *zap.Logger) *InterruptRouter[S, C] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InterruptRouter[S, C]{
		obstruction: obstruction,
		probe:       probe,
		resolve:     resolve,
		logger:      logger,
	}
}

// Wrap guards a handler with the obstruction probe. When the probe reports
// an obstruction at state entry, the intended state is parked in the resume
// register and the engine is routed to the obstruction state instead.
func (r *InterruptRouter[S, C]) Wrap(state S, handler Handler[S, C]) Handler[S, C] {
	return func(ctx context.Context, sess C) (S, error) {
		present, err := r.probe(ctx, sess)
		if err != nil {
			return state, fmt.Errorf("obstruction probe: %w", err)
		}
		if present {
			if err := r.register.Push(state); err != nil {
				return state, err
			}
			r.logger.Info("obstruction detected, detouring",
				zap.Any("interrupted_state", state),
				zap.Any("obstruction_state", r.obstruction),
			)
			return r.obstruction, nil
		}
		return handler(ctx, sess)
	}
}

// Handler returns the handler for the obstruction state itself: resolve the
// obstruction once, then pop the register and resume the interrupted state.
func (r *InterruptRouter[S, C]) Handler() Handler[S, C] {
	return func(ctx context.Context, sess C) (S, error) {
		if err := r.resolve(ctx, sess); err != nil {
			return r.obstruction, fmt.Errorf("resolve obstruction: %w", err)
		}
		next, ok := r.register.Pop()
		if !ok {
			return r.obstruction, ErrUnresolvedObstruction
		}
		r.logger.Info("obstruction resolved, resuming", zap.Any("resume_state", next))
		return next, nil
	}
}
