package fsm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type testState string

const (
	stateStart  testState = "START"
	stateMiddle testState = "MIDDLE"
	stateEnd    testState = "END"
)

type counterSession struct {
	visits []testState
}

func TestRunAdvancesToTerminal(t *testing.T) {
	t.Parallel()

	engine, err := New(Config[testState, *counterSession]{
		Initial:  stateStart,
		Terminal: stateEnd,
		Handlers: map[testState]Handler[testState, *counterSession]{
			stateStart: func(_ context.Context, s *counterSession) (testState, error) {
				s.visits = append(s.visits, stateStart)
				return stateMiddle, nil
			},
			stateMiddle: func(_ context.Context, s *counterSession) (testState, error) {
				s.visits = append(s.visits, stateMiddle)
				return stateEnd, nil
			},
		},
		MaxSteps: 10,
	})
	require.NoError(t, err)

	sess := &counterSession{}
	final, err := engine.Run(context.Background(), sess)
	require.NoError(t, err)
	require.Equal(t, stateEnd, final)
	require.Equal(t, []testState{stateStart, stateMiddle}, sess.visits)
}

func TestNewRejectsBadGraphs(t *testing.T) {
	t.Parallel()

	noop := func(_ context.Context, _ *counterSession) (testState, error) { return stateEnd, nil }

	_, err := New(Config[testState, *counterSession]{
		Initial:  stateStart,
		Terminal: stateEnd,
		Handlers: map[testState]Handler[testState, *counterSession]{stateMiddle: noop},
	})
	require.ErrorIs(t, err, ErrMissingHandler, "initial state without handler must be rejected")

	_, err = New(Config[testState, *counterSession]{
		Initial:  stateStart,
		Terminal: stateEnd,
		Handlers: map[testState]Handler[testState, *counterSession]{
			stateStart: noop,
			stateEnd:   noop,
		},
	})
	require.Error(t, err, "terminal state with handler must be rejected")

	_, err = New(Config[testState, *counterSession]{
		Initial:  stateStart,
		Terminal: stateStart,
		Handlers: map[testState]Handler[testState, *counterSession]{stateStart: noop},
	})
	require.Error(t, err, "initial == terminal must be rejected")
}

func TestRunFailsOnUndeclaredState(t *testing.T) {
	t.Parallel()

	engine, err := New(Config[testState, *counterSession]{
		Initial:  stateStart,
		Terminal: stateEnd,
		Handlers: map[testState]Handler[testState, *counterSession]{
			stateStart: func(_ context.Context, _ *counterSession) (testState, error) {
				return testState("NOWHERE"), nil
			},
		},
		MaxSteps: 10,
	})
	require.NoError(t, err)

	_, err = engine.Run(context.Background(), &counterSession{})
	require.ErrorIs(t, err, ErrMissingHandler)
}

func TestStepBudgetFiresOnMaxPlusOne(t *testing.T) {
	t.Parallel()

	const budget = 3

	// A self-loop that would spin forever without the budget.
	spins := 0
	loop, err := New(Config[testState, *counterSession]{
		Initial:  stateStart,
		Terminal: stateEnd,
		Handlers: map[testState]Handler[testState, *counterSession]{
			stateStart: func(_ context.Context, _ *counterSession) (testState, error) {
				spins++
				return stateStart, nil
			},
		},
		MaxSteps: budget,
	})
	require.NoError(t, err)

	_, err = loop.Run(context.Background(), &counterSession{})
	require.ErrorIs(t, err, ErrStepBudgetExceeded)
	require.Equal(t, budget, spins, "exactly max handler invocations must be allowed")

	// A machine that terminates in exactly max steps must succeed.
	remaining := budget
	exact, err := New(Config[testState, *counterSession]{
		Initial:  stateStart,
		Terminal: stateEnd,
		Handlers: map[testState]Handler[testState, *counterSession]{
			stateStart: func(_ context.Context, _ *counterSession) (testState, error) {
				remaining--
				if remaining == 0 {
					return stateEnd, nil
				}
				return stateStart, nil
			},
		},
		MaxSteps: budget,
	})
	require.NoError(t, err)

	final, err := exact.Run(context.Background(), &counterSession{})
	require.NoError(t, err, "budget must never fire on step max")
	require.Equal(t, stateEnd, final)
}

func TestTransitionHookSkippedForTerminal(t *testing.T) {
	t.Parallel()

	var hops [][2]testState
	engine, err := New(Config[testState, *counterSession]{
		Initial:  stateStart,
		Terminal: stateEnd,
		Handlers: map[testState]Handler[testState, *counterSession]{
			stateStart: func(_ context.Context, _ *counterSession) (testState, error) {
				return stateMiddle, nil
			},
			stateMiddle: func(_ context.Context, _ *counterSession) (testState, error) {
				return stateEnd, nil
			},
		},
		OnTransition: func(_ context.Context, _ *counterSession, from, to testState) error {
			hops = append(hops, [2]testState{from, to})
			return nil
		},
		MaxSteps: 10,
	})
	require.NoError(t, err)

	_, err = engine.Run(context.Background(), &counterSession{})
	require.NoError(t, err)
	require.Equal(t, [][2]testState{{stateStart, stateMiddle}}, hops,
		"hook must fire for non-terminal transitions only")
}

func TestHandlerErrorPropagatesUncaught(t *testing.T) {
	t.Parallel()

	boom := errors.New("selector vanished")
	engine, err := New(Config[testState, *counterSession]{
		Initial:  stateStart,
		Terminal: stateEnd,
		Handlers: map[testState]Handler[testState, *counterSession]{
			stateStart: func(_ context.Context, _ *counterSession) (testState, error) {
				return stateStart, boom
			},
		},
		MaxSteps: 10,
	})
	require.NoError(t, err)

	_, err = engine.Run(context.Background(), &counterSession{})
	require.ErrorIs(t, err, boom)
}

func TestRunHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	engine, err := New(Config[testState, *counterSession]{
		Initial:  stateStart,
		Terminal: stateEnd,
		Handlers: map[testState]Handler[testState, *counterSession]{
			stateStart: func(_ context.Context, _ *counterSession) (testState, error) {
				return stateStart, nil
			},
		},
		MaxSteps: 1000,
	})
	require.NoError(t, err)

	_, err = engine.Run(ctx, &counterSession{})
	require.ErrorIs(t, err, context.Canceled)
}
