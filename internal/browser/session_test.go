package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestForwardCancelPropagates(t *testing.T) {
	t.Parallel()

	parent, cancelParent := context.WithCancel(context.Background())
	op, cancelOp := context.WithCancel(context.Background())
	defer cancelOp()

	stop := forwardCancel(parent, cancelOp)
	defer stop()

	cancelParent()
	select {
	case <-op.Done():
	case <-time.After(time.Second):
		t.Fatal("operation context not canceled after parent cancellation")
	}
}

func TestForwardCancelStopDetaches(t *testing.T) {
	t.Parallel()

	parent, cancelParent := context.WithCancel(context.Background())
	op, cancelOp := context.WithCancel(context.Background())
	defer cancelOp()

	stop := forwardCancel(parent, cancelOp)
	stop()
	cancelParent()

	select {
	case <-op.Done():
		t.Fatal("operation canceled after forwarding was stopped")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestForwardCancelNilParent(t *testing.T) {
	t.Parallel()

	_, cancelOp := context.WithCancel(context.Background())
	defer cancelOp()

	stop := forwardCancel(nil, cancelOp)
	require.NotPanics(t, stop)
}
