package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	require.NotNil(t, stateTransitionsTotal)
	require.NotNil(t, issuesUpsertedTotal)
	require.NotNil(t, noticesUpsertedTotal)
	require.NotNil(t, obstructionsResolvedTotal)
	require.NotNil(t, captureFailuresTotal)
	require.NotNil(t, throttleDelaySeconds)
}

func TestObserversIncrementCollectors(t *testing.T) {
	Init()

	ObserveTransition("boe", "PARSE_RESULTS_PAGE")
	require.Equal(t, float64(1),
		testutil.ToFloat64(stateTransitionsTotal.WithLabelValues("boe", "PARSE_RESULTS_PAGE")))

	ObserveIssueUpsert("dogc")
	ObserveIssueUpsert("dogc")
	require.Equal(t, float64(2), testutil.ToFloat64(issuesUpsertedTotal.WithLabelValues("dogc")))

	ObserveNoticeUpsert("boe")
	require.Equal(t, float64(1), testutil.ToFloat64(noticesUpsertedTotal.WithLabelValues("boe")))

	ObserveObstructionResolved("dogc")
	require.Equal(t, float64(1), testutil.ToFloat64(obstructionsResolvedTotal.WithLabelValues("dogc")))

	before := testutil.ToFloat64(captureFailuresTotal)
	ObserveCaptureFailure()
	require.Equal(t, before+1, testutil.ToFloat64(captureFailuresTotal))

	ObserveThrottleDelay("www.boe.es", 120*time.Millisecond)
	require.Positive(t, testutil.CollectAndCount(throttleDelaySeconds))
}

// Observers must be no-ops before Init so library code never panics when the
// process skips metrics setup.
func TestObserversSafeBeforeInit(t *testing.T) {
	saved := stateTransitionsTotal
	stateTransitionsTotal = nil
	defer func() { stateTransitionsTotal = saved }()

	require.NotPanics(t, func() { ObserveTransition("boe", "HOME") })
}

func TestHandlerServesRegistry(t *testing.T) {
	Init()
	require.NotNil(t, Handler())
}
