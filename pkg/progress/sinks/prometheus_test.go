package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/jobcrawl/pkg/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms are incremented from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := progress.UUIDToBytes(uuid.New())
	now := time.Now()
	batch := []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunStart},
		{RunID: runID, TS: now, Stage: progress.StageJobQueued, Kind: "initial"},
		{RunID: runID, TS: now, Stage: progress.StageFetchStart, Kind: "initial", Site: "example.com"},
		{
			RunID:       runID,
			TS:          now.Add(200 * time.Millisecond),
			Stage:       progress.StageFetchDone,
			Kind:        "initial",
			Site:        "example.com",
			Bytes:       1024,
			StatusClass: progress.Status2xx,
			Dur:         200 * time.Millisecond,
		},
		{RunID: runID, TS: now, Stage: progress.StageDispatch, Kind: "initial"},
		{RunID: runID, TS: now, Stage: progress.StageHandlerError, Kind: "initial", Note: "boom"},
		{RunID: runID, TS: now.Add(time.Second), Stage: progress.StageRunDone, Dur: time.Second},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("success")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("error")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.jobsInFlight))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsQueued.WithLabelValues("initial")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsDispatched.WithLabelValues("initial")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.errors.WithLabelValues(string(progress.StageHandlerError), "initial")))

	require.InDelta(
		t,
		1.0,
		testutil.ToFloat64(sink.fetchRequests.WithLabelValues("example.com", string(progress.Status2xx))),
		1e-9,
	)
	require.InDelta(t, 1024.0, testutil.ToFloat64(sink.fetchBytes.WithLabelValues("example.com")), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.fetchDuration, "jobcrawl_fetch_duration_seconds"))
	require.Equal(t, 1, testutil.CollectAndCount(sink.runDuration, "jobcrawl_run_duration_seconds"))
}

func TestPrometheusSinkFetchErrorLeavesNothingInFlight(t *testing.T) {
	t.Parallel()

	sink, err := NewPrometheusSink(prometheus.NewRegistry())
	require.NoError(t, err)

	runID := progress.UUIDToBytes(uuid.New())
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: time.Now(), Stage: progress.StageFetchStart, Kind: "page", Site: "a.io"},
		{RunID: runID, TS: time.Now(), Stage: progress.StageFetchError, Kind: "page", Site: "a.io"},
		{RunID: runID, TS: time.Now(), Stage: progress.StageRunError, Dur: time.Second},
	}))

	require.Equal(t, 0.0, testutil.ToFloat64(sink.jobsInFlight))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.errors.WithLabelValues(string(progress.StageFetchError), "page")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("error")))
}

func TestNewPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.ErrorContains(t, err, "register progress collector")
}
