package progress

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// jobTrail renders each event as "STAGE kind [status]", in arrival order.
type jobTrail struct {
	lines []string
}

func (t *jobTrail) Consume(_ context.Context, batch []Event) error {
	for _, evt := range batch {
		line := fmt.Sprintf("%s %s", evt.Stage, evt.Kind)
		if evt.StatusClass != "" {
			line += " " + string(evt.StatusClass)
		}
		t.lines = append(t.lines, strings.TrimSpace(line))
	}
	return nil
}

func (*jobTrail) Close(context.Context) error { return nil }

// ExampleHub_Emit follows one job through the engine's stages. Events are
// buffered until Close flushes them.
func ExampleHub_Emit() {
	trail := &jobTrail{}
	hub := NewHub(Config{MaxBatchEvents: 64, MaxBatchWait: time.Minute}, trail)

	runID := UUIDToBytes(uuid.MustParse("0190f3c2-7a4e-7000-8000-000000000001"))
	const jobURL = "https://example.com/jobs/42"
	site := SiteOf(jobURL)
	for _, evt := range []Event{
		{Stage: StageRunStart},
		{Stage: StageJobQueued, Kind: "initial", URL: jobURL},
		{Stage: StageFetchStart, Kind: "initial", Site: site, URL: jobURL},
		{Stage: StageFetchDone, Kind: "initial", Site: site, URL: jobURL, StatusClass: ClassifyStatus(200), Bytes: 2048},
		{Stage: StageDispatch, Kind: "initial", URL: jobURL},
		{Stage: StageRunDone},
	} {
		evt.RunID = runID
		evt.TS = time.Unix(0, 0).UTC()
		hub.Emit(evt)
	}
	if err := hub.Close(context.Background()); err != nil {
		fmt.Println("close:", err)
	}

	fmt.Println(strings.Join(trail.lines, "\n"))
	// Output:
	// RUN_START
	// JOB_QUEUED initial
	// FETCH_START initial
	// FETCH_DONE initial 2xx
	// DISPATCH initial
	// RUN_DONE
}

// ExampleSink counts dispatched pages per job kind with a function sink.
func ExampleSink() {
	dispatched := map[string]int{}
	perKind := sinkFunc(func(_ context.Context, batch []Event) error {
		for _, evt := range batch {
			if evt.Stage == StageDispatch {
				dispatched[evt.Kind]++
			}
		}
		return nil
	})
	hub := NewHub(Config{}, perKind)

	runID := UUIDToBytes(uuid.MustParse("0190f3c2-7a4e-7000-8000-000000000002"))
	for _, kind := range []string{"initial", "page", "page", "page"} {
		hub.Emit(Event{RunID: runID, TS: time.Unix(0, 0).UTC(), Stage: StageDispatch, Kind: kind})
	}
	if err := hub.Close(context.Background()); err != nil {
		fmt.Println("close:", err)
	}

	fmt.Printf("initial=%d page=%d\n", dispatched["initial"], dispatched["page"])
	// Output:
	// initial=1 page=3
}

type sinkFunc func(context.Context, []Event) error

func (f sinkFunc) Consume(ctx context.Context, batch []Event) error {
	return f(ctx, batch)
}

func (sinkFunc) Close(context.Context) error {
	return nil
}
