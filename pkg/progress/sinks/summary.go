package sinks

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/JakeFAU/jobcrawl/pkg/progress"
)

// Summary is a point-in-time copy of the totals collected by a SummarySink.
type Summary struct {
	Queued     int64
	Fetched    int64
	Dispatched int64
	FetchFails int64
	Handled    int64
	HandleFail int64
	Bytes      int64
	Duration   time.Duration
	ByKind     map[string]int64
	ByStatus   map[progress.StatusClass]int64
}

// SummarySink keeps running totals in memory for an end-of-run report.
type SummarySink struct {
	mu  sync.Mutex
	sum Summary
}

// NewSummarySink returns an empty SummarySink.
func NewSummarySink() *SummarySink {
	return &SummarySink{sum: Summary{
		ByKind:   make(map[string]int64),
		ByStatus: make(map[progress.StatusClass]int64),
	}}
}

// Consume folds batch into the totals.
func (s *SummarySink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageJobQueued:
			s.sum.Queued++
			s.sum.ByKind[evt.Kind]++
		case progress.StageFetchDone:
			s.sum.Fetched++
			s.sum.Bytes += evt.Bytes
			s.sum.ByStatus[evt.StatusClass]++
		case progress.StageFetchError:
			s.sum.FetchFails++
		case progress.StageDispatch:
			s.sum.Dispatched++
		case progress.StageHandlerError:
			s.sum.HandleFail++
		case progress.StageRunDone, progress.StageRunError:
			s.sum.Duration = evt.Dur
		}
	}
	s.sum.Handled = s.sum.Dispatched - s.sum.HandleFail
	return nil
}

// Snapshot returns a copy of the current totals.
func (s *SummarySink) Snapshot() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.sum
	out.ByKind = maps.Clone(s.sum.ByKind)
	out.ByStatus = maps.Clone(s.sum.ByStatus)
	return out
}

// Close implements the Sink interface; it performs no action.
func (s *SummarySink) Close(context.Context) error {
	return nil
}
