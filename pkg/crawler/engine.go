package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/jobcrawl/pkg/progress"
)

// State is the lifecycle position of an Engine.
type State int32

// Engine states. An engine only moves forward through them.
const (
	StateIdle State = iota
	StatePreparing
	StateSeeding
	StateDraining
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePreparing:
		return "preparing"
	case StateSeeding:
		return "seeding"
	case StateDraining:
		return "draining"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Preparer is the hook run once before any work starts. It typically
// registers handlers and sets up state the handlers share.
type Preparer interface {
	Prepare(ctx context.Context, reg *Registry) error
}

// PrepareFunc adapts a function to the Preparer interface.
type PrepareFunc func(ctx context.Context, reg *Registry) error

// Prepare calls f.
func (f PrepareFunc) Prepare(ctx context.Context, reg *Registry) error { return f(ctx, reg) }

// Stats counts what an engine has done so far.
type Stats struct {
	Queued     int64
	Fetched    int64
	Bytes      int64
	Dispatched int64
	// Failed counts every failed job; FetchFailed is the share that failed
	// before a page was built.
	Failed      int64
	FetchFailed int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithFetcher replaces the default Colly fetcher.
func WithFetcher(f Fetcher) Option {
	return func(e *Engine) { e.fetcher = f }
}

// WithRegistry supplies a pre-populated handler registry.
func WithRegistry(r *Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// WithPreparer sets the hook run before seeding.
func WithPreparer(p Preparer) Option {
	return func(e *Engine) { e.preparer = p }
}

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithEmitter sends progress events to em.
func WithEmitter(em progress.Emitter) Option {
	return func(e *Engine) { e.emitter = em }
}

// Engine fetches jobs behind a connection gate, dispatches pages to handlers
// and queues whatever the handlers produce. An Engine runs once.
type Engine struct {
	cfg      Config
	fetcher  Fetcher
	registry *Registry
	preparer Preparer
	logger   *zap.Logger
	emitter  progress.Emitter

	gate  *semaphore.Weighted
	work  *workTracker
	runID uuid.UUID

	state   atomic.Int32
	started atomic.Bool
	runCtx  context.Context
	cancel  context.CancelFunc

	errMu sync.Mutex
	errs  error

	queued      atomic.Int64
	fetched     atomic.Int64
	bytes       atomic.Int64
	dispatched  atomic.Int64
	failed      atomic.Int64
	fetchFailed atomic.Int64
}

// NewEngine validates cfg and builds an engine. Without WithFetcher it uses a
// CollyFetcher configured from cfg.
func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid crawler config: %w", err)
	}
	runID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	e := &Engine{
		cfg:   cfg,
		gate:  semaphore.NewWeighted(int64(cfg.MaxConnections)),
		work:  newWorkTracker(),
		runID: runID,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.fetcher == nil {
		e.fetcher = NewCollyFetcher(cfg)
	}
	if e.registry == nil {
		e.registry = NewRegistry()
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	e.logger = e.logger.With(zap.String("run_id", runID.String()))
	return e, nil
}

// RunID identifies this engine's run in logs and progress events.
func (e *Engine) RunID() uuid.UUID { return e.runID }

// Registry exposes the handler registry.
func (e *Engine) Registry() *Registry { return e.registry }

// State reports the current lifecycle state.
func (e *Engine) State() State { return State(e.state.Load()) }

// Outstanding reports how many queued or in-flight jobs remain.
func (e *Engine) Outstanding() int { return e.work.count() }

// Stats returns the counters collected so far.
func (e *Engine) Stats() Stats {
	return Stats{
		Queued:      e.queued.Load(),
		Fetched:     e.fetched.Load(),
		Bytes:       e.bytes.Load(),
		Dispatched:  e.dispatched.Load(),
		Failed:      e.failed.Load(),
		FetchFailed: e.fetchFailed.Load(),
	}
}

// Run prepares the engine, queues one "initial" job per seed URL and blocks
// until every queued job, including those queued by handlers, has completed.
// It returns the errors collected from failed jobs.
func (e *Engine) Run(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return ErrAlreadyRun
	}
	start := time.Now()
	e.runCtx, e.cancel = context.WithCancel(ctx)
	defer e.cancel()

	// The guard keeps the tracker from going idle before seeding finishes.
	e.work.add()
	e.setState(StatePreparing)
	e.logger.Info("Crawl starting",
		zap.Int("seeds", len(e.cfg.Seeds)),
		zap.Int("max_connections", e.cfg.MaxConnections),
	)
	e.emit(progress.Event{Stage: progress.StageRunStart})

	if e.preparer != nil {
		if err := e.preparer.Prepare(e.runCtx, e.registry); err != nil {
			e.cancel()
			e.work.done()
			<-e.work.idleCh()
			e.setState(StateDone)
			err = fmt.Errorf("prepare crawler: %w", err)
			e.logger.Error("Prepare hook failed", zap.Error(err))
			e.emit(progress.Event{Stage: progress.StageRunError, Dur: time.Since(start), Note: err.Error()})
			return multierr.Append(err, e.collected())
		}
	}

	e.setState(StateSeeding)
	for _, seed := range e.cfg.Seeds {
		e.Enqueue(NewJob(KindInitial, seed))
	}

	e.setState(StateDraining)
	e.work.done()
	<-e.work.idleCh()
	e.setState(StateDone)

	err := e.collected()
	stats := e.Stats()
	fields := []zap.Field{
		zap.Int64("queued", stats.Queued),
		zap.Int64("fetched", stats.Fetched),
		zap.Int64("dispatched", stats.Dispatched),
		zap.Int64("failed", stats.Failed),
		zap.Duration("elapsed", time.Since(start)),
	}
	if err != nil {
		e.logger.Warn("Crawl finished with errors", append(fields, zap.Error(err))...)
		e.emit(progress.Event{Stage: progress.StageRunError, Dur: time.Since(start), Note: err.Error()})
		return err
	}
	e.logger.Info("Crawl finished", fields...)
	e.emit(progress.Event{Stage: progress.StageRunDone, Dur: time.Since(start)})
	return nil
}

// Enqueue schedules job for fetch and dispatch and returns its handle. It is
// safe to call from handlers running concurrently. Jobs submitted before Run
// or after the run has drained are not executed; their task fails immediately.
func (e *Engine) Enqueue(job Job) *Task {
	task := newTask(job)
	if e.State() == StateIdle {
		task.finish(fmt.Errorf("enqueue %s before run: %w", job, ErrEngineStopped))
		return task
	}
	if !e.work.add() {
		task.finish(fmt.Errorf("enqueue %s: %w", job, ErrEngineStopped))
		return task
	}
	e.queued.Add(1)
	e.logger.Debug("Queued job", zap.String("kind", job.Kind), zap.String("url", job.URL))
	e.emit(progress.Event{Stage: progress.StageJobQueued, Kind: job.Kind, URL: job.URL})
	go e.process(task)
	return task
}

func (e *Engine) process(task *Task) {
	defer e.work.done()
	err := e.handle(e.runCtx, task.job)
	if err != nil {
		e.recordError(task.job, err)
	}
	task.finish(err)
}

func (e *Engine) handle(ctx context.Context, job Job) error {
	page, err := e.fetch(ctx, job)
	if err != nil {
		return err
	}

	handler := e.registry.Lookup(job.Kind)
	e.dispatched.Add(1)
	e.logger.Debug("Dispatching page to handler",
		zap.String("kind", job.Kind),
		zap.String("url", job.URL),
		zap.Bool("registered", e.registry.Has(job.Kind)),
	)
	e.emit(progress.Event{Stage: progress.StageDispatch, Kind: job.Kind, URL: job.URL})

	if err := e.dispatch(ctx, handler, page, job); err != nil {
		e.emit(progress.Event{Stage: progress.StageHandlerError, Kind: job.Kind, URL: job.URL, Note: err.Error()})
		var unimplemented *UnimplementedHandlerError
		if errors.As(err, &unimplemented) {
			return err
		}
		return &HandlerError{Job: job, Err: err}
	}
	return nil
}

func (e *Engine) dispatch(ctx context.Context, h Handler, page *Page, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.dispatch(ctx, page, job, func(next Job) { e.Enqueue(next) })
}

// fetch holds the gate for exactly one network exchange.
func (e *Engine) fetch(ctx context.Context, job Job) (*Page, error) {
	site := progress.SiteOf(job.URL)
	if err := e.gate.Acquire(ctx, 1); err != nil {
		err = fmt.Errorf("wait for connection slot: %w", err)
		e.emit(progress.Event{Stage: progress.StageFetchError, Kind: job.Kind, Site: site, URL: job.URL, Note: err.Error()})
		return nil, &FetchError{Job: job, Err: err}
	}

	e.logger.Debug("Fetching page", zap.String("kind", job.Kind), zap.String("url", job.URL))
	e.emit(progress.Event{Stage: progress.StageFetchStart, Kind: job.Kind, Site: site, URL: job.URL})
	start := time.Now()
	page, err := e.fetcher.Fetch(ctx, job.Request())
	e.gate.Release(1)
	elapsed := time.Since(start)

	if err != nil {
		e.emit(progress.Event{
			Stage: progress.StageFetchError, Kind: job.Kind, Site: site, URL: job.URL,
			Dur: elapsed, Note: err.Error(),
		})
		return nil, &FetchError{Job: job, Err: err}
	}
	if page == nil {
		page = &Page{}
	}
	if page.URL == "" {
		page.URL = job.URL
	}
	e.fetched.Add(1)
	e.bytes.Add(int64(len(page.Content)))
	e.logger.Debug("Fetched page",
		zap.String("url", job.URL),
		zap.Int("status", page.Status),
		zap.Int("bytes", len(page.Content)),
		zap.Duration("elapsed", elapsed),
	)
	e.emit(progress.Event{
		Stage:       progress.StageFetchDone,
		Kind:        job.Kind,
		Site:        site,
		URL:         job.URL,
		Bytes:       int64(len(page.Content)),
		StatusClass: progress.ClassifyStatus(page.Status),
		Dur:         elapsed,
	})
	return page, nil
}

func (e *Engine) recordError(job Job, err error) {
	e.failed.Add(1)
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		e.fetchFailed.Add(1)
	}
	e.logger.Warn("Job failed",
		zap.String("kind", job.Kind),
		zap.String("url", job.URL),
		zap.Error(err),
	)
	e.errMu.Lock()
	e.errs = multierr.Append(e.errs, err)
	e.errMu.Unlock()
	if e.cfg.StopOnError {
		e.cancel()
	}
}

func (e *Engine) collected() error {
	e.errMu.Lock()
	defer e.errMu.Unlock()
	return e.errs
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
}

func (e *Engine) emit(evt progress.Event) {
	if e.emitter == nil {
		return
	}
	evt.RunID = progress.UUIDToBytes(e.runID)
	evt.TS = time.Now().UTC()
	e.emitter.Emit(evt)
}
