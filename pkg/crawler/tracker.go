package crawler

import "sync"

// workTracker counts outstanding units and closes its idle channel exactly
// once, when the count returns to zero. After that no more work is accepted.
type workTracker struct {
	mu          sync.Mutex
	outstanding int
	closed      bool
	idle        chan struct{}
}

func newWorkTracker() *workTracker {
	return &workTracker{idle: make(chan struct{})}
}

// add registers one unit. It reports false once the tracker has gone idle.
func (w *workTracker) add() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	w.outstanding++
	return true
}

// done retires one unit.
func (w *workTracker) done() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.outstanding <= 0 {
		panic("crawler: work tracker released more units than it registered")
	}
	w.outstanding--
	if w.outstanding == 0 {
		w.closed = true
		close(w.idle)
	}
}

func (w *workTracker) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.outstanding
}

func (w *workTracker) idleCh() <-chan struct{} {
	return w.idle
}

// Task is the handle returned by Enqueue for one queued job.
type Task struct {
	job  Job
	done chan struct{}
	err  error
}

func newTask(job Job) *Task {
	return &Task{job: job, done: make(chan struct{})}
}

func (t *Task) finish(err error) {
	t.err = err
	close(t.done)
}

// Job returns the job the task runs.
func (t *Task) Job() Job { return t.job }

// Done is closed once the job has been fetched and dispatched, or has failed.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the job's error once Done is closed, and nil before that.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}
