package analysis

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// JobState is the lifecycle state of a submitted job
type JobState string

const (
	JobQueued  JobState = "queued"
	JobRunning JobState = "running"
	JobDone    JobState = "done"
	JobFailed  JobState = "failed"
)

// Finished reports whether the job reached a terminal state
func (s JobState) Finished() bool {
	return s == JobDone || s == JobFailed
}

var (
	// ErrWorkerStopped is returned by Submit after Stop
	ErrWorkerStopped = errors.New("analysis worker stopped")
	// ErrQueueFull is returned by Submit when the queue is at capacity
	ErrQueueFull = errors.New("analysis queue full")
	// ErrJobNotFound is returned for unknown job IDs
	ErrJobNotFound = errors.New("job not found")
)

// JobRequest describes one analysis. Either Path or Data is set.
type JobRequest struct {
	Path     string
	Data     []byte
	Filename string
	Options  Options
}

// Job is a snapshot of a submitted analysis
type Job struct {
	ID          string   `json:"id"`
	State       JobState `json:"state"`
	Stage       Stage    `json:"stage"`
	Filename    string   `json:"filename"`
	ContentKey  string   `json:"contentKey,omitempty"`
	Cached      bool     `json:"cached"`
	Error       string   `json:"error,omitempty"`
	Result      *Result  `json:"result,omitempty"`
	SubmittedAt int64    `json:"submittedAt"`
	FinishedAt  int64    `json:"finishedAt,omitempty"`
}

// WorkerStatus represents the current state of the worker pool
type WorkerStatus struct {
	Status     string `json:"status"` // "running", "paused", "stopped"
	Workers    int    `json:"workers"`
	Queued     int    `json:"queued"`
	InProgress int    `json:"inProgress"`
	Analyzed   int    `json:"analyzed"`
	Cached     int    `json:"cached"`
	Failed     int    `json:"failed"`
	StartedAt  int64  `json:"startedAt,omitempty"`
}

// WorkerConfig contains configuration for the analysis worker
type WorkerConfig struct {
	MaxWorkers int           // Maximum concurrent analyses (0 = NumCPU - 1)
	QueueSize  int           // Pending job capacity (0 = 256)
	Throttle   time.Duration // Pause between jobs on each worker
	JobHistory int           // Finished jobs kept for lookup (0 = 1000)
	Store      *ResultStore  // Optional result cache
	OnUpdate   func(Job)     // Called on every job state or stage change
}

type jobEntry struct {
	job  Job
	req  JobRequest
	done chan struct{}
}

// Worker runs analyses on a bounded goroutine pool
type Worker struct {
	mu sync.Mutex
	// notifyMu orders OnUpdate calls with the mutations they report
	notifyMu sync.Mutex

	analyzer   *Analyzer
	store      *ResultStore
	maxWorkers int
	throttle   time.Duration
	history    int
	onUpdate   func(Job)

	jobs     map[string]*jobEntry
	finished []string
	queue    chan string

	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	started    bool
	stopped    bool
	isPaused   bool
	resumeChan chan struct{}
	startedAt  int64

	analyzedCount   int64
	cachedCount     int64
	failedCount     int64
	inProgressCount int64
}

// NewWorker creates a worker pool around analyzer
func NewWorker(analyzer *Analyzer, cfg WorkerConfig) *Worker {
	maxWorkers := cfg.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = runtime.NumCPU() - 1
		if maxWorkers < 1 {
			maxWorkers = 1
		}
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	history := cfg.JobHistory
	if history <= 0 {
		history = 1000
	}

	return &Worker{
		analyzer:   analyzer,
		store:      cfg.Store,
		maxWorkers: maxWorkers,
		throttle:   cfg.Throttle,
		history:    history,
		onUpdate:   cfg.OnUpdate,
		jobs:       make(map[string]*jobEntry),
		queue:      make(chan string, queueSize),
		resumeChan: make(chan struct{}),
	}
}

// Start launches the worker goroutines
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return ErrWorkerStopped
	}
	if w.started {
		return fmt.Errorf("analysis worker already running")
	}

	w.ctx, w.cancel = context.WithCancel(ctx)
	w.started = true
	w.startedAt = time.Now().Unix()

	log.Printf("[ANALYSIS] Starting worker pool with %d workers", w.maxWorkers)
	for i := 0; i < w.maxWorkers; i++ {
		w.wg.Add(1)
		go func(id int) {
			defer w.wg.Done()
			w.worker(id)
		}(i)
	}
	return nil
}

// Stop cancels running analyses and waits for the workers to exit
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	if w.cancel != nil {
		w.cancel()
	}
	w.mu.Unlock()

	w.wg.Wait()

	// Release waiters of jobs that never ran
	for {
		select {
		case jobID := <-w.queue:
			w.mu.Lock()
			entry, ok := w.jobs[jobID]
			w.mu.Unlock()
			if ok {
				w.fail(-1, entry, ErrWorkerStopped, nil)
			}
			continue
		default:
		}
		break
	}

	log.Printf("[ANALYSIS] Worker stopped: %d analyzed, %d cached, %d failed",
		atomic.LoadInt64(&w.analyzedCount), atomic.LoadInt64(&w.cachedCount), atomic.LoadInt64(&w.failedCount))
}

// Pause stops workers from picking up new jobs
func (w *Worker) Pause() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.isPaused = true
}

// Resume continues after Pause
func (w *Worker) Resume() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.isPaused {
		return
	}
	w.isPaused = false
	close(w.resumeChan)
	w.resumeChan = make(chan struct{})
}

// Submit queues req and returns its job ID
func (w *Worker) Submit(req JobRequest) (string, error) {
	if req.Path == "" && len(req.Data) == 0 {
		return "", fmt.Errorf("job needs a path or data")
	}
	filename := req.Filename
	if filename == "" && req.Path != "" {
		filename = filepath.Base(req.Path)
	}
	req.Filename = filename

	entry := &jobEntry{
		job: Job{
			ID:          uuid.NewString(),
			State:       JobQueued,
			Stage:       StageIdle,
			Filename:    filename,
			SubmittedAt: time.Now().Unix(),
		},
		req:  req,
		done: make(chan struct{}),
	}

	w.notifyMu.Lock()
	defer w.notifyMu.Unlock()

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return "", ErrWorkerStopped
	}
	select {
	case w.queue <- entry.job.ID:
		w.jobs[entry.job.ID] = entry
	default:
		w.mu.Unlock()
		return "", ErrQueueFull
	}
	snapshot := entry.job
	w.mu.Unlock()

	w.notify(snapshot)
	return snapshot.ID, nil
}

// Job returns a snapshot of the job
func (w *Worker) Job(id string) (Job, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	entry, ok := w.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return entry.job, nil
}

// Wait blocks until the job finishes or ctx is done
func (w *Worker) Wait(ctx context.Context, id string) (Job, error) {
	w.mu.Lock()
	entry, ok := w.jobs[id]
	w.mu.Unlock()
	if !ok {
		return Job{}, ErrJobNotFound
	}

	select {
	case <-entry.done:
		return w.Job(id)
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

// GetStatus returns the current pool status
func (w *Worker) GetStatus() WorkerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()

	status := WorkerStatus{
		Status:     "running",
		Workers:    w.maxWorkers,
		Queued:     len(w.queue),
		InProgress: int(atomic.LoadInt64(&w.inProgressCount)),
		Analyzed:   int(atomic.LoadInt64(&w.analyzedCount)),
		Cached:     int(atomic.LoadInt64(&w.cachedCount)),
		Failed:     int(atomic.LoadInt64(&w.failedCount)),
		StartedAt:  w.startedAt,
	}
	switch {
	case w.stopped || !w.started:
		status.Status = "stopped"
	case w.isPaused:
		status.Status = "paused"
	}
	return status
}

// worker processes jobs from the queue
func (w *Worker) worker(id int) {
	for {
		select {
		case <-w.ctx.Done():
			return
		default:
		}

		// Check for pause
		w.mu.Lock()
		isPaused := w.isPaused
		resumeChan := w.resumeChan
		w.mu.Unlock()

		if isPaused {
			select {
			case <-w.ctx.Done():
				return
			case <-resumeChan:
			}
			continue
		}

		var jobID string
		select {
		case <-w.ctx.Done():
			return
		case jobID = <-w.queue:
		}

		atomic.AddInt64(&w.inProgressCount, 1)
		w.process(id, jobID)
		atomic.AddInt64(&w.inProgressCount, -1)

		if w.throttle > 0 {
			select {
			case <-w.ctx.Done():
				return
			case <-time.After(w.throttle):
			}
		}
	}
}

// process runs one job to completion
func (w *Worker) process(workerID int, jobID string) {
	w.mu.Lock()
	entry, ok := w.jobs[jobID]
	w.mu.Unlock()
	if !ok {
		return
	}
	req := entry.req

	w.update(entry, func(j *Job) { j.State = JobRunning })

	data := req.Data
	if req.Path != "" {
		var err error
		data, err = os.ReadFile(req.Path)
		if err != nil {
			w.fail(workerID, entry, fmt.Errorf("failed to read %s: %w", req.Path, err), nil)
			return
		}
	}

	key := ContentKey(data, req.Filename, req.Options.ApplyLowPassFilter)
	w.update(entry, func(j *Job) { j.ContentKey = key })

	if w.store != nil && w.store.Has(key, ResultVersion) {
		if stored, err := w.store.Get(key); err == nil {
			atomic.AddInt64(&w.cachedCount, 1)
			w.finish(entry, func(j *Job) {
				j.State = JobDone
				j.Stage = StageAssembled
				j.Cached = true
				j.Result = stored.Result
			})
			return
		}
	}

	opts := req.Options
	observer := opts.OnStage
	opts.OnStage = func(s Stage) {
		w.update(entry, func(j *Job) { j.Stage = s })
		if observer != nil {
			observer(s)
		}
	}

	result, err := w.analyzer.Analyze(w.ctx, data, req.Filename, opts)
	if err != nil {
		w.fail(workerID, entry, err, result)
		return
	}

	if w.store != nil {
		if _, err := w.store.Put(key, req.Filename, result); err != nil {
			log.Printf("[STORE] Warning: %v", err)
		}
	}

	atomic.AddInt64(&w.analyzedCount, 1)
	w.finish(entry, func(j *Job) {
		j.State = JobDone
		j.Result = result
	})
}

func (w *Worker) fail(workerID int, entry *jobEntry, err error, result *Result) {
	atomic.AddInt64(&w.failedCount, 1)
	log.Printf("[ANALYSIS] Worker %d: Failed %s: %v", workerID, entry.req.Filename, err)
	w.finish(entry, func(j *Job) {
		j.State = JobFailed
		j.Error = err.Error()
		j.Result = result
	})
}

// update mutates the job under the lock and publishes the new snapshot
func (w *Worker) update(entry *jobEntry, mutate func(*Job)) {
	w.notifyMu.Lock()
	defer w.notifyMu.Unlock()

	w.mu.Lock()
	mutate(&entry.job)
	snapshot := entry.job
	w.mu.Unlock()
	w.notify(snapshot)
}

// finish applies the terminal mutation, releases waiters and trims history
func (w *Worker) finish(entry *jobEntry, mutate func(*Job)) {
	w.notifyMu.Lock()
	defer w.notifyMu.Unlock()

	w.mu.Lock()
	mutate(&entry.job)
	entry.job.FinishedAt = time.Now().Unix()
	entry.req.Data = nil
	snapshot := entry.job
	close(entry.done)

	w.finished = append(w.finished, entry.job.ID)
	for len(w.finished) > w.history {
		delete(w.jobs, w.finished[0])
		w.finished = w.finished[1:]
	}
	w.mu.Unlock()

	w.notify(snapshot)
}

func (w *Worker) notify(job Job) {
	if w.onUpdate != nil {
		w.onUpdate(job)
	}
}
