package processing

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/clock"
	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/faults"
	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/types"
)

// ProcessFunc is the per-job strategy processing function. It must be
// installed before any submission.
type ProcessFunc func(ctx context.Context, job *types.Job) (interface{}, error)

// PoolConfig holds configuration for the strategy processing pool
type PoolConfig struct {
	WorkerPoolSize  int           `json:"worker_pool_size"`
	QueueSize       int           `json:"queue_size"`
	DefaultTimeout  time.Duration `json:"default_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	// MaxResultHistory bounds the completed/failed result buffers
	MaxResultHistory int `json:"max_result_history"`
}

// DefaultPoolConfig returns default configuration
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		WorkerPoolSize:   4,
		QueueSize:        100,
		DefaultTimeout:   5 * time.Second,
		ShutdownTimeout:  10 * time.Second,
		MaxResultHistory: 500,
	}
}

// PoolStats aggregates completion metrics of the pool
type PoolStats struct {
	TotalJobs         int64         `json:"total_jobs"`
	SuccessfulJobs    int64         `json:"successful_jobs"`
	FailedJobs        int64         `json:"failed_jobs"`
	SuccessRate       float64       `json:"success_rate"`
	AverageProcessing time.Duration `json:"average_processing"`
	MinProcessing     time.Duration `json:"min_processing"`
	MaxProcessing     time.Duration `json:"max_processing"`
	QueuedJobs        int           `json:"queued_jobs"`
	ActiveJobs        int           `json:"active_jobs"`
}

// PoolStatus describes the pool's run state
type PoolStatus struct {
	Running        bool      `json:"running"`
	StartedAt      time.Time `json:"started_at"`
	WorkerPoolSize int       `json:"worker_pool_size"`
	QueueLength    int       `json:"queue_length"`
	ActiveJobs     int       `json:"active_jobs"`
}

// WorkerHealth describes a single worker goroutine
type WorkerHealth struct {
	WorkerID      int       `json:"worker_id"`
	Busy          bool      `json:"busy"`
	JobsProcessed int64     `json:"jobs_processed"`
	CurrentJobID  string    `json:"current_job_id,omitempty"`
	LastJobAt     time.Time `json:"last_job_at"`
}

// pendingJob couples a job with its settlement slot. The result is written
// exactly once before done is closed; any number of waiters may then read it.
type pendingJob struct {
	job    *types.Job
	result *types.JobResult
	done   chan struct{}
}

func (pj *pendingJob) settle(res *types.JobResult) {
	pj.result = res
	close(pj.done)
}

func (pj *pendingJob) wait() *types.JobResult {
	<-pj.done
	return pj.result
}

// lowStarvationWindow is multiplied by WorkerPoolSize: after that many
// consecutive higher-priority dequeues with a LOW job waiting, one LOW job
// is dequeued regardless of priority.
const lowStarvationWindow = 4

// Pool is a prioritized, bounded, timeout-enforcing job pool over a
// user-supplied processing function. Within a priority class the queue is
// FIFO; between classes HIGH precedes NORMAL precedes LOW on dequeue only.
// Jobs already executing are never preempted.
type Pool struct {
	config *PoolConfig
	logger *zap.Logger
	clk    clock.Clock

	mu        sync.Mutex
	fn        ProcessFunc
	running   bool
	startedAt time.Time

	// queues indexed by types.JobPriority (LOW..HIGH), FIFO each
	queues     [3][]*pendingJob
	queueLen   int
	highStreak int

	dispatch chan *pendingJob
	wake     chan struct{}
	stopCh   chan struct{}
	wg       sync.WaitGroup

	activeJobs map[string]*pendingJob
	workers    []*workerState

	totalJobs       int64
	successfulJobs  int64
	failedJobs      int64
	totalProcessing time.Duration
	minProcessing   time.Duration
	maxProcessing   time.Duration

	completed []*types.JobResult
	failed    []*types.JobResult
}

type workerState struct {
	id            int
	busy          bool
	jobsProcessed int64
	currentJobID  string
	lastJobAt     time.Time
}

// NewPool creates a strategy processing pool
func NewPool(config *PoolConfig, logger *zap.Logger, clk clock.Clock) *Pool {
	if config == nil {
		config = DefaultPoolConfig()
	}
	if config.MaxResultHistory <= 0 {
		config.MaxResultHistory = 500
	}
	workers := make([]*workerState, config.WorkerPoolSize)
	for i := range workers {
		workers[i] = &workerState{id: i}
	}
	return &Pool{
		config:     config,
		logger:     logger.Named("pool"),
		clk:        clk,
		dispatch:   make(chan *pendingJob),
		wake:       make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
		activeJobs: make(map[string]*pendingJob),
		workers:    workers,
	}
}

// SetProcessFunc installs the per-job processing function
func (p *Pool) SetProcessFunc(fn ProcessFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fn = fn
}

// Start enables submission and spins up the workers. Idempotent.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}
	p.running = true
	p.startedAt = p.clk.Now()

	p.wg.Add(1)
	go p.schedule()

	for _, w := range p.workers {
		p.wg.Add(1)
		go p.runWorker(w)
	}

	p.logger.Info("processing pool started",
		zap.Int("workers", p.config.WorkerPoolSize),
		zap.Int("queue_size", p.config.QueueSize))
}

// Submit enqueues a job and blocks until it settles. Submission fails with
// ErrNotRunning before Start, ErrProcessorMissing if no processing function
// is installed, and ErrQueueFull when the queue is at capacity.
func (p *Pool) Submit(job *types.Job) (*types.JobResult, error) {
	pj, err := p.enqueue(job)
	if err != nil {
		return nil, err
	}
	return pj.wait(), nil
}

// SubmitBatch submits jobs with independent per-job settlement; a rejected
// job yields a failed result and never fails the batch as a whole.
func (p *Pool) SubmitBatch(jobs []*types.Job) []*types.JobResult {
	results := make([]*types.JobResult, len(jobs))
	var wg sync.WaitGroup
	for i, job := range jobs {
		wg.Add(1)
		go func(i int, job *types.Job) {
			defer wg.Done()
			res, err := p.Submit(job)
			if err != nil {
				res = &types.JobResult{
					JobID:      job.JobID,
					StrategyID: job.StrategyID,
					Success:    false,
					Error:      err.Error(),
				}
			}
			results[i] = res
		}(i, job)
	}
	wg.Wait()
	return results
}

func (p *Pool) enqueue(job *types.Job) (*pendingJob, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return nil, faults.ErrNotRunning
	}
	if p.fn == nil {
		return nil, faults.ErrProcessorMissing
	}
	// capacity covers every unsettled job: queued plus executing, so a
	// burst cannot admit more work than the configured bound
	if p.queueLen+len(p.activeJobs) >= p.config.QueueSize {
		return nil, faults.ErrQueueFull
	}

	pj := &pendingJob{job: job, done: make(chan struct{})}
	prio := job.Priority
	if prio < types.PriorityLow || prio > types.PriorityHigh {
		prio = types.PriorityNormal
	}
	p.queues[prio] = append(p.queues[prio], pj)
	p.queueLen++

	select {
	case p.wake <- struct{}{}:
	default:
	}
	return pj, nil
}

// schedule moves queued jobs to idle workers in priority order with an
// anti-starvation bias toward LOW
func (p *Pool) schedule() {
	defer p.wg.Done()

	for {
		pj := p.dequeue()
		if pj == nil {
			select {
			case <-p.wake:
				continue
			case <-p.stopCh:
				return
			}
		}

		select {
		case p.dispatch <- pj:
		case <-p.stopCh:
			p.abandon(pj, "pool shutdown")
			return
		}
	}
}

// dequeue pops the next job by priority, or nil when the queue is empty
func (p *Pool) dequeue() *pendingJob {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.queueLen == 0 {
		return nil
	}

	window := p.config.WorkerPoolSize * lowStarvationWindow
	if p.highStreak >= window && len(p.queues[types.PriorityLow]) > 0 {
		p.highStreak = 0
		return p.popLocked(types.PriorityLow)
	}

	for prio := types.PriorityHigh; prio >= types.PriorityLow; prio-- {
		if len(p.queues[prio]) == 0 {
			continue
		}
		if prio > types.PriorityLow && len(p.queues[types.PriorityLow]) > 0 {
			p.highStreak++
		} else {
			p.highStreak = 0
		}
		return p.popLocked(prio)
	}
	return nil
}

func (p *Pool) popLocked(prio types.JobPriority) *pendingJob {
	pj := p.queues[prio][0]
	p.queues[prio] = p.queues[prio][1:]
	p.queueLen--
	p.activeJobs[pj.job.JobID] = pj
	return pj
}

func (p *Pool) runWorker(w *workerState) {
	defer p.wg.Done()

	for {
		select {
		case pj := <-p.dispatch:
			p.mu.Lock()
			w.busy = true
			w.currentJobID = pj.job.JobID
			p.mu.Unlock()

			result := p.process(pj.job)

			p.mu.Lock()
			w.busy = false
			w.currentJobID = ""
			w.jobsProcessed++
			w.lastJobAt = p.clk.Now()
			delete(p.activeJobs, pj.job.JobID)
			p.recordResultLocked(result)
			p.mu.Unlock()

			pj.settle(result)

		case <-p.stopCh:
			return
		}
	}
}

// process runs the job under its timeout. Whichever resolves first, the
// processing function or the timer, settles the result; a late fn return is
// discarded.
func (p *Pool) process(job *types.Job) *types.JobResult {
	p.mu.Lock()
	fn := p.fn
	p.mu.Unlock()

	timeout := job.Timeout
	if timeout <= 0 {
		timeout = p.config.DefaultTimeout
	}

	startedAt := p.clk.Now()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	done := make(chan *types.JobResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- &types.JobResult{
					JobID:      job.JobID,
					StrategyID: job.StrategyID,
					Success:    false,
					Error:      fmt.Sprintf("panic: %v", r),
					StackTrace: string(debug.Stack()),
				}
			}
		}()
		value, err := fn(ctx, job)
		res := &types.JobResult{
			JobID:      job.JobID,
			StrategyID: job.StrategyID,
			Success:    err == nil,
			Result:     value,
		}
		if err != nil {
			res.Error = err.Error()
			res.StackTrace = fmt.Sprintf("%+v", errors.WithStack(err))
		}
		done <- res
	}()

	var result *types.JobResult
	select {
	case result = <-done:
	case <-p.clk.After(timeout):
		// error message token kept stable; callers match on "timeout"
		result = &types.JobResult{
			JobID:      job.JobID,
			StrategyID: job.StrategyID,
			Success:    false,
			Error:      fmt.Sprintf("job timeout after %s", timeout),
		}
	}

	result.StartedAt = startedAt
	result.CompletedAt = p.clk.Now()
	result.ProcessingTime = result.CompletedAt.Sub(startedAt)
	return result
}

func (p *Pool) recordResultLocked(result *types.JobResult) {
	p.totalJobs++
	p.totalProcessing += result.ProcessingTime
	if p.totalJobs == 1 || result.ProcessingTime < p.minProcessing {
		p.minProcessing = result.ProcessingTime
	}
	if result.ProcessingTime > p.maxProcessing {
		p.maxProcessing = result.ProcessingTime
	}

	if result.Success {
		p.successfulJobs++
		p.completed = appendBounded(p.completed, result, p.config.MaxResultHistory)
	} else {
		p.failedJobs++
		p.failed = appendBounded(p.failed, result, p.config.MaxResultHistory)
		p.logger.Warn("job failed",
			zap.String("job_id", result.JobID),
			zap.String("strategy_id", result.StrategyID),
			zap.String("error", result.Error),
			zap.Duration("processing_time", result.ProcessingTime))
	}
}

func appendBounded(buf []*types.JobResult, r *types.JobResult, max int) []*types.JobResult {
	buf = append(buf, r)
	if len(buf) > max {
		buf = buf[len(buf)-max:]
	}
	return buf
}

// WaitForAll blocks until every job active or queued at call time has
// settled and returns their results.
func (p *Pool) WaitForAll() []*types.JobResult {
	p.mu.Lock()
	waiting := make([]*pendingJob, 0, len(p.activeJobs)+p.queueLen)
	for _, pj := range p.activeJobs {
		waiting = append(waiting, pj)
	}
	for _, q := range p.queues {
		waiting = append(waiting, q...)
	}
	p.mu.Unlock()

	results := make([]*types.JobResult, 0, len(waiting))
	for _, pj := range waiting {
		results = append(results, pj.wait())
	}
	return results
}

// Stats returns a snapshot of completion metrics
func (p *Pool) Stats() *PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := &PoolStats{
		TotalJobs:      p.totalJobs,
		SuccessfulJobs: p.successfulJobs,
		FailedJobs:     p.failedJobs,
		MinProcessing:  p.minProcessing,
		MaxProcessing:  p.maxProcessing,
		QueuedJobs:     p.queueLen,
		ActiveJobs:     len(p.activeJobs),
	}
	if p.totalJobs > 0 {
		stats.SuccessRate = float64(p.successfulJobs) / float64(p.totalJobs)
		stats.AverageProcessing = p.totalProcessing / time.Duration(p.totalJobs)
	}
	return stats
}

// Status returns the pool's run state
func (p *Pool) Status() *PoolStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	return &PoolStatus{
		Running:        p.running,
		StartedAt:      p.startedAt,
		WorkerPoolSize: p.config.WorkerPoolSize,
		QueueLength:    p.queueLen,
		ActiveJobs:     len(p.activeJobs),
	}
}

// WorkerHealthReport returns a snapshot of every worker
func (p *Pool) WorkerHealthReport() []WorkerHealth {
	p.mu.Lock()
	defer p.mu.Unlock()

	report := make([]WorkerHealth, len(p.workers))
	for i, w := range p.workers {
		report[i] = WorkerHealth{
			WorkerID:      w.id,
			Busy:          w.busy,
			JobsProcessed: w.jobsProcessed,
			CurrentJobID:  w.currentJobID,
			LastJobAt:     w.lastJobAt,
		}
	}
	return report
}

// CompletedJobs returns a copy of the recent successful results
func (p *Pool) CompletedJobs() []*types.JobResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*types.JobResult, len(p.completed))
	copy(out, p.completed)
	return out
}

// FailedJobs returns a copy of the recent failed results
func (p *Pool) FailedJobs() []*types.JobResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*types.JobResult, len(p.failed))
	copy(out, p.failed)
	return out
}

// ClearQueue drops every queued job, settling their submitters with a
// failed result. Active jobs are unaffected.
func (p *Pool) ClearQueue() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clearQueueLocked("queue cleared")
}

func (p *Pool) clearQueueLocked(reason string) int {
	cleared := 0
	for prio := range p.queues {
		for _, pj := range p.queues[prio] {
			p.abandon(pj, reason)
			cleared++
		}
		p.queues[prio] = nil
	}
	p.queueLen = 0
	return cleared
}

// abandon settles a job that never started executing
func (p *Pool) abandon(pj *pendingJob, reason string) {
	pj.settle(&types.JobResult{
		JobID:      pj.job.JobID,
		StrategyID: pj.job.StrategyID,
		Success:    false,
		Error:      reason,
	})
}

// Shutdown stops accepting submissions, clears the queue and drains active
// jobs, bounded by ShutdownTimeout.
func (p *Pool) Shutdown() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	cleared := p.clearQueueLocked("pool shutdown")
	active := make([]*pendingJob, 0, len(p.activeJobs))
	for _, pj := range p.activeJobs {
		active = append(active, pj)
	}
	p.mu.Unlock()

	if cleared > 0 {
		p.logger.Info("cleared queued jobs on shutdown", zap.Int("count", cleared))
	}

	drained := make(chan struct{})
	go func() {
		for _, pj := range active {
			pj.wait()
		}
		close(drained)
	}()

	select {
	case <-drained:
	case <-p.clk.After(p.config.ShutdownTimeout):
		close(p.stopCh)
		return errors.Newf("pool shutdown timed out after %s", p.config.ShutdownTimeout)
	}

	close(p.stopCh)
	p.logger.Info("processing pool stopped")
	return nil
}
