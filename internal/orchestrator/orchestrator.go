// Package orchestrator owns the execution queue: a single bounded FIFO
// channel drained by one worker goroutine. Jobs run strictly in submission
// order; results are persisted and aggregate metrics updated after every run.
// Enqueue-time misuse (framework disabled, agent disabled, queue full) is the
// only surface that returns errors — once a job is accepted, every failure is
// absorbed into its ERROR-verdict output.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/techzombie4u/agentrun/internal/flags"
	"github.com/techzombie4u/agentrun/internal/model"
	"github.com/techzombie4u/agentrun/internal/outputs"
	"github.com/techzombie4u/agentrun/internal/registry"
	"github.com/techzombie4u/agentrun/internal/runner"
	"github.com/techzombie4u/agentrun/internal/telemetry"
)

// DefaultQueueCapacity bounds the job queue. When full, Enqueue applies
// backpressure by returning an error rather than blocking the caller.
const DefaultQueueCapacity = 256

// Metrics is a point-in-time snapshot of orchestrator activity.
type Metrics struct {
	TotalRuns         int64                `json:"total_runs"`
	SuccessfulRuns    int64                `json:"successful_runs"`
	FailedRuns        int64                `json:"failed_runs"`
	LastActivity      *time.Time           `json:"last_activity,omitempty"`
	QueueSize         int                  `json:"queue_size"`
	Running           bool                 `json:"is_running"`
	LastAgentActivity map[string]time.Time `json:"last_agent_activity"`
}

// QueueStatus reports the queue's current occupancy and worker liveness.
type QueueStatus struct {
	Size         int  `json:"size"`
	Capacity     int  `json:"capacity"`
	Running      bool `json:"is_running"`
	WorkerActive bool `json:"worker_active"`
}

// Orchestrator serializes agent executions through one worker.
type Orchestrator struct {
	runner   *runner.Runner
	registry *registry.Registry
	repo     outputs.Repository
	flags    flags.Source
	logger   *slog.Logger

	jobs chan model.Job

	running      atomic.Bool
	workerActive atomic.Bool

	mu                sync.Mutex
	totalRuns         int64
	successfulRuns    int64
	failedRuns        int64
	lastActivity      time.Time
	lastAgentActivity map[string]time.Time
	lastScheduleTick  time.Time

	cancelLoop context.CancelFunc
	done       chan struct{}

	now func() time.Time
}

// New creates an orchestrator with the given queue capacity; capacity <= 0
// selects DefaultQueueCapacity. The orchestrator is idle until Start.
func New(run *runner.Runner, reg *registry.Registry, repo outputs.Repository, fl flags.Source, logger *slog.Logger, capacity int) *Orchestrator {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Orchestrator{
		runner:            run,
		registry:          reg,
		repo:              repo,
		flags:             fl,
		logger:            logger,
		jobs:              make(chan model.Job, capacity),
		lastAgentActivity: make(map[string]time.Time),
		done:              make(chan struct{}),
		now:               time.Now,
	}
}

// Start launches the worker goroutine and registers OTEL gauges. Call Stop to
// shut down. Starting an already-running orchestrator is a no-op.
func (o *Orchestrator) Start(ctx context.Context) {
	if !o.running.CompareAndSwap(false, true) {
		return
	}
	o.registerMetrics()
	loopCtx, cancel := context.WithCancel(ctx)
	o.cancelLoop = cancel
	go o.workerLoop(loopCtx)
	o.logger.Info("orchestrator: started", "queue_capacity", cap(o.jobs))
}

// Stop signals the worker to exit and waits for the in-flight job to finish,
// bounded by ctx. Queued jobs that have not started are abandoned.
func (o *Orchestrator) Stop(ctx context.Context) {
	if !o.running.CompareAndSwap(true, false) {
		return
	}
	if o.cancelLoop != nil {
		o.cancelLoop()
	}
	select {
	case <-o.done:
	case <-ctx.Done():
		o.logger.Warn("orchestrator: stop timed out waiting for worker")
	}
	o.logger.Info("orchestrator: stopped", "abandoned_jobs", len(o.jobs))
}

// Enqueue validates the request and appends a job to the queue. It returns
// the job id on acceptance. It fails without touching the queue when the
// framework kill switch is off, the agent is disabled, or the queue is full.
func (o *Orchestrator) Enqueue(agent string, contextData map[string]any, scope string) (string, error) {
	if scope == "" {
		scope = "default"
	}
	if !o.flags.IsEnabled(flags.FrameworkFlag) {
		return "", model.AgentErrorf("agents framework is disabled")
	}
	if !o.registry.IsEnabled(agent) {
		return "", model.AgentErrorf("agent %s is not enabled", agent)
	}

	job := model.NewJob(agent, scope, model.AgentInput{Context: contextData}, o.now())
	select {
	case o.jobs <- job:
	default:
		return "", model.AgentErrorf("execution queue at capacity (%d jobs)", cap(o.jobs))
	}

	o.logger.Info("orchestrator: job enqueued", "job_id", job.ID, "agent", agent, "scope", scope)
	return job.ID, nil
}

func (o *Orchestrator) workerLoop(ctx context.Context) {
	o.workerActive.Store(true)
	defer func() {
		o.workerActive.Store(false)
		close(o.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case job := <-o.jobs:
			// Stopping the orchestrator stops the loop from pulling new jobs;
			// it must not interrupt the one in flight. The job runs on a
			// context detached from the loop's cancellation so the provider
			// call and the persistence write complete normally.
			o.execute(context.WithoutCancel(ctx), job)
		}
	}
}

// execute runs one job to completion. Runner.Run never fails, and Save
// absorbs persistence errors, so a job cannot take the worker down.
func (o *Orchestrator) execute(ctx context.Context, job model.Job) {
	o.logger.Info("orchestrator: executing job", "job_id", job.ID, "agent", job.Agent, "scope", job.Scope)

	start := o.now()
	out := o.runner.Run(ctx, job.Agent, job.Input)
	if !o.repo.Save(ctx, job.Agent, job.Scope, out) {
		o.logger.Warn("orchestrator: result not persisted", "job_id", job.ID, "agent", job.Agent, "scope", job.Scope)
	}

	now := o.now()
	o.mu.Lock()
	o.totalRuns++
	if out.Verdict != model.VerdictError {
		o.successfulRuns++
	} else {
		o.failedRuns++
	}
	o.lastActivity = now
	o.lastAgentActivity[job.Agent] = now
	o.mu.Unlock()

	o.logger.Info("orchestrator: job completed",
		"job_id", job.ID,
		"agent", job.Agent,
		"scope", job.Scope,
		"verdict", string(out.Verdict),
		"duration_ms", now.Sub(start).Milliseconds(),
	)
}

// Metrics returns a snapshot of aggregate activity counters.
func (o *Orchestrator) Metrics() Metrics {
	o.mu.Lock()
	defer o.mu.Unlock()

	perAgent := make(map[string]time.Time, len(o.lastAgentActivity))
	for agent, at := range o.lastAgentActivity {
		perAgent[agent] = at
	}

	m := Metrics{
		TotalRuns:         o.totalRuns,
		SuccessfulRuns:    o.successfulRuns,
		FailedRuns:        o.failedRuns,
		QueueSize:         len(o.jobs),
		Running:           o.running.Load(),
		LastAgentActivity: perAgent,
	}
	if !o.lastActivity.IsZero() {
		at := o.lastActivity
		m.LastActivity = &at
	}
	return m
}

// QueueStatus reports the queue occupancy and whether the worker is alive.
func (o *Orchestrator) QueueStatus() QueueStatus {
	return QueueStatus{
		Size:         len(o.jobs),
		Capacity:     cap(o.jobs),
		Running:      o.running.Load(),
		WorkerActive: o.workerActive.Load(),
	}
}

// registerMetrics exposes queue depth and run counters as observable gauges.
func (o *Orchestrator) registerMetrics() {
	meter := telemetry.Meter("agentrun/orchestrator")

	_, _ = meter.Int64ObservableGauge("agentrun.queue.depth",
		metric.WithDescription("Current number of queued agent jobs"),
		metric.WithInt64Callback(func(_ context.Context, obs metric.Int64Observer) error {
			obs.Observe(int64(len(o.jobs)))
			return nil
		}),
	)

	_, _ = meter.Int64ObservableGauge("agentrun.runs.total",
		metric.WithDescription("Total agent jobs executed"),
		metric.WithInt64Callback(func(_ context.Context, obs metric.Int64Observer) error {
			o.mu.Lock()
			total := o.totalRuns
			o.mu.Unlock()
			obs.Observe(total)
			return nil
		}),
	)

	_, _ = meter.Int64ObservableGauge("agentrun.runs.failed",
		metric.WithDescription("Total agent jobs that produced an ERROR verdict"),
		metric.WithInt64Callback(func(_ context.Context, obs metric.Int64Observer) error {
			o.mu.Lock()
			failed := o.failedRuns
			o.mu.Unlock()
			obs.Observe(failed)
			return nil
		}),
	)
}
