package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/techzombie4u/agentrun/internal/flags"
	"github.com/techzombie4u/agentrun/internal/model"
	"github.com/techzombie4u/agentrun/internal/outputs"
	"github.com/techzombie4u/agentrun/internal/provider"
	"github.com/techzombie4u/agentrun/internal/ratelimit"
	"github.com/techzombie4u/agentrun/internal/registry"
	"github.com/techzombie4u/agentrun/internal/runner"
	"github.com/techzombie4u/agentrun/internal/testutil"
)

const testRoster = `
llm:
  provider: mock
agents:
  trainer:
    purpose: Retrain models on fresh data
    run_policy: schedulable
  equity:
    purpose: Equity market analysis
  options:
    purpose: Options strategy analysis
  sentiment:
    purpose: Market sentiment analysis
    run_policy: schedulable
`

type fixture struct {
	orch    *Orchestrator
	repo    outputs.Repository
	flags   *flags.Store
	limiter *ratelimit.WindowLimiter
}

func newFixture(t *testing.T, prov provider.Provider, capacity int) fixture {
	t.Helper()
	return newFixtureWithRoster(t, testRoster, prov, capacity)
}

func newFixtureWithRoster(t *testing.T, roster string, prov provider.Provider, capacity int) fixture {
	t.Helper()
	dir := t.TempDir()

	rosterPath := filepath.Join(dir, "agents.yaml")
	require.NoError(t, os.WriteFile(rosterPath, []byte(roster), 0o644))

	logger := testutil.TestLogger()
	store := flags.Open(filepath.Join(dir, "flags.json"), flags.Defaults(registry.DefaultRoster()), logger)
	limiter := ratelimit.NewWindowLimiter()

	reg := registry.New(rosterPath, store, limiter, logger)
	reg.Load()

	repo := outputs.NewMemoryStore(logger)
	run := runner.New(reg, limiter, prov, logger)
	orch := New(run, reg, repo, store, logger, capacity)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		orch.Stop(ctx)
	})

	return fixture{orch: orch, repo: repo, flags: store, limiter: limiter}
}

func waitForRuns(t *testing.T, orch *Orchestrator, want int64) {
	t.Helper()
	require.Eventually(t, func() bool {
		return orch.Metrics().TotalRuns >= want
	}, 5*time.Second, 10*time.Millisecond, "worker never reached %d runs", want)
}

func TestEnqueueExecutesAndRecordsLatest(t *testing.T) {
	f := newFixture(t, provider.NewMockWithDelay(0), 0)
	f.orch.Start(context.Background())

	jobID, err := f.orch.Enqueue("sentiment", map[string]any{"trigger": "manual"}, "hourly_scheduled")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(jobID, "sentiment_hourly_scheduled_"))

	waitForRuns(t, f.orch, 1)

	m := f.orch.Metrics()
	assert.Equal(t, int64(1), m.TotalRuns)
	assert.Equal(t, int64(1), m.SuccessfulRuns)
	assert.Equal(t, int64(0), m.FailedRuns)
	require.NotNil(t, m.LastActivity)
	assert.Contains(t, m.LastAgentActivity, "sentiment")

	rec, err := f.repo.LoadLatest(context.Background(), "sentiment", "hourly_scheduled")
	require.NoError(t, err)
	assert.Equal(t, model.VerdictHold, rec.Payload.Verdict)
	assert.Equal(t, model.RecordVersion, rec.Version)
}

func TestEnqueueDisabledAgentRejected(t *testing.T) {
	f := newFixture(t, provider.NewMockWithDelay(0), 0)
	f.flags.Set(flags.AgentFlag("sentiment"), false)

	_, err := f.orch.Enqueue("sentiment", map[string]any{}, "default")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not enabled")
	assert.Equal(t, 0, f.orch.QueueStatus().Size)
}

func TestEnqueueFrameworkDisabledRejected(t *testing.T) {
	f := newFixture(t, provider.NewMockWithDelay(0), 0)
	f.flags.Set(flags.FrameworkFlag, false)

	_, err := f.orch.Enqueue("sentiment", map[string]any{}, "default")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "framework is disabled")
	assert.Equal(t, 0, f.orch.QueueStatus().Size)
}

func TestEnqueueUnknownAgentRejected(t *testing.T) {
	f := newFixture(t, provider.NewMockWithDelay(0), 0)

	_, err := f.orch.Enqueue("nope", map[string]any{}, "default")
	require.Error(t, err)
	assert.Equal(t, 0, f.orch.QueueStatus().Size)
}

func TestQueueCapacityBackpressure(t *testing.T) {
	f := newFixture(t, provider.NewMockWithDelay(0), 1)

	_, err := f.orch.Enqueue("sentiment", map[string]any{}, "a")
	require.NoError(t, err)

	_, err = f.orch.Enqueue("sentiment", map[string]any{}, "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capacity")
}

func TestBurstBeyondRateBudgetProducesErrorOutputs(t *testing.T) {
	f := newFixture(t, provider.NewMockWithDelay(0), 0)

	// Seven jobs against the default budget of six per minute. All seven are
	// accepted by the queue; the seventh is denied admission at run time.
	for i := 0; i < 7; i++ {
		_, err := f.orch.Enqueue("sentiment", map[string]any{"n": i}, "burst")
		require.NoError(t, err)
	}
	f.orch.Start(context.Background())

	waitForRuns(t, f.orch, 7)

	m := f.orch.Metrics()
	assert.Equal(t, int64(7), m.TotalRuns)
	assert.Equal(t, int64(6), m.SuccessfulRuns)
	assert.Equal(t, int64(1), m.FailedRuns)

	// The rate-limited job ran last, so it owns the latest record.
	rec, err := f.repo.LoadLatest(context.Background(), "sentiment", "burst")
	require.NoError(t, err)
	assert.Equal(t, model.VerdictError, rec.Payload.Verdict)
	assert.Contains(t, rec.Payload.Reasons[0], "rate limit")
}

func TestSlowProviderDoesNotWedgeWorker(t *testing.T) {
	roster := strings.Replace(testRoster, "purpose: Market sentiment analysis",
		"purpose: Market sentiment analysis\n    constraints:\n      latency_ms: 10", 1)
	f := newFixtureWithRoster(t, roster, provider.NewMockWithDelay(50*time.Millisecond), 0)
	f.orch.Start(context.Background())

	for i := 0; i < 2; i++ {
		_, err := f.orch.Enqueue("sentiment", map[string]any{"n": i}, "slow")
		require.NoError(t, err)
	}

	waitForRuns(t, f.orch, 2)

	m := f.orch.Metrics()
	assert.Equal(t, int64(2), m.FailedRuns)
	assert.True(t, f.orch.QueueStatus().WorkerActive)

	rec, err := f.repo.LoadLatest(context.Background(), "sentiment", "slow")
	require.NoError(t, err)
	assert.Equal(t, model.VerdictError, rec.Payload.Verdict)
	assert.Equal(t, "timeout", rec.Payload.Metadata["error_type"])
}

func TestOnKPIChangeFansOut(t *testing.T) {
	f := newFixture(t, provider.NewMockWithDelay(0), 0)
	f.orch.Start(context.Background())

	f.orch.OnKPIChange(map[string]any{
		"metric":            "sharpe",
		"affected_products": []string{"equity", "options"},
	})

	waitForRuns(t, f.orch, 3)

	ctx := context.Background()
	_, err := f.repo.LoadLatest(ctx, "trainer", "kpi_change")
	assert.NoError(t, err)
	_, err = f.repo.LoadLatest(ctx, "equity", "kpi_change_equity")
	assert.NoError(t, err)
	_, err = f.repo.LoadLatest(ctx, "options", "kpi_change_options")
	assert.NoError(t, err)
}

func TestOnKPIChangeDefaultsToEquity(t *testing.T) {
	f := newFixture(t, provider.NewMockWithDelay(0), 0)
	f.orch.Start(context.Background())

	f.orch.OnKPIChange(map[string]any{"metric": "drawdown"})

	waitForRuns(t, f.orch, 2)

	_, err := f.repo.LoadLatest(context.Background(), "equity", "kpi_change_equity")
	assert.NoError(t, err)
}

func TestOnPredictionCloseScope(t *testing.T) {
	f := newFixture(t, provider.NewMockWithDelay(0), 0)
	f.orch.Start(context.Background())

	f.orch.OnPredictionClose(map[string]any{"product": "equity", "timeframe": "30D"})

	waitForRuns(t, f.orch, 1)

	_, err := f.repo.LoadLatest(context.Background(), "equity", "prediction_close_equity_30D")
	assert.NoError(t, err)
}

func TestSchedulePeriodicRuns(t *testing.T) {
	f := newFixture(t, provider.NewMockWithDelay(0), 0)
	f.orch.Start(context.Background())

	base := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)

	// 18:00 fires the daily trainer run.
	f.orch.SchedulePeriodicRuns(base.Add(18 * time.Hour))
	waitForRuns(t, f.orch, 1)
	_, err := f.repo.LoadLatest(context.Background(), "trainer", "daily_scheduled")
	assert.NoError(t, err)

	// 10:00 fires the hourly sentiment run.
	f.orch.SchedulePeriodicRuns(base.Add(10 * time.Hour))
	waitForRuns(t, f.orch, 2)
	_, err = f.repo.LoadLatest(context.Background(), "sentiment", "hourly_scheduled")
	assert.NoError(t, err)

	// Off the minute boundary nothing fires.
	f.orch.SchedulePeriodicRuns(base.Add(18*time.Hour + 30*time.Minute))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(2), f.orch.Metrics().TotalRuns)

	// Outside market hours the sentiment trigger stays quiet.
	f.orch.SchedulePeriodicRuns(base.Add(7 * time.Hour))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(2), f.orch.Metrics().TotalRuns)
}

func TestStopDoesNotInterruptInFlightJob(t *testing.T) {
	f := newFixture(t, provider.NewMockWithDelay(300*time.Millisecond), 0)
	f.orch.Start(context.Background())

	_, err := f.orch.Enqueue("sentiment", map[string]any{}, "graceful")
	require.NoError(t, err)

	// Wait for the worker to pop the job, then stop while the provider call
	// is still in flight. The job must finish normally, not come back as a
	// cancelled ERROR output.
	require.Eventually(t, func() bool {
		return f.orch.QueueStatus().Size == 0
	}, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	f.orch.Stop(ctx)

	m := f.orch.Metrics()
	assert.Equal(t, int64(1), m.TotalRuns)
	assert.Equal(t, int64(1), m.SuccessfulRuns)
	assert.Equal(t, int64(0), m.FailedRuns)

	rec, err := f.repo.LoadLatest(context.Background(), "sentiment", "graceful")
	require.NoError(t, err)
	assert.Equal(t, model.VerdictHold, rec.Payload.Verdict)
}

func TestParentContextCancelDoesNotFailInFlightJob(t *testing.T) {
	f := newFixture(t, provider.NewMockWithDelay(300*time.Millisecond), 0)
	ctx, cancel := context.WithCancel(context.Background())
	f.orch.Start(ctx)

	_, err := f.orch.Enqueue("sentiment", map[string]any{}, "shutdown")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return f.orch.QueueStatus().Size == 0
	}, time.Second, 5*time.Millisecond)

	// Cancelling the start context stops the loop from pulling more work but
	// must not abort the job already running.
	cancel()
	waitForRuns(t, f.orch, 1)

	assert.Equal(t, int64(1), f.orch.Metrics().SuccessfulRuns)
	rec, err := f.repo.LoadLatest(context.Background(), "sentiment", "shutdown")
	require.NoError(t, err)
	assert.Equal(t, model.VerdictHold, rec.Payload.Verdict)
}

func TestStopWaitsForWorker(t *testing.T) {
	f := newFixture(t, provider.NewMockWithDelay(0), 0)
	f.orch.Start(context.Background())

	_, err := f.orch.Enqueue("sentiment", map[string]any{}, "default")
	require.NoError(t, err)
	waitForRuns(t, f.orch, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	f.orch.Stop(ctx)

	assert.False(t, f.orch.QueueStatus().Running)
	require.Eventually(t, func() bool {
		return !f.orch.QueueStatus().WorkerActive
	}, time.Second, 10*time.Millisecond)
}
