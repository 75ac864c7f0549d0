package ratelimit

import (
	"sync"
	"time"
)

// windowSpan is the trailing period over which admissions are counted.
const windowSpan = time.Minute

// window is the admission state for one agent: its budget and the timestamps
// of admissions within the trailing windowSpan. Each window carries its own
// lock so agents never serialize on each other.
type window struct {
	mu     sync.Mutex
	budget int
	stamps []time.Time
}

// WindowLimiter implements Limiter with one sliding-prune window per agent.
// This is a fixed-budget-over-sliding-prune limiter, not a token bucket:
// bursts up to the full budget are allowed at window edges.
type WindowLimiter struct {
	mu      sync.RWMutex
	windows map[string]*window

	now func() time.Time // injectable clock for tests
}

// NewWindowLimiter creates a limiter with no per-agent budgets set.
// Agents without an explicit SetLimit use DefaultQPM.
func NewWindowLimiter() *WindowLimiter {
	return &WindowLimiter{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// SetLimit records the per-minute budget for agent, overwriting any prior
// value. Already-recorded admissions are kept.
func (l *WindowLimiter) SetLimit(agent string, qpm int) {
	w := l.window(agent)
	w.mu.Lock()
	w.budget = qpm
	w.mu.Unlock()
}

// Admit prunes admissions older than one minute from the agent's window, then
// admits and records the call if the remaining count is under budget. A denied
// call does not mutate the window.
func (l *WindowLimiter) Admit(agent string) bool {
	w := l.window(agent)
	now := l.now()

	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(now)

	budget := w.budget
	if budget <= 0 {
		budget = DefaultQPM
	}
	if len(w.stamps) >= budget {
		return false
	}
	w.stamps = append(w.stamps, now)
	return true
}

// ResetTime returns when the oldest recorded admission ages out of the
// window. ok is false when no admissions are recorded.
func (l *WindowLimiter) ResetTime(agent string) (time.Time, bool) {
	w := l.window(agent)

	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(l.now())
	if len(w.stamps) == 0 {
		return time.Time{}, false
	}
	return w.stamps[0].Add(windowSpan), true
}

// window returns the agent's window, creating it on first use.
func (l *WindowLimiter) window(agent string) *window {
	l.mu.RLock()
	w, ok := l.windows[agent]
	l.mu.RUnlock()
	if ok {
		return w
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if w, ok = l.windows[agent]; ok {
		return w
	}
	w = &window{}
	l.windows[agent] = w
	return w
}

// prune drops admission stamps older than windowSpan. Caller holds w.mu.
func (w *window) prune(now time.Time) {
	cutoff := now.Add(-windowSpan)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}
