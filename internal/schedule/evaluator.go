package schedule

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/scriptflow/scriptflow/internal/metrics"
)

// Runner triggers the validate-inject-execute path for one scheduled
// workflow. A runner error is a misfire: logged, never allowed to stop the
// tick or surface to the script author.
type Runner interface {
	RunScheduled(ctx context.Context, workflowID string) error
}

// Entry is one registered schedule. lastMinute guards against evaluating the
// same wall-clock minute twice when adjacent ticks land on either side of a
// minute boundary.
type Entry struct {
	WorkflowID string
	Expression string

	compiled   *Expression
	lastMinute int64
}

// Evaluator owns the schedule entries and the single serialized tick loop.
// Ticks never overlap; each entry within a tick is evaluated on its own so
// one entry's failure cannot block the rest.
type Evaluator struct {
	mu      sync.Mutex
	entries map[string]*Entry
	runner  Runner
	enabled bool

	cron    *cron.Cron
	started bool
}

// NewEvaluator builds an evaluator. It evaluates nothing until Start.
func NewEvaluator(runner Runner, enabled bool) *Evaluator {
	return &Evaluator{
		entries: make(map[string]*Entry),
		runner:  runner,
		enabled: enabled,
	}
}

// Upsert registers or replaces the schedule for a workflow.
func (e *Evaluator) Upsert(workflowID, expression string) error {
	compiled, err := ParseExpression(expression)
	if err != nil {
		return fmt.Errorf("schedule for workflow %q: %w", workflowID, err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if prev, ok := e.entries[workflowID]; ok && prev.Expression == expression {
		return nil // unchanged; keep the minute guard
	}
	e.entries[workflowID] = &Entry{WorkflowID: workflowID, Expression: expression, compiled: compiled}
	return nil
}

// Remove drops a workflow's schedule.
func (e *Evaluator) Remove(workflowID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.entries, workflowID)
}

// Entries returns a snapshot of registered schedules.
func (e *Evaluator) Entries() []Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Entry, 0, len(e.entries))
	for _, en := range e.entries {
		out = append(out, Entry{WorkflowID: en.WorkflowID, Expression: en.Expression})
	}
	return out
}

// Start launches the tick loop: a minute-aligned cron job, wrapped in
// SkipIfStillRunning so a slow tick can never overlap or re-enter the next.
func (e *Evaluator) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.enabled || e.started {
		return
	}
	e.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := e.cron.AddFunc("* * * * *", func() {
		e.Tick(time.Now())
	}); err != nil {
		log.Printf("schedule: registering tick job: %v", err)
		return
	}
	e.cron.Start()
	e.started = true
}

// Stop halts the loop and waits for an in-flight tick to finish. A stopped
// evaluator never evaluates and never records a firing.
func (e *Evaluator) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	c := e.cron
	e.started = false
	e.mu.Unlock()

	// Wait outside the lock; an in-flight tick needs it to finish.
	ctx := c.Stop()
	<-ctx.Done()
}

// Tick evaluates every entry against the tick timestamp. Whether an entry is
// due depends only on the minute truncation of t; the minute guard makes the
// evaluation idempotent per minute, so ticks at :29.995 and :30.000 cannot
// double-fire an entry nor skip one.
func (e *Evaluator) Tick(t time.Time) {
	if !e.enabled {
		return
	}
	metrics.SchedulerTicks.Inc()
	minute := t.Truncate(time.Minute).Unix()

	e.mu.Lock()
	due := make([]*Entry, 0, len(e.entries))
	for _, en := range e.entries {
		if en.lastMinute == minute {
			continue
		}
		en.lastMinute = minute
		if en.compiled.Matches(t) {
			due = append(due, en)
		}
	}
	e.mu.Unlock()

	for _, en := range due {
		metrics.ScheduleFirings.Inc()
		if err := e.runner.RunScheduled(context.Background(), en.WorkflowID); err != nil {
			// Misfire: the author never sees this, and the tick goes on.
			log.Printf("schedule: workflow %q misfired: %v", en.WorkflowID, err)
		}
	}
}
