// Package executor runs the full pipeline for one attempt: validate, inject
// credentials, execute in the sandbox under a wall-clock timeout, and report
// a structured result plus a stream of events. Runtime failures are returned
// as data; nothing a script does can take the host down.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/scriptflow/scriptflow/internal/capability"
	"github.com/scriptflow/scriptflow/internal/credential"
	"github.com/scriptflow/scriptflow/internal/events"
	"github.com/scriptflow/scriptflow/internal/inject"
	"github.com/scriptflow/scriptflow/internal/metrics"
	"github.com/scriptflow/scriptflow/internal/sandbox"
	"github.com/scriptflow/scriptflow/internal/validate"
)

// Execution states.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusTimedOut  = "timed_out"
	StatusCancelled = "cancelled"
)

const DefaultTimeout = 30 * time.Second

// Result is one execution attempt. ExecutionID is unique per attempt: two
// executions of the same script and payload never share an id.
type Result struct {
	Success     bool      `json:"success"`
	Status      string    `json:"status"`
	Data        any       `json:"data,omitempty"`
	Error       string    `json:"error,omitempty"`
	ExecutionID string    `json:"executionId"`
	Timestamp   time.Time `json:"timestamp"`
	Logs        []string  `json:"logs,omitempty"`
}

// Options configures one attempt.
type Options struct {
	Timeout     time.Duration
	UserID      string
	WorkflowID  string
	Credentials map[string]string // invocation var name -> credential id
	Stream      func(events.Event)
}

// WorkflowSource loads stored workflows for scheduled runs.
type WorkflowSource interface {
	SourceFor(ctx context.Context, workflowID string) (code string, enabled bool, err error)
}

// Recorder persists finished attempts.
type Recorder interface {
	RecordExecution(ctx context.Context, workflowID string, res *Result) error
}

type Executor struct {
	validator *validate.Validator
	registry  *capability.Registry
	creds     *credential.Store
	redactor  *credential.Redactor
	sink      events.Sink
	source    WorkflowSource
	recorder  Recorder
}

// New wires an executor. sink, source, and recorder may be nil.
func New(reg *capability.Registry, creds *credential.Store, sink events.Sink) *Executor {
	return &Executor{
		validator: validate.New(reg),
		registry:  reg,
		creds:     creds,
		redactor:  creds.Redactor(),
		sink:      sink,
	}
}

// WithStore attaches workflow loading and execution recording.
func (e *Executor) WithStore(source WorkflowSource, recorder Recorder) *Executor {
	e.source = source
	e.recorder = recorder
	return e
}

// Validator exposes the executor's validator for the API layer.
func (e *Executor) Validator() *validate.Validator {
	return e.validator
}

// Execute runs code against payload. Validation gates execution: an invalid
// script never reaches the sandbox. The returned result is always non-nil
// and never carries an unredacted secret.
func (e *Executor) Execute(ctx context.Context, code string, payload map[string]any, opts Options) *Result {
	res := &Result{
		ExecutionID: uuid.NewString(),
		Timestamp:   time.Now().UTC(),
	}
	started := time.Now()
	defer func() {
		metrics.ExecutionsTotal.WithLabelValues(res.Status).Inc()
		metrics.ExecutionDuration.Observe(time.Since(started).Seconds())
		if e.recorder != nil && opts.WorkflowID != "" {
			if err := e.recorder.RecordExecution(context.Background(), opts.WorkflowID, res); err != nil {
				log.Printf("executor: recording execution %s: %v", res.ExecutionID, err)
			}
		}
	}()

	vres, err := e.validator.Validate(code)
	if err != nil {
		res.Status, res.Error = StatusFailed, e.redactor.Redact(err.Error())
		return res
	}
	if !vres.Valid {
		metrics.ValidationFailures.Inc()
		res.Status = StatusFailed
		res.Error = "validation failed: " + strings.Join(vres.Errors, "; ")
		return res
	}

	ires := inject.Inject(code, vres.ByVarName, opts.Credentials, e.registry, e.creds)
	for _, gap := range ires.Gaps {
		// Non-fatal: the capability fails with an auth error later if it
		// actually needs the credential.
		log.Printf("executor: %s: no credential for %s on %q (%s)", res.ExecutionID, gap.Type, gap.VarName, gap.Reason)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	settled := new(atomic.Bool)
	emit := func(kind, invocation string, data any) {
		if settled.Load() {
			return // a settled execution emits nothing further
		}
		e.publish(ctx, events.Event{
			Type:        kind,
			ExecutionID: res.ExecutionID,
			WorkflowID:  opts.WorkflowID,
			Invocation:  invocation,
			Data:        data,
			Timestamp:   time.Now().UTC(),
		}, opts.Stream)
	}
	emit(events.TypeStart, "", nil)

	type outcome struct {
		data any
		logs []string
		err  error
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan outcome, 1)
	go func() {
		data, logs, err := sandbox.Run(runCtx, ires.Code, payload, e.registry, sandbox.Options{
			Resolver: e.creds,
			Emit:     emit,
			UserID:   opts.UserID,
		})
		done <- outcome{data: data, logs: logs, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	// Single timer per execution; first to settle wins and the loser's
	// continuation is inert.
	select {
	case out := <-done:
		e.settle(res, out.data, out.logs, out.err)
	case <-timer.C:
		cancel()
		res.Status = StatusTimedOut
		res.Error = fmt.Sprintf("execution exceeded %s", timeout)
	case <-ctx.Done():
		cancel()
		res.Status = StatusCancelled
		res.Error = "execution cancelled"
	}
	settled.Store(true)

	final := events.TypeComplete
	if !res.Success {
		final = events.TypeError
	}
	ev := events.Event{
		Type:        final,
		ExecutionID: res.ExecutionID,
		WorkflowID:  opts.WorkflowID,
		Data:        res.Error,
		Timestamp:   time.Now().UTC(),
	}
	if res.Success {
		ev.Data = nil
	}
	e.publish(ctx, ev, opts.Stream)
	return res
}

func (e *Executor) settle(res *Result, data any, logs []string, err error) {
	res.Logs = make([]string, len(logs))
	for i, line := range logs {
		res.Logs[i] = e.redactor.Redact(line)
	}
	switch {
	case err == nil:
		res.Success = true
		res.Status = StatusSucceeded
		res.Data = data
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		res.Status = StatusCancelled
		res.Error = "execution cancelled"
	default:
		res.Status = StatusFailed
		res.Error = e.redactor.Redact(err.Error())
	}
}

func (e *Executor) publish(ctx context.Context, ev events.Event, stream func(events.Event)) {
	if s, ok := ev.Data.(string); ok {
		ev.Data = e.redactor.Redact(s)
	}
	if stream != nil {
		stream(ev)
	}
	if e.sink != nil {
		e.sink.Emit(ctx, ev)
	}
}

// RunScheduled loads a stored workflow and executes it with a schedule
// payload. It satisfies the schedule evaluator's Runner contract.
func (e *Executor) RunScheduled(ctx context.Context, workflowID string) error {
	if e.source == nil {
		return fmt.Errorf("no workflow source configured")
	}
	code, enabled, err := e.source.SourceFor(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("loading workflow %q: %w", workflowID, err)
	}
	if !enabled {
		return nil
	}
	payload := map[string]any{
		"scheduledAt": time.Now().UTC().Format(time.RFC3339),
	}
	res := e.Execute(ctx, code, payload, Options{WorkflowID: workflowID})
	if !res.Success {
		return fmt.Errorf("execution %s finished %s: %s", res.ExecutionID, res.Status, res.Error)
	}
	return nil
}
