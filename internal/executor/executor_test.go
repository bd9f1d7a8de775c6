package executor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/scriptflow/scriptflow/internal/capability"
	"github.com/scriptflow/scriptflow/internal/credential"
	"github.com/scriptflow/scriptflow/internal/events"
	pkgcap "github.com/scriptflow/scriptflow/pkg/capability"
)

const validScript = `class Ping extends Workflow<"webhook/received"> {
	async handle(payload: WebhookEvent) {
		const res = await new PingService({ value: 1 })
		return res
	}
}`

const invalidScript = `class Ping extends Workflow<"webhook/received"> {
	async handle(payload: WebhookEvent) {
		const res = await new PingService({ bogus: 1 })
		return res
	}
}`

const notifyScript = `class Notify extends Workflow<"webhook/received"> {
	async handle(payload: WebhookEvent) {
		const out = await new NotifyService({ to: payload.path })
		return out
	}
}`

func testRegistry(t *testing.T, ping, notify pkgcap.Func) *capability.Registry {
	t.Helper()
	reg := capability.NewRegistry()
	if err := reg.RegisterEvent(&pkgcap.EventDescriptor{
		Type:        "webhook/received",
		PayloadType: "WebhookEvent",
		Fields:      map[string]pkgcap.FieldSpec{"path": {Type: "string"}},
	}); err != nil {
		t.Fatalf("RegisterEvent: %v", err)
	}
	if err := reg.Register(&capability.Descriptor{
		Name:      "pingService",
		ClassName: "PingService",
		Kind:      pkgcap.KindService,
		Params:    map[string]pkgcap.ParamSpec{"value": {Type: "number"}},
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.Register(&capability.Descriptor{
		Name:                    "notifyService",
		ClassName:               "NotifyService",
		Kind:                    pkgcap.KindTool,
		Params:                  map[string]pkgcap.ParamSpec{"to": {Type: "string", Required: true}},
		RequiredCredentialTypes: []string{"SMTP"},
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if ping != nil {
		if err := reg.Bind("pingService", ping); err != nil {
			t.Fatalf("Bind: %v", err)
		}
	}
	if notify != nil {
		if err := reg.Bind("notifyService", notify); err != nil {
			t.Fatalf("Bind: %v", err)
		}
	}
	return reg
}

func testCreds() *credential.Store {
	s := credential.NewStore()
	s.Add(&credential.Profile{ID: "smtp-prod", Type: "SMTP", Value: "secret-123"})
	return s
}

func echoPing(_ context.Context, inv pkgcap.Invocation, _ pkgcap.Emitter) (any, error) {
	return map[string]any{"echo": inv.Params["value"]}, nil
}

func TestExecuteSuccess(t *testing.T) {
	exec := New(testRegistry(t, echoPing, nil), testCreds(), nil)

	res := exec.Execute(context.Background(), validScript, map[string]any{"path": "/hook"}, Options{})
	if !res.Success || res.Status != StatusSucceeded {
		t.Fatalf("status = %q, error = %q", res.Status, res.Error)
	}
	data, ok := res.Data.(map[string]any)
	if !ok {
		t.Fatalf("Data = %T %v", res.Data, res.Data)
	}
	if data["echo"] != 1.0 {
		t.Errorf("echo = %v", data["echo"])
	}
	if res.ExecutionID == "" {
		t.Error("empty execution id")
	}
	if res.Timestamp.IsZero() {
		t.Error("zero timestamp")
	}
}

func TestExecutionIDFreshPerAttempt(t *testing.T) {
	exec := New(testRegistry(t, echoPing, nil), testCreds(), nil)

	a := exec.Execute(context.Background(), validScript, nil, Options{})
	b := exec.Execute(context.Background(), validScript, nil, Options{})
	if a.ExecutionID == "" || a.ExecutionID == b.ExecutionID {
		t.Errorf("ids not unique: %q vs %q", a.ExecutionID, b.ExecutionID)
	}
}

func TestExecuteValidationFailure(t *testing.T) {
	exec := New(testRegistry(t, echoPing, nil), testCreds(), nil)

	res := exec.Execute(context.Background(), invalidScript, nil, Options{})
	if res.Success || res.Status != StatusFailed {
		t.Fatalf("status = %q", res.Status)
	}
	if !strings.HasPrefix(res.Error, "validation failed: ") {
		t.Errorf("error = %q", res.Error)
	}
	if !strings.Contains(res.Error, "bogus") {
		t.Errorf("error does not name the bad parameter: %q", res.Error)
	}
}

func TestExecuteRuntimeFailure(t *testing.T) {
	boom := func(context.Context, pkgcap.Invocation, pkgcap.Emitter) (any, error) {
		return nil, fmt.Errorf("upstream unreachable")
	}
	exec := New(testRegistry(t, boom, nil), testCreds(), nil)

	res := exec.Execute(context.Background(), validScript, nil, Options{})
	if res.Success || res.Status != StatusFailed {
		t.Fatalf("status = %q", res.Status)
	}
	if !strings.Contains(res.Error, "upstream unreachable") {
		t.Errorf("error = %q", res.Error)
	}
}

func TestExecuteTimeout(t *testing.T) {
	block := func(ctx context.Context, _ pkgcap.Invocation, _ pkgcap.Emitter) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	exec := New(testRegistry(t, block, nil), testCreds(), nil)

	started := time.Now()
	res := exec.Execute(context.Background(), validScript, nil, Options{Timeout: 50 * time.Millisecond})
	elapsed := time.Since(started)

	if res.Success || res.Status != StatusTimedOut {
		t.Fatalf("status = %q, error = %q", res.Status, res.Error)
	}
	if res.Error != "execution exceeded 50ms" {
		t.Errorf("error = %q", res.Error)
	}
	if elapsed > 2*time.Second {
		t.Errorf("timed-out execution took %s", elapsed)
	}
}

func TestExecuteCancelled(t *testing.T) {
	block := func(ctx context.Context, _ pkgcap.Invocation, _ pkgcap.Emitter) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	exec := New(testRegistry(t, block, nil), testCreds(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()
	res := exec.Execute(ctx, validScript, nil, Options{Timeout: time.Minute})
	if res.Success || res.Status != StatusCancelled {
		t.Fatalf("status = %q, error = %q", res.Status, res.Error)
	}
	if res.Error != "execution cancelled" {
		t.Errorf("error = %q", res.Error)
	}
}

func TestExecuteStreamsLifecycleEvents(t *testing.T) {
	exec := New(testRegistry(t, echoPing, nil), testCreds(), nil)

	var mu sync.Mutex
	var evs []events.Event
	res := exec.Execute(context.Background(), validScript, nil, Options{
		Stream: func(ev events.Event) {
			mu.Lock()
			evs = append(evs, ev)
			mu.Unlock()
		},
	})
	mu.Lock()
	defer mu.Unlock()
	if len(evs) < 2 {
		t.Fatalf("got %d events", len(evs))
	}
	if evs[0].Type != events.TypeStart {
		t.Errorf("first event = %q", evs[0].Type)
	}
	if last := evs[len(evs)-1]; last.Type != events.TypeComplete {
		t.Errorf("last event = %q", last.Type)
	}
	for _, ev := range evs {
		if ev.ExecutionID != res.ExecutionID {
			t.Errorf("event %q carries execution id %q, want %q", ev.Type, ev.ExecutionID, res.ExecutionID)
		}
	}
}

func TestExecuteFailureEmitsErrorEvent(t *testing.T) {
	exec := New(testRegistry(t, echoPing, nil), testCreds(), nil)

	var mu sync.Mutex
	var evs []events.Event
	exec.Execute(context.Background(), invalidScript, nil, Options{
		Stream: func(ev events.Event) {
			mu.Lock()
			evs = append(evs, ev)
			mu.Unlock()
		},
	})
	mu.Lock()
	defer mu.Unlock()
	if len(evs) == 0 {
		t.Fatal("no events")
	}
	if last := evs[len(evs)-1]; last.Type != events.TypeError {
		t.Errorf("last event = %q", last.Type)
	}
}

func TestExecuteRedactsSecrets(t *testing.T) {
	leak := func(_ context.Context, inv pkgcap.Invocation, _ pkgcap.Emitter) (any, error) {
		return nil, fmt.Errorf("smtp auth failed for %s", inv.Credentials["SMTP"])
	}
	exec := New(testRegistry(t, nil, leak), testCreds(), nil)

	res := exec.Execute(context.Background(), notifyScript, map[string]any{"path": "ops@example.com"}, Options{})
	if res.Success {
		t.Fatal("expected failure")
	}
	if strings.Contains(res.Error, "secret-123") {
		t.Fatalf("secret leaked into error: %q", res.Error)
	}
	if !strings.Contains(res.Error, "[redacted]") {
		t.Errorf("error = %q", res.Error)
	}
	for _, line := range res.Logs {
		if strings.Contains(line, "secret-123") {
			t.Errorf("secret leaked into log: %q", line)
		}
	}
}

type fakeSource struct {
	code    string
	enabled bool
	err     error
}

func (f *fakeSource) SourceFor(context.Context, string) (string, bool, error) {
	return f.code, f.enabled, f.err
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []*Result
	ids     []string
}

func (f *fakeRecorder) RecordExecution(_ context.Context, workflowID string, res *Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, res)
	f.ids = append(f.ids, workflowID)
	return nil
}

func TestRunScheduled(t *testing.T) {
	rec := &fakeRecorder{}
	exec := New(testRegistry(t, echoPing, nil), testCreds(), nil).
		WithStore(&fakeSource{code: validScript, enabled: true}, rec)

	if err := exec.RunScheduled(context.Background(), "wf-1"); err != nil {
		t.Fatalf("RunScheduled: %v", err)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.records) != 1 {
		t.Fatalf("got %d records", len(rec.records))
	}
	if rec.ids[0] != "wf-1" {
		t.Errorf("recorded workflow id = %q", rec.ids[0])
	}
	if rec.records[0].Status != StatusSucceeded {
		t.Errorf("recorded status = %q", rec.records[0].Status)
	}
}

func TestRunScheduledDisabledWorkflow(t *testing.T) {
	rec := &fakeRecorder{}
	exec := New(testRegistry(t, echoPing, nil), testCreds(), nil).
		WithStore(&fakeSource{code: validScript, enabled: false}, rec)

	if err := exec.RunScheduled(context.Background(), "wf-1"); err != nil {
		t.Fatalf("RunScheduled: %v", err)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.records) != 0 {
		t.Errorf("disabled workflow executed: %d records", len(rec.records))
	}
}

func TestRunScheduledSourceError(t *testing.T) {
	exec := New(testRegistry(t, echoPing, nil), testCreds(), nil).
		WithStore(&fakeSource{err: fmt.Errorf("row gone")}, &fakeRecorder{})

	err := exec.RunScheduled(context.Background(), "wf-1")
	if err == nil || !strings.Contains(err.Error(), "loading workflow") {
		t.Errorf("err = %v", err)
	}
}

func TestRunScheduledFailedExecution(t *testing.T) {
	exec := New(testRegistry(t, echoPing, nil), testCreds(), nil).
		WithStore(&fakeSource{code: invalidScript, enabled: true}, &fakeRecorder{})

	err := exec.RunScheduled(context.Background(), "wf-1")
	if err == nil || !strings.Contains(err.Error(), "finished failed") {
		t.Errorf("err = %v", err)
	}
}

func TestRunScheduledWithoutSource(t *testing.T) {
	exec := New(testRegistry(t, echoPing, nil), testCreds(), nil)
	if err := exec.RunScheduled(context.Background(), "wf-1"); err == nil {
		t.Error("expected error without a workflow source")
	}
}

func TestExecuteRedactsEnvDefaultSecret(t *testing.T) {
	t.Setenv("SCRIPTFLOW_CRED_SMTP", "hunter2-prod")

	leak := func(_ context.Context, inv pkgcap.Invocation, _ pkgcap.Emitter) (any, error) {
		return nil, fmt.Errorf("smtp auth failed for %s", inv.Credentials["SMTP"])
	}
	// Empty store: the SMTP default registers lazily from the environment,
	// after the executor and its redactor are built.
	exec := New(testRegistry(t, nil, leak), credential.NewStore(), nil)

	res := exec.Execute(context.Background(), notifyScript, map[string]any{"path": "ops@example.com"}, Options{})
	if res.Success {
		t.Fatal("expected failure")
	}
	if strings.Contains(res.Error, "hunter2-prod") {
		t.Fatalf("env-default secret leaked into error: %q", res.Error)
	}
	if !strings.Contains(res.Error, "[redacted]") {
		t.Errorf("error = %q", res.Error)
	}
}

func TestExecuteConcurrentEnvDefaultRegistration(t *testing.T) {
	t.Setenv("SCRIPTFLOW_CRED_SMTP", "hunter2-prod")

	echo := func(_ context.Context, inv pkgcap.Invocation, _ pkgcap.Emitter) (any, error) {
		return map[string]any{"to": inv.Params["to"]}, nil
	}
	exec := New(testRegistry(t, nil, echo), credential.NewStore(), nil)

	var wg sync.WaitGroup
	results := make([]*Result, 8)
	for i := range results {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			results[n] = exec.Execute(context.Background(), notifyScript, map[string]any{"path": "ops@example.com"}, Options{})
		}(i)
	}
	wg.Wait()

	for i, res := range results {
		if !res.Success {
			t.Errorf("run %d: status = %q, error = %q", i, res.Status, res.Error)
		}
	}
}
