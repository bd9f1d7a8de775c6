package trace

import (
	"errors"
	"testing"

	"github.com/scriptflow/scriptflow/internal/capability"
)

func testRegistry(t *testing.T) *capability.Registry {
	t.Helper()
	reg := capability.NewRegistry()
	if err := capability.RegisterBuiltins(reg); err != nil {
		t.Fatalf("RegisterBuiltins: %v", err)
	}
	return reg
}

const tracedScript = `class OrderAlert extends Workflow<"webhook/received"> {
	async handle(payload: WebhookEvent) {
		const req = new HttpRequest({ url: "https://example.com", method: "POST", retries: 3, verbose: true })
		const mail = await new SendEmail({ to: payload.body, subject: process.env.SUBJECT, body: note })
		new DatabaseQuery({ query: "INSERT", values: [1, 2] }).invoke()
		const helper = new NotACapability({ x: 1 })
		return req
	}
}`

func TestRunExtractsNodes(t *testing.T) {
	res, err := Run(tracedScript, testRegistry(t))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Success {
		t.Fatalf("Success = false, errors: %v", res.Errors)
	}
	if len(res.Nodes) != 3 {
		t.Fatalf("got %d nodes, want 3: %v", len(res.Nodes), res.Order)
	}
	if _, ok := res.Nodes["helper"]; ok {
		t.Error("unregistered class was traced")
	}

	req := res.Nodes["req"]
	if req == nil {
		t.Fatal("missing node req")
	}
	if req.CapabilityName != "httpRequest" || req.ClassName != "HttpRequest" {
		t.Errorf("req = %+v", req)
	}
	if req.HasAwait || req.HasActionCall {
		t.Errorf("req flags: await=%v action=%v", req.HasAwait, req.HasActionCall)
	}
	if len(req.Parameters) != 4 {
		t.Fatalf("req parameters = %+v", req.Parameters)
	}

	mail := res.Nodes["mail"]
	if mail == nil || !mail.HasAwait || mail.HasActionCall {
		t.Errorf("mail = %+v", mail)
	}

	anon := res.Nodes["_anonymous_DatabaseQuery_1"]
	if anon == nil {
		t.Fatalf("missing anonymous node, order: %v", res.Order)
	}
	if !anon.HasActionCall {
		t.Error("anonymous node missing action call")
	}
}

func TestParameterClassification(t *testing.T) {
	res, err := Run(tracedScript, testRegistry(t))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	byName := func(inv *Invocation, name string) *Parameter {
		for i := range inv.Parameters {
			if inv.Parameters[i].Name == name {
				return &inv.Parameters[i]
			}
		}
		t.Fatalf("parameter %q not found in %+v", name, inv.Parameters)
		return nil
	}

	req := res.Nodes["req"]
	if p := byName(req, "url"); p.Type != ValueString || p.Value != "https://example.com" {
		t.Errorf("url = %+v", p)
	}
	if p := byName(req, "retries"); p.Type != ValueNumber {
		t.Errorf("retries = %+v", p)
	}
	if p := byName(req, "verbose"); p.Type != ValueBoolean {
		t.Errorf("verbose = %+v", p)
	}

	mail := res.Nodes["mail"]
	if p := byName(mail, "to"); p.Type != ValueVariable || p.Value != "payload.body" {
		t.Errorf("to = %+v", p)
	}
	if p := byName(mail, "subject"); p.Type != ValueEnv || p.Value != "process.env.SUBJECT" {
		t.Errorf("subject = %+v", p)
	}
	if p := byName(mail, "body"); p.Type != ValueVariable || p.Value != "note" {
		t.Errorf("body = %+v", p)
	}

	anon := res.Nodes["_anonymous_DatabaseQuery_1"]
	if p := byName(anon, "values"); p.Type != ValueArray {
		t.Errorf("values = %+v", p)
	}
}

func TestVariableIDStable(t *testing.T) {
	reg := testRegistry(t)
	first, err := Run(tracedScript, reg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	second, err := Run(tracedScript, reg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for name, inv := range first.Nodes {
		if second.Nodes[name].VariableID != inv.VariableID {
			t.Errorf("node %s: id changed between runs", name)
		}
		if len(inv.VariableID) != 16 {
			t.Errorf("node %s: id %q is not 16 hex chars", name, inv.VariableID)
		}
	}

	// Renaming the variable changes where the result binds but not the
	// call-site hash input, which covers scope and call text only.
	want := VariableID("OrderAlert.handle", `new DatabaseQuery({ query: "INSERT", values: [1, 2] })`)
	if got := first.Nodes["_anonymous_DatabaseQuery_1"].VariableID; got != want {
		t.Errorf("id = %q, want %q", got, want)
	}
}

func TestAnonymousOrdinals(t *testing.T) {
	src := `class T extends Workflow<"webhook/received"> {
	handle(payload) {
		new HttpRequest({ url: "https://a" })
		new HttpRequest({ url: "https://b" })
	}
}`
	res, err := Run(src, testRegistry(t))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Nodes["_anonymous_HttpRequest_1"] == nil || res.Nodes["_anonymous_HttpRequest_2"] == nil {
		t.Fatalf("anonymous ordinals wrong, order: %v", res.Order)
	}
}

func TestAliasResolution(t *testing.T) {
	src := `class T extends Workflow<"webhook/received"> {
	handle(payload) {
		const r = new HttpRequest({ url: "https://a" })
	}
}`
	res, err := Run(src, testRegistry(t))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Nodes["r"].CapabilityName != "httpRequest" {
		t.Errorf("capability = %q", res.Nodes["r"].CapabilityName)
	}
}

func TestNestedBlocksAreTraced(t *testing.T) {
	src := `class T extends Workflow<"webhook/received"> {
	handle(payload) {
		if (payload.path == "/x") {
			const inner = new HttpRequest({ url: "https://a" })
		}
		for (const item of payload.body) {
			new SendEmail({ to: "a@b.c", subject: "s", body: "b" })
		}
	}
}`
	res, err := Run(src, testRegistry(t))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Nodes["inner"] == nil {
		t.Error("invocation inside if block not traced")
	}
	if res.Nodes["_anonymous_SendEmail_1"] == nil {
		t.Error("invocation inside for block not traced")
	}
}

func TestOtherUserClassesNotTraced(t *testing.T) {
	src := `class Helper {
	build() {
		const h = new HttpRequest({ url: "https://hidden" })
	}
}
class T extends Workflow<"webhook/received"> {
	handle(payload) {
		const visible = new HttpRequest({ url: "https://seen" })
	}
}`
	res, err := Run(src, testRegistry(t))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Nodes) != 1 || res.Nodes["visible"] == nil {
		t.Fatalf("nodes = %v, want only visible", res.Order)
	}
}

func TestParseFailure(t *testing.T) {
	res, err := Run("class {{{", testRegistry(t))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Success {
		t.Fatal("Success = true for unparseable source")
	}
	if len(res.Errors) != 1 {
		t.Fatalf("errors = %v, want exactly one", res.Errors)
	}
}

func TestEmptyRegistry(t *testing.T) {
	_, err := Run(tracedScript, capability.NewRegistry())
	if !errors.Is(err, ErrEmptyRegistry) {
		t.Fatalf("err = %v, want ErrEmptyRegistry", err)
	}
}
