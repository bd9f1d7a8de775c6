package inject

import (
	"strings"
	"testing"

	"github.com/scriptflow/scriptflow/internal/capability"
	"github.com/scriptflow/scriptflow/internal/credential"
	"github.com/scriptflow/scriptflow/internal/trace"
)

func testSetup(t *testing.T) (*capability.Registry, *credential.Store) {
	t.Helper()
	reg := capability.NewRegistry()
	if err := capability.RegisterBuiltins(reg); err != nil {
		t.Fatalf("RegisterBuiltins: %v", err)
	}
	creds := credential.NewStore()
	creds.Add(&credential.Profile{ID: "smtp-prod", Type: "SMTP", Value: "secret-123"})
	creds.Add(&credential.Profile{ID: "db-main", Type: "DATABASE", Value: "pg-password"})
	return reg, creds
}

func runTrace(t *testing.T, src string, reg *capability.Registry) map[string]*trace.Invocation {
	t.Helper()
	res, err := trace.Run(src, reg)
	if err != nil {
		t.Fatalf("trace.Run: %v", err)
	}
	if !res.Success {
		t.Fatalf("trace failed: %v", res.Errors)
	}
	return res.Nodes
}

func TestInjectAppendsCredentials(t *testing.T) {
	src := `class T extends Workflow<"webhook/received"> {
	handle(payload) {
		const mail = new SendEmail({ to: "a@b.c", subject: "s", body: "b" })
		return mail
	}
}`
	reg, creds := testSetup(t)
	res := Inject(src, runTrace(t, src, reg), nil, reg, creds)
	if !res.Success {
		t.Fatal("Success = false")
	}
	want := `new SendEmail({ to: "a@b.c", subject: "s", body: "b", credentials: { "SMTP": "@cred:smtp-prod" } })`
	if !strings.Contains(res.Code, want) {
		t.Errorf("code does not contain %q:\n%s", want, res.Code)
	}
	got := res.Injected["mail"]
	if len(got) != 1 || got[0].Type != "SMTP" || got[0].ID != "smtp-prod" {
		t.Errorf("Injected = %+v", res.Injected)
	}
}

func TestInjectIdempotent(t *testing.T) {
	src := `class T extends Workflow<"webhook/received"> {
	handle(payload) {
		const mail = new SendEmail({ to: "a@b.c", subject: "s", body: "b" })
		const q = new DatabaseQuery({ query: "SELECT 1" })
		return mail
	}
}`
	reg, creds := testSetup(t)

	first := Inject(src, runTrace(t, src, reg), nil, reg, creds)
	second := Inject(first.Code, runTrace(t, first.Code, reg), nil, reg, creds)
	if first.Code != second.Code {
		t.Errorf("second pass changed the code:\nfirst:\n%s\nsecond:\n%s", first.Code, second.Code)
	}
	third := Inject(second.Code, runTrace(t, second.Code, reg), nil, reg, creds)
	if second.Code != third.Code {
		t.Error("third pass changed the code")
	}
}

func TestInjectOnlyTouchesMatchedArguments(t *testing.T) {
	src := `class T extends Workflow<"webhook/received"> {
	handle(payload) {
		const r = new HttpRequest({ url: "https://keep.me?a=1&b=2" })
		const mail = new SendEmail({ to: "a@b.c", subject: "s", body: "b" })
		return r
	}
}`
	reg, creds := testSetup(t)
	res := Inject(src, runTrace(t, src, reg), nil, reg, creds)
	// httpRequest requires nothing; its invocation must survive untouched.
	if !strings.Contains(res.Code, `new HttpRequest({ url: "https://keep.me?a=1&b=2" })`) {
		t.Errorf("unrelated invocation was rewritten:\n%s", res.Code)
	}
	if _, ok := res.Injected["r"]; ok {
		t.Error("injected credentials into a capability with no requirements")
	}
}

func TestInjectCallerMappingWins(t *testing.T) {
	src := `class T extends Workflow<"webhook/received"> {
	handle(payload) {
		const mail = new SendEmail({ to: "a@b.c", subject: "s", body: "b" })
		return mail
	}
}`
	reg, creds := testSetup(t)
	creds.Add(&credential.Profile{ID: "smtp-backup", Type: "SMTP", Value: "other"})

	res := Inject(src, runTrace(t, src, reg), map[string]string{"mail": "smtp-backup"}, reg, creds)
	if !strings.Contains(res.Code, `"SMTP": "@cred:smtp-backup"`) {
		t.Errorf("caller mapping ignored:\n%s", res.Code)
	}
}

func TestInjectCallerMappingWrongTypeFallsBack(t *testing.T) {
	src := `class T extends Workflow<"webhook/received"> {
	handle(payload) {
		const mail = new SendEmail({ to: "a@b.c", subject: "s", body: "b" })
		return mail
	}
}`
	reg, creds := testSetup(t)
	// db-main is a DATABASE profile; it cannot satisfy SMTP.
	res := Inject(src, runTrace(t, src, reg), map[string]string{"mail": "db-main"}, reg, creds)
	if !strings.Contains(res.Code, `"SMTP": "@cred:smtp-prod"`) {
		t.Errorf("wrong-type mapping did not fall back to default:\n%s", res.Code)
	}
}

func TestInjectMergeKeepsForeignKeys(t *testing.T) {
	src := `class T extends Workflow<"webhook/received"> {
	handle(payload) {
		const mail = new SendEmail({ to: "a@b.c", subject: "s", body: "b", credentials: { "SMTP": "@cred:stale", "CUSTOM": customRef } })
		return mail
	}
}`
	reg, creds := testSetup(t)
	res := Inject(src, runTrace(t, src, reg), nil, reg, creds)
	if !strings.Contains(res.Code, `"SMTP": "@cred:smtp-prod"`) {
		t.Errorf("stale reference not replaced:\n%s", res.Code)
	}
	if !strings.Contains(res.Code, `"CUSTOM": customRef`) {
		t.Errorf("foreign credential key lost:\n%s", res.Code)
	}
}

func TestInjectNoArguments(t *testing.T) {
	src := `class T extends Workflow<"webhook/received"> {
	handle(payload) {
		const q = new DatabaseQuery()
		return q
	}
}`
	reg, creds := testSetup(t)
	res := Inject(src, runTrace(t, src, reg), nil, reg, creds)
	if !strings.Contains(res.Code, `new DatabaseQuery({ credentials: { "DATABASE": "@cred:db-main" } })`) {
		t.Errorf("no-argument invocation not rewritten:\n%s", res.Code)
	}
}

func TestInjectGapWhenNoDefault(t *testing.T) {
	src := `class T extends Workflow<"webhook/received"> {
	handle(payload) {
		const mail = new SendEmail({ to: "a@b.c", subject: "s", body: "b" })
		return mail
	}
}`
	reg, _ := testSetup(t)
	empty := credential.NewStore()
	res := Inject(src, runTrace(t, src, reg), nil, reg, empty)
	if !res.Success {
		t.Error("gaps must not fail the pass")
	}
	if len(res.Gaps) != 1 || res.Gaps[0].VarName != "mail" || res.Gaps[0].Type != "SMTP" {
		t.Fatalf("Gaps = %+v", res.Gaps)
	}
	if res.Code != src {
		t.Error("code changed despite unresolved credential")
	}
}

func TestInjectAgentCollectsToolCredentials(t *testing.T) {
	src := `class T extends Workflow<"webhook/received"> {
	handle(payload) {
		const a = new AiAgent({ prompt: "report", tools: ["sendEmail", "databaseQuery"] })
		return a
	}
}`
	reg, creds := testSetup(t)
	creds.Add(&credential.Profile{ID: "ai-key", Type: "AI_PROVIDER", Value: "sk-123"})

	res := Inject(src, runTrace(t, src, reg), nil, reg, creds)
	got := res.Injected["a"]
	if len(got) != 3 {
		t.Fatalf("Injected = %+v, want AI_PROVIDER, DATABASE, SMTP", got)
	}
	// Sorted by type.
	if got[0].Type != "AI_PROVIDER" || got[1].Type != "DATABASE" || got[2].Type != "SMTP" {
		t.Errorf("types = %+v", got)
	}
	if !strings.Contains(res.Code, `credentials: { "AI_PROVIDER": "@cred:ai-key", "DATABASE": "@cred:db-main", "SMTP": "@cred:smtp-prod" }`) {
		t.Errorf("code:\n%s", res.Code)
	}
}

func TestInjectEndToEndSecretStaysOut(t *testing.T) {
	src := `class T extends Workflow<"webhook/received"> {
	handle(payload) {
		const mail = new SendEmail({ to: "a@b.c", subject: "s", body: "b" })
		return mail
	}
}`
	reg, creds := testSetup(t)
	res := Inject(src, runTrace(t, src, reg), nil, reg, creds)
	// Only the reference is injected; the decrypted value never appears in
	// the code.
	if strings.Contains(res.Code, "secret-123") {
		t.Fatalf("secret value leaked into rewritten code:\n%s", res.Code)
	}
	if !strings.Contains(res.Code, credential.RefPrefix+"smtp-prod") {
		t.Errorf("reference missing:\n%s", res.Code)
	}
}
