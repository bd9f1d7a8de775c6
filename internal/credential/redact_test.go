package credential

import (
	"strings"
	"testing"
)

func TestRedactKnownValues(t *testing.T) {
	r := NewRedactor([]string{"secret-123", "pg-password"})
	got := r.Redact(`dial failed: auth secret-123 rejected by host`)
	if strings.Contains(got, "secret-123") {
		t.Errorf("known value survived: %q", got)
	}
	if !strings.Contains(got, "[redacted]") {
		t.Errorf("no redaction marker: %q", got)
	}
}

func TestRedactShortKnownValuesIgnored(t *testing.T) {
	// Values shorter than 4 chars would shred unrelated text.
	r := NewRedactor([]string{"ab"})
	got := r.Redact("abnormal behaviour")
	if got != "abnormal behaviour" {
		t.Errorf("short value redacted: %q", got)
	}
}

func TestRedactSecretFields(t *testing.T) {
	r := NewRedactor(nil)
	cases := []string{
		`{"api_key": "sk-lives-here", "name": "ok"}`,
		`password=hunter2&user=bob`,
		`Authorization: Bearer-Token-Value`,
		`credentials: { "SMTP": "@cred:smtp-prod" }`,
	}
	for _, in := range cases {
		got := r.Redact(in)
		if !strings.Contains(got, "[redacted]") {
			t.Errorf("Redact(%q) = %q, nothing redacted", in, got)
		}
	}
}

func TestRedactCredentialReferences(t *testing.T) {
	r := NewRedactor(nil)
	got := r.Redact("failed resolving @cred:smtp-prod for invocation mail")
	if strings.Contains(got, "@cred:") {
		t.Errorf("reference survived: %q", got)
	}
}

func TestRedactHighEntropy(t *testing.T) {
	r := NewRedactor(nil)
	got := r.Redact("token rejected: xK9mQ2vL8pR4tW7nB3jF6hD1sotherwise fine")
	if strings.Contains(got, "xK9mQ2vL8pR4tW7nB3jF6hD1s") {
		t.Errorf("high-entropy token survived: %q", got)
	}
}

func TestRedactKeepsProse(t *testing.T) {
	r := NewRedactor(nil)
	in := "capability httpRequest failed: connection refused to example.com"
	if got := r.Redact(in); got != in {
		t.Errorf("prose mangled: %q", got)
	}
}

func TestRedactEmpty(t *testing.T) {
	if got := NewRedactor(nil).Redact(""); got != "" {
		t.Errorf("Redact(\"\") = %q", got)
	}
}

func TestStoreRedactorSeesLaterProfiles(t *testing.T) {
	t.Setenv("SCRIPTFLOW_CRED_SMTP", "hunter2-prod")

	s := NewStore()
	r := s.Redactor()

	// The synthetic env-default profile registers after the redactor exists.
	if _, ok := s.DefaultFor("SMTP"); !ok {
		t.Fatal("env default not registered")
	}
	got := r.Redact("smtp auth failed for hunter2-prod")
	if strings.Contains(got, "hunter2-prod") {
		t.Fatalf("late-registered secret not redacted: %q", got)
	}
	if !strings.Contains(got, "[redacted]") {
		t.Errorf("got %q", got)
	}
}
