package schedule

import (
	"testing"
	"time"
)

func at(minute, hour int) time.Time {
	return time.Date(2026, time.March, 4, hour, minute, 0, 0, time.UTC)
}

func TestStepMatchesByModulo(t *testing.T) {
	e, err := ParseExpression("*/30 * * * *")
	if err != nil {
		t.Fatalf("ParseExpression: %v", err)
	}
	for minute := 0; minute < 60; minute++ {
		want := minute == 0 || minute == 30
		if got := e.Matches(at(minute, 10)); got != want {
			t.Errorf("minute %d: Matches = %v, want %v", minute, got, want)
		}
	}
}

func TestStepIsPositionalNotInterval(t *testing.T) {
	// */7 matches minutes divisible by 7, not every 7 minutes from the last
	// firing.
	e, err := ParseExpression("*/7 * * * *")
	if err != nil {
		t.Fatalf("ParseExpression: %v", err)
	}
	for _, minute := range []int{0, 7, 14, 49, 56} {
		if !e.Matches(at(minute, 3)) {
			t.Errorf("minute %d should match", minute)
		}
	}
	for _, minute := range []int{1, 6, 8, 57, 59} {
		if e.Matches(at(minute, 3)) {
			t.Errorf("minute %d should not match", minute)
		}
	}
}

func TestMatchesIgnoresSeconds(t *testing.T) {
	e, err := ParseExpression("30 * * * *")
	if err != nil {
		t.Fatalf("ParseExpression: %v", err)
	}
	base := time.Date(2026, time.March, 4, 9, 30, 0, 0, time.UTC)
	for _, tt := range []time.Time{
		base,
		base.Add(1 * time.Second),
		base.Add(59*time.Second + 999*time.Millisecond),
	} {
		if !e.Matches(tt) {
			t.Errorf("Matches(%v) = false; seconds must not matter", tt)
		}
	}
	if e.Matches(base.Add(-time.Second)) {
		t.Error("9:29:59 matched a 30-minute literal")
	}
}

func TestLiteralFields(t *testing.T) {
	e, err := ParseExpression("0 9 * * 1")
	if err != nil {
		t.Fatalf("ParseExpression: %v", err)
	}
	monday := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)
	if monday.Weekday() != time.Monday {
		t.Fatal("fixture is not a Monday")
	}
	if !e.Matches(monday) {
		t.Error("Monday 9:00 should match")
	}
	if e.Matches(monday.Add(24 * time.Hour)) {
		t.Error("Tuesday 9:00 should not match")
	}
	if e.Matches(monday.Add(time.Minute)) {
		t.Error("Monday 9:01 should not match")
	}
}

func TestIsDueIdempotentWithinMinute(t *testing.T) {
	tick := time.Date(2026, time.March, 4, 12, 30, 15, 0, time.UTC)
	first, err := IsDue("*/30 * * * *", tick)
	if err != nil {
		t.Fatalf("IsDue: %v", err)
	}
	second, err := IsDue("*/30 * * * *", tick.Add(20*time.Second))
	if err != nil {
		t.Fatalf("IsDue: %v", err)
	}
	if !first || !second {
		t.Errorf("IsDue = %v, %v; same minute must give the same answer", first, second)
	}
}

func TestParseErrors(t *testing.T) {
	cases := []string{
		"",
		"* * * *",
		"* * * * * *",
		"*/0 * * * *",
		"*/x * * * *",
		"60 * * * *",
		"* 24 * * *",
		"* * 0 * *",
		"* * * 13 *",
		"* * * * 7",
		"a * * * *",
	}
	for _, expr := range cases {
		if _, err := ParseExpression(expr); err == nil {
			t.Errorf("ParseExpression(%q) succeeded", expr)
		}
	}
}

func TestParseValid(t *testing.T) {
	for _, expr := range []string{"* * * * *", "*/1 * * * *", "0 0 1 1 0", "59 23 31 12 6"} {
		if _, err := ParseExpression(expr); err != nil {
			t.Errorf("ParseExpression(%q): %v", expr, err)
		}
	}
}
