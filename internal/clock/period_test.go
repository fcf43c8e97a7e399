package clock

import (
	"testing"
	"time"
)

func TestMonthStart(t *testing.T) {
	in := time.Date(2026, time.March, 31, 23, 59, 59, 0, time.FixedZone("WIB", 7*3600))
	got := MonthStart(in)
	want := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}
	if next := NextMonthStart(in); !next.Equal(time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected next month start %s", next)
	}
}

func TestFakeClockAdvance(t *testing.T) {
	c := NewFakeClock(time.Date(2026, time.January, 31, 12, 0, 0, 0, time.UTC))
	c.Advance(24 * time.Hour)
	if got := c.Now(); got.Month() != time.February || got.Day() != 1 {
		t.Fatalf("unexpected time after advance: %s", got)
	}
}
