package recur_test

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/chrono"
	"github.com/xraph/chrono/job"
	"github.com/xraph/chrono/recur"
)

func repeating(interval, tz string) *job.Job {
	return &job.Job{
		Name:           "tick",
		RepeatInterval: interval,
		RepeatTimezone: tz,
	}
}

func TestNext_OneShot(t *testing.T) {
	p := recur.NewPlanner(slog.Default())
	now := time.Now().UTC()

	_, ok, err := p.Next(&job.Job{Name: "once"}, now, now)
	if err != nil {
		t.Fatalf("next error: %v", err)
	}
	if ok {
		t.Error("one-shot job must not get a next run")
	}
}

func TestNext_FixedInterval(t *testing.T) {
	p := recur.NewPlanner(slog.Default())
	completed := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	next, ok, err := p.Next(repeating("5m", ""), completed, completed)
	if err != nil {
		t.Fatalf("next error: %v", err)
	}
	if !ok {
		t.Fatal("interval job must repeat")
	}
	want := completed.Add(5 * time.Minute)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}

func TestNext_FixedInterval_SkipsMissedPeriods(t *testing.T) {
	p := recur.NewPlanner(slog.Default())
	completed := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	// The process was down for roughly a day; none of the missed
	// five-minute occurrences may be replayed.
	now := completed.Add(25 * time.Hour)

	next, ok, err := p.Next(repeating("5m", ""), completed, now)
	if err != nil {
		t.Fatalf("next error: %v", err)
	}
	if !ok {
		t.Fatal("interval job must repeat")
	}
	if !next.After(now) {
		t.Errorf("next = %v, want strictly after %v", next, now)
	}
	if next.Sub(now) > 5*time.Minute {
		t.Errorf("next = %v, want within one period of %v", next, now)
	}
}

func TestNext_Cron(t *testing.T) {
	p := recur.NewPlanner(slog.Default())
	completed := time.Date(2026, 3, 10, 12, 30, 0, 0, time.UTC)

	next, ok, err := p.Next(repeating("0 * * * *", ""), completed, completed)
	if err != nil {
		t.Fatalf("next error: %v", err)
	}
	if !ok {
		t.Fatal("cron job must repeat")
	}
	want := time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}

func TestNext_CronDescriptor(t *testing.T) {
	p := recur.NewPlanner(slog.Default())
	completed := time.Date(2026, 3, 10, 12, 30, 0, 0, time.UTC)

	next, ok, err := p.Next(repeating("@daily", ""), completed, completed)
	if err != nil {
		t.Fatalf("next error: %v", err)
	}
	if !ok {
		t.Fatal("descriptor job must repeat")
	}
	want := time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}

func TestNext_CronTimezone(t *testing.T) {
	p := recur.NewPlanner(slog.Default())
	// 09:00 in New York is 14:00 UTC on this date (EST, UTC-5).
	completed := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	next, ok, err := p.Next(repeating("0 9 * * *", "America/New_York"), completed, completed)
	if err != nil {
		t.Fatalf("next error: %v", err)
	}
	if !ok {
		t.Fatal("cron job must repeat")
	}
	want := time.Date(2026, 1, 15, 14, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v (09:00 America/New_York)", next, want)
	}
}

func TestNext_CronSkipsMissedOccurrences(t *testing.T) {
	p := recur.NewPlanner(slog.Default())
	completed := time.Date(2026, 3, 10, 12, 30, 0, 0, time.UTC)
	now := completed.Add(48 * time.Hour)

	next, ok, err := p.Next(repeating("0 * * * *", ""), completed, now)
	if err != nil {
		t.Fatalf("next error: %v", err)
	}
	if !ok {
		t.Fatal("cron job must repeat")
	}
	if !next.After(now) {
		t.Errorf("next = %v, want strictly after %v", next, now)
	}
	if next.Sub(now) > time.Hour {
		t.Errorf("next = %v, want the first hourly slot after %v", next, now)
	}
}

func TestNext_Invalid(t *testing.T) {
	p := recur.NewPlanner(slog.Default())
	now := time.Now().UTC()

	for _, interval := range []string{"soon", "-5m", "0s"} {
		_, _, err := p.Next(repeating(interval, ""), now, now)
		if !errors.Is(err, chrono.ErrInvalidRepeat) {
			t.Errorf("Next(%q) err = %v, want ErrInvalidRepeat", interval, err)
		}
	}

	_, _, err := p.Next(repeating("5m", "Not/AZone"), now, now)
	if !errors.Is(err, chrono.ErrInvalidRepeat) {
		t.Errorf("bad timezone err = %v, want ErrInvalidRepeat", err)
	}
}

func TestValidate(t *testing.T) {
	p := recur.NewPlanner(slog.Default())

	for _, ok := range []string{"", "5m", "0 * * * *", "@hourly", "90s"} {
		if err := p.Validate(ok); err != nil {
			t.Errorf("Validate(%q) = %v, want nil", ok, err)
		}
	}
	for _, bad := range []string{"whenever", "-1h", "* * *"} {
		if err := p.Validate(bad); !errors.Is(err, chrono.ErrInvalidRepeat) {
			t.Errorf("Validate(%q) = %v, want ErrInvalidRepeat", bad, err)
		}
	}
}
