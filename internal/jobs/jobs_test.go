package jobs

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakePurger struct {
	n     int64
	err   error
	calls int
}

func (f *fakePurger) PurgeExpiredTokens(context.Context) (int64, error) {
	f.calls++
	return f.n, f.err
}

func TestAdd_Validation(t *testing.T) {
	s := New(nil, nil)
	ctx := context.Background()
	noop := func(context.Context) error { return nil }

	tests := []struct {
		name string
		job  Job
		ok   bool
	}{
		{"descriptor", Job{Name: "a", Schedule: "@hourly", Run: noop}, true},
		{"five field", Job{Name: "b", Schedule: "*/5 * * * *", Run: noop}, true},
		{"bad schedule", Job{Name: "c", Schedule: "every tuesday", Run: noop}, false},
		{"no name", Job{Schedule: "@hourly", Run: noop}, false},
		{"no func", Job{Name: "d", Schedule: "@hourly"}, false},
		{"duplicate", Job{Name: "a", Schedule: "@daily", Run: noop}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Add(ctx, tt.job)
			if (err == nil) != tt.ok {
				t.Fatalf("Add err = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

func TestRun_ObservesResult(t *testing.T) {
	var gotJob string
	var gotErr error
	s := New(nil, func(job string, err error, _ time.Time) { gotJob, gotErr = job, err })

	boom := errors.New("boom")
	s.run(context.Background(), Job{Name: "x", Run: func(context.Context) error { return boom }})
	if gotJob != "x" || !errors.Is(gotErr, boom) {
		t.Fatalf("observed %q %v", gotJob, gotErr)
	}
}

func TestRun_SkipsCancelledContext(t *testing.T) {
	s := New(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ran := false
	s.run(ctx, Job{Name: "x", Run: func(context.Context) error { ran = true; return nil }})
	if ran {
		t.Fatal("job should not run once ctx is done")
	}
}

func TestPurgeTokens(t *testing.T) {
	p := &fakePurger{n: 3}
	job := PurgeTokens(p, "@hourly")
	if job.Name != PurgeTokensJob || job.Schedule != "@hourly" {
		t.Fatalf("job = %+v", job)
	}
	if err := job.Run(context.Background()); err != nil || p.calls != 1 {
		t.Fatalf("run err=%v calls=%d", err, p.calls)
	}

	p.err = errors.New("db down")
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("purge error should propagate")
	}
}

func TestStartStop(t *testing.T) {
	s := New(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Add(ctx, PurgeTokens(&fakePurger{}, "@hourly")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if !s.NextRun(PurgeTokensJob).IsZero() {
		t.Fatal("next run should be unknown before start")
	}

	s.Start(ctx)
	if !s.Running() {
		t.Fatal("scheduler should be running")
	}
	if next := s.NextRun(PurgeTokensJob); next.IsZero() || next.After(time.Now().Add(time.Hour+time.Second)) {
		t.Fatalf("next run = %v", next)
	}
	if !s.NextRun("unknown").IsZero() {
		t.Fatal("unknown job should have no next run")
	}

	cancel()
	deadline := time.Now().Add(2 * time.Second)
	for s.Running() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.Running() {
		t.Fatal("scheduler should stop when ctx is cancelled")
	}
}
