// Package jobs runs periodic maintenance work on cron schedules.
package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/keithlinneman/diary/internal/log"
	"github.com/keithlinneman/diary/internal/xerrors"
)

type Job struct {
	Name string
	// Schedule is a standard 5 field cron expression or a descriptor like @hourly
	Schedule string
	Run      func(ctx context.Context) error
}

// ObserveFunc receives the result of every run
type ObserveFunc func(job string, err error, at time.Time)

type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	L       log.Logger
	observe ObserveFunc
	ids     map[string]cron.EntryID
	running bool
	now     func() time.Time
}

func New(L log.Logger, observe ObserveFunc) *Scheduler {
	if L == nil {
		L = log.Nop()
	}
	cl := cronLogger{L: L}
	return &Scheduler{
		cron:    cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		L:       L,
		observe: observe,
		ids:     make(map[string]cron.EntryID),
		now:     time.Now,
	}
}

// Add registers job. Runs get ctx, so cancelling it aborts in-flight work.
func (s *Scheduler) Add(ctx context.Context, job Job) error {
	if job.Name == "" || job.Run == nil {
		return xerrors.New("job needs a name and a run func")
	}
	if _, err := cron.ParseStandard(job.Schedule); err != nil {
		return xerrors.Wrapf(err, "invalid schedule %q for job %s", job.Schedule, job.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.ids[job.Name]; dup {
		return xerrors.Newf("job %s already scheduled", job.Name)
	}
	id, err := s.cron.AddFunc(job.Schedule, func() { s.run(ctx, job) })
	if err != nil {
		return xerrors.Wrapf(err, "schedule job %s", job.Name)
	}
	s.ids[job.Name] = id
	return nil
}

// Start runs the scheduler until ctx is done
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.cron.Start()
	s.running = true
	n := len(s.ids)
	s.mu.Unlock()

	s.L.Info(ctx, "job scheduler started", "jobs", n)
	go func() {
		<-ctx.Done()
		s.Stop()
	}()
}

// Stop halts scheduling and waits for running jobs to return
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.L.Info(context.Background(), "job scheduler stopped")
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns when the named job fires next, zero when unknown or not started
func (s *Scheduler) NextRun(name string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.ids[name]
	if !ok {
		return time.Time{}
	}
	return s.cron.Entry(id).Next
}

func (s *Scheduler) run(ctx context.Context, job Job) {
	if ctx.Err() != nil {
		return
	}
	start := s.now()
	L := s.L.With("job", job.Name)
	err := job.Run(log.WithContext(ctx, L))
	if s.observe != nil {
		s.observe(job.Name, err, start)
	}
	if err != nil {
		L.Error(ctx, xerrors.EnsureTrace(err), "job failed", "duration", s.now().Sub(start))
		return
	}
	L.Debug(ctx, "job finished", "duration", s.now().Sub(start))
}

// cronLogger routes cron's own messages into our logger
type cronLogger struct {
	L log.Logger
}

func (c cronLogger) Info(msg string, kv ...any) {
	c.L.Debug(context.Background(), "cron: "+msg, kv...)
}

// Error also receives panics recovered by cron.Recover
func (c cronLogger) Error(err error, msg string, kv ...any) {
	c.L.Error(context.Background(), xerrors.WithStack(err), "cron: "+msg, kv...)
}
