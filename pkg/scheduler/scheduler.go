// Package scheduler runs the collection batch jobs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is one batch job. Run returns how many rows it changed.
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context) (int, error)
}

// Scheduler owns a cron runner and the named jobs registered on it.
type Scheduler struct {
	cron   *cron.Cron
	log    *zap.Logger
	jobs   map[string]Job
	ctx    context.Context
	cancel context.CancelFunc
	locks  map[string]*sync.Mutex // one run per job at a time
}

// cronLogger adapts zap to cron's logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}

// New registers jobs on a UTC cron. A bad spec fails the whole set.
func New(log *zap.Logger, jobs ...Job) (*Scheduler, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("scheduler")
	cl := cronLogger{s: log.Sugar()}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:   cron.New(cron.WithLocation(time.UTC), cron.WithLogger(cl), cron.WithChain(cron.Recover(cl))),
		log:    log,
		jobs:   make(map[string]Job, len(jobs)),
		ctx:    ctx,
		cancel: cancel,
		locks:  make(map[string]*sync.Mutex, len(jobs)),
	}
	for _, j := range jobs {
		if _, dup := s.jobs[j.Name]; dup {
			cancel()
			return nil, fmt.Errorf("duplicate job %q", j.Name)
		}
		s.jobs[j.Name] = j
		s.locks[j.Name] = &sync.Mutex{}
		if j.Spec == "" {
			continue
		}
		if _, err := s.cron.AddFunc(j.Spec, func() { s.run(s.ctx, j) }); err != nil {
			cancel()
			return nil, fmt.Errorf("invalid schedule for %s: %w", j.Name, err)
		}
	}
	return s, nil
}

func (s *Scheduler) run(ctx context.Context, j Job) (int, error) {
	lock := s.locks[j.Name]
	if !lock.TryLock() {
		s.log.Warn("job still running, skipped", zap.String("job", j.Name))
		return 0, fmt.Errorf("job %s is already running", j.Name)
	}
	defer lock.Unlock()

	start := time.Now()
	n, err := j.Run(ctx)
	fields := []zap.Field{zap.String("job", j.Name), zap.Int("rows", n), zap.Duration("took", time.Since(start))}
	if err != nil {
		s.log.Error("job finished with errors", append(fields, zap.Error(err))...)
		return n, err
	}
	s.log.Info("job finished", fields...)
	return n, nil
}

// RunNow runs a registered job immediately on the caller's goroutine.
func (s *Scheduler) RunNow(ctx context.Context, name string) (int, error) {
	j, ok := s.jobs[name]
	if !ok {
		return 0, fmt.Errorf("unknown job %q", name)
	}
	return s.run(ctx, j)
}

// Jobs lists the registered job names.
func (s *Scheduler) Jobs() []string {
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Start begins firing jobs on their schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started", zap.Int("jobs", len(s.cron.Entries())))
}

// Stop halts scheduling, cancels running jobs' context and waits for them
// to return or for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	s.cancel()
	select {
	case <-done.Done():
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
