package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var (
	// ErrJobRunning is returned when a run is requested while the same job is in flight.
	ErrJobRunning = errors.New("job already running")
	// ErrUnknownJob is returned for names that were never registered.
	ErrUnknownJob = errors.New("unknown job")
)

// Func is the unit of work executed by the scheduler.
type Func func(ctx context.Context) error

// Result labels a finished run.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	ResultSkipped Result = "skipped"
)

// Observer is notified after every run attempt.
type Observer func(job string, result Result, duration time.Duration)

// Entry describes a registered job.
type Entry struct {
	Name string    `json:"name"`
	Spec string    `json:"spec"`
	Next time.Time `json:"next"`
	Prev time.Time `json:"prev"`
}

type job struct {
	name    string
	spec    string
	fn      Func
	entryID cron.EntryID
}

// Scheduler runs named jobs on cron specs. Each job name carries a single-flight
// guard shared by scheduled and manual runs, so overlapping executions are skipped.
type Scheduler struct {
	cron     *cron.Cron
	logger   *zap.Logger
	observer Observer

	mu      sync.Mutex
	jobs    map[string]*job
	running map[string]*atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithObserver installs a run observer, typically feeding metrics.
func WithObserver(o Observer) Option {
	return func(s *Scheduler) { s.observer = o }
}

// New constructs a scheduler evaluating specs in loc (nil means time.Local).
func New(logger *zap.Logger, loc *time.Location, opts ...Option) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.Local
	}
	cl := cronLogger{l: logger.Sugar()}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
		logger:  logger,
		jobs:    make(map[string]*job),
		running: make(map[string]*atomic.Bool),
		ctx:     context.Background(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// LoadLocation resolves a timezone name, falling back to time.Local.
func LoadLocation(name string) *time.Location {
	if name == "" || name == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.Local
	}
	return loc
}

// Register adds a job under a unique name.
func (s *Scheduler) Register(name, spec string, fn Func) error {
	if fn == nil {
		return fmt.Errorf("register %s: nil func", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("register %s: duplicate job name", name)
	}
	j := &job{name: name, spec: spec, fn: fn}
	id, err := s.cron.AddFunc(spec, func() {
		if err := s.RunExclusive(s.baseContext(), name, fn); err != nil && !errors.Is(err, ErrJobRunning) {
			s.logger.Error("scheduled job failed", zap.String("job", name), zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("register %s: %w", name, err)
	}
	j.entryID = id
	s.jobs[name] = j
	if _, ok := s.running[name]; !ok {
		s.running[name] = &atomic.Bool{}
	}
	return nil
}

// RunNow executes a registered job immediately under its guard.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.RunExclusive(ctx, name, j.fn)
}

// RunExclusive runs fn while holding the single-flight guard for name. It returns
// ErrJobRunning without calling fn if another run of name is in progress.
func (s *Scheduler) RunExclusive(ctx context.Context, name string, fn Func) error {
	flag := s.guard(name)
	if !flag.CompareAndSwap(false, true) {
		s.logger.Warn("job still running, skipping", zap.String("job", name))
		s.observe(name, ResultSkipped, 0)
		return ErrJobRunning
	}
	defer flag.Store(false)

	s.wg.Add(1)
	defer s.wg.Done()

	start := time.Now()
	err := fn(ctx)
	duration := time.Since(start)
	if err != nil {
		s.observe(name, ResultFailure, duration)
		return err
	}
	s.observe(name, ResultSuccess, duration)
	s.logger.Debug("job finished", zap.String("job", name), zap.Duration("duration", duration))
	return nil
}

// Start begins evaluating cron specs. Jobs receive a context derived from ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("jobs", len(s.Entries())))
}

// Stop halts the cron loop, cancels job contexts and waits for in-flight runs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// Entries lists registered jobs sorted by name.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.jobs))
	for _, j := range s.jobs {
		e := s.cron.Entry(j.entryID)
		out = append(out, Entry{Name: j.name, Spec: j.spec, Next: e.Next, Prev: e.Prev})
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

func (s *Scheduler) guard(name string) *atomic.Bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	flag, ok := s.running[name]
	if !ok {
		flag = &atomic.Bool{}
		s.running[name] = flag
	}
	return flag
}

func (s *Scheduler) baseContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

func (s *Scheduler) observe(name string, result Result, d time.Duration) {
	if s.observer != nil {
		s.observer(name, result, d)
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
