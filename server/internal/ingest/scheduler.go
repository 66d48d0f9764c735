package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/obsidianstack/microclimate/pkg/types"
	"github.com/obsidianstack/microclimate/server/internal/metrics"
	"github.com/obsidianstack/microclimate/server/internal/registry"
	"github.com/obsidianstack/microclimate/server/internal/score"
)

const (
	// MinInterval is the smallest accepted gap between cycles.
	MinInterval = 10 * time.Second

	DefaultInterval     = 60 * time.Second
	DefaultFetchTimeout = 20 * time.Second
	DefaultConcurrency  = 8
	DefaultStopTimeout  = 5 * time.Second
)

var (
	// ErrStopInProgress is returned by Start while a previous loop is still
	// draining after a Stop that timed out.
	ErrStopInProgress = errors.New("ingest: previous loop still stopping")

	// ErrPanic wraps a panic recovered from a per-source task.
	ErrPanic = errors.New("ingest: source task panicked")
)

// State is the scheduler lifecycle state.
type State int

const (
	Idle State = iota
	Running
	StopRequested
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case StopRequested:
		return "stop_requested"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Fetcher retrieves the raw bytes for a source. Implementations must honour
// ctx cancellation.
type Fetcher interface {
	Fetch(ctx context.Context, src types.Source) ([]byte, error)
}

// Store persists the latest result per source.
type Store interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

// Publisher fans a message out to live subscribers.
type Publisher interface {
	Publish(ctx context.Context, msg any) int
}

// Deps are the collaborators a Scheduler drives.
type Deps struct {
	Registry registry.Lister
	Fetcher  Fetcher
	Score    score.Func // defaults to score.Compute
	Store    Store
	Hub      Publisher

	// OnResult, when set, observes every result and its source after the
	// result is published.
	OnResult func(types.Source, types.AnalysisResult)
}

// Options tunes the loop. Zero values take the defaults above.
type Options struct {
	Interval     time.Duration
	FetchTimeout time.Duration
	Concurrency  int
	StopTimeout  time.Duration

	// ResultTTL is passed to Store.Set. Zero means no expiry.
	ResultTTL time.Duration
}

// Outcome is the result of processing one source in one cycle. Exactly one
// of Result and Skip is set.
type Outcome struct {
	SourceID string
	Result   *types.AnalysisResult
	Skip     error
}

// CycleReport summarises one cycle.
type CycleReport struct {
	ID        string
	StartedAt time.Time
	Duration  time.Duration
	Outcomes  []Outcome
}

// Succeeded returns the results produced in the cycle.
func (r CycleReport) Succeeded() []types.AnalysisResult {
	var out []types.AnalysisResult
	for _, o := range r.Outcomes {
		if o.Result != nil {
			out = append(out, *o.Result)
		}
	}
	return out
}

// Skipped returns the outcomes that produced no result.
func (r CycleReport) Skipped() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Result == nil {
			out = append(out, o)
		}
	}
	return out
}

// Scheduler drives the periodic ingestion loop.
type Scheduler struct {
	deps Deps

	interval     time.Duration
	fetchTimeout time.Duration
	stopTimeout  time.Duration
	resultTTL    time.Duration
	sem          *semaphore.Weighted
	now          func() time.Time

	mu    sync.Mutex
	state State
	stop  chan struct{}
	done  chan struct{}
	err   error
}

// New validates deps and applies option defaults. Intervals below
// MinInterval are raised to MinInterval.
func New(deps Deps, opts Options) (*Scheduler, error) {
	if deps.Registry == nil || deps.Fetcher == nil || deps.Store == nil || deps.Hub == nil {
		return nil, errors.New("ingest: registry, fetcher, store and hub are required")
	}
	if deps.Score == nil {
		deps.Score = score.Compute
	}

	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Interval < MinInterval {
		slog.Warn("ingest: interval below minimum, clamping",
			"requested", opts.Interval, "min", MinInterval)
		opts.Interval = MinInterval
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}

	return &Scheduler{
		deps:         deps,
		interval:     opts.Interval,
		fetchTimeout: opts.FetchTimeout,
		stopTimeout:  opts.StopTimeout,
		resultTTL:    opts.ResultTTL,
		sem:          semaphore.NewWeighted(int64(opts.Concurrency)),
		now:          time.Now,
		state:        Idle,
		done:         make(chan struct{}),
	}, nil
}

// Interval returns the effective gap between cycles.
func (s *Scheduler) Interval() time.Duration { return s.interval }

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done returns a channel closed when the most recently started loop exits.
func (s *Scheduler) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Err reports why the last loop terminated abnormally, or nil.
func (s *Scheduler) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Start launches the loop in the background and returns immediately. It is a
// no-op while Running. The loop does not inherit ctx's cancellation; use Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Running:
		return nil
	case StopRequested:
		return ErrStopInProgress
	case Stopped:
		s.done = make(chan struct{})
	}

	s.stop = make(chan struct{})
	s.err = nil
	s.state = Running
	go s.loop(context.WithoutCancel(ctx), s.stop, s.done)

	slog.Info("ingest: scheduler started",
		"interval", s.interval, "fetch_timeout", s.fetchTimeout)
	return nil
}

// Stop requests the loop to exit and waits up to StopTimeout for it. It
// returns immediately when the loop is not running.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.state != Running {
		s.mu.Unlock()
		return
	}
	s.state = StopRequested
	close(s.stop)
	done := s.done
	s.mu.Unlock()

	t := time.NewTimer(s.stopTimeout)
	defer t.Stop()
	select {
	case <-done:
		slog.Info("ingest: scheduler stopped")
	case <-t.C:
		slog.Warn("ingest: stop timed out, cycle still draining", "timeout", s.stopTimeout)
	}
}

func (s *Scheduler) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer func() {
		s.mu.Lock()
		if r := recover(); r != nil {
			s.err = fmt.Errorf("ingest: loop panic: %v", r)
			slog.Error("ingest: loop terminated", "err", s.err)
		}
		s.state = Stopped
		s.mu.Unlock()
		close(done)
	}()

	wait := time.NewTimer(0)
	defer wait.Stop()

	for {
		select {
		case <-stop:
			return
		case <-wait.C:
		}

		report, err := s.RunCycle(ctx)
		if err != nil {
			slog.Error("ingest: cycle failed", "cycle", report.ID, "err", err)
		} else {
			slog.Info("ingest: cycle complete",
				"cycle", report.ID,
				"ok", len(report.Succeeded()),
				"skipped", len(report.Skipped()),
				"duration", report.Duration)
		}
		wait.Reset(s.interval)
	}
}

// RunCycle executes exactly one cycle and returns once every source task has
// settled. The only error is a registry failure.
func (s *Scheduler) RunCycle(ctx context.Context) (CycleReport, error) {
	report := CycleReport{ID: uuid.NewString(), StartedAt: s.now()}

	sources, err := s.deps.Registry.List(ctx)
	if err != nil {
		metrics.RecordRegistryError()
		report.Duration = time.Since(report.StartedAt)
		return report, fmt.Errorf("ingest: list sources: %w", err)
	}
	metrics.SetSourcesConfigured(len(sources))

	report.Outcomes = make([]Outcome, len(sources))
	var wg sync.WaitGroup
	for i, src := range sources {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			for j := i; j < len(sources); j++ {
				report.Outcomes[j] = Outcome{SourceID: sources[j].ID, Skip: err}
			}
			break
		}
		wg.Add(1)
		go func(i int, src types.Source) {
			defer wg.Done()
			defer s.sem.Release(1)
			report.Outcomes[i] = s.process(ctx, src)
		}(i, src)
	}
	wg.Wait()

	report.Duration = time.Since(report.StartedAt)
	metrics.RecordCycle(report.Duration, len(report.Succeeded()), len(report.Skipped()))
	return report, nil
}

// process runs fetch, score, store and publish for one source. It never
// panics; a recovered panic becomes a Skip.
func (s *Scheduler) process(ctx context.Context, src types.Source) (out Outcome) {
	out.SourceID = src.ID
	defer func() {
		if r := recover(); r != nil {
			slog.Error("ingest: source task panicked", "source", src.ID, "panic", r)
			out = Outcome{SourceID: src.ID, Skip: fmt.Errorf("%w: %v", ErrPanic, r)}
		}
	}()

	fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	data, err := s.deps.Fetcher.Fetch(fetchCtx, src)
	cancel()
	if err != nil {
		slog.Warn("ingest: fetch failed, skipping source", "source", src.ID, "err", err)
		out.Skip = err
		return out
	}

	sc := s.deps.Score(data)
	res := types.NewAnalysisResult(src, sc.Value, s.now())

	if err := s.deps.Store.Set(ctx, types.AnalysisKey(src.ID), res, s.resultTTL); err != nil {
		slog.Error("ingest: store write failed", "source", src.ID, "err", err)
	}
	delivered := s.deps.Hub.Publish(ctx, types.NewAnalysisEnvelope(res))
	metrics.SetLastScore(src.ID, res.Score)
	if s.deps.OnResult != nil {
		s.deps.OnResult(src, res)
	}

	slog.Debug("ingest: source processed",
		"source", src.ID, "score", res.Score,
		"width", sc.Width, "height", sc.Height, "delivered", delivered)

	out.Result = &res
	return out
}
