// Package scheduler runs the fixed-cadence poll loop that ties the probes,
// the position policy and the presentation sink together.
//
// Every tick is independent: the caret and pointer are probed, the language
// probe runs alongside them, the policy picks a target and the result is
// handed to the sink. Nothing observed in one tick influences the next.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"imehud/internal/metrics"
	"imehud/internal/position"
	"imehud/internal/probe"
	"imehud/internal/sink"
)

// DefaultInterval is roughly one frame at 60 Hz.
const DefaultInterval = 16 * time.Millisecond

// ErrAlreadyRunning is returned by Run when the loop is already active.
var ErrAlreadyRunning = errors.New("scheduler: already running")

// Options configures a Scheduler. Zero values select defaults.
type Options struct {
	// Interval between tick starts. Defaults to DefaultInterval.
	Interval time.Duration

	// Logger for sink failures and lifecycle events. Defaults to slog.Default().
	Logger *slog.Logger

	// Metrics receives per-tick counters. Optional.
	Metrics *metrics.HUDMetrics
}

// Scheduler drives the poll loop.
type Scheduler struct {
	probes  *probe.Probes
	sink    sink.Sink
	logger  *slog.Logger
	metrics *metrics.HUDMetrics

	policy     atomic.Pointer[position.Policy]
	classifier atomic.Pointer[probe.Classifier]
	interval   atomic.Int64
	resetCh    chan struct{}

	running atomic.Bool
	seq     atomic.Uint64
	last    atomic.Pointer[sink.Update]

	errMu      sync.Mutex
	sinkErrors map[string]struct{}
}

// New creates a Scheduler. A nil sink discards updates.
func New(probes *probe.Probes, policy position.Policy, s sink.Sink, opts Options) *Scheduler {
	if s == nil {
		s = sink.Discard
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}

	sch := &Scheduler{
		probes:     probes,
		sink:       s,
		logger:     opts.Logger.With("component", "scheduler"),
		metrics:    opts.Metrics,
		resetCh:    make(chan struct{}, 1),
		sinkErrors: make(map[string]struct{}),
	}
	sch.policy.Store(&policy)
	sch.interval.Store(int64(opts.Interval))
	return sch
}

// SetPolicy replaces the arbitration policy from the next tick on.
func (s *Scheduler) SetPolicy(p position.Policy) {
	s.policy.Store(&p)
}

// Policy returns the active policy.
func (s *Scheduler) Policy() position.Policy {
	return *s.policy.Load()
}

// SetClassifier replaces the language classifier. nil restores the
// classifier the probes were built with.
func (s *Scheduler) SetClassifier(c *probe.Classifier) {
	s.classifier.Store(c)
}

// SetInterval changes the tick interval. Non-positive values are ignored.
// A running loop picks the new interval up after its current tick.
func (s *Scheduler) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	if time.Duration(s.interval.Swap(int64(d))) == d {
		return
	}
	select {
	case s.resetCh <- struct{}{}:
	default:
	}
}

// Interval returns the current tick interval.
func (s *Scheduler) Interval() time.Duration {
	return time.Duration(s.interval.Load())
}

// LastUpdate returns the most recent tick's output.
func (s *Scheduler) LastUpdate() (sink.Update, bool) {
	u := s.last.Load()
	if u == nil {
		return sink.Update{}, false
	}
	return *u, true
}

// LastTick returns when the most recent tick ran, or the zero time.
func (s *Scheduler) LastTick() time.Time {
	u, ok := s.LastUpdate()
	if !ok {
		return time.Time{}
	}
	return u.Time
}

// Run ticks until ctx is cancelled. The first tick runs immediately.
// Cancellation is a normal stop and returns nil.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.running.Store(false)

	interval := s.Interval()
	s.logger.Info("poll loop started", "interval", interval, "platform", s.probes.Platform().Name())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("poll loop stopped", "ticks", s.seq.Load())
			return nil
		case <-s.resetCh:
			interval = s.Interval()
			ticker.Reset(interval)
			s.logger.Info("poll interval changed", "interval", interval)
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one probe, decide, present cycle and returns what was
// presented.
func (s *Scheduler) Tick(ctx context.Context) sink.Update {
	start := time.Now()

	langCh := make(chan probe.Language, 1)
	go func() {
		langCh <- s.probes.Language(s.classifier.Load())
	}()

	caret := s.probes.Caret()
	pointer := s.probes.Pointer()
	decision := s.policy.Load().Decide(caret, pointer)
	lang := <-langCh

	u := sink.Update{
		X:          decision.Target.X,
		Y:          decision.Target.Y,
		Lang:       lang.Tag,
		Source:     decision.Source,
		StaleCaret: decision.StaleCaret,
		Diagnostic: lang.Diagnostic,
		Seq:        s.seq.Add(1),
		Time:       start,
	}

	if m := s.metrics; m != nil {
		m.RecordDecision(decision)
		if !caret.OK {
			m.CaretMissesTotal.Inc()
		}
		if !pointer.OK {
			m.PointerMisses.Inc()
		}
		if lang.Tag == probe.LangKorean {
			m.KoreanTicksTotal.Inc()
		}
	}

	s.last.Store(&u)
	s.present(ctx, u)

	if s.metrics != nil {
		s.metrics.RecordTick(start, time.Since(start))
	}
	return u
}

// present hands u to the sink. Each distinct error is logged once until the
// sink recovers.
func (s *Scheduler) present(ctx context.Context, u sink.Update) {
	err := s.sink.Present(ctx, u)

	s.errMu.Lock()
	defer s.errMu.Unlock()

	if err == nil {
		if len(s.sinkErrors) > 0 {
			s.logger.Info("sink recovered")
			clear(s.sinkErrors)
		}
		return
	}

	if s.metrics != nil {
		s.metrics.SinkErrorsTotal.Inc()
	}
	msg := err.Error()
	if _, seen := s.sinkErrors[msg]; seen {
		return
	}
	s.sinkErrors[msg] = struct{}{}
	s.logger.Warn("sink rejected update", "error", err, "seq", u.Seq)
}
