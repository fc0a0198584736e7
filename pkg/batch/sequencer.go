package batch

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"
)

// SendFunc receives one literal script line per call, already trimmed
type SendFunc func(line string)

// LogFunc receives progress messages for delay directives
type LogFunc func(msg string)

// Timer is a pending single-shot continuation
type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d has elapsed without blocking the caller.
// Implementations must not invoke f synchronously from AfterFunc.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type timeScheduler struct{}

func (timeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// DefaultScheduler schedules continuations with time.AfterFunc
var DefaultScheduler Scheduler = timeScheduler{}

// State represents the run state of a Sequencer
type State int

const (
	StateIdle State = iota
	StateRunning
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// Report summarizes one finished or canceled run
type Report struct {
	Run      uint64        `json:"run"`
	Sent     int           `json:"sent"`
	Delays   int           `json:"delays"`
	Skipped  int           `json:"skipped"`
	Canceled bool          `json:"canceled"`
	Elapsed  time.Duration `json:"elapsed"`
}

// Option configures a Sequencer
type Option func(*Sequencer)

// WithLogFunc sets the sink for delay progress messages
func WithLogFunc(fn LogFunc) Option {
	return func(s *Sequencer) { s.log = fn }
}

// WithScheduler replaces the timer primitive used for delays
func WithScheduler(sched Scheduler) Option {
	return func(s *Sequencer) {
		if sched != nil {
			s.scheduler = sched
		}
	}
}

// WithRand sets the random source used by rand_delay
func WithRand(r *rand.Rand) Option {
	return func(s *Sequencer) {
		if r != nil {
			s.rng = r
		}
	}
}

// WithOnFinished registers a callback invoked once per run, when the run
// reaches the end of its script, is canceled, or is replaced by Start.
func WithOnFinished(fn func(Report)) Option {
	return func(s *Sequencer) { s.onFinished = fn }
}

// WithLogger sets the diagnostic logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sequencer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Sequencer executes batch scripts line by line against a send sink.
//
// Literal lines are dispatched immediately; delay directives suspend the run
// by scheduling a single-shot continuation. Only one run is active at a time.
// Starting a new run while one is in flight cancels the old run and replaces
// it. Callbacks are invoked without internal locks held, so they may call
// Start or Cancel.
type Sequencer struct {
	send       SendFunc
	log        LogFunc
	onFinished func(Report)
	scheduler  Scheduler
	rng        *rand.Rand
	logger     *slog.Logger

	mu      sync.Mutex
	lines   []string
	cursor  int
	state   State
	gen     uint64
	pending Timer
	report  Report
	started time.Time
	done    func(Report)
}

// New creates a sequencer that dispatches literal lines to send
func New(send SendFunc, opts ...Option) *Sequencer {
	s := &Sequencer{
		send:      send,
		scheduler: DefaultScheduler,
		rng:       rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		logger:    slog.Default(),
		state:     StateIdle,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start begins executing lines and returns the new run's id.
// Any run already in progress is canceled first.
func (s *Sequencer) Start(lines []string) uint64 {
	return s.StartNotify(lines, nil)
}

// StartNotify is like Start and additionally calls done exactly once with
// the report of this run, before the WithOnFinished callback.
func (s *Sequencer) StartNotify(lines []string, done func(Report)) uint64 {
	script := make([]string, len(lines))
	copy(script, lines)

	s.mu.Lock()
	var replaced *Report
	var replacedDone func(Report)
	if s.state == StateRunning {
		r, d := s.stopLocked(true)
		replaced, replacedDone = &r, d
	}

	s.gen++
	gen := s.gen
	s.lines = script
	s.cursor = 0
	s.state = StateRunning
	s.report = Report{Run: gen}
	s.started = time.Now()
	s.done = done
	s.mu.Unlock()

	if replaced != nil {
		s.logger.Debug("batch run replaced", "run", replaced.Run, "next", gen)
		s.finished(*replaced, replacedDone)
	}

	s.logger.Debug("batch run started", "run", gen, "lines", len(script))
	s.step(gen)

	return gen
}

// Cancel aborts the active run and drops its pending continuation.
// It returns false when no run was active.
func (s *Sequencer) Cancel() bool {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return false
	}
	report, done := s.stopLocked(true)
	s.mu.Unlock()

	s.logger.Debug("batch run canceled", "run", report.Run, "sent", report.Sent)
	s.finished(report, done)
	return true
}

// State returns the current run state
func (s *Sequencer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Position returns the index of the next line to interpret and the script length
func (s *Sequencer) Position() (cursor, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.cursor, len(s.lines)
}

// step interprets lines until the script ends, a delay suspends the run, or
// the run identified by gen is no longer current.
func (s *Sequencer) step(gen uint64) {
	for {
		s.mu.Lock()
		if gen != s.gen || s.state != StateRunning {
			s.mu.Unlock()
			return
		}
		s.pending = nil

		if s.cursor >= len(s.lines) {
			report, done := s.stopLocked(false)
			s.mu.Unlock()

			s.logger.Debug("batch run finished", "run", report.Run, "sent", report.Sent, "elapsed", report.Elapsed)
			s.finished(report, done)
			return
		}

		// Advance before interpreting so callbacks observe the next line
		index := s.cursor
		s.cursor++
		d := ParseDirective(s.lines[index])

		switch d.Kind {
		case KindBlank, KindComment:
			s.report.Skipped++
			s.mu.Unlock()
			continue

		case KindLiteral:
			s.report.Sent++
			s.mu.Unlock()

			s.logger.Debug("batch send", "run", gen, "line", index+1, "text", d.Text)
			if s.send != nil {
				s.send(d.Text)
			}
			continue
		}

		delay, msg := s.resolveLocked(d)
		if delay > 0 {
			s.report.Delays++
		}
		s.mu.Unlock()

		if msg != "" && s.log != nil {
			s.log(msg)
		}
		if delay <= 0 {
			continue
		}

		s.mu.Lock()
		if gen != s.gen || s.state != StateRunning {
			s.mu.Unlock()
			return
		}
		s.logger.Debug("batch delay", "run", gen, "line", index+1, "delay", delay)
		s.pending = s.scheduler.AfterFunc(delay, func() { s.step(gen) })
		s.mu.Unlock()
		return
	}
}

// resolveLocked computes the delay and progress message for a delay directive.
// Fixed delays of zero produce no message.
func (s *Sequencer) resolveLocked(d Directive) (time.Duration, string) {
	switch d.Kind {
	case KindDelaySeconds:
		delay := d.Delay()
		if delay <= 0 {
			return 0, ""
		}
		return delay, fmt.Sprintf(">>: Delay %s seconds ...\n", formatSeconds(d.Seconds))

	case KindDelayMillis:
		delay := d.Delay()
		if delay <= 0 {
			return 0, ""
		}
		return delay, fmt.Sprintf(">>: Delay %d ms ...\n", d.Millis)

	case KindRandomDelay:
		lo, hi := d.Range()
		drawn := lo + uint32(s.rng.Uint64N(uint64(hi-lo)+1))
		return time.Duration(drawn) * time.Millisecond,
			fmt.Sprintf(">>: Random Delay %d ms (range %d-%d ms)\n", drawn, lo, hi)
	}

	return 0, ""
}

// stopLocked returns the sequencer to idle and snapshots the run report
// together with the run's completion callback.
func (s *Sequencer) stopLocked(canceled bool) (Report, func(Report)) {
	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
	}
	if canceled {
		// Invalidate any continuation that already fired but has not run yet
		s.gen++
	}

	s.state = StateIdle
	report := s.report
	report.Canceled = canceled
	report.Elapsed = time.Since(s.started)

	done := s.done
	s.done = nil
	return report, done
}

func (s *Sequencer) finished(report Report, done func(Report)) {
	if done != nil {
		done(report)
	}
	if s.onFinished != nil {
		s.onFinished(report)
	}
}
