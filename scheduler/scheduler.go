// Package scheduler runs commands and periodic hooks on a single goroutine at a fixed period.
// Every drivetrain mutation happens on that goroutine, so a command handed in from elsewhere
// takes effect at the top of the next cycle.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	viamutils "go.viam.com/utils"

	"swerve/command"
)

// DefaultPeriod is the cycle period of the control loop.
const DefaultPeriod = 20 * time.Millisecond

// ErrClosed is returned when scheduling on a closed scheduler.
var ErrClosed = errors.New("scheduler is closed")

// Periodic is called once per cycle before any command runs.
type Periodic func(ctx context.Context) error

// Scheduler is a cooperative fixed period command loop.
type Scheduler struct {
	clk    clock.Clock
	period time.Duration
	logger logging.Logger

	// pendingMu is separate from mu so commands can schedule from inside Execute.
	pendingMu sync.Mutex
	pending   []command.Command

	mu             sync.Mutex
	periodics      []namedPeriodic
	defaultCommand command.Command
	active         command.Command
	instants       []command.Command
	cycles         uint64

	started                 bool
	closed                  atomic.Bool
	cancel                  func()
	activeBackgroundWorkers sync.WaitGroup
}

type namedPeriodic struct {
	name string
	fn   Periodic
}

// New returns a scheduler that is not yet running.
func New(clk clock.Clock, period time.Duration, logger logging.Logger) *Scheduler {
	if period <= 0 {
		period = DefaultPeriod
	}
	return &Scheduler{
		clk:    clk,
		period: period,
		logger: logger,
		cancel: func() {},
	}
}

// Period returns the cycle period.
func (s *Scheduler) Period() time.Duration {
	return s.period
}

// AddPeriodic registers a hook run at the start of every cycle, in registration order.
func (s *Scheduler) AddPeriodic(name string, fn Periodic) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.periodics = append(s.periodics, namedPeriodic{name: name, fn: fn})
}

// SetDefaultCommand sets the exclusive command that runs whenever no other exclusive command
// is active.
func (s *Scheduler) SetDefaultCommand(cmd command.Command) error {
	if cmd == nil || !cmd.Exclusive() {
		return errors.New("default command must be an exclusive command")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaultCommand = cmd
	return nil
}

// Schedule hands cmd to the loop. It is picked up at the top of the next cycle. Schedule never
// blocks, so commands may call it from inside Execute.
func (s *Scheduler) Schedule(ctx context.Context, cmd command.Command) error {
	if cmd == nil {
		return errors.New("cannot schedule a nil command")
	}
	if s.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	s.pending = append(s.pending, cmd)
	return nil
}

// Start launches the loop goroutine.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.closed.Load() {
		return
	}
	s.started = true

	cancelCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	// created here so a mock clock sees the ticker before Start returns
	ticker := s.clk.Ticker(s.period)

	s.activeBackgroundWorkers.Add(1)
	viamutils.ManagedGo(func() {
		defer ticker.Stop()
		for {
			select {
			case <-cancelCtx.Done():
				return
			case <-ticker.C:
			}
			s.RunCycle(cancelCtx)
		}
	}, s.activeBackgroundWorkers.Done)
}

// RunCycle runs one cycle: pending commands are admitted, periodic hooks run, then
// non-exclusive commands and finally the active exclusive command.
func (s *Scheduler) RunCycle(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.admitPending(ctx)

	for _, p := range s.periodics {
		if err := p.fn(ctx); err != nil {
			s.logger.Warnw("periodic hook failed", "hook", p.name, "error", err)
		}
	}

	remaining := s.instants[:0]
	for _, cmd := range s.instants {
		if s.execute(ctx, cmd) {
			remaining = append(remaining, cmd)
		}
	}
	for i := len(remaining); i < len(s.instants); i++ {
		s.instants[i] = nil
	}
	s.instants = remaining

	if s.active == nil {
		s.active = s.defaultCommand
	}
	if s.active != nil && !s.execute(ctx, s.active) {
		s.active = nil
	}
	s.cycles++
}

func (s *Scheduler) admitPending(ctx context.Context) {
	s.pendingMu.Lock()
	pending := s.pending
	s.pending = nil
	s.pendingMu.Unlock()

	for _, cmd := range pending {
		if !cmd.Exclusive() {
			s.instants = append(s.instants, cmd)
			continue
		}
		if s.active != nil && s.active != cmd {
			s.logger.Debugw("command interrupted", "command", s.active.Name(), "by", cmd.Name())
			s.active.End(ctx, true)
		}
		s.active = cmd
	}
}

// execute runs cmd once and reports whether it should keep running.
func (s *Scheduler) execute(ctx context.Context, cmd command.Command) bool {
	if err := cmd.Execute(ctx); err != nil {
		s.logger.Warnw("command failed", "command", cmd.Name(), "error", err)
		cmd.End(ctx, true)
		return false
	}
	if cmd.IsFinished() {
		cmd.End(ctx, false)
		return false
	}
	return true
}

// ActiveCommand returns the name of the running exclusive command, or "" if none.
func (s *Scheduler) ActiveCommand() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return ""
	}
	return s.active.Name()
}

// Cycles returns the number of completed cycles.
func (s *Scheduler) Cycles() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cycles
}

// Close stops the loop and interrupts every running command.
func (s *Scheduler) Close(ctx context.Context) error {
	if s.closed.Swap(true) {
		return nil
	}
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.activeBackgroundWorkers.Wait()

	s.pendingMu.Lock()
	s.pending = nil
	s.pendingMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cmd := range s.instants {
		cmd.End(ctx, true)
	}
	s.instants = nil
	if s.active != nil {
		s.active.End(ctx, true)
		s.active = nil
	}
	return nil
}
