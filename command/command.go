// Package command defines the unit of work the scheduler runs each cycle and the named command
// registry used by operator input and autonomous routines.
package command

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/rdk/logging"
)

// Command is executed once per scheduler cycle until it reports finished or is replaced.
type Command interface {
	Name() string
	// Exclusive commands need the drivetrain. The scheduler runs at most one at a time and a
	// newly scheduled exclusive command interrupts the previous one.
	Exclusive() bool
	Execute(ctx context.Context) error
	IsFinished() bool
	// End is called exactly once, after the last Execute, or when the command is interrupted.
	End(ctx context.Context, interrupted bool)
}

type funcCommand struct {
	name      string
	exclusive bool
	once      bool
	run       func(ctx context.Context) error
	done      bool
}

func (c *funcCommand) Name() string    { return c.name }
func (c *funcCommand) Exclusive() bool { return c.exclusive }
func (c *funcCommand) IsFinished() bool {
	return c.done
}

func (c *funcCommand) Execute(ctx context.Context) error {
	if c.once {
		c.done = true
	}
	if c.run == nil {
		return nil
	}
	return c.run(ctx)
}

func (c *funcCommand) End(context.Context, bool) {}

// Run returns an exclusive command that calls fn every cycle until interrupted.
func Run(name string, fn func(ctx context.Context) error) Command {
	return &funcCommand{name: name, exclusive: true, run: fn}
}

// RunOnce returns a command that calls fn once. It does not interrupt the active drive command.
func RunOnce(name string, fn func(ctx context.Context) error) Command {
	return &funcCommand{name: name, once: true, run: fn}
}

// None returns a command that does nothing and finishes immediately.
func None() Command {
	return &funcCommand{name: "none", once: true}
}

// Print returns a command that logs msg once.
func Print(logger logging.Logger, msg string) Command {
	return RunOnce("print", func(context.Context) error {
		logger.Infow(msg)
		return nil
	})
}

type sequence struct {
	name     string
	commands []Command
	current  int
}

// Sequence runs commands one after another, starting each in the cycle after the previous one
// finishes.
func Sequence(name string, commands ...Command) Command {
	return &sequence{name: name, commands: commands}
}

func (s *sequence) Name() string { return s.name }

func (s *sequence) Exclusive() bool {
	for _, c := range s.commands {
		if c.Exclusive() {
			return true
		}
	}
	return false
}

func (s *sequence) Execute(ctx context.Context) error {
	if s.IsFinished() {
		return nil
	}
	cmd := s.commands[s.current]
	if err := cmd.Execute(ctx); err != nil {
		return err
	}
	if cmd.IsFinished() {
		cmd.End(ctx, false)
		s.current++
	}
	return nil
}

func (s *sequence) IsFinished() bool {
	return s.current >= len(s.commands)
}

func (s *sequence) End(ctx context.Context, interrupted bool) {
	if interrupted && !s.IsFinished() {
		s.commands[s.current].End(ctx, true)
	}
}

type timeout struct {
	Command
	clk      clock.Clock
	duration time.Duration
	deadline time.Time
	started  bool
}

// WithTimeout finishes cmd after d has elapsed from its first execution, measured on clk.
func WithTimeout(cmd Command, clk clock.Clock, d time.Duration) Command {
	return &timeout{Command: cmd, clk: clk, duration: d}
}

func (t *timeout) Execute(ctx context.Context) error {
	if !t.started {
		t.started = true
		t.deadline = t.clk.Now().Add(t.duration)
	}
	return t.Command.Execute(ctx)
}

func (t *timeout) IsFinished() bool {
	if t.Command.IsFinished() {
		return true
	}
	return t.started && !t.clk.Now().Before(t.deadline)
}

func (t *timeout) End(ctx context.Context, interrupted bool) {
	t.Command.End(ctx, interrupted)
}
