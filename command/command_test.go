package command

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/rdk/logging"
	"go.viam.com/test"
)

type recorder struct {
	Command
	ended       int
	interrupted bool
}

func (r *recorder) End(ctx context.Context, interrupted bool) {
	r.ended++
	r.interrupted = interrupted
	r.Command.End(ctx, interrupted)
}

func TestRunAndRunOnce(t *testing.T) {
	ctx := context.Background()
	calls := 0
	run := Run("drive", func(context.Context) error {
		calls++
		return nil
	})
	test.That(t, run.Exclusive(), test.ShouldBeTrue)
	for i := 0; i < 3; i++ {
		test.That(t, run.Execute(ctx), test.ShouldBeNil)
		test.That(t, run.IsFinished(), test.ShouldBeFalse)
	}
	test.That(t, calls, test.ShouldEqual, 3)

	once := RunOnce("limit", func(context.Context) error {
		calls++
		return nil
	})
	test.That(t, once.Exclusive(), test.ShouldBeFalse)
	test.That(t, once.IsFinished(), test.ShouldBeFalse)
	test.That(t, once.Execute(ctx), test.ShouldBeNil)
	test.That(t, once.IsFinished(), test.ShouldBeTrue)
	test.That(t, calls, test.ShouldEqual, 4)

	none := None()
	test.That(t, none.Execute(ctx), test.ShouldBeNil)
	test.That(t, none.IsFinished(), test.ShouldBeTrue)

	printCmd := Print(logging.NewTestLogger(t), "Running intakes in")
	test.That(t, printCmd.Execute(ctx), test.ShouldBeNil)
	test.That(t, printCmd.IsFinished(), test.ShouldBeTrue)
}

func TestSequence(t *testing.T) {
	ctx := context.Background()
	var order []string
	step := func(name string) Command {
		return RunOnce(name, func(context.Context) error {
			order = append(order, name)
			return nil
		})
	}
	first := &recorder{Command: step("a")}
	seq := Sequence("auto", first, step("b"), step("c"))
	test.That(t, seq.Exclusive(), test.ShouldBeFalse)

	for !seq.IsFinished() {
		test.That(t, seq.Execute(ctx), test.ShouldBeNil)
	}
	test.That(t, order, test.ShouldResemble, []string{"a", "b", "c"})
	test.That(t, first.ended, test.ShouldEqual, 1)
	test.That(t, first.interrupted, test.ShouldBeFalse)

	blocking := &recorder{Command: Run("hold", func(context.Context) error { return nil })}
	seq = Sequence("auto", step("x"), blocking)
	test.That(t, seq.Exclusive(), test.ShouldBeTrue)
	test.That(t, seq.Execute(ctx), test.ShouldBeNil)
	test.That(t, seq.Execute(ctx), test.ShouldBeNil)
	seq.End(ctx, true)
	test.That(t, blocking.ended, test.ShouldEqual, 1)
	test.That(t, blocking.interrupted, test.ShouldBeTrue)

	boom := errors.New("boom")
	seq = Sequence("failing", Run("bad", func(context.Context) error { return boom }))
	test.That(t, seq.Execute(ctx), test.ShouldEqual, boom)
}

func TestWithTimeout(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMock()
	cmd := WithTimeout(Run("drive", func(context.Context) error { return nil }), clk, time.Second)

	test.That(t, cmd.IsFinished(), test.ShouldBeFalse)
	test.That(t, cmd.Execute(ctx), test.ShouldBeNil)
	clk.Add(999 * time.Millisecond)
	test.That(t, cmd.IsFinished(), test.ShouldBeFalse)
	clk.Add(time.Millisecond)
	test.That(t, cmd.IsFinished(), test.ShouldBeTrue)
	test.That(t, cmd.Name(), test.ShouldEqual, "drive")
	test.That(t, cmd.Exclusive(), test.ShouldBeTrue)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	test.That(t, reg.Register("brake", func() Command { return Run("brake", nil) }), test.ShouldBeNil)
	test.That(t, reg.Register("armLow", func() Command { return None() }), test.ShouldBeNil)
	test.That(t, reg.Register("", func() Command { return None() }), test.ShouldNotBeNil)
	test.That(t, reg.Register("nil", nil), test.ShouldNotBeNil)

	cmd, err := reg.Get("brake")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cmd.Name(), test.ShouldEqual, "brake")

	again, err := reg.Get("brake")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, again == cmd, test.ShouldBeFalse)

	_, err = reg.Get("shoot")
	test.That(t, errors.Is(err, ErrNotFound), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "shoot")

	test.That(t, reg.Names(), test.ShouldResemble, []string{"armLow", "brake"})
}
