package sched

import (
	"fmt"
	"testing"

	"marionette.dev/internal/sim/diag"
)

func collectEvents() (*[]diag.Event, diag.Sink) {
	events := &[]diag.Event{}
	return events, diag.SinkFunc(func(e diag.Event) { *events = append(*events, e) })
}

func TestAdvanceFrame_RegistrationOrderEveryFrame(t *testing.T) {
	s := New(nil)

	var log []string
	mk := func(name string) Fn {
		return func(ctx *Ctx) error {
			for i := 0; i < 3; i++ {
				log = append(log, fmt.Sprintf("%s:%d", name, ctx.Frame()))
				ctx.Yield()
			}
			return nil
		}
	}
	if _, err := s.Start("a", mk("a")); err != nil {
		t.Fatalf("start a: %v", err)
	}
	if _, err := s.Start("b", mk("b")); err != nil {
		t.Fatalf("start b: %v", err)
	}

	s.AdvanceFrame()
	s.AdvanceFrame()

	want := []string{"a:1", "b:1", "a:2", "b:2"}
	if len(log) != len(want) {
		t.Fatalf("turn log: %v", log)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("turn %d: got %s want %s (log=%v)", i, log[i], want[i], log)
		}
	}
}

func TestStart_DuringFrameWaitsForNextFrame(t *testing.T) {
	s := New(nil)

	var log []string
	if _, err := s.Start("spawner", func(ctx *Ctx) error {
		log = append(log, "spawner")
		_, _ = s.Start("child", func(ctx *Ctx) error {
			log = append(log, fmt.Sprintf("child:%d", ctx.Frame()))
			return nil
		})
		ctx.Yield()
		return nil
	}); err != nil {
		t.Fatalf("start: %v", err)
	}

	s.AdvanceFrame()
	if len(log) != 1 || log[0] != "spawner" {
		t.Fatalf("child ran in its start frame: %v", log)
	}
	s.AdvanceFrame()
	if len(log) != 2 || log[1] != "child:2" {
		t.Fatalf("child did not run on the next frame: %v", log)
	}
}

func TestStart_NilCallableRejected(t *testing.T) {
	s := New(nil)
	if _, err := s.Start("bad", nil); err == nil {
		t.Fatalf("expected error for nil callable")
	}
	if got := s.Live(); got != 0 {
		t.Fatalf("live after rejected start: %d", got)
	}
}

func TestSingleStart_ReusesLiveLabel(t *testing.T) {
	s := New(nil)

	body := func(ctx *Ctx) error {
		for {
			ctx.Yield()
		}
	}
	h1, started, err := s.SingleStart("ambient.rain", body)
	if err != nil || !started {
		t.Fatalf("first SingleStart: h=%d started=%v err=%v", h1, started, err)
	}
	h2, started, err := s.SingleStart("ambient.rain", body)
	if err != nil {
		t.Fatalf("second SingleStart: %v", err)
	}
	if started || h2 != h1 {
		t.Fatalf("second SingleStart: got h=%d started=%v, want existing %d", h2, started, h1)
	}

	s.Stop(h1)
	h3, started, err := s.SingleStart("ambient.rain", body)
	if err != nil || !started || h3 == h1 {
		t.Fatalf("SingleStart after stop: h=%d started=%v err=%v", h3, started, err)
	}
	s.Shutdown()
}

func TestStop_ParkedTaskNeverRunsAgain(t *testing.T) {
	s := New(nil)

	ran := 0
	cleanedUp := false
	h, _ := s.Start("victim", func(ctx *Ctx) error {
		defer func() { cleanedUp = true }()
		for {
			ran++
			ctx.Yield()
		}
	})

	s.AdvanceFrame()
	if ran != 1 {
		t.Fatalf("runs before stop: %d", ran)
	}

	s.Stop(h)
	if st, ok := s.TaskState(h); !ok || st != StateFinished {
		t.Fatalf("state after stop: %v ok=%v", st, ok)
	}
	if !cleanedUp {
		t.Fatalf("deferred cleanup did not run on stop")
	}

	s.AdvanceFrame()
	if ran != 1 {
		t.Fatalf("task ran after stop: %d", ran)
	}
	if _, ok := s.TaskState(h); ok {
		t.Fatalf("finished task still tracked after compaction")
	}
}

func TestStop_BeforeFirstTurn(t *testing.T) {
	s := New(nil)

	ran := false
	h, _ := s.Start("unborn", func(ctx *Ctx) error {
		ran = true
		return nil
	})
	s.Stop(h)
	s.AdvanceFrame()
	if ran {
		t.Fatalf("task body ran despite stop before first turn")
	}
}

func TestKill_SelfTakesEffectAtNextYield(t *testing.T) {
	events, sink := collectEvents()
	s := New(sink)

	var afterYield bool
	var h Handle
	h, _ = s.Start("suicidal", func(ctx *Ctx) error {
		s.Kill(h)
		// Still our turn: code up to the next yield runs.
		ctx.Yield()
		afterYield = true
		return nil
	})

	s.AdvanceFrame()
	if afterYield {
		t.Fatalf("code after yield ran in a killed task")
	}
	// The killed task is compacted out with the frame.
	if st, ok := s.TaskState(h); ok {
		t.Fatalf("killed task still tracked after the frame: %v", st)
	}

	found := false
	for _, e := range *events {
		if e.Code == diag.CodeTaskKilled {
			found = true
		}
	}
	if !found {
		t.Fatalf("no kill event emitted: %+v", *events)
	}
}

func TestFault_TerminatesOnlyTheFaultingTask(t *testing.T) {
	events, sink := collectEvents()
	s := New(sink)

	ranAfter := 0
	s.Start("bomb", func(ctx *Ctx) error {
		ctx.Yield()
		panic("boom")
	})
	s.Start("survivor", func(ctx *Ctx) error {
		for {
			ranAfter++
			ctx.Yield()
		}
	})

	s.AdvanceFrame() // both run
	s.AdvanceFrame() // bomb faults, survivor still runs
	s.AdvanceFrame()

	if ranAfter != 3 {
		t.Fatalf("survivor turns: got %d want 3", ranAfter)
	}
	if got := s.Live(); got != 1 {
		t.Fatalf("live after fault: %d", got)
	}

	faults := 0
	for _, e := range *events {
		if e.Code == diag.CodeTaskFault {
			faults++
		}
	}
	if faults != 1 {
		t.Fatalf("fault events: got %d want 1", faults)
	}
	s.Shutdown()
}

func TestFault_ErrorReturnIsAFault(t *testing.T) {
	events, sink := collectEvents()
	s := New(sink)

	s.Start("failing", func(ctx *Ctx) error {
		return fmt.Errorf("bad state")
	})
	s.AdvanceFrame()

	if got := s.Live(); got != 0 {
		t.Fatalf("live after error return: %d", got)
	}
	faults := 0
	for _, e := range *events {
		if e.Code == diag.CodeTaskFault {
			faults++
		}
	}
	if faults != 1 {
		t.Fatalf("fault events: got %d want 1", faults)
	}
}

func TestSuspendResume_SkipsTurnsButKeepsResumePoint(t *testing.T) {
	s := New(nil)

	step := 0
	h, _ := s.Start("tracked", func(ctx *Ctx) error {
		step = 1
		ctx.Yield()
		step = 2
		ctx.Yield()
		step = 3
		return nil
	})

	s.AdvanceFrame()
	if step != 1 {
		t.Fatalf("step after frame 1: %d", step)
	}

	s.Suspend(h)
	s.AdvanceFrame()
	s.AdvanceFrame()
	if step != 1 {
		t.Fatalf("suspended task advanced: step=%d", step)
	}
	if st, _ := s.TaskState(h); st != StateSuspended {
		t.Fatalf("state while suspended: %v", st)
	}

	// Resume is a no-op on runnable tasks, suspend on suspended ones.
	s.Suspend(h)
	s.Resume(h)
	s.Resume(h)

	s.AdvanceFrame()
	if step != 2 {
		t.Fatalf("step after resume: %d", step)
	}
	s.Shutdown()
}

func TestWaitUntil_ResumesOnCondition(t *testing.T) {
	s := New(nil)

	flag := false
	done := false
	s.Start("waiter", func(ctx *Ctx) error {
		ctx.WaitUntil(func() bool { return flag })
		done = true
		return nil
	})

	s.AdvanceFrame()
	s.AdvanceFrame()
	if done {
		t.Fatalf("waiter finished before condition")
	}
	flag = true
	s.AdvanceFrame()
	if !done {
		t.Fatalf("waiter did not finish after condition")
	}
}

func TestYields_CountsTurns(t *testing.T) {
	s := New(nil)
	h, _ := s.Start("counting", func(ctx *Ctx) error {
		for {
			ctx.Yield()
		}
	})
	for i := 0; i < 4; i++ {
		s.AdvanceFrame()
	}
	if got := s.Yields(h); got != 4 {
		t.Fatalf("yields: got %d want 4", got)
	}
	s.Shutdown()
}

func TestShutdown_UnwindsEveryTask(t *testing.T) {
	s := New(nil)

	unwound := 0
	for i := 0; i < 5; i++ {
		s.Start(fmt.Sprintf("task-%d", i), func(ctx *Ctx) error {
			defer func() { unwound++ }()
			for {
				ctx.Yield()
			}
		})
	}
	s.AdvanceFrame()
	s.Shutdown()

	if unwound != 5 {
		t.Fatalf("unwound tasks: got %d want 5", unwound)
	}
	if got := s.Live(); got != 0 {
		t.Fatalf("live after shutdown: %d", got)
	}
}
