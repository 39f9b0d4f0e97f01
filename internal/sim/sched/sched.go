// Package sched runs script tasks with cooperative, non-preemptive
// semantics. There is never more than one task executing at a time: the
// scheduler and the running task hand control back and forth over
// unbuffered channels, so every other task (and the scheduler itself) is
// parked while a task runs its turn. Ordering is strictly FIFO by
// registration, which is what makes replays reproducible.
package sched

import (
	"fmt"

	"marionette.dev/internal/sim/diag"
)

// Handle identifies a task for the lifetime of a scheduler.
type Handle uint32

// State is a task's scheduler-visible lifecycle state.
type State int8

const (
	StateRunnable State = iota
	StateSuspended
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateRunnable:
		return "runnable"
	case StateSuspended:
		return "suspended"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Fn is a script body. It runs on its own goroutine but only while the
// scheduler has handed it the turn; it must reach ctx.Yield() (directly or
// through a wait helper) to give the turn back.
type Fn func(ctx *Ctx) error

type resumeSignal int8

const (
	sigRun resumeSignal = iota
	sigAbort
)

type turnStatus int8

const (
	turnYielded turnStatus = iota
	turnFinished
	turnFaulted
	turnAborted
)

type turnResult struct {
	status turnStatus
	err    error
}

// errAborted is the sentinel carried by the unwind of a stopped or killed
// task. It never escapes the task wrapper. The unwind runs the task's
// deferred functions; code past the abort point does not run.
var errAborted = fmt.Errorf("task aborted")

type task struct {
	handle Handle
	label  string
	state  State
	// killed distinguishes forced termination from Stop in diagnostics.
	killed        bool
	killRequested bool
	yields        uint32

	resume chan resumeSignal
	report chan turnResult
}

// Scheduler owns the task queue. It is not safe for use from multiple
// goroutines; everything happens on the frame-loop goroutine or on a task
// goroutine that currently holds the turn (which amounts to the same
// serialization).
type Scheduler struct {
	diag diag.Sink

	frame   uint64
	queue   []*task // live tasks in registration order
	byID    map[Handle]*task
	next    Handle
	running *task
}

func New(sink diag.Sink) *Scheduler {
	if sink == nil {
		sink = diag.Nop
	}
	return &Scheduler{
		diag: sink,
		byID: map[Handle]*task{},
		next: 1,
	}
}

// Frame returns the number of completed AdvanceFrame calls.
func (s *Scheduler) Frame() uint64 { return s.frame }

// Start registers fn as a new task. The task does not execute now; it
// becomes eligible on the next AdvanceFrame pass.
func (s *Scheduler) Start(label string, fn Fn) (Handle, error) {
	if fn == nil {
		return 0, fmt.Errorf("start %q: nil callable", label)
	}
	t := &task{
		handle: s.next,
		label:  label,
		state:  StateRunnable,
		resume: make(chan resumeSignal),
		report: make(chan turnResult),
	}
	s.next++
	s.queue = append(s.queue, t)
	s.byID[t.handle] = t

	go s.taskMain(t, fn)

	s.diag.Emit(diag.Info("script.start", fmt.Sprintf("%s (#%d)", label, t.handle)))
	return t.handle, nil
}

// SingleStart starts fn unless a live task with the same label already
// exists, in which case the existing handle is returned.
func (s *Scheduler) SingleStart(label string, fn Fn) (Handle, bool, error) {
	if h, ok := s.FindByLabel(label); ok {
		return h, false, nil
	}
	h, err := s.Start(label, fn)
	return h, err == nil, err
}

func (s *Scheduler) FindByLabel(label string) (Handle, bool) {
	for _, t := range s.queue {
		if t.label == label && t.state != StateFinished {
			return t.handle, true
		}
	}
	return 0, false
}

// taskMain is the goroutine wrapper around a task body. The goroutine
// parks immediately and runs only between a resume signal and the next
// report send.
func (s *Scheduler) taskMain(t *task, fn Fn) {
	if sig := <-t.resume; sig == sigAbort {
		t.report <- turnResult{status: turnAborted}
		return
	}

	res := turnResult{status: turnFinished}
	func() {
		defer func() {
			if r := recover(); r != nil {
				if err, ok := r.(error); ok && err == errAborted {
					res = turnResult{status: turnAborted}
					return
				}
				res = turnResult{status: turnFaulted, err: fmt.Errorf("panic: %v", r)}
			}
		}()
		if err := fn(&Ctx{sched: s, task: t}); err != nil {
			res = turnResult{status: turnFaulted, err: err}
		}
	}()
	t.report <- res
}

// Stop marks the task finished without running further code in it.
// Idempotent; unknown or finished handles are no-ops.
func (s *Scheduler) Stop(h Handle) { s.terminate(h, false) }

// Kill is Stop flagged as a forced termination in diagnostics.
func (s *Scheduler) Kill(h Handle) { s.terminate(h, true) }

func (s *Scheduler) terminate(h Handle, killed bool) {
	t, ok := s.byID[h]
	if !ok || t.state == StateFinished {
		return
	}
	t.killed = killed

	if t == s.running {
		// A task stopping itself: it is not parked, so the unwind has to
		// happen at its next yield point.
		t.killRequested = true
		return
	}

	// The task goroutine is parked on its resume channel (either at a yield
	// point or waiting for its first turn). Wake it with an abort and wait
	// for the unwind to report back so termination is synchronous.
	t.resume <- sigAbort
	<-t.report
	s.finish(t)
}

func (s *Scheduler) finish(t *task) {
	t.state = StateFinished
	if t.killed {
		s.diag.Emit(diag.Event{
			Severity: diag.SeverityInfo,
			Code:     diag.CodeTaskKilled,
			Subject:  "script.kill",
			Detail:   fmt.Sprintf("%s (#%d)", t.label, t.handle),
		})
	} else {
		s.diag.Emit(diag.Info("script.complete", fmt.Sprintf("%s (#%d)", t.label, t.handle)))
	}
}

// Suspend removes the task from frame scheduling without touching its
// resume point. No-op on unknown, finished, or already suspended tasks.
func (s *Scheduler) Suspend(h Handle) {
	t, ok := s.byID[h]
	if !ok || t.state != StateRunnable {
		return
	}
	t.state = StateSuspended
}

// Resume undoes Suspend. No-op unless the task is suspended.
func (s *Scheduler) Resume(h Handle) {
	t, ok := s.byID[h]
	if !ok || t.state != StateSuspended {
		return
	}
	t.state = StateRunnable
}

// TaskState reports the current state of a handle.
func (s *Scheduler) TaskState(h Handle) (State, bool) {
	t, ok := s.byID[h]
	if !ok {
		return 0, false
	}
	return t.state, true
}

// Label returns the task's diagnostic label.
func (s *Scheduler) Label(h Handle) (string, bool) {
	t, ok := s.byID[h]
	if !ok {
		return "", false
	}
	return t.label, true
}

// Yields returns how many times the task has yielded, for diagnostics.
func (s *Scheduler) Yields(h Handle) uint32 {
	if t, ok := s.byID[h]; ok {
		return t.yields
	}
	return 0
}

// Live returns the number of tasks that have not finished.
func (s *Scheduler) Live() int {
	n := 0
	for _, t := range s.queue {
		if t.state != StateFinished {
			n++
		}
	}
	return n
}

// AdvanceFrame runs every task that was runnable when the frame began,
// in registration order, each until it yields or finishes. Tasks started
// during the frame wait for the next one. A task fault terminates only
// that task; the rest of the frame still runs.
func (s *Scheduler) AdvanceFrame() {
	s.frame++
	n := len(s.queue)
	for i := 0; i < n; i++ {
		t := s.queue[i]
		if t.state != StateRunnable {
			continue
		}
		s.runTurn(t)
	}
	s.compact()
}

func (s *Scheduler) runTurn(t *task) {
	s.running = t
	t.resume <- sigRun
	res := <-t.report
	s.running = nil

	switch res.status {
	case turnYielded:
		t.yields++
	case turnFinished:
		s.finish(t)
	case turnAborted:
		s.finish(t)
	case turnFaulted:
		t.state = StateFinished
		s.diag.Emit(diag.Error(diag.CodeTaskFault, "script.fault",
			fmt.Sprintf("%s (#%d): %v", t.label, t.handle, res.err)))
	}
}

func (s *Scheduler) compact() {
	live := s.queue[:0]
	for _, t := range s.queue {
		if t.state == StateFinished {
			delete(s.byID, t.handle)
			continue
		}
		live = append(live, t)
	}
	s.queue = live
}

// Shutdown aborts every live task so their goroutines unwind. The
// scheduler is unusable afterwards.
func (s *Scheduler) Shutdown() {
	for _, t := range s.queue {
		if t.state == StateFinished {
			continue
		}
		t.killed = true
		t.resume <- sigAbort
		<-t.report
		t.state = StateFinished
	}
	s.queue = nil
	s.byID = map[Handle]*task{}
}

// Ctx is the in-task view of the scheduler, passed to every task body.
type Ctx struct {
	sched *Scheduler
	task  *task
}

// Handle returns the running task's own handle.
func (c *Ctx) Handle() Handle { return c.task.handle }

// Label returns the running task's label.
func (c *Ctx) Label() string { return c.task.label }

// Frame returns the frame currently being advanced.
func (c *Ctx) Frame() uint64 { return c.sched.frame }

// Yield suspends the task at this exact point and returns control to the
// scheduler; the task resumes here on its next scheduled turn.
func (c *Ctx) Yield() {
	t := c.task
	if t.killRequested {
		panic(errAborted)
	}
	t.report <- turnResult{status: turnYielded}
	if sig := <-t.resume; sig == sigAbort || t.killRequested {
		panic(errAborted)
	}
}

// WaitFrames yields n times.
func (c *Ctx) WaitFrames(n int) {
	for i := 0; i < n; i++ {
		c.Yield()
	}
}

// WaitUntil yields until cond reports true. cond is evaluated once per
// turn, before the first yield.
func (c *Ctx) WaitUntil(cond func() bool) {
	for !cond() {
		c.Yield()
	}
}
