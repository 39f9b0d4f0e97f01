// Package cutscene serializes nested cinematic sequences over the
// scheduler. Ambient tracking/input tasks are suspended on the first
// nesting level and resumed exactly once when the last level closes.
// Structural violations (unbalanced end, double resume) are reported and
// clamped, never fatal: a cutscene bug must not halt the simulation.
package cutscene

import (
	"fmt"

	"marionette.dev/internal/sim/diag"
	"marionette.dev/internal/sim/sched"
)

// Frame is one stack entry of the ledger.
type Frame struct {
	Label                string
	Depth                int
	SuppressHeadTracking bool

	// Override is the installed skip handler, nil when absent.
	Override func()

	// GateSet/GateSector optionally tie the frame to a sector; toggling
	// that sector inactive blocks the frame until it is re-activated.
	GateSet    string
	GateSector string
	Blocked    bool

	// movieYields holds the frame for N scheduler passes while a
	// fullscreen movie plays, matching the legacy fixed-yield playback.
	movieYields int
	movieName   string
}

// StartOptions describe a new cutscene frame.
type StartOptions struct {
	Label                string
	SuppressHeadTracking bool
	GateSet              string
	GateSector           string
}

// Ledger is the cutscene/override state machine. Like everything in the
// runtime it is single-threaded by the frame-loop handoff; no locking.
type Ledger struct {
	sched *sched.Scheduler
	diag  diag.Sink

	// setHeadTracking flips the world's head-tracking gate without this
	// package importing the world.
	setHeadTracking func(bool)

	stack []Frame

	ambient []sched.Handle
	// suspended records which ambient tasks this ledger actually
	// suspended on the 0->1 transition, so 1->0 resumes exactly those.
	suspended []sched.Handle

	headSuppressed bool

	waits   map[string][]*wait
	waitSeq uint64

	// activeMsgs tracks keys with a dialogue line in flight. Waits are
	// level-triggered: a wait for an idle key returns immediately, so a
	// completion that lands before the wait is not lost.
	activeMsgs  map[string]bool
	activeCount int
}

type wait struct {
	seq  uint64
	done bool
}

func NewLedger(s *sched.Scheduler, sink diag.Sink, setHeadTracking func(bool)) *Ledger {
	if sink == nil {
		sink = diag.Nop
	}
	if setHeadTracking == nil {
		setHeadTracking = func(bool) {}
	}
	return &Ledger{
		sched:           s,
		diag:            sink,
		setHeadTracking: setHeadTracking,
		waits:           map[string][]*wait{},
		activeMsgs:      map[string]bool{},
	}
}

// Depth is the current nesting level; 0 means idle.
func (l *Ledger) Depth() int { return len(l.stack) }

// InCutscene reports whether any sequence is open.
func (l *Ledger) InCutscene() bool { return len(l.stack) > 0 }

// RegisterAmbient marks a task as ambient: it gets suspended for the full
// duration of any (possibly nested) cutscene.
func (l *Ledger) RegisterAmbient(h sched.Handle) {
	l.ambient = append(l.ambient, h)
	if l.InCutscene() {
		if st, ok := l.sched.TaskState(h); ok && st == sched.StateRunnable {
			l.sched.Suspend(h)
			l.suspended = append(l.suspended, h)
		}
	}
}

// StartCutscene pushes a frame. The 0->1 transition suspends ambient
// tasks and, when requested, head tracking.
func (l *Ledger) StartCutscene(opts StartOptions) {
	f := Frame{
		Label:                opts.Label,
		Depth:                len(l.stack) + 1,
		SuppressHeadTracking: opts.SuppressHeadTracking,
		GateSet:              opts.GateSet,
		GateSector:           opts.GateSector,
	}
	if len(l.stack) == 0 {
		l.suspendAmbient()
	}
	if opts.SuppressHeadTracking && !l.headSuppressed {
		l.headSuppressed = true
		l.setHeadTracking(false)
	}
	l.stack = append(l.stack, f)
	l.diag.Emit(diag.Info("cutscene.start", fmt.Sprintf("%s depth=%d", displayLabel(opts.Label), f.Depth)))
}

// EndCutscene pops the top frame. An end with depth already 0 is a
// structural violation: reported, clamped, execution continues. The 1->0
// transition resumes ambient tasks exactly once.
func (l *Ledger) EndCutscene() {
	if len(l.stack) == 0 {
		l.diag.Emit(diag.Warn(diag.CodeStructuralViolation, "cutscene.end", "unbalanced end, depth already 0"))
		return
	}
	top := l.stack[len(l.stack)-1]
	l.stack = l.stack[:len(l.stack)-1]
	l.diag.Emit(diag.Info("cutscene.end", displayLabel(top.Label)))

	if len(l.stack) == 0 {
		l.resumeAmbient()
		if l.headSuppressed {
			l.headSuppressed = false
			l.setHeadTracking(true)
		}
		return
	}
	// Head tracking stays suppressed while any remaining frame asked for it.
	if l.headSuppressed && !l.anySuppressesHead() {
		l.headSuppressed = false
		l.setHeadTracking(true)
	}
}

func (l *Ledger) anySuppressesHead() bool {
	for i := range l.stack {
		if l.stack[i].SuppressHeadTracking {
			return true
		}
	}
	return false
}

func (l *Ledger) suspendAmbient() {
	if len(l.suspended) > 0 {
		// Resuming twice would be a double-resume later; clamp now.
		l.diag.Emit(diag.Warn(diag.CodeStructuralViolation, "cutscene.suspend", "ambient tasks already suspended"))
		return
	}
	for _, h := range l.ambient {
		if st, ok := l.sched.TaskState(h); ok && st == sched.StateRunnable {
			l.sched.Suspend(h)
			l.suspended = append(l.suspended, h)
		}
	}
}

func (l *Ledger) resumeAmbient() {
	for _, h := range l.suspended {
		l.sched.Resume(h)
	}
	l.suspended = nil
}

// InstallOverride attaches a skip handler to the top frame. Only one
// override per frame: installing a second replaces the first, logged as a
// structural violation.
func (l *Ledger) InstallOverride(handler func()) {
	if len(l.stack) == 0 {
		l.diag.Emit(diag.Warn(diag.CodeStructuralViolation, "override.install", "no open cutscene"))
		return
	}
	top := &l.stack[len(l.stack)-1]
	if top.Override != nil {
		l.diag.Emit(diag.Warn(diag.CodeStructuralViolation, "override.install",
			fmt.Sprintf("replacing override on %s", displayLabel(top.Label))))
	}
	top.Override = handler
	l.diag.Emit(diag.Info("override.push", displayLabel(top.Label)))
}

// ClearOverride removes the top frame's handler, if any.
func (l *Ledger) ClearOverride() {
	if len(l.stack) == 0 {
		return
	}
	top := &l.stack[len(l.stack)-1]
	if top.Override != nil {
		top.Override = nil
		l.diag.Emit(diag.Info("override.pop", displayLabel(top.Label)))
	}
}

// InvokeOverride runs the topmost frame's handler when an external skip
// request arrives; with no handler installed it is a no-op.
func (l *Ledger) InvokeOverride() {
	if len(l.stack) == 0 {
		return
	}
	top := &l.stack[len(l.stack)-1]
	if top.Override == nil {
		return
	}
	handler := top.Override
	top.Override = nil
	l.diag.Emit(diag.Info("override.invoke", displayLabel(top.Label)))
	handler()
}

// HandleSectorToggle blocks or unblocks frames gated on the toggled
// sector. Wired to the resolver's activation observer.
func (l *Ledger) HandleSectorToggle(setID, sector string, active bool) {
	for i := range l.stack {
		f := &l.stack[i]
		if f.GateSet != setID || f.GateSector != sector {
			continue
		}
		switch {
		case active && f.Blocked:
			f.Blocked = false
			l.diag.Emit(diag.Info("cutscene.unblock", displayLabel(f.Label)))
		case !active && !f.Blocked:
			f.Blocked = true
			l.diag.Emit(diag.Info("cutscene.block", displayLabel(f.Label)))
		}
	}
}

// Blocked reports whether the top frame is gated by inactive geometry.
func (l *Ledger) Blocked() bool {
	if len(l.stack) == 0 {
		return false
	}
	return l.stack[len(l.stack)-1].Blocked
}

const defaultMovieYields = 6

// PlayFullscreenMovie holds the calling task for a fixed number of yields
// while the movie runs, then reports completion. yields <= 0 picks the
// legacy default.
func (l *Ledger) PlayFullscreenMovie(ctx *sched.Ctx, name string, yields int) {
	if yields <= 0 {
		yields = defaultMovieYields
	}
	l.diag.Emit(diag.Info("movie.start", name))
	ctx.WaitFrames(yields)
	l.diag.Emit(diag.Info("movie.end", name))
}

// BeginMessage marks a dialogue line in flight for key. The runtime calls
// this when an actor starts speaking; waits for an idle key do not block.
func (l *Ledger) BeginMessage(key string) {
	if key == "" || l.activeMsgs[key] {
		return
	}
	l.activeMsgs[key] = true
	l.activeCount++
}

// EndMessage clears the in-flight marker without resolving waiters; the
// completion path posts the wake separately.
func (l *Ledger) EndMessage(key string) {
	if key == "" || !l.activeMsgs[key] {
		return
	}
	delete(l.activeMsgs, key)
	l.activeCount--
}

// MessageActive reports whether a line is in flight for key. Key "" asks
// about any key.
func (l *Ledger) MessageActive(key string) bool {
	if key == "" {
		return l.activeCount > 0
	}
	return l.activeMsgs[key]
}

// WaitForMessage blocks the calling task until a matching message-complete
// signal arrives for key. The wait is level-triggered: if no line is in
// flight for key the call returns immediately, so a completion arriving
// before the wait is not lost. Pending waits queue FIFO per key and
// signals match the oldest first. Key "" is the global channel.
func (l *Ledger) WaitForMessage(ctx *sched.Ctx, key string) {
	if !l.MessageActive(key) {
		return
	}
	w := &wait{seq: l.waitSeq}
	l.waitSeq++
	l.waits[key] = append(l.waits[key], w)
	ctx.WaitUntil(func() bool { return w.done })
}

// PostMessageComplete clears the in-flight marker for key and resolves
// the oldest pending wait. Signals with no pending wait only clear the
// marker; the dialogue path posts them unconditionally.
func (l *Ledger) PostMessageComplete(key string) {
	l.EndMessage(key)
	queue := l.waits[key]
	for i, w := range queue {
		if !w.done {
			w.done = true
			l.waits[key] = queue[i+1:]
			return
		}
	}
	delete(l.waits, key)
}

// PendingWaits reports outstanding waits for a key, for diagnostics.
func (l *Ledger) PendingWaits(key string) int {
	n := 0
	for _, w := range l.waits[key] {
		if !w.done {
			n++
		}
	}
	return n
}

func displayLabel(label string) string {
	if label == "" {
		return "<unnamed>"
	}
	return label
}
