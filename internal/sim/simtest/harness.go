// Package simtest is a black-box harness for driving a full runtime
// session through its exported surface: scripts in, frames stepped,
// diagnostics and digests observed. Tests here exercise the scheduler,
// the resolver, the cutscene ledger, and the world model together, the
// way a real session does.
package simtest

import (
	"testing"

	"marionette.dev/internal/sim/diag"
	"marionette.dev/internal/sim/runtime"
	"marionette.dev/internal/sim/sched"
	"marionette.dev/internal/sim/stage"
	"marionette.dev/internal/sim/world"
)

// EventLog collects diagnostics for assertions. It implements
// runtime.DiagLogger.
type EventLog struct {
	Events []diag.Event
}

func (l *EventLog) LogDiag(e diag.Event) { l.Events = append(l.Events, e) }

func (l *EventLog) CountSubject(subject string) int {
	n := 0
	for _, e := range l.Events {
		if e.Subject == subject {
			n++
		}
	}
	return n
}

func (l *EventLog) CountCode(code string) int {
	n := 0
	for _, e := range l.Events {
		if e.Code == code {
			n++
		}
	}
	return n
}

type Harness struct {
	T      *testing.T
	RT     *runtime.Runtime
	Events *EventLog
}

func NewHarness(t *testing.T, defs []stage.SetDef) *Harness {
	t.Helper()
	rt, err := runtime.New(world.Config{ID: "test"}, defs)
	if err != nil {
		t.Fatalf("runtime.New: %v", err)
	}
	ev := &EventLog{}
	rt.SetDiagLogger(ev)
	return &Harness{T: t, RT: rt, Events: ev}
}

func (h *Harness) Step() { h.RT.StepOnce(nil) }

func (h *Harness) StepN(n int) {
	for i := 0; i < n; i++ {
		h.RT.StepOnce(nil)
	}
}

func (h *Harness) StepControls(controls ...runtime.Control) {
	h.RT.StepOnce(controls)
}

// Start registers a script and fails the test on rejection.
func (h *Harness) Start(label string, fn sched.Fn) sched.Handle {
	h.T.Helper()
	handle, err := h.RT.StartScript(label, fn)
	if err != nil {
		h.T.Fatalf("start %s: %v", label, err)
	}
	return handle
}

// StepUntil advances frames until cond holds, failing after maxFrames.
func (h *Harness) StepUntil(maxFrames int, cond func() bool) {
	h.T.Helper()
	for i := 0; i < maxFrames; i++ {
		if cond() {
			return
		}
		h.Step()
	}
	if !cond() {
		h.T.Fatalf("condition not reached within %d frames", maxFrames)
	}
}

// TestStage returns two sets with overlapping walk sectors, a hot sector
// and camera setups, enough geometry for resolution and gating scenarios.
func TestStage() []stage.SetDef {
	inactive := false
	return []stage.SetDef{
		{
			ID:   "office",
			Name: "The Office",
			Sectors: []stage.SectorDef{
				// The nested rug is declared first so it wins the overlap.
				{ID: 1, Name: "rug", Kind: "walk",
					Vertices: [][2]float64{{2, 2}, {6, 2}, {6, 6}, {2, 6}}},
				{ID: 2, Name: "floor", Kind: "walk",
					Vertices: [][2]float64{{0, 0}, {10, 0}, {10, 10}, {0, 10}}},
				{ID: 3, Name: "cam_main", Kind: "camera",
					Vertices: [][2]float64{{0, 0}, {10, 0}, {10, 10}, {0, 10}}},
				{ID: 4, Name: "doorway", Kind: "hot",
					Vertices: [][2]float64{{9, 4}, {10, 4}, {10, 6}, {9, 6}}},
				{ID: 5, Name: "trapdoor", Kind: "hot", Active: &inactive,
					Vertices: [][2]float64{{1, 1}, {2, 1}, {2, 2}, {1, 2}}},
			},
			Setups: []stage.SetupDef{
				{Name: "desk", Interest: &[2]float64{2, 2}},
				{Name: "window", Interest: &[2]float64{9, 9}},
			},
		},
		{
			ID:   "alley",
			Name: "The Alley",
			Sectors: []stage.SectorDef{
				{ID: 1, Name: "pavement", Kind: "walk",
					Vertices: [][2]float64{{0, 0}, {4, 0}, {4, 12}, {0, 12}}},
				{ID: 2, Name: "gate", Kind: "hot",
					Vertices: [][2]float64{{0, 10}, {4, 10}, {4, 12}, {0, 12}}},
			},
			Setups: []stage.SetupDef{
				{Name: "street", Position: &[2]float64{2, 0}},
			},
		},
	}
}
