package simtest

import (
	"testing"

	"marionette.dev/internal/protocol"
	"marionette.dev/internal/sim/cutscene"
	"marionette.dev/internal/sim/runtime"
	"marionette.dev/internal/sim/sched"
	"marionette.dev/internal/sim/world"
)

// installScenario wires the same actors and scripts into a harness. Both
// runs of the determinism test call it so the frame streams are
// byte-for-byte comparable.
func installScenario(h *Harness) {
	w := h.RT.World()
	res := h.RT.Resolver()
	ledger := h.RT.Ledger()

	manny := w.CreateActor("Manny")
	if err := w.PutActorInSet(manny.ID, "office"); err != nil {
		h.T.Fatalf("put actor: %v", err)
	}
	if err := w.SelectActor(manny.ID); err != nil {
		h.T.Fatalf("select actor: %v", err)
	}
	_ = w.SetActorPos(manny.ID, world.Vec3{X: 1, Y: 1})

	h.Start("walk.east", func(ctx *sched.Ctx) error {
		for i := 0; i < 20; i++ {
			a, _ := w.Actor(manny.ID)
			_ = w.SetActorPos(manny.ID, world.Vec3{X: a.Pos.X + 0.4, Y: a.Pos.Y + 0.2})
			ctx.Yield()
		}
		return nil
	})

	h.Start("door.watch", func(ctx *sched.Ctx) error {
		ctx.WaitFrames(5)
		if _, err := res.SetSectorActive("office", "doorway", false); err != nil {
			return err
		}
		ctx.WaitFrames(5)
		if _, err := res.SetSectorActive("office", "doorway", true); err != nil {
			return err
		}
		return nil
	})

	h.Start("intro.scene", func(ctx *sched.Ctx) error {
		ctx.WaitFrames(3)
		ledger.StartCutscene(cutscene.StartOptions{Label: "intro", SuppressHeadTracking: true})
		_ = w.Say(manny.ID, "With bony hands I hold my partner.")
		ledger.WaitForMessage(ctx, manny.ID)
		ledger.EndCutscene()
		return nil
	})
}

func TestDeterminism_SameStreamSameDigests(t *testing.T) {
	h1 := NewHarness(t, TestStage())
	h2 := NewHarness(t, TestStage())

	installScenario(h1)
	installScenario(h2)

	for frame := 1; frame <= 50; frame++ {
		var controls []runtime.Control
		// Dialogue completes on a fixed frame in both runs.
		if frame == 12 {
			controls = append(controls, runtime.Control{Op: protocol.OpMessageDone, Key: "manny"})
		}
		h1.StepControls(controls...)
		h2.StepControls(controls...)

		d1 := h1.RT.StateDigest()
		d2 := h2.RT.StateDigest()
		if d1 != d2 {
			t.Fatalf("digest mismatch at frame %d: %s vs %s", frame, d1, d2)
		}
	}

	if h1.RT.Ledger().Depth() != 0 {
		t.Fatalf("cutscene still open after scenario: depth=%d", h1.RT.Ledger().Depth())
	}
}
