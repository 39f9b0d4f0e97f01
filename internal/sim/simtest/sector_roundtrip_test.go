package simtest

import (
	"testing"

	"marionette.dev/internal/sim/cutscene"
	"marionette.dev/internal/sim/sched"
	"marionette.dev/internal/sim/world"
)

// Deactivating and reactivating a sector must restore resolution,
// visibility, and cutscene gating to their prior results.
func TestSector_DeactivateReactivateRoundTrip(t *testing.T) {
	h := NewHarness(t, TestStage())
	w := h.RT.World()
	res := h.RT.Resolver()

	manny := w.CreateActor("Manny")
	_ = w.PutActorInSet(manny.ID, "office")
	_ = w.SetActorPos(manny.ID, world.Vec3{X: 3, Y: 3}) // inside rug and floor

	if _, err := w.RegisterObject("office", world.ObjectSpec{
		Name:      "Deck of Cards",
		Pos:       world.Vec3{X: 3.5, Y: 3.5},
		HasPos:    true,
		Sector:    "rug",
		Touchable: true,
		Visible:   true,
	}); err != nil {
		t.Fatalf("register object: %v", err)
	}

	h.Step() // membership pass

	baselineHit, ok := res.ResolveSector(world.Point{X: 3, Y: 3}, world.KindWalk)
	if !ok || baselineHit.Name != "rug" {
		t.Fatalf("baseline resolution: got %+v ok=%v, want rug", baselineHit, ok)
	}
	if n := len(res.VisibleObjects(manny.ID, 0)); n != 1 {
		t.Fatalf("baseline visible objects: %d", n)
	}

	// Deactivate: resolution falls through to the enclosing floor and the
	// object governed by the rug disappears.
	if got, err := res.SetSectorActive("office", "rug", false); err != nil || got != world.ToggleApplied {
		t.Fatalf("deactivate: got=%v err=%v", got, err)
	}
	hit, ok := res.ResolveSector(world.Point{X: 3, Y: 3}, world.KindWalk)
	if !ok || hit.Name != "floor" {
		t.Fatalf("resolution with rug off: got %+v ok=%v, want floor", hit, ok)
	}
	if n := len(res.VisibleObjects(manny.ID, 0)); n != 0 {
		t.Fatalf("visible objects with rug off: %d", n)
	}

	// Toggling again in the same direction reports no change.
	if got, _ := res.SetSectorActive("office", "rug", false); got != world.ToggleNoChange {
		t.Fatalf("repeat deactivate: got %v want no change", got)
	}

	// Reactivate: everything returns to the baseline.
	if got, err := res.SetSectorActive("office", "rug", true); err != nil || got != world.ToggleApplied {
		t.Fatalf("reactivate: got=%v err=%v", got, err)
	}
	hit, ok = res.ResolveSector(world.Point{X: 3, Y: 3}, world.KindWalk)
	if !ok || hit.Name != baselineHit.Name {
		t.Fatalf("resolution after round trip: got %+v want %s", hit, baselineHit.Name)
	}
	if n := len(res.VisibleObjects(manny.ID, 0)); n != 1 {
		t.Fatalf("visible objects after round trip: %d", n)
	}
}

// A cutscene gated on a sector blocks while the sector is inactive and
// unblocks when it comes back.
func TestSector_ToggleGatesCutscene(t *testing.T) {
	h := NewHarness(t, TestStage())
	res := h.RT.Resolver()
	ledger := h.RT.Ledger()

	h.Start("scene.gated", func(ctx *sched.Ctx) error {
		ledger.StartCutscene(cutscene.StartOptions{
			Label:      "gated",
			GateSet:    "office",
			GateSector: "doorway",
		})
		ctx.WaitUntil(func() bool { return !ledger.Blocked() && ctx.Frame() > 6 })
		ledger.EndCutscene()
		return nil
	})

	h.Step()
	if ledger.Blocked() {
		t.Fatalf("blocked before any toggle")
	}

	if _, err := res.SetSectorActive("office", "doorway", false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if !ledger.Blocked() {
		t.Fatalf("not blocked after gate sector deactivated")
	}

	h.StepN(8)
	if ledger.Depth() != 1 {
		t.Fatalf("gated scene ended while blocked: depth=%d", ledger.Depth())
	}

	if _, err := res.SetSectorActive("office", "doorway", true); err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	if ledger.Blocked() {
		t.Fatalf("still blocked after reactivation")
	}
	h.StepUntil(5, func() bool { return ledger.Depth() == 0 })
}
