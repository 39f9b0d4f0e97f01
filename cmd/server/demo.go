package main

import (
	"fmt"

	"marionette.dev/internal/sim/cutscene"
	"marionette.dev/internal/sim/runtime"
	"marionette.dev/internal/sim/sched"
	"marionette.dev/internal/sim/world"
)

// installDemo wires a small self-driving scenario so an observer stream
// shows movement, dialogue, and cutscene traffic without an external
// script host.
func installDemo(rt *runtime.Runtime) {
	w := rt.World()
	res := rt.Resolver()
	ledger := rt.Ledger()

	setID := w.CurrentSet()
	hero := w.CreateActor("Hero")
	_ = w.PutActorInSet(hero.ID, setID)
	_ = w.SelectActor(hero.ID)
	_ = w.PushCostume(hero.ID, "default")

	// Wander diagonally and bounce off a 10x10 box.
	_, _ = rt.StartScript("demo.wander", func(ctx *sched.Ctx) error {
		dx, dy := 0.15, 0.1
		for {
			a, ok := w.Actor(hero.ID)
			if !ok {
				return fmt.Errorf("demo actor vanished")
			}
			nx, ny := a.Pos.X+dx, a.Pos.Y+dy
			if nx < 0 || nx > 10 {
				dx = -dx
				nx = a.Pos.X + dx
			}
			if ny < 0 || ny > 10 {
				dy = -dy
				ny = a.Pos.Y + dy
			}
			_ = w.SetActorPos(hero.ID, world.Vec3{X: nx, Y: ny})
			ctx.Yield()
		}
	})

	// Every ~10 seconds: a short skippable cutscene with one line.
	_, _ = rt.StartScript("demo.scenes", func(ctx *sched.Ctx) error {
		for i := 1; ; i++ {
			ctx.WaitFrames(300)
			ledger.StartCutscene(cutscene.StartOptions{
				Label:                fmt.Sprintf("demo-%d", i),
				SuppressHeadTracking: true,
			})
			skipped := false
			ledger.InstallOverride(func() {
				// Skip: cut the line short and release the wait below.
				skipped = true
				rt.CompleteMessage(hero.ID)
			})
			_ = w.Say(hero.ID, fmt.Sprintf("Scene %d, as scheduled.", i))
			ledger.WaitForMessage(ctx, hero.ID)
			if !skipped {
				ledger.ClearOverride()
			}
			ledger.EndCutscene()
		}
	})

	// Dialogue pump: with no audio layer, finish a spoken line after a
	// fixed hold.
	_, _ = rt.StartScript("demo.dialogue", func(ctx *sched.Ctx) error {
		for {
			for _, id := range w.ActorIDs() {
				a, ok := w.Actor(id)
				if !ok || !a.Speaking {
					continue
				}
				ctx.WaitFrames(45)
				rt.CompleteMessage(id)
			}
			ctx.Yield()
		}
	})

	// Keep the camera setup tracking the hero.
	_, _ = rt.StartAmbientScript("demo.camera", func(ctx *sched.Ctx) error {
		for {
			res.RetargetSetup(hero.ID)
			ctx.WaitFrames(10)
		}
	})
}
