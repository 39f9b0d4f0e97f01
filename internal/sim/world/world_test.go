package world

import (
	"testing"

	"marionette.dev/internal/sim/diag"
	"marionette.dev/internal/sim/stage"
)

func newWorldWithSink(t *testing.T) (*World, *[]diag.Event) {
	t.Helper()
	events := &[]diag.Event{}
	sink := diag.SinkFunc(func(e diag.Event) { *events = append(*events, e) })
	w, err := New(Config{ID: "test"}, sink)
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	for _, id := range []string{"office", "alley"} {
		def := stage.SetDef{
			ID: id,
			Sectors: []stage.SectorDef{
				{ID: 1, Name: "floor", Kind: "walk",
					Vertices: [][2]float64{{0, 0}, {10, 0}, {10, 10}, {0, 10}}},
			},
		}
		if err := w.LoadSet(def); err != nil {
			t.Fatalf("LoadSet %s: %v", id, err)
		}
	}
	if err := w.SwitchSet("office"); err != nil {
		t.Fatalf("SwitchSet: %v", err)
	}
	return w, events
}

func breaches(events []diag.Event) int {
	n := 0
	for _, e := range events {
		if e.Code == diag.CodeInvariantBreach {
			n++
		}
	}
	return n
}

func TestCreateActor_CanonicalIDsAndIdempotence(t *testing.T) {
	w, _ := newWorldWithSink(t)

	a := w.CreateActor("Glottis The Driver")
	if a.ID != "glottis_the_driver" {
		t.Fatalf("canonical id: %q", a.ID)
	}
	if a.Handle == 0 || !a.Visible {
		t.Fatalf("actor defaults: %+v", a)
	}

	again := w.CreateActor("glottis the DRIVER")
	if again != a {
		t.Fatalf("same label produced a second actor")
	}

	byHandle, ok := w.ActorByHandle(a.Handle)
	if !ok || byHandle != a {
		t.Fatalf("handle lookup failed")
	}

	ids := w.ActorIDs()
	if len(ids) != 1 || ids[0] != a.ID {
		t.Fatalf("actor ids: %v", ids)
	}
}

func TestCostumeStack_PopOnEmptyIsClampedNoOp(t *testing.T) {
	w, events := newWorldWithSink(t)
	a := w.CreateActor("Manny")

	if got := a.ActiveCostume(); got != "" {
		t.Fatalf("active costume on empty stack: %q", got)
	}

	top, err := w.PopCostume(a.ID)
	if err != nil || top != "" {
		t.Fatalf("pop empty: top=%q err=%v", top, err)
	}
	if got := breaches(*events); got != 1 {
		t.Fatalf("breach events after empty pop: %d", got)
	}

	_ = w.PushCostume(a.ID, "suit")
	_ = w.PushCostume(a.ID, "apron")
	if got := a.ActiveCostume(); got != "apron" {
		t.Fatalf("active costume: %q", got)
	}
	top, _ = w.PopCostume(a.ID)
	if top != "apron" || a.ActiveCostume() != "suit" {
		t.Fatalf("pop order: top=%q active=%q", top, a.ActiveCostume())
	}
}

func TestInventory_IdempotentAddAndNoOpRemove(t *testing.T) {
	w, _ := newWorldWithSink(t)
	a := w.CreateActor("Manny")
	if _, err := w.RegisterObject("office", ObjectSpec{Name: "Scythe", Touchable: true, Visible: true}); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := w.InventoryAdd(a.ID, "scythe"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := w.InventoryAdd(a.ID, "scythe"); err != nil {
		t.Fatalf("repeat add: %v", err)
	}
	if got := w.InventoryList(a.ID); len(got) != 1 {
		t.Fatalf("inventory after double add: %v", got)
	}

	if err := w.InventoryRemove(a.ID, "balloon"); err != nil {
		t.Fatalf("remove of unheld object must be a no-op: %v", err)
	}
	if err := w.InventoryRemove(a.ID, "scythe"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if got := w.InventoryList(a.ID); len(got) != 0 {
		t.Fatalf("inventory after remove: %v", got)
	}

	if err := w.InventoryAdd(a.ID, "coffin"); err == nil {
		t.Fatalf("adding an unknown object must fail")
	}
}

func TestSwitchSet_UnknownSetLeavesCurrentUntouched(t *testing.T) {
	w, _ := newWorldWithSink(t)

	if err := w.SwitchSet("casino"); err == nil {
		t.Fatalf("switch to unknown set succeeded")
	}
	if got := w.CurrentSet(); got != "office" {
		t.Fatalf("current set after failed switch: %q", got)
	}
	if err := w.SwitchSet("alley"); err != nil {
		t.Fatalf("switch: %v", err)
	}
	if got := w.CurrentSet(); got != "alley" {
		t.Fatalf("current set: %q", got)
	}
}

func TestTearDownSet_RefusesCurrentAndDropsOwnedObjects(t *testing.T) {
	w, _ := newWorldWithSink(t)
	if _, err := w.RegisterObject("alley", ObjectSpec{Name: "Dumpster", Touchable: true, Visible: true}); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := w.TearDownSet("office"); err == nil {
		t.Fatalf("tore down the current set")
	}
	if err := w.TearDownSet("alley"); err != nil {
		t.Fatalf("tear down: %v", err)
	}
	if _, ok := w.Object("dumpster"); ok {
		t.Fatalf("object survived its set's teardown")
	}
	if got := w.SetIDs(); len(got) != 1 || got[0] != "office" {
		t.Fatalf("set ids after teardown: %v", got)
	}
}

func TestSetObjectState_UnknownVariantIsClampedNoOp(t *testing.T) {
	w, events := newWorldWithSink(t)
	o, err := w.RegisterObject("office", ObjectSpec{
		Name:   "Coffin",
		States: []string{"closed", "open"},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := w.SetObjectState(o.ID, "open"); err != nil {
		t.Fatalf("set state: %v", err)
	}
	if got := o.State(); got != "open" {
		t.Fatalf("state: %q", got)
	}

	if err := w.SetObjectState(o.ID, "levitating"); err != nil {
		t.Fatalf("unknown variant must not error: %v", err)
	}
	if got := o.State(); got != "open" {
		t.Fatalf("state changed by unknown variant: %q", got)
	}
	if got := breaches(*events); got != 1 {
		t.Fatalf("breach events: %d", got)
	}
}

func TestRegisterObject_DuplicateIsBreach(t *testing.T) {
	w, events := newWorldWithSink(t)
	if _, err := w.RegisterObject("office", ObjectSpec{Name: "Lamp"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := w.RegisterObject("office", ObjectSpec{Name: "Lamp"}); err == nil {
		t.Fatalf("duplicate registration succeeded")
	}
	if got := breaches(*events); got != 1 {
		t.Fatalf("breach events: %d", got)
	}
}

func TestSelectActor_MovesSelectionFlag(t *testing.T) {
	w, _ := newWorldWithSink(t)
	manny := w.CreateActor("Manny")
	glottis := w.CreateActor("Glottis")

	if _, ok := w.SelectedActor(); ok {
		t.Fatalf("selection before any select")
	}
	if err := w.SelectActor(manny.ID); err != nil {
		t.Fatalf("select: %v", err)
	}
	if err := w.SelectActor(glottis.ID); err != nil {
		t.Fatalf("select: %v", err)
	}
	sel, ok := w.SelectedActor()
	if !ok || sel != glottis {
		t.Fatalf("selected: %+v", sel)
	}
	if manny.Selected {
		t.Fatalf("previous selection flag not cleared")
	}
}

func TestPutActorInSet_ClearsMembership(t *testing.T) {
	w, _ := newWorldWithSink(t)
	r := NewResolver(w)
	manny := w.CreateActor("Manny")
	_ = w.PutActorInSet(manny.ID, "office")
	_ = w.SetActorPos(manny.ID, Vec3{X: 5, Y: 5})
	if err := r.ResolveActorSectors(manny.ID); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(manny.Sectors) == 0 {
		t.Fatalf("no membership after resolution")
	}

	if err := w.PutActorInSet(manny.ID, "alley"); err != nil {
		t.Fatalf("move: %v", err)
	}
	if len(manny.Sectors) != 0 {
		t.Fatalf("membership survived the set transition: %v", manny.Sectors)
	}
}

func TestSayFinishSay(t *testing.T) {
	w, _ := newWorldWithSink(t)
	manny := w.CreateActor("Manny")

	if err := w.Say(manny.ID, "Viva la revolucion!"); err != nil {
		t.Fatalf("say: %v", err)
	}
	if !manny.Speaking || manny.LastLine == "" {
		t.Fatalf("speaking state: %+v", manny)
	}
	if err := w.FinishSay(manny.ID); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if manny.Speaking {
		t.Fatalf("still speaking after finish")
	}
}

func TestChores(t *testing.T) {
	w, _ := newWorldWithSink(t)
	manny := w.CreateActor("Manny")

	if err := w.LoopChore(manny.ID, "ma_smoke"); err != nil {
		t.Fatalf("loop: %v", err)
	}
	if manny.Chore.ID != "ma_smoke" || manny.Chore.Mode != ChoreLooping {
		t.Fatalf("chore: %+v", manny.Chore)
	}
	if err := w.StopChore(manny.ID); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if manny.Chore.Mode != ChoreIdle {
		t.Fatalf("chore after stop: %+v", manny.Chore)
	}

	if err := w.BindChores(manny.ID, "ma_walk", "ma_talk", "ma_mumble"); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if manny.WalkChore != "ma_walk" || manny.TalkChore != "ma_talk" || manny.MumbleChore != "ma_mumble" {
		t.Fatalf("bound chores: %+v", manny)
	}
}
