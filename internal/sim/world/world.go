// Package world holds the canonical mutable state of a simulation
// session: actors, objects, sets, sectors, inventories. The world is
// owned by a single frame-loop goroutine; there is no locking, and the
// accessor methods here are the only legal write surface. Invariants are
// enforced at this boundary, not left to callers.
package world

import (
	"fmt"
	"strings"

	"marionette.dev/internal/sim/diag"
	"marionette.dev/internal/sim/stage"
)

type World struct {
	cfg  Config
	diag diag.Sink

	actors     map[string]*Actor
	actorOrder []string
	byHandle   map[uint32]string
	nextActor  uint32

	objects      map[string]*Object
	objectsBySet map[string][]string
	nextObject   int64

	sets     map[string]*Set
	setOrder []string
	current  string

	selected string

	// headTracking gates the ambient head-look task; the cutscene ledger
	// toggles it when a sequence suppresses tracking.
	headTracking bool

	// onSectorToggle lets the cutscene ledger observe activation changes
	// without this package importing it.
	onSectorToggle func(setID, sector string, active bool)

	// onSpeech mirrors speaking transitions to the dialogue message
	// channel, same decoupling as onSectorToggle.
	onSpeech func(id string, speaking bool)
}

func New(cfg Config, sink diag.Sink) (*World, error) {
	cfg.applyDefaults()
	if sink == nil {
		sink = diag.Nop
	}
	if cfg.ID == "" {
		return nil, fmt.Errorf("world: empty runtime id")
	}
	return &World{
		cfg:          cfg,
		diag:         sink,
		actors:       map[string]*Actor{},
		byHandle:     map[uint32]string{},
		nextActor:    1,
		objects:      map[string]*Object{},
		objectsBySet: map[string][]string{},
		nextObject:   0x1000,
		sets:         map[string]*Set{},
		headTracking: true,
	}, nil
}

func (w *World) Config() Config { return w.cfg }

// OnSectorToggle registers the single activation observer.
func (w *World) OnSectorToggle(fn func(setID, sector string, active bool)) {
	w.onSectorToggle = fn
}

// OnSpeech registers the single speaking-state observer.
func (w *World) OnSpeech(fn func(id string, speaking bool)) {
	w.onSpeech = fn
}

// --- sets ---

// LoadSet ingests one parsed set definition. Loading an already-known set
// id is an invariant breach and is ignored.
func (w *World) LoadSet(def stage.SetDef) error {
	if _, ok := w.sets[def.ID]; ok {
		w.breach("set.load", fmt.Sprintf("%s already loaded", def.ID))
		return fmt.Errorf("set %s already loaded", def.ID)
	}
	s := &Set{ID: def.ID, Name: def.Name, CurrentSetup: 0}
	for _, sec := range def.Sectors {
		kind, ok := ParseSectorKind(sec.Kind)
		if !ok {
			return fmt.Errorf("set %s: sector %s: unknown kind %q", def.ID, sec.Name, sec.Kind)
		}
		verts := make([]Point, len(sec.Vertices))
		for i, v := range sec.Vertices {
			verts[i] = Point{X: v[0], Y: v[1]}
		}
		s.Sectors = append(s.Sectors, Sector{
			ID:       sec.ID,
			Name:     sec.Name,
			Kind:     kind,
			Vertices: verts,
			Active:   sec.DefaultActive(),
		})
	}
	for _, su := range def.Setups {
		setup := Setup{Name: su.Name}
		if su.Interest != nil {
			setup.Interest = Point{X: su.Interest[0], Y: su.Interest[1]}
			setup.HasInterest = true
		}
		if su.Position != nil {
			setup.Position = Point{X: su.Position[0], Y: su.Position[1]}
			setup.HasPosition = true
		}
		s.Setups = append(s.Setups, setup)
	}
	w.sets[def.ID] = s
	w.setOrder = append(w.setOrder, def.ID)
	w.diag.Emit(diag.Info("set.load", fmt.Sprintf("%s sectors=%d setups=%d", def.ID, len(s.Sectors), len(s.Setups))))
	return nil
}

// SwitchSet makes the named set current. The switch is atomic from the
// callers' perspective: validation happens before the pointer moves, so
// no observer ever sees zero or two current sets.
func (w *World) SwitchSet(id string) error {
	if _, ok := w.sets[id]; !ok {
		return fmt.Errorf("switch set: unknown set %q", id)
	}
	if w.current == id {
		return nil
	}
	w.current = id
	w.diag.Emit(diag.Info("set.switch", id))
	return nil
}

// CurrentSet returns the current set id, "" before the first switch.
func (w *World) CurrentSet() string { return w.current }

func (w *World) Set(id string) (*Set, bool) {
	s, ok := w.sets[id]
	return s, ok
}

func (w *World) SetIDs() []string {
	out := make([]string, len(w.setOrder))
	copy(out, w.setOrder)
	return out
}

// SelectSetup makes the named setup current for the set.
func (w *World) SelectSetup(setID, name string) error {
	s, ok := w.sets[setID]
	if !ok {
		return fmt.Errorf("select setup: unknown set %q", setID)
	}
	idx := s.setupIndex(name)
	if idx < 0 {
		return fmt.Errorf("select setup: set %s has no setup %q", setID, name)
	}
	if s.CurrentSetup != idx {
		s.CurrentSetup = idx
		w.diag.Emit(diag.Info("setup.select", fmt.Sprintf("%s:%s", setID, name)))
	}
	return nil
}

// TearDownSet removes a set and the objects it owns. The current set
// cannot be torn down.
func (w *World) TearDownSet(id string) error {
	if _, ok := w.sets[id]; !ok {
		return fmt.Errorf("tear down: unknown set %q", id)
	}
	if w.current == id {
		w.breach("set.teardown", fmt.Sprintf("%s is current", id))
		return fmt.Errorf("tear down: %s is the current set", id)
	}
	for _, objID := range w.objectsBySet[id] {
		delete(w.objects, objID)
	}
	delete(w.objectsBySet, id)
	delete(w.sets, id)
	order := w.setOrder[:0]
	for _, sid := range w.setOrder {
		if sid != id {
			order = append(order, sid)
		}
	}
	w.setOrder = order
	w.diag.Emit(diag.Info("set.teardown", id))
	return nil
}

// --- actors ---

// CreateActor registers a new actor under a canonical id derived from the
// label. Creating the same label twice returns the existing actor.
func (w *World) CreateActor(label string) *Actor {
	id := canonicalID(label)
	if a, ok := w.actors[id]; ok {
		return a
	}
	a := &Actor{
		ID:      id,
		Name:    label,
		Handle:  w.nextActor,
		Visible: true,
		Sectors: map[SectorKind]SectorHit{},
	}
	w.nextActor++
	w.actors[id] = a
	w.actorOrder = append(w.actorOrder, id)
	w.byHandle[a.Handle] = id
	w.diag.Emit(diag.Info("actor.create", fmt.Sprintf("%s (#%d)", id, a.Handle)))
	return a
}

func (w *World) Actor(id string) (*Actor, bool) {
	a, ok := w.actors[id]
	return a, ok
}

func (w *World) ActorByHandle(h uint32) (*Actor, bool) {
	id, ok := w.byHandle[h]
	if !ok {
		return nil, false
	}
	return w.actors[id], true
}

// ActorIDs returns actor ids in creation order.
func (w *World) ActorIDs() []string {
	out := make([]string, len(w.actorOrder))
	copy(out, w.actorOrder)
	return out
}

// SelectActor marks one actor as the player-controlled one.
func (w *World) SelectActor(id string) error {
	a, ok := w.actors[id]
	if !ok {
		return fmt.Errorf("select actor: unknown actor %q", id)
	}
	if w.selected != "" && w.selected != id {
		if prev, ok := w.actors[w.selected]; ok {
			prev.Selected = false
		}
	}
	a.Selected = true
	w.selected = id
	return nil
}

func (w *World) SelectedActor() (*Actor, bool) {
	if w.selected == "" {
		return nil, false
	}
	a, ok := w.actors[w.selected]
	return a, ok
}

func (w *World) SetActorPos(id string, pos Vec3) error {
	a, ok := w.actors[id]
	if !ok {
		return fmt.Errorf("unknown actor %q", id)
	}
	a.Pos = pos
	return nil
}

func (w *World) SetActorYaw(id string, yaw float64) error {
	a, ok := w.actors[id]
	if !ok {
		return fmt.Errorf("unknown actor %q", id)
	}
	a.Yaw = normalizeAngle(yaw)
	return nil
}

// PutActorInSet moves the actor into a set. Membership from the previous
// set is dropped; it is re-resolved on the next resolver pass.
func (w *World) PutActorInSet(id, setID string) error {
	a, ok := w.actors[id]
	if !ok {
		return fmt.Errorf("unknown actor %q", id)
	}
	if _, ok := w.sets[setID]; !ok {
		return fmt.Errorf("unknown set %q", setID)
	}
	if a.CurrentSet == setID {
		return nil
	}
	a.CurrentSet = setID
	a.Sectors = map[SectorKind]SectorHit{}
	w.diag.Emit(diag.Info("actor.set", fmt.Sprintf("%s -> %s", id, setID)))
	return nil
}

func (w *World) SetActorVisible(id string, visible bool) error {
	a, ok := w.actors[id]
	if !ok {
		return fmt.Errorf("unknown actor %q", id)
	}
	a.Visible = visible
	return nil
}

func (w *World) SetIgnoreBoxes(id string, ignore bool) error {
	a, ok := w.actors[id]
	if !ok {
		return fmt.Errorf("unknown actor %q", id)
	}
	a.IgnoreBoxes = ignore
	return nil
}

// PushCostume pushes onto the actor's costume stack; the new entry is
// active immediately.
func (w *World) PushCostume(id, costume string) error {
	a, ok := w.actors[id]
	if !ok {
		return fmt.Errorf("unknown actor %q", id)
	}
	a.CostumeStack = append(a.CostumeStack, costume)
	w.diag.Emit(diag.Info("costume.push", fmt.Sprintf("%s %s", id, costume)))
	return nil
}

// PopCostume removes the active costume. Popping an empty stack is a
// logged no-op, never an underflow.
func (w *World) PopCostume(id string) (string, error) {
	a, ok := w.actors[id]
	if !ok {
		return "", fmt.Errorf("unknown actor %q", id)
	}
	if len(a.CostumeStack) == 0 {
		w.breach("costume.pop", fmt.Sprintf("%s stack empty", id))
		return "", nil
	}
	top := a.CostumeStack[len(a.CostumeStack)-1]
	a.CostumeStack = a.CostumeStack[:len(a.CostumeStack)-1]
	w.diag.Emit(diag.Info("costume.pop", fmt.Sprintf("%s %s", id, top)))
	return top, nil
}

// PlayChore starts a chore once; LoopChore plays it until stopped.
func (w *World) PlayChore(id, chore string) error { return w.setChore(id, chore, ChorePlaying) }

func (w *World) LoopChore(id, chore string) error { return w.setChore(id, chore, ChoreLooping) }

// StopChore returns the actor to idle.
func (w *World) StopChore(id string) error { return w.setChore(id, "", ChoreIdle) }

func (w *World) setChore(id, chore string, mode ChoreMode) error {
	a, ok := w.actors[id]
	if !ok {
		return fmt.Errorf("unknown actor %q", id)
	}
	a.Chore = ChoreState{ID: chore, Mode: mode}
	return nil
}

func (w *World) BindChores(id, walk, talk, mumble string) error {
	a, ok := w.actors[id]
	if !ok {
		return fmt.Errorf("unknown actor %q", id)
	}
	a.WalkChore, a.TalkChore, a.MumbleChore = walk, talk, mumble
	return nil
}

// SetHeadTarget points head-look at another actor; ClearHeadTarget stops it.
func (w *World) SetHeadTarget(id, targetID string) error {
	a, ok := w.actors[id]
	if !ok {
		return fmt.Errorf("unknown actor %q", id)
	}
	if _, ok := w.actors[targetID]; !ok {
		return fmt.Errorf("unknown head target %q", targetID)
	}
	a.HeadTarget = targetID
	return nil
}

func (w *World) ClearHeadTarget(id string) error {
	a, ok := w.actors[id]
	if !ok {
		return fmt.Errorf("unknown actor %q", id)
	}
	a.HeadTarget = ""
	return nil
}

// SetHeadTracking gates the ambient head-look pass globally. The cutscene
// ledger owns this flag during sequences.
func (w *World) SetHeadTracking(enabled bool) { w.headTracking = enabled }

func (w *World) HeadTracking() bool { return w.headTracking }

// Say marks the actor as speaking the line. The dialogue subsystem posts
// the matching message-complete signal when playback ends.
func (w *World) Say(id, line string) error {
	a, ok := w.actors[id]
	if !ok {
		return fmt.Errorf("unknown actor %q", id)
	}
	a.Speaking = true
	a.LastLine = line
	w.diag.Emit(diag.Info("actor.say", fmt.Sprintf("%s %q", id, line)))
	if w.onSpeech != nil {
		w.onSpeech(id, true)
	}
	return nil
}

// FinishSay clears the speaking state; the runtime turns this into a
// message-complete signal for waiting tasks.
func (w *World) FinishSay(id string) error {
	a, ok := w.actors[id]
	if !ok {
		return fmt.Errorf("unknown actor %q", id)
	}
	a.Speaking = false
	if w.onSpeech != nil {
		w.onSpeech(id, false)
	}
	return nil
}

// --- inventory ---

// InventoryAdd is idempotent: adding an already-held object is a no-op.
func (w *World) InventoryAdd(actorID, objectID string) error {
	a, ok := w.actors[actorID]
	if !ok {
		return fmt.Errorf("unknown actor %q", actorID)
	}
	if _, ok := w.objects[objectID]; !ok {
		return fmt.Errorf("unknown object %q", objectID)
	}
	if a.holds(objectID) {
		return nil
	}
	a.Inventory = append(a.Inventory, objectID)
	w.diag.Emit(diag.Info("inventory.add", fmt.Sprintf("%s %s", actorID, objectID)))
	return nil
}

// InventoryRemove of an object the actor does not hold is a no-op.
func (w *World) InventoryRemove(actorID, objectID string) error {
	a, ok := w.actors[actorID]
	if !ok {
		return fmt.Errorf("unknown actor %q", actorID)
	}
	for i, id := range a.Inventory {
		if id == objectID {
			a.Inventory = append(a.Inventory[:i], a.Inventory[i+1:]...)
			w.diag.Emit(diag.Info("inventory.remove", fmt.Sprintf("%s %s", actorID, objectID)))
			return nil
		}
	}
	return nil
}

// InventoryList returns the actor's objects in pickup order.
func (w *World) InventoryList(actorID string) []string {
	a, ok := w.actors[actorID]
	if !ok {
		return nil
	}
	out := make([]string, len(a.Inventory))
	copy(out, a.Inventory)
	return out
}

// --- objects ---

// ObjectSpec is the accessor-level description of a new object.
type ObjectSpec struct {
	ID        string
	Name      string
	Pos       Vec3
	HasPos    bool
	Sector    string
	States    []string
	Touchable bool
	Visible   bool
	Range     float64
}

// RegisterObject creates an object owned by setID. Registration of a
// known id is an invariant breach and is ignored.
func (w *World) RegisterObject(setID string, spec ObjectSpec) (*Object, error) {
	if _, ok := w.sets[setID]; !ok {
		return nil, fmt.Errorf("register object: unknown set %q", setID)
	}
	id := spec.ID
	if id == "" {
		id = canonicalID(spec.Name)
	}
	if _, ok := w.objects[id]; ok {
		w.breach("object.register", fmt.Sprintf("%s already registered", id))
		return nil, fmt.Errorf("object %s already registered", id)
	}
	w.nextObject++
	o := &Object{
		ID:        id,
		Name:      spec.Name,
		Handle:    w.nextObject,
		SetID:     setID,
		Pos:       spec.Pos,
		HasPos:    spec.HasPos,
		Sector:    spec.Sector,
		States:    spec.States,
		Touchable: spec.Touchable,
		Visible:   spec.Visible,
		Range:     spec.Range,
	}
	w.objects[id] = o
	w.objectsBySet[setID] = append(w.objectsBySet[setID], id)
	w.diag.Emit(diag.Info("object.register", fmt.Sprintf("%s in %s", id, setID)))
	return o, nil
}

func (w *World) Object(id string) (*Object, bool) {
	o, ok := w.objects[id]
	return o, ok
}

// ObjectsInSet returns object ids in registration order.
func (w *World) ObjectsInSet(setID string) []string {
	src := w.objectsBySet[setID]
	out := make([]string, len(src))
	copy(out, src)
	return out
}

// SetObjectState selects a look by name from the object's authored list.
// Unknown variants are an invariant breach and leave the state unchanged.
func (w *World) SetObjectState(id, state string) error {
	o, ok := w.objects[id]
	if !ok {
		return fmt.Errorf("unknown object %q", id)
	}
	for i, s := range o.States {
		if s == state {
			o.StateIndex = i
			return nil
		}
	}
	w.breach("object.state", fmt.Sprintf("%s has no state %q", id, state))
	return nil
}

func (w *World) SetObjectTouchable(id string, touchable bool) error {
	o, ok := w.objects[id]
	if !ok {
		return fmt.Errorf("unknown object %q", id)
	}
	o.Touchable = touchable
	return nil
}

func (w *World) SetObjectVisible(id string, visible bool) error {
	o, ok := w.objects[id]
	if !ok {
		return fmt.Errorf("unknown object %q", id)
	}
	o.Visible = visible
	return nil
}

// --- diagnostics ---

func (w *World) breach(subject, detail string) {
	w.diag.Emit(diag.Warn(diag.CodeInvariantBreach, subject, detail))
}

// Unhandled is the reporting path for script calls the accessor surface
// does not cover; unknown operations are surfaced, never silently dropped.
func (w *World) Unhandled(op, detail string) {
	w.diag.Emit(diag.Warn(diag.CodeInvariantBreach, "op.unhandled", fmt.Sprintf("%s %s", op, detail)))
}

// canonicalID lowercases a label and squeezes separators to underscores.
func canonicalID(label string) string {
	var b strings.Builder
	for _, ch := range label {
		switch {
		case ch >= 'a' && ch <= 'z' || ch >= '0' && ch <= '9':
			b.WriteRune(ch)
		case ch >= 'A' && ch <= 'Z':
			b.WriteRune(ch + ('a' - 'A'))
		default:
			s := b.String()
			if len(s) > 0 && s[len(s)-1] != '_' {
				b.WriteByte('_')
			}
		}
	}
	id := strings.Trim(b.String(), "_")
	if id == "" {
		return "actor"
	}
	return id
}
