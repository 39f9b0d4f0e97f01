// Package runtime hosts one simulation session: the world model, the
// cooperative scheduler, the geometry resolver, and the cutscene ledger,
// driven by a single frame loop. All state is owned by that loop
// goroutine; external collaborators talk to it over channels.
package runtime

import (
	"context"
	"encoding/json"
	"time"

	"marionette.dev/internal/persistence/snapshot"
	"marionette.dev/internal/protocol"
	"marionette.dev/internal/sim/cutscene"
	"marionette.dev/internal/sim/diag"
	"marionette.dev/internal/sim/sched"
	"marionette.dev/internal/sim/stage"
	"marionette.dev/internal/sim/world"
)

// Control is one external signal applied between frames.
type Control struct {
	Op  string `json:"op"`            // protocol.OpSkip or protocol.OpMessageDone
	Key string `json:"key,omitempty"` // actor id for OpMessageDone, "" for the global channel
}

// ObserverJoinRequest attaches a read-only observer stream.
type ObserverJoinRequest struct {
	SessionID string
	Out       chan []byte
	Resp      chan protocol.WelcomeMsg
}

// FrameLogEntry is the per-frame record written by the frame logger. The
// applied controls are included so a replay pass can audit the input
// stream against the digests.
type FrameLogEntry struct {
	Frame    uint64    `json:"frame"`
	Digest   string    `json:"digest"`
	Live     int       `json:"live_tasks"`
	Events   int       `json:"events"`
	Controls []Control `json:"controls,omitempty"`
}

// FrameLogger and DiagLogger are implemented under internal/persistence.
// Both may be nil.
type FrameLogger interface {
	LogFrame(FrameLogEntry)
}

type DiagLogger interface {
	LogDiag(diag.Event)
}

// SnapshotSink receives periodic snapshots; writing should be off-thread.
type SnapshotSink chan<- snapshot.SnapshotV1

type observerClient struct {
	id  string
	out chan []byte
}

type Runtime struct {
	cfg world.Config

	w      *world.World
	res    *world.Resolver
	sch    *sched.Scheduler
	ledger *cutscene.Ledger

	frame uint64

	frameLogger  FrameLogger
	diagLogger   DiagLogger
	snapshotSink SnapshotSink

	// eventsThisFrame buffers diagnostics for observers; reset per frame.
	eventsThisFrame   []diag.Event
	controlsThisFrame []Control

	inbox         chan Control
	snapshotReq   chan chan snapshot.SnapshotV1
	observerJoin  chan ObserverJoinRequest
	observerLeave chan string
	observers     map[string]*observerClient
}

// New builds a session from parsed set geometry. The first set in defs
// becomes current.
func New(cfg world.Config, defs []stage.SetDef) (*Runtime, error) {
	r := &Runtime{
		inbox:         make(chan Control, 64),
		snapshotReq:   make(chan chan snapshot.SnapshotV1, 4),
		observerJoin:  make(chan ObserverJoinRequest, 8),
		observerLeave: make(chan string, 8),
		observers:     map[string]*observerClient{},
	}

	sink := diag.SinkFunc(func(e diag.Event) {
		e.Frame = r.frame
		r.eventsThisFrame = append(r.eventsThisFrame, e)
		if r.diagLogger != nil {
			r.diagLogger.LogDiag(e)
		}
	})

	w, err := world.New(cfg, sink)
	if err != nil {
		return nil, err
	}
	r.cfg = w.Config()
	r.w = w
	r.res = world.NewResolver(w)
	r.sch = sched.New(sink)
	r.ledger = cutscene.NewLedger(r.sch, sink, w.SetHeadTracking)
	w.OnSectorToggle(r.ledger.HandleSectorToggle)
	w.OnSpeech(func(id string, speaking bool) {
		if speaking {
			r.ledger.BeginMessage(id)
		} else {
			r.ledger.EndMessage(id)
		}
	})

	for _, def := range defs {
		if err := w.LoadSet(def); err != nil {
			return nil, err
		}
	}
	if len(defs) > 0 {
		if err := w.SwitchSet(defs[0].ID); err != nil {
			return nil, err
		}
	}

	r.installAmbientTasks()
	return r, nil
}

func (r *Runtime) World() *world.World         { return r.w }
func (r *Runtime) Resolver() *world.Resolver   { return r.res }
func (r *Runtime) Scheduler() *sched.Scheduler { return r.sch }
func (r *Runtime) Ledger() *cutscene.Ledger    { return r.ledger }
func (r *Runtime) Frame() uint64               { return r.frame }
func (r *Runtime) Config() world.Config        { return r.cfg }

func (r *Runtime) SetFrameLogger(l FrameLogger)   { r.frameLogger = l }
func (r *Runtime) SetDiagLogger(l DiagLogger)     { r.diagLogger = l }
func (r *Runtime) SetSnapshotSink(s SnapshotSink) { r.snapshotSink = s }

// Inbox accepts external control signals (skip input, dialogue
// completion). Applied at the start of the next frame.
func (r *Runtime) Inbox() chan<- Control { return r.inbox }

func (r *Runtime) ObserverJoin() chan<- ObserverJoinRequest { return r.observerJoin }
func (r *Runtime) ObserverLeave() chan<- string             { return r.observerLeave }

// StartScript registers a script task; it becomes eligible on the next
// frame.
func (r *Runtime) StartScript(label string, fn sched.Fn) (sched.Handle, error) {
	return r.sch.Start(label, fn)
}

// SingleStartScript starts fn unless a live task with the label exists.
func (r *Runtime) SingleStartScript(label string, fn sched.Fn) (sched.Handle, bool, error) {
	return r.sch.SingleStart(label, fn)
}

// StartAmbientScript starts a task that the cutscene ledger suspends for
// the duration of any cinematic sequence.
func (r *Runtime) StartAmbientScript(label string, fn sched.Fn) (sched.Handle, error) {
	h, err := r.sch.Start(label, fn)
	if err != nil {
		return 0, err
	}
	r.ledger.RegisterAmbient(h)
	return h, nil
}

// installAmbientTasks starts the engine-side tracking passes. Head-look
// is ambient (cutscenes suspend it via the ledger on top of the world's
// head-tracking gate); sector membership tracking keeps running during
// cutscenes, as the original engine did.
func (r *Runtime) installAmbientTasks() {
	_, _ = r.StartAmbientScript("engine.headlook", func(ctx *sched.Ctx) error {
		for {
			if r.w.HeadTracking() {
				r.headLookPass()
			}
			ctx.Yield()
		}
	})
	_, _ = r.StartScript("engine.sectors", func(ctx *sched.Ctx) error {
		for {
			r.sectorPass()
			ctx.Yield()
		}
	})
}

// headLookRate is the maximum turn per frame while tracking, in degrees.
const headLookRate = 12.0

func (r *Runtime) headLookPass() {
	for _, id := range r.w.ActorIDs() {
		a, ok := r.w.Actor(id)
		if !ok || a.HeadTarget == "" || !a.Visible {
			continue
		}
		target, ok := r.w.Actor(a.HeadTarget)
		if !ok {
			continue
		}
		_, rel := r.res.BearingAndRange(a.Pos, a.Yaw, target.Pos)
		step := rel
		if step > headLookRate {
			step = headLookRate
		} else if step < -headLookRate {
			step = -headLookRate
		}
		if step != 0 {
			_ = r.w.SetActorYaw(id, a.Yaw+step)
		}
	}
}

func (r *Runtime) sectorPass() {
	current := r.w.CurrentSet()
	if current == "" {
		return
	}
	for _, id := range r.w.ActorIDs() {
		a, ok := r.w.Actor(id)
		if !ok || a.CurrentSet != current {
			continue
		}
		_ = r.res.ResolveActorSectors(id)
	}
	if sel, ok := r.w.SelectedActor(); ok && sel.CurrentSet == current {
		r.res.RetargetSetup(sel.ID)
	}
}

// CompleteMessage is the dialogue-completion path: it clears the actor's
// speaking state and resolves the oldest pending wait for the actor key
// and for the global key.
func (r *Runtime) CompleteMessage(actorID string) {
	if actorID != "" {
		_ = r.w.FinishSay(actorID)
		r.ledger.PostMessageComplete(actorID)
	}
	r.ledger.PostMessageComplete("")
}

// StepOnce advances exactly one frame: drain observer membership and
// snapshot requests, apply queued plus passed controls, run every
// runnable task to its next yield, then publish frame artifacts.
// Snapshot reads happen here, between frames, never mid-frame.
func (r *Runtime) StepOnce(controls []Control) {
	r.drainObserverQueues()

	r.eventsThisFrame = r.eventsThisFrame[:0]
	r.controlsThisFrame = r.controlsThisFrame[:0]
	r.frame++

	for drained := true; drained; {
		select {
		case c := <-r.inbox:
			r.applyControl(c)
		default:
			drained = false
		}
	}
	for _, c := range controls {
		r.applyControl(c)
	}

	r.sch.AdvanceFrame()

	r.publishFrame()
}

func (r *Runtime) applyControl(c Control) {
	r.controlsThisFrame = append(r.controlsThisFrame, c)
	switch c.Op {
	case protocol.OpSkip:
		r.ledger.InvokeOverride()
	case protocol.OpMessageDone:
		r.CompleteMessage(c.Key)
	default:
		r.w.Unhandled("control."+c.Op, c.Key)
	}
}

func (r *Runtime) drainObserverQueues() {
	for {
		select {
		case join := <-r.observerJoin:
			r.observers[join.SessionID] = &observerClient{id: join.SessionID, out: join.Out}
			join.Resp <- protocol.WelcomeMsg{
				Type:            protocol.TypeWelcome,
				ProtocolVersion: protocol.Version,
				SessionID:       join.SessionID,
				RuntimeID:       r.cfg.ID,
				FrameRateHz:     r.cfg.FrameRateHz,
				CurrentFrame:    r.frame,
			}
		case id := <-r.observerLeave:
			if obs, ok := r.observers[id]; ok {
				close(obs.out)
				delete(r.observers, id)
			}
		case resp := <-r.snapshotReq:
			resp <- r.Snapshot()
		default:
			return
		}
	}
}

func (r *Runtime) publishFrame() {
	if r.frameLogger != nil {
		entry := FrameLogEntry{
			Frame:  r.frame,
			Digest: r.StateDigest(),
			Live:   r.sch.Live(),
			Events: len(r.eventsThisFrame),
		}
		if len(r.controlsThisFrame) > 0 {
			entry.Controls = append([]Control(nil), r.controlsThisFrame...)
		}
		r.frameLogger.LogFrame(entry)
	}

	if r.snapshotSink != nil && r.frame%uint64(r.cfg.SnapshotEveryFrames) == 0 {
		select {
		case r.snapshotSink <- r.Snapshot():
		default:
			// Snapshot writer is behind; skip rather than stall the loop.
		}
	}

	if len(r.observers) == 0 {
		return
	}
	for _, e := range r.eventsThisFrame {
		r.broadcast(protocol.EventMsg{
			Type:            protocol.TypeEvent,
			ProtocolVersion: protocol.Version,
			Frame:           e.Frame,
			Severity:        string(e.Severity),
			Code:            e.Code,
			Subject:         e.Subject,
			Detail:          e.Detail,
		})
	}
	if r.frame%uint64(r.cfg.StreamEveryFrames) == 0 {
		r.broadcast(r.stateMsg())
	}
}

func (r *Runtime) broadcast(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	for _, obs := range r.observers {
		select {
		case obs.out <- b:
		default:
			// Slow observer: drop the message, never block the loop.
		}
	}
}

func (r *Runtime) stateMsg() protocol.StateMsg {
	msg := protocol.StateMsg{
		Type:            protocol.TypeState,
		ProtocolVersion: protocol.Version,
		Frame:           r.frame,
		CurrentSet:      r.w.CurrentSet(),
		CutsceneDepth:   r.ledger.Depth(),
	}
	for _, id := range r.w.ActorIDs() {
		a, _ := r.w.Actor(id)
		msg.Actors = append(msg.Actors, protocol.ActorState{
			ID:      a.ID,
			Pos:     [3]float64{a.Pos.X, a.Pos.Y, a.Pos.Z},
			Yaw:     a.Yaw,
			Visible: a.Visible,
			Set:     a.CurrentSet,
			Chore:   a.Chore.ID,
		})
	}
	if set, ok := r.w.Set(r.w.CurrentSet()); ok {
		for i := range set.Sectors {
			sec := &set.Sectors[i]
			msg.Sectors = append(msg.Sectors, protocol.SectorState{
				Set:    set.ID,
				Name:   sec.Name,
				Kind:   sec.Kind.String(),
				Active: sec.Active,
			})
		}
	}
	return msg
}

// Snapshot exports a consistent between-frames view of the session.
func (r *Runtime) Snapshot() snapshot.SnapshotV1 {
	return r.w.ExportSnapshot(r.frame, r.ledger.Depth())
}

// RequestSnapshot is the cross-goroutine snapshot path: the request is
// serviced by the frame loop between frames.
func (r *Runtime) RequestSnapshot() <-chan snapshot.SnapshotV1 {
	resp := make(chan snapshot.SnapshotV1, 1)
	r.snapshotReq <- resp
	return resp
}

// StateDigest hashes the current snapshot for determinism checks.
func (r *Runtime) StateDigest() string {
	return world.StateDigest(r.Snapshot())
}

// Run drives frames at the configured rate until ctx is done.
func (r *Runtime) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(r.cfg.FrameRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.Shutdown()
			return ctx.Err()
		case <-ticker.C:
			r.StepOnce(nil)
		}
	}
}

// Shutdown aborts all tasks and detaches observers.
func (r *Runtime) Shutdown() {
	r.sch.Shutdown()
	for id, obs := range r.observers {
		close(obs.out)
		delete(r.observers, id)
	}
}
