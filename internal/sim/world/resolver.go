package world

import (
	"fmt"
	"math"

	"marionette.dev/internal/sim/diag"
)

// Resolver answers spatial queries against the current set's sectors and
// derives bearing data for scripted visibility and head-targeting logic.
// It is the only writer of actor sector membership.
type Resolver struct {
	w *World
}

func NewResolver(w *World) *Resolver {
	return &Resolver{w: w}
}

// ResolveSector returns the first active sector of the given kind, in
// declaration order, whose polygon contains p. First declared wins on
// overlap; no match is a valid result, not an error.
func (r *Resolver) ResolveSector(p Point, kind SectorKind) (SectorHit, bool) {
	set, ok := r.w.sets[r.w.current]
	if !ok {
		return SectorHit{}, false
	}
	return r.resolveIn(set, p, kind)
}

func (r *Resolver) resolveIn(set *Set, p Point, kind SectorKind) (SectorHit, bool) {
	for _, i := range set.activeSectors(kind) {
		sec := &set.Sectors[i]
		if sec.contains(p) {
			return SectorHit{Set: set.ID, ID: sec.ID, Name: sec.Name, Kind: kind}, true
		}
	}
	return SectorHit{}, false
}

// SectorToggle reports what SetSectorActive did.
type SectorToggle int8

const (
	ToggleApplied SectorToggle = iota
	ToggleNoChange
	ToggleUnknown
)

// SetSectorActive flips a sector's activation flag in the named set (the
// current set when setID is ""). The per-kind resolution cache is
// invalidated immediately, so queries later in the same frame see the new
// state.
func (r *Resolver) SetSectorActive(setID, sector string, active bool) (SectorToggle, error) {
	if setID == "" {
		setID = r.w.current
	}
	set, ok := r.w.sets[setID]
	if !ok {
		return ToggleUnknown, fmt.Errorf("set sector active: unknown set %q", setID)
	}
	sec := set.sectorByName(sector)
	if sec == nil {
		return ToggleUnknown, fmt.Errorf("set sector active: %s has no sector %q", setID, sector)
	}
	if sec.Active == active {
		r.w.diag.Emit(diag.Info("sector.active", fmt.Sprintf("%s:%s already %s", setID, sector, onOff(active))))
		return ToggleNoChange, nil
	}
	sec.Active = active
	set.invalidateKind(sec.Kind)
	r.w.diag.Emit(diag.Info("sector.active", fmt.Sprintf("%s:%s %s", setID, sector, onOff(active))))
	if r.w.onSectorToggle != nil {
		r.w.onSectorToggle(setID, sector, active)
	}
	return ToggleApplied, nil
}

// IsSectorActive reports a sector's flag; unknown sectors default to
// active, matching the legacy fail-open behavior for untracked geometry.
func (r *Resolver) IsSectorActive(setID, sector string) bool {
	if setID == "" {
		setID = r.w.current
	}
	set, ok := r.w.sets[setID]
	if !ok {
		return true
	}
	sec := set.sectorByName(sector)
	if sec == nil {
		return true
	}
	return sec.Active
}

// BearingAndRange measures from an origin transform to a target position:
// euclidean distance plus the target's angle relative to the origin's
// forward yaw, normalized to (-180, 180].
func (r *Resolver) BearingAndRange(originPos Vec3, originYaw float64, target Vec3) (dist, relAngle float64) {
	dist = distance(originPos, target)
	dx := target.X - originPos.X
	dy := target.Y - originPos.Y
	// Forward is +Y at yaw 0, turning counter-clockwise.
	heading := math.Atan2(-dx, dy) * 180 / math.Pi
	relAngle = normalizeAngle(heading - originYaw)
	return dist, relAngle
}

// VisibleObject is one hot-list entry from a visibility query.
type VisibleObject struct {
	ID          string
	Handle      int64
	Distance    float64
	HasDistance bool
	Angle       float64
	WithinRange bool
}

// VisibleObjects returns the current set's objects visible from the
// origin actor, in registration order. An object is excluded when it is
// untouchable, invisible, out of range, or its governing sector is known
// and inactive. Objects lacking geometry data (no position or no sector)
// fail open: untracked objects default to visible.
func (r *Resolver) VisibleObjects(originID string, maxRange float64) []VisibleObject {
	origin, ok := r.w.actors[originID]
	if !ok {
		return nil
	}
	setID := r.w.current
	var out []VisibleObject
	for _, objID := range r.w.objectsBySet[setID] {
		o := r.w.objects[objID]
		if !o.Touchable || !o.Visible {
			continue
		}
		if o.Sector != "" && !r.IsSectorActive(setID, o.Sector) {
			continue
		}
		v := VisibleObject{ID: o.ID, Handle: o.Handle, WithinRange: true}
		if o.HasPos {
			d, ang := r.BearingAndRange(origin.Pos, origin.Yaw, o.Pos)
			v.Distance = d
			v.HasDistance = true
			v.Angle = ang
			limit := maxRange
			if limit <= 0 {
				limit = o.Range
			}
			if limit > 0 {
				v.WithinRange = d <= limit
			}
			if !v.WithinRange {
				continue
			}
		}
		out = append(out, v)
	}
	return out
}

// ResolveActorSectors recomputes the actor's membership for every sector
// kind against its current set. This is the single write path for
// membership; scripts can only request it.
func (r *Resolver) ResolveActorSectors(actorID string) error {
	a, ok := r.w.actors[actorID]
	if !ok {
		return fmt.Errorf("resolve sectors: unknown actor %q", actorID)
	}
	if a.CurrentSet == "" {
		a.Sectors = map[SectorKind]SectorHit{}
		return nil
	}
	set, ok := r.w.sets[a.CurrentSet]
	if !ok {
		a.Sectors = map[SectorKind]SectorHit{}
		return nil
	}
	p := a.Pos.Floor()
	membership := map[SectorKind]SectorHit{}
	for _, kind := range []SectorKind{KindWalk, KindCamera, KindHot} {
		if hit, ok := r.resolveIn(set, p, kind); ok {
			membership[kind] = hit
		}
	}
	a.Sectors = membership
	return nil
}

// RetargetSetup points the actor's set at the setup nearest the actor,
// the way camera selection follows the player in the original sets.
func (r *Resolver) RetargetSetup(actorID string) {
	a, ok := r.w.actors[actorID]
	if !ok || a.CurrentSet == "" {
		return
	}
	set, ok := r.w.sets[a.CurrentSet]
	if !ok || len(set.Setups) == 0 {
		return
	}
	best := set.bestSetupFor(a.Pos.Floor())
	if best >= 0 && best != set.CurrentSetup {
		set.CurrentSetup = best
		r.w.diag.Emit(diag.Info("setup.select", fmt.Sprintf("%s:%s", set.ID, set.Setups[best].Name)))
	}
}

func onOff(active bool) string {
	if active {
		return "on"
	}
	return "off"
}
