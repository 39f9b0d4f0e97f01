package world

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"marionette.dev/internal/persistence/snapshot"
)

// ExportSnapshot builds a consistent view of the world for the
// presentation/export layer. Snapshot reads occur between frames only;
// the caller (the runtime loop) supplies the frame counter and the
// cutscene depth it owns.
func (w *World) ExportSnapshot(frame uint64, cutsceneDepth int) snapshot.SnapshotV1 {
	snap := snapshot.SnapshotV1{
		Header:        snapshot.Header{Version: 1, RuntimeID: w.cfg.ID, Frame: frame},
		CurrentSet:    w.current,
		SelectedActor: w.selected,
		CutsceneDepth: cutsceneDepth,
		HeadTracking:  w.headTracking,
	}

	for _, sid := range w.setOrder {
		s := w.sets[sid]
		sv := snapshot.SetV1{ID: s.ID}
		if s.CurrentSetup >= 0 && s.CurrentSetup < len(s.Setups) {
			sv.CurrentSetup = s.Setups[s.CurrentSetup].Name
		}
		for i := range s.Sectors {
			sec := &s.Sectors[i]
			sv.Sectors = append(sv.Sectors, snapshot.SectorV1{
				ID:     sec.ID,
				Name:   sec.Name,
				Kind:   sec.Kind.String(),
				Active: sec.Active,
			})
		}
		snap.Sets = append(snap.Sets, sv)
	}

	for _, aid := range w.actorOrder {
		a := w.actors[aid]
		av := snapshot.ActorV1{
			ID:          a.ID,
			Handle:      a.Handle,
			Pos:         [3]float64{a.Pos.X, a.Pos.Y, a.Pos.Z},
			Yaw:         a.Yaw,
			Visible:     a.Visible,
			IgnoreBoxes: a.IgnoreBoxes,
			CurrentSet:  a.CurrentSet,
			Chore:       a.Chore.ID,
			ChoreMode:   a.Chore.Mode.String(),
			HeadTarget:  a.HeadTarget,
			Speaking:    a.Speaking,
		}
		if len(a.CostumeStack) > 0 {
			av.CostumeStack = append([]string(nil), a.CostumeStack...)
		}
		if len(a.Inventory) > 0 {
			av.Inventory = append([]string(nil), a.Inventory...)
		}
		if len(a.Sectors) > 0 {
			av.Sectors = map[string]string{}
			for kind, hit := range a.Sectors {
				av.Sectors[kind.String()] = hit.Name
			}
		}
		snap.Actors = append(snap.Actors, av)
	}

	for _, sid := range w.setOrder {
		for _, oid := range w.objectsBySet[sid] {
			o := w.objects[oid]
			ov := snapshot.ObjectV1{
				ID:        o.ID,
				Handle:    o.Handle,
				SetID:     o.SetID,
				HasPos:    o.HasPos,
				Sector:    o.Sector,
				State:     o.State(),
				Touchable: o.Touchable,
				Visible:   o.Visible,
			}
			if o.HasPos {
				ov.Pos = [3]float64{o.Pos.X, o.Pos.Y, o.Pos.Z}
			}
			snap.Objects = append(snap.Objects, ov)
		}
	}

	return snap
}

// StateDigest hashes the canonical JSON of a snapshot. Two runs fed the
// same script and control stream must produce identical digests frame by
// frame; replay verification depends on it.
func StateDigest(snap snapshot.SnapshotV1) string {
	b, err := json.Marshal(snap)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
