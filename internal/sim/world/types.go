package world

import "math"

type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Point is a 2D position on the set floor plane. Sector geometry is flat;
// the Z component of a world position is ignored for containment tests.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (v Vec3) Floor() Point { return Point{X: v.X, Y: v.Y} }

// SectorKind tags what a sector polygon constrains: actor movement,
// camera selection, or hotspot targeting.
type SectorKind uint8

const (
	KindWalk SectorKind = iota
	KindCamera
	KindHot
)

var sectorKindNames = [...]string{"walk", "camera", "hot"}

func (k SectorKind) String() string {
	if int(k) < len(sectorKindNames) {
		return sectorKindNames[k]
	}
	return "unknown"
}

// ParseSectorKind accepts the names used by set geometry files.
func ParseSectorKind(s string) (SectorKind, bool) {
	switch s {
	case "walk":
		return KindWalk, true
	case "camera":
		return KindCamera, true
	case "hot":
		return KindHot, true
	default:
		return 0, false
	}
}

// ChoreMode is the playback state of an actor's current chore.
type ChoreMode uint8

const (
	ChoreIdle ChoreMode = iota
	ChorePlaying
	ChoreLooping
)

var choreModeNames = [...]string{"idle", "playing", "looping"}

func (m ChoreMode) String() string {
	if int(m) < len(choreModeNames) {
		return choreModeNames[m]
	}
	return "unknown"
}

// ChoreState is the current chore binding plus its playback mode.
type ChoreState struct {
	ID   string    `json:"id,omitempty"`
	Mode ChoreMode `json:"mode"`
}

// SectorHit identifies the sector a point resolved into.
type SectorHit struct {
	Set  string     `json:"set"`
	ID   int        `json:"id"`
	Name string     `json:"name"`
	Kind SectorKind `json:"kind"`
}

func distance(a, b Vec3) float64 {
	dx := b.X - a.X
	dy := b.Y - a.Y
	dz := b.Z - a.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// normalizeAngle maps degrees into (-180, 180].
func normalizeAngle(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg <= -180 {
		deg += 360
	} else if deg > 180 {
		deg -= 360
	}
	return deg
}
