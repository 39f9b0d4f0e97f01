package world

// Actor is one logical character. Actors are created once at script load
// time and persist across set transitions; only their fields mutate.
//
// All mutation goes through World accessors. Sector membership in
// particular is written only by the resolver (ResolveActorSectors); script
// paths can merely request a re-resolution.
type Actor struct {
	ID     string
	Name   string
	Handle uint32

	Pos Vec3
	Yaw float64 // degrees, 0 = +Y, counter-clockwise

	Visible     bool
	IgnoreBoxes bool
	Selected    bool

	// CostumeStack is ordered; the last entry is the active costume.
	CostumeStack []string

	Chore       ChoreState
	WalkChore   string
	TalkChore   string
	MumbleChore string

	CurrentSet string

	// Sectors is the resolver-owned membership per kind; a kind may be
	// absent when the actor stands in no active sector of that kind.
	Sectors map[SectorKind]SectorHit

	// HeadTarget is the actor id head-look tracks, "" when disabled.
	HeadTarget string

	// Inventory holds object ids in pickup order, no duplicates.
	Inventory []string

	Speaking bool
	LastLine string
}

// ActiveCostume returns the top of the costume stack, "" when empty.
func (a *Actor) ActiveCostume() string {
	if len(a.CostumeStack) == 0 {
		return ""
	}
	return a.CostumeStack[len(a.CostumeStack)-1]
}

func (a *Actor) holds(objectID string) bool {
	for _, id := range a.Inventory {
		if id == objectID {
			return true
		}
	}
	return false
}
