package world

// Object is an interactable registered by a set's setup script and torn
// down with its owning set. The owning set is an id back-reference, never
// a pointer, so sets and objects can be released independently.
type Object struct {
	ID     string
	Name   string
	Handle int64
	SetID  string

	Pos    Vec3
	HasPos bool
	// Sector names the governing sector, "" when the object is untracked.
	// Untracked objects are fail-open for visibility queries.
	Sector string

	// States is the finite list of authored looks; StateIndex selects one.
	States     []string
	StateIndex int

	Touchable bool
	Visible   bool

	// Range is the interaction radius used by visibility queries when the
	// caller passes no explicit maximum.
	Range float64
}

// State returns the current look, "" when the object has no state list.
func (o *Object) State() string {
	if o.StateIndex < 0 || o.StateIndex >= len(o.States) {
		return ""
	}
	return o.States[o.StateIndex]
}
