package world

// Sector is a flat polygonal region of one kind. A containment test
// against a sector is only meaningful while Active; resolution skips
// inactive sectors entirely.
type Sector struct {
	ID       int
	Name     string
	Kind     SectorKind
	Vertices []Point
	Active   bool
}

// contains implements the even-odd rule with edge inclusion: points on a
// polygon edge count as inside. Degenerate polygons (fewer than three
// vertices) contain nothing.
func (s *Sector) contains(p Point) bool {
	if len(s.Vertices) < 3 {
		return false
	}
	if pointOnPolygonEdge(p, s.Vertices) {
		return true
	}
	return rayCastContains(p, s.Vertices)
}

func pointOnPolygonEdge(p Point, vertices []Point) bool {
	prev := vertices[len(vertices)-1]
	for _, cur := range vertices {
		if pointOnSegment(p, prev, cur) {
			return true
		}
		prev = cur
	}
	return false
}

func pointOnSegment(p, a, b Point) bool {
	cross := (p.Y-a.Y)*(b.X-a.X) - (p.X-a.X)*(b.Y-a.Y)
	if cross > 1e-6 || cross < -1e-6 {
		return false
	}
	dot := (p.X-a.X)*(p.X-b.X) + (p.Y-a.Y)*(p.Y-b.Y)
	return dot <= 0
}

func rayCastContains(p Point, vertices []Point) bool {
	inside := false
	j := len(vertices) - 1
	for i := 0; i < len(vertices); i++ {
		vi, vj := vertices[i], vertices[j]
		if (vi.Y > p.Y) != (vj.Y > p.Y) {
			denom := vj.Y - vi.Y
			if denom > 1e-9 || denom < -1e-9 {
				xinters := (p.Y-vi.Y)*(vj.X-vi.X)/denom + vi.X
				if xinters > p.X {
					inside = !inside
				}
			}
		}
		j = i
	}
	return inside
}

// Setup is a named camera configuration. Interest is the point actors and
// objects are measured against when picking the best setup.
type Setup struct {
	Name        string
	Interest    Point
	HasInterest bool
	Position    Point
	HasPosition bool
}

func (s *Setup) targetPoint() (Point, bool) {
	if s.HasInterest {
		return s.Interest, true
	}
	if s.HasPosition {
		return s.Position, true
	}
	return Point{}, false
}

// Set is one scene's geometry: sectors in declaration order plus named
// camera setups. Sets are built once from loader data and persist for the
// process lifetime; only activation flags and the current setup mutate.
type Set struct {
	ID   string
	Name string

	// Sectors keeps declaration order; resolution ties break on it.
	Sectors []Sector
	Setups  []Setup

	CurrentSetup int

	// activeByKind caches indices of active sectors per kind, in
	// declaration order. Invalidated whenever any activation flag of that
	// kind changes, so queries reflect toggles within the same frame.
	activeByKind map[SectorKind][]int
}

func (s *Set) invalidateKind(kind SectorKind) {
	if s.activeByKind != nil {
		delete(s.activeByKind, kind)
	}
}

func (s *Set) activeSectors(kind SectorKind) []int {
	if s.activeByKind == nil {
		s.activeByKind = map[SectorKind][]int{}
	}
	if idx, ok := s.activeByKind[kind]; ok {
		return idx
	}
	var idx []int
	for i := range s.Sectors {
		if s.Sectors[i].Kind == kind && s.Sectors[i].Active {
			idx = append(idx, i)
		}
	}
	s.activeByKind[kind] = idx
	return idx
}

func (s *Set) sectorByName(name string) *Sector {
	for i := range s.Sectors {
		if s.Sectors[i].Name == name {
			return &s.Sectors[i]
		}
	}
	return nil
}

func (s *Set) setupIndex(name string) int {
	for i := range s.Setups {
		if s.Setups[i].Name == name {
			return i
		}
	}
	return -1
}

// bestSetupFor picks the setup whose target point is nearest p, falling
// back to the first setup when none declares a target.
func (s *Set) bestSetupFor(p Point) int {
	best := -1
	bestDist := 0.0
	for i := range s.Setups {
		target, ok := s.Setups[i].targetPoint()
		if !ok {
			continue
		}
		dx := p.X - target.X
		dy := p.Y - target.Y
		d := dx*dx + dy*dy
		if best == -1 || d < bestDist {
			best = i
			bestDist = d
		}
	}
	if best == -1 && len(s.Setups) > 0 {
		return 0
	}
	return best
}
