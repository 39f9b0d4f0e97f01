// Package stage loads parsed set geometry: the output shape of the
// external asset loader. The runtime treats this data as read-only input
// and never re-derives it from raw assets.
package stage

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type SetDef struct {
	ID      string      `json:"id"`
	Name    string      `json:"name,omitempty"`
	Sectors []SectorDef `json:"sectors"`
	Setups  []SetupDef  `json:"setups,omitempty"`
}

type SectorDef struct {
	ID       int          `json:"id"`
	Name     string       `json:"name"`
	Kind     string       `json:"kind"` // "walk", "camera", "hot"
	Active   *bool        `json:"active,omitempty"`
	Vertices [][2]float64 `json:"vertices"`
}

// DefaultActive applies the authored default: sectors are active unless
// the file says otherwise.
func (s SectorDef) DefaultActive() bool {
	if s.Active == nil {
		return true
	}
	return *s.Active
}

type SetupDef struct {
	Name     string      `json:"name"`
	Interest *[2]float64 `json:"interest,omitempty"`
	Position *[2]float64 `json:"position,omitempty"`
}

var validKinds = map[string]struct{}{"walk": {}, "camera": {}, "hot": {}}

// Load reads every *.json under dir in name order and returns the set
// definitions plus a digest over the raw bytes, for provenance logging.
func Load(dir string) ([]SetDef, string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, "", fmt.Errorf("read set dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var defs []SetDef
	var buf bytes.Buffer
	seen := map[string]string{}
	for _, name := range names {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, "", err
		}
		var def SetDef
		if err := json.Unmarshal(raw, &def); err != nil {
			return nil, "", fmt.Errorf("%s: %w", name, err)
		}
		if err := validate(def); err != nil {
			return nil, "", fmt.Errorf("%s: %w", name, err)
		}
		if prev, dup := seen[def.ID]; dup {
			return nil, "", fmt.Errorf("%s: set id %q already defined in %s", name, def.ID, prev)
		}
		seen[def.ID] = name
		defs = append(defs, def)
		buf.Write(raw)
	}

	sum := sha256.Sum256(buf.Bytes())
	return defs, hex.EncodeToString(sum[:8]), nil
}

func validate(def SetDef) error {
	if def.ID == "" {
		return fmt.Errorf("missing set id")
	}
	seenSector := map[string]struct{}{}
	for _, sec := range def.Sectors {
		if sec.Name == "" {
			return fmt.Errorf("set %s: sector %d has no name", def.ID, sec.ID)
		}
		if _, ok := validKinds[sec.Kind]; !ok {
			return fmt.Errorf("set %s: sector %s has unknown kind %q", def.ID, sec.Name, sec.Kind)
		}
		if _, dup := seenSector[sec.Name]; dup {
			return fmt.Errorf("set %s: duplicate sector name %q", def.ID, sec.Name)
		}
		seenSector[sec.Name] = struct{}{}
	}
	for _, su := range def.Setups {
		if su.Name == "" {
			return fmt.Errorf("set %s: setup with no name", def.ID)
		}
	}
	return nil
}
