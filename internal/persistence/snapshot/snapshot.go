// Package snapshot defines the between-frames export of the world model
// plus its compressed file form. Snapshots are read-only views; importing
// one never happens mid-frame.
package snapshot

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

type Header struct {
	Version   int    `json:"version"`
	RuntimeID string `json:"runtime_id"`
	Frame     uint64 `json:"frame"`
}

type SnapshotV1 struct {
	Header Header `json:"header"`

	CurrentSet    string `json:"current_set"`
	SelectedActor string `json:"selected_actor,omitempty"`
	CutsceneDepth int    `json:"cutscene_depth"`
	HeadTracking  bool   `json:"head_tracking"`

	Sets    []SetV1    `json:"sets"`
	Actors  []ActorV1  `json:"actors"`
	Objects []ObjectV1 `json:"objects,omitempty"`
}

type SetV1 struct {
	ID           string     `json:"id"`
	CurrentSetup string     `json:"current_setup,omitempty"`
	Sectors      []SectorV1 `json:"sectors"`
}

type SectorV1 struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Active bool   `json:"active"`
}

type ActorV1 struct {
	ID           string            `json:"id"`
	Handle       uint32            `json:"handle"`
	Pos          [3]float64        `json:"pos"`
	Yaw          float64           `json:"yaw"`
	Visible      bool              `json:"visible"`
	IgnoreBoxes  bool              `json:"ignore_boxes,omitempty"`
	CurrentSet   string            `json:"current_set,omitempty"`
	CostumeStack []string          `json:"costume_stack,omitempty"`
	Chore        string            `json:"chore,omitempty"`
	ChoreMode    string            `json:"chore_mode"`
	HeadTarget   string            `json:"head_target,omitempty"`
	Inventory    []string          `json:"inventory,omitempty"`
	Sectors      map[string]string `json:"sectors,omitempty"` // kind -> sector name
	Speaking     bool              `json:"speaking,omitempty"`
}

type ObjectV1 struct {
	ID        string     `json:"id"`
	Handle    int64      `json:"handle"`
	SetID     string     `json:"set_id"`
	Pos       [3]float64 `json:"pos,omitempty"`
	HasPos    bool       `json:"has_pos,omitempty"`
	Sector    string     `json:"sector,omitempty"`
	State     string     `json:"state,omitempty"`
	Touchable bool       `json:"touchable"`
	Visible   bool       `json:"visible"`
}

// WriteSnapshot writes zstd-compressed JSON, creating parent directories.
func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	w := bufio.NewWriter(enc)
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		_ = enc.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	if err := json.NewDecoder(bufio.NewReader(dec)).Decode(&snap); err != nil {
		return snap, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Header.Version != 1 {
		return snap, fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	return snap, nil
}
