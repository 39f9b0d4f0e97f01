package indexdb

import (
	"database/sql"
	"path/filepath"
	"testing"

	"marionette.dev/internal/persistence/snapshot"
	"marionette.dev/internal/sim/diag"
	"marionette.dev/internal/sim/runtime"
	"marionette.dev/internal/sim/tuning"
)

func TestIndexWritesAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "index.db")

	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}

	if err := idx.UpsertStage("deadbeef", tuning.Defaults()); err != nil {
		t.Fatalf("UpsertStage: %v", err)
	}

	idx.WriteFrame(runtime.FrameLogEntry{
		Frame: 1, Digest: "d1", Live: 2, Events: 0,
	})
	idx.WriteFrame(runtime.FrameLogEntry{
		Frame: 2, Digest: "d2", Live: 2, Events: 1,
		Controls: []runtime.Control{{Op: "SKIP"}},
	})

	// Two events on the same frame get distinct seq values.
	idx.WriteDiag(diag.Event{Frame: 2, Severity: diag.SeverityWarn, Code: "W_STRUCTURAL_VIOLATION", Subject: "cutscene.end", Detail: "underflow"})
	idx.WriteDiag(diag.Event{Frame: 2, Severity: diag.SeverityInfo, Code: "I_TASK_KILLED", Subject: "task.kill", Detail: "walk.east"})

	idx.RecordSnapshot("snapshots/2.snap.zst", snapshot.SnapshotV1{
		Header:        snapshot.Header{Version: 1, Frame: 2},
		CurrentSet:    "mo_office",
		CutsceneDepth: 1,
		Sets:          []snapshot.SetV1{{ID: "mo_office"}},
		Actors:        []snapshot.ActorV1{{ID: "manny"}},
	})

	// Close drains the queue and commits the open batch.
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()

	var frames int
	if err := db.QueryRow(`SELECT COUNT(*) FROM frames`).Scan(&frames); err != nil {
		t.Fatalf("count frames: %v", err)
	}
	if frames != 2 {
		t.Fatalf("frames = %d, want 2", frames)
	}

	var digest string
	var controls int
	if err := db.QueryRow(`SELECT digest, controls FROM frames WHERE frame = 2`).Scan(&digest, &controls); err != nil {
		t.Fatalf("frame 2: %v", err)
	}
	if digest != "d2" || controls != 1 {
		t.Fatalf("frame 2 = (%s, %d), want (d2, 1)", digest, controls)
	}

	rows, err := db.Query(`SELECT seq, code FROM diagnostics WHERE frame = 2 ORDER BY seq`)
	if err != nil {
		t.Fatalf("diagnostics: %v", err)
	}
	defer rows.Close()
	var seqs []int
	var codes []string
	for rows.Next() {
		var seq int
		var code string
		if err := rows.Scan(&seq, &code); err != nil {
			t.Fatalf("scan: %v", err)
		}
		seqs = append(seqs, seq)
		codes = append(codes, code)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(seqs) != 2 || seqs[0] != 0 || seqs[1] != 1 {
		t.Fatalf("diag seqs = %v", seqs)
	}
	if codes[0] != "W_STRUCTURAL_VIOLATION" || codes[1] != "I_TASK_KILLED" {
		t.Fatalf("diag codes = %v", codes)
	}

	var snapSet string
	var depth, actors int
	if err := db.QueryRow(`SELECT current_set, cutscene_depth, actors FROM snapshots WHERE frame = 2`).Scan(&snapSet, &depth, &actors); err != nil {
		t.Fatalf("snapshot row: %v", err)
	}
	if snapSet != "mo_office" || depth != 1 || actors != 1 {
		t.Fatalf("snapshot row = (%s, %d, %d)", snapSet, depth, actors)
	}

	var stageDigest string
	if err := db.QueryRow(`SELECT value FROM meta WHERE key = 'stage_digest'`).Scan(&stageDigest); err != nil {
		t.Fatalf("meta: %v", err)
	}
	if stageDigest != "deadbeef" {
		t.Fatalf("stage_digest = %s", stageDigest)
	}
	var tuneJSON string
	if err := db.QueryRow(`SELECT value FROM meta WHERE key = 'tuning_json'`).Scan(&tuneJSON); err != nil {
		t.Fatalf("meta tuning_json: %v", err)
	}
	if tuneJSON == "" {
		t.Fatalf("tuning_json empty")
	}
}

func TestUpsertStageReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := idx.UpsertStage("aaaa", tuning.Defaults()); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := idx.UpsertStage("bbbb", tuning.Defaults()); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()

	var got string
	if err := db.QueryRow(`SELECT value FROM meta WHERE key = 'stage_digest'`).Scan(&got); err != nil {
		t.Fatalf("meta: %v", err)
	}
	if got != "bbbb" {
		t.Fatalf("stage_digest = %s, want bbbb", got)
	}
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM meta WHERE key = 'stage_digest'`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("stage_digest rows = %d, want 1", n)
	}
}

func TestWriteAfterCloseIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Must not panic on the closed channel.
	idx.WriteFrame(runtime.FrameLogEntry{Frame: 9, Digest: "x"})
	idx.WriteDiag(diag.Event{Frame: 9, Severity: diag.SeverityInfo, Subject: "task.kill"})
	idx.RecordSnapshot("p", snapshot.SnapshotV1{})
}
