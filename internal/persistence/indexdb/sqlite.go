// Package indexdb maintains a queryable SQLite index next to the JSONL
// logs. The index is secondary: writes are async and dropped under
// backpressure, the compressed logs remain the source of truth.
package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"marionette.dev/internal/persistence/snapshot"
	"marionette.dev/internal/sim/diag"
	"marionette.dev/internal/sim/runtime"
	"marionette.dev/internal/sim/tuning"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
}

type reqKind int

const (
	reqFrame reqKind = iota + 1
	reqDiag
	reqSnapshot
)

type req struct {
	kind reqKind

	frame    runtime.FrameLogEntry
	diag     diag.Event
	snapshot snapshotRow
}

type snapshotRow struct {
	Frame      uint64
	Path       string
	CurrentSet string
	Sets       int
	Actors     int
	Objects    int
	Depth      int
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		// High buffer: diagnostics burst during heavy script frames.
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	// NORMAL is a decent durability/perf tradeoff for a secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS frames (
			frame INTEGER PRIMARY KEY,
			digest TEXT NOT NULL,
			live_tasks INTEGER NOT NULL,
			events INTEGER NOT NULL,
			controls INTEGER NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS diagnostics (
			frame INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			severity TEXT NOT NULL,
			code TEXT,
			subject TEXT NOT NULL,
			detail TEXT,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (frame, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_diag_subject_frame ON diagnostics(subject, frame);`,
		`CREATE INDEX IF NOT EXISTS idx_diag_code_frame ON diagnostics(code, frame);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			frame INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			current_set TEXT NOT NULL,
			sets INTEGER NOT NULL,
			actors INTEGER NOT NULL,
			objects INTEGER NOT NULL,
			cutscene_depth INTEGER NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) WriteFrame(entry runtime.FrameLogEntry) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqFrame, frame: entry}:
	default:
		// Drop if the indexer falls behind; JSONL logs remain the source of truth.
	}
}

func (s *SQLiteIndex) WriteDiag(e diag.Event) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqDiag, diag: e}:
	default:
	}
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if s == nil || s.closed.Load() {
		return
	}
	r := snapshotRow{
		Frame:      snap.Header.Frame,
		Path:       path,
		CurrentSet: snap.CurrentSet,
		Sets:       len(snap.Sets),
		Actors:     len(snap.Actors),
		Objects:    len(snap.Objects),
		Depth:      snap.CutsceneDepth,
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r}:
	default:
	}
}

// UpsertStage records the loaded geometry digest and the applied tuning
// values, so a session's inputs can be matched to its logs later.
func (s *SQLiteIndex) UpsertStage(stageDigest string, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	b, _ := json.Marshal(tune)
	sum := sha256.Sum256(b)
	tuneDigest := hex.EncodeToString(sum[:])

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	rows := [][2]string{
		{"schema_version", "1"},
		{"stage_digest", stageDigest},
		{"tuning_digest", tuneDigest},
		{"tuning_json", string(b)},
		{"updated_at", now},
	}
	for _, kv := range rows {
		if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES(?,?)`, kv[0], kv[1]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertFrame, _ := s.db.Prepare(`INSERT OR REPLACE INTO frames(frame,digest,live_tasks,events,controls,raw_json) VALUES(?,?,?,?,?,?)`)
	insertDiag, _ := s.db.Prepare(`INSERT OR REPLACE INTO diagnostics(frame,seq,severity,code,subject,detail,raw_json) VALUES(?,?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(frame,path,current_set,sets,actors,objects,cutscene_depth) VALUES(?,?,?,?,?,?,?)`)
	defer func() {
		if insertFrame != nil {
			_ = insertFrame.Close()
		}
		if insertDiag != nil {
			_ = insertDiag.Close()
		}
		if insertSnapshot != nil {
			_ = insertSnapshot.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second

		lastDiagFrame uint64
		diagSeq       int
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqFrame:
			if insertFrame == nil {
				continue
			}
			b, _ := json.Marshal(r.frame)
			if _, err := tx.Stmt(insertFrame).Exec(
				int64(r.frame.Frame),
				r.frame.Digest,
				r.frame.Live,
				r.frame.Events,
				len(r.frame.Controls),
				string(b),
			); err != nil {
				rollback()
				continue
			}
			opCount++

		case reqDiag:
			if insertDiag == nil {
				continue
			}
			e := r.diag
			if e.Frame != lastDiagFrame {
				lastDiagFrame = e.Frame
				diagSeq = 0
			}
			seq := diagSeq
			diagSeq++
			raw, _ := json.Marshal(e)
			if _, err := tx.Stmt(insertDiag).Exec(
				int64(e.Frame),
				seq,
				string(e.Severity),
				e.Code,
				e.Subject,
				e.Detail,
				string(raw),
			); err != nil {
				rollback()
				continue
			}
			opCount++

		case reqSnapshot:
			if insertSnapshot == nil {
				continue
			}
			sn := r.snapshot
			if _, err := tx.Stmt(insertSnapshot).Exec(
				int64(sn.Frame),
				sn.Path,
				sn.CurrentSet,
				sn.Sets,
				sn.Actors,
				sn.Objects,
				sn.Depth,
			); err != nil {
				rollback()
				continue
			}
			opCount++
		}
		flushIfNeeded()
	}

	commit()
}
