package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"marionette.dev/internal/persistence/snapshot"
	"marionette.dev/internal/sim/runtime"
	"marionette.dev/internal/sim/world"
)

// replay verifies a recorded session: the frame log must be contiguous
// and every snapshot's digest must match the digest logged for its
// frame. A mismatch means the state stream and the snapshot stream
// disagree about what the session looked like.
func main() {
	var (
		sessionDir = flag.String("session", "", "session data directory (containing frames/ and snapshots/)")
		snapPath   = flag.String("snapshot", "", "verify one snapshot instead of all under <session>/snapshots")
		fromFrame  = flag.Uint64("from_frame", 0, "start verifying from frame (inclusive, optional)")
		toFrame    = flag.Uint64("to_frame", 0, "stop at frame (inclusive, optional)")
	)
	flag.Parse()

	if *sessionDir == "" {
		fmt.Fprintln(os.Stderr, "missing -session")
		os.Exit(2)
	}

	digests, controls, err := scanFrameLogs(filepath.Join(*sessionDir, "frames"), *fromFrame, *toFrame)
	if err != nil {
		fmt.Fprintln(os.Stderr, "scan frames:", err)
		os.Exit(1)
	}
	if len(digests) == 0 {
		fmt.Fprintln(os.Stderr, "no frame entries found")
		os.Exit(1)
	}
	fmt.Printf("frame log ok: frames=%d controls=%d\n", len(digests), controls)

	var snapPaths []string
	if *snapPath != "" {
		snapPaths = []string{*snapPath}
	} else {
		snapPaths, err = listSnapshots(filepath.Join(*sessionDir, "snapshots"))
		if err != nil {
			fmt.Fprintln(os.Stderr, "list snapshots:", err)
			os.Exit(1)
		}
	}

	verified := 0
	for _, path := range snapPaths {
		snap, err := snapshot.ReadSnapshot(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "read %s: %v\n", filepath.Base(path), err)
			os.Exit(1)
		}
		want, ok := digests[snap.Header.Frame]
		if !ok {
			// Snapshot outside the verified frame range.
			continue
		}
		got := world.StateDigest(snap)
		if got != want {
			fmt.Fprintf(os.Stderr, "digest mismatch at frame %d (%s): snapshot=%s log=%s\n",
				snap.Header.Frame, filepath.Base(path), got, want)
			os.Exit(1)
		}
		verified++
	}

	fmt.Printf("replay ok: snapshots verified=%d of %d\n", verified, len(snapPaths))
}

// scanFrameLogs returns digest-by-frame plus the total control count,
// checking that frames are strictly increasing across rotated files.
func scanFrameLogs(dir string, fromFrame, toFrame uint64) (map[uint64]string, int, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, 0, err
	}
	var names []string
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "frames-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if len(names) == 0 {
		return nil, 0, fmt.Errorf("no frames-*.jsonl.zst under %s", dir)
	}

	digests := map[uint64]string{}
	controls := 0
	var lastFrame uint64
	for _, name := range names {
		if err := scanOneLog(filepath.Join(dir, name), func(entry runtime.FrameLogEntry) error {
			if lastFrame != 0 && entry.Frame != lastFrame+1 {
				return fmt.Errorf("%s: frame gap: %d then %d", name, lastFrame, entry.Frame)
			}
			lastFrame = entry.Frame
			if entry.Frame < fromFrame {
				return nil
			}
			if toFrame != 0 && entry.Frame > toFrame {
				return nil
			}
			digests[entry.Frame] = entry.Digest
			controls += len(entry.Controls)
			return nil
		}); err != nil {
			return nil, 0, err
		}
	}
	return digests, controls, nil
}

func scanOneLog(path string, fn func(runtime.FrameLogEntry) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		var entry runtime.FrameLogEntry
		if err := json.Unmarshal(sc.Bytes(), &entry); err != nil {
			return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		if err := fn(entry); err != nil {
			return err
		}
	}
	return sc.Err()
}

func listSnapshots(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".snap.zst") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}
