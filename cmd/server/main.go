package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"marionette.dev/internal/persistence/indexdb"
	persistlog "marionette.dev/internal/persistence/log"
	"marionette.dev/internal/persistence/snapshot"
	"marionette.dev/internal/sim/diag"
	"marionette.dev/internal/sim/runtime"
	"marionette.dev/internal/sim/stage"
	"marionette.dev/internal/sim/tuning"
	"marionette.dev/internal/sim/world"
	"marionette.dev/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		sessionID  = flag.String("session", "session_1", "session id")
		configDir  = flag.String("configs", "./configs", "config directory")
		setsDir    = flag.String("sets", "", "set geometry directory (default: <configs>/sets)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite index (frames + diagnostics + snapshot metadata)")
		demo       = flag.Bool("demo", false, "install the built-in demo scenario")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Printf("tuning not found (%s); using defaults", tp)
			tune = tuning.Defaults()
		} else {
			logger.Fatalf("load tuning: %v", err)
		}
	}

	sd := strings.TrimSpace(*setsDir)
	if sd == "" {
		sd = filepath.Join(*configDir, "sets")
	}
	defs, stageDigest, err := stage.Load(sd)
	if err != nil {
		logger.Fatalf("load sets: %v", err)
	}
	logger.Printf("loaded %d sets digest=%s", len(defs), stageDigest)

	sessionDir := filepath.Join(*dataDir, "sessions", *sessionID)
	_ = os.MkdirAll(sessionDir, 0o755)

	rt, err := runtime.New(world.Config{
		ID:                  *sessionID,
		FrameRateHz:         tune.FrameRateHz,
		SnapshotEveryFrames: tune.SnapshotEveryFrames,
		StreamEveryFrames:   tune.StreamEveryFrames,
		ObserverQueue:       tune.ObserverQueue,
	}, defs)
	if err != nil {
		logger.Fatalf("runtime: %v", err)
	}

	// Secondary index; the JSONL logs are the source of truth.
	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(sessionDir, "index.db"))
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
		if err := idx.UpsertStage(stageDigest, tune); err != nil {
			logger.Printf("index: upsert stage: %v", err)
		}
	}

	frameLog := persistlog.NewFrameLogger(sessionDir)
	diagLog := persistlog.NewDiagLogger(sessionDir)
	defer frameLog.Close()
	defer diagLog.Close()
	rt.SetFrameLogger(multiFrameLogger{a: frameLog, b: idx})
	rt.SetDiagLogger(multiDiagLogger{a: diagLog, b: idx})

	ctx, cancel := signalContext()
	defer cancel()

	// Snapshot writer.
	snapCh := make(chan snapshot.SnapshotV1, 2)
	rt.SetSnapshotSink(snapCh)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-snapCh:
				path := filepath.Join(sessionDir, "snapshots", fmt.Sprintf("%d.snap.zst", snap.Header.Frame))
				if err := snapshot.WriteSnapshot(path, snap); err != nil {
					logger.Printf("snapshot write: %v", err)
					continue
				}
				if idx != nil {
					idx.RecordSnapshot(path, snap)
				}
			}
		}
	}()

	if *demo {
		installDemo(rt)
		logger.Printf("demo scenario installed")
	}

	go func() {
		if err := rt.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("runtime stopped: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		select {
		case snap := <-rt.RequestSnapshot():
			rw.Header().Set("Content-Type", "application/json")
			resp := struct {
				SessionID  string `json:"session_id"`
				Frame      uint64 `json:"frame"`
				CurrentSet string `json:"current_set"`
				Digest     string `json:"digest"`
			}{
				SessionID:  *sessionID,
				Frame:      snap.Header.Frame,
				CurrentSet: snap.CurrentSet,
				Digest:     world.StateDigest(snap),
			}
			_ = json.NewEncoder(rw).Encode(resp)
		case <-time.After(5 * time.Second):
			http.Error(rw, "runtime busy", http.StatusServiceUnavailable)
		}
	})
	if envBool("MAR_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		logger.Printf("pprof endpoints disabled (MAR_ENABLE_PPROF_HTTP=false)")
	}
	mux.HandleFunc("/v1/ws", ws.NewServer(rt, logger).Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func envBool(name string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(name))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

type multiFrameLogger struct {
	a *persistlog.FrameLogger
	b *indexdb.SQLiteIndex
}

func (m multiFrameLogger) LogFrame(e runtime.FrameLogEntry) {
	if m.a != nil {
		m.a.LogFrame(e)
	}
	if m.b != nil {
		m.b.WriteFrame(e)
	}
}

type multiDiagLogger struct {
	a *persistlog.DiagLogger
	b *indexdb.SQLiteIndex
}

func (m multiDiagLogger) LogDiag(e diag.Event) {
	if m.a != nil {
		m.a.LogDiag(e)
	}
	if m.b != nil {
		m.b.WriteDiag(e)
	}
}
