package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"trustcollapse.dev/internal/persistence/archive"
	"trustcollapse.dev/internal/persistence/indexdb"
	persistlog "trustcollapse.dev/internal/persistence/log"
	"trustcollapse.dev/internal/persistence/snapshot"
	"trustcollapse.dev/internal/sim/engine"
	"trustcollapse.dev/internal/sim/rng"
	"trustcollapse.dev/internal/sim/runner"
	"trustcollapse.dev/internal/sim/tuning"
	"trustcollapse.dev/internal/transport/admin"
	"trustcollapse.dev/internal/transport/observer"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
		seed       = flag.Int64("seed", 0, "random seed (0 = use the tuning seed)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite tick index")

		snapshotEvery = flag.Uint64("snapshot_every", 3000, "write a snapshot every N ticks (0 disables)")
		snapshotKeep  = flag.Int("snapshot_keep", 20, "number of snapshots to keep (0 keeps all)")
		archiveEvery  = flag.Uint64("archive_every", 36000, "also archive snapshots at multiples of N ticks, exempt from pruning (0 disables)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	snapDir := snapshot.Dir(*dataDir)

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		logger.Fatalf("load tuning: %v", err)
	}
	if *seed != 0 {
		tune.Seed = *seed
	}
	cfg, err := tune.EngineConfig()
	if err != nil {
		logger.Fatalf("tuning: %v", err)
	}
	eng, err := engine.New(cfg, rng.NewSeeded(tune.Seed))
	if err != nil {
		logger.Fatalf("engine: %v", err)
	}

	// Optional read model; it does not affect simulation determinism.
	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(*dataDir, "index.sqlite"))
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
		if err := idx.RecordTuning(tune); err != nil {
			logger.Printf("index: record tuning: %v", err)
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	tickLog := persistlog.NewTickLogger(*dataDir)
	defer tickLog.Close()
	loggers := runner.TickLoggers{tickLog}
	if idx != nil {
		loggers = append(loggers, idx)
	}

	runID := strconv.FormatInt(time.Now().UnixNano(), 36)
	snapCh := make(chan engine.Snapshot, 2)
	r := runner.New(eng, runner.Options{
		TickRateHz:         tune.TickRateHz,
		StartPaused:        tune.StartPaused,
		Seed:               tune.Seed,
		Histogram:          tune.Histogram,
		RunID:              runID,
		Logger:             log.New(os.Stdout, "[runner] ", log.LstdFlags|log.Lmicroseconds),
		TickLogger:         loggers,
		SnapshotSink:       snapCh,
		SnapshotEveryTicks: *snapshotEvery,
	})

	// Snapshot writer.
	snapCfg := eng.Config()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case s := <-snapCh:
				path := snapshot.PathFor(snapDir, s.Tick)
				h := snapshot.Header{
					Version:   snapshot.Version,
					RunID:     runID,
					Tick:      s.Tick,
					Seed:      tune.Seed,
					Width:     s.Width,
					Height:    s.Height,
					CreatedAt: time.Now().Unix(),
				}
				if err := snapshot.WriteSnapshot(path, snapshot.SnapshotV1{Header: h, Config: snapCfg, State: s}); err != nil {
					logger.Printf("snapshot write: %v", err)
					continue
				}
				if dst, ok, err := archive.ArchiveSnapshot(*dataDir, path, h, *archiveEvery); err != nil {
					logger.Printf("snapshot archive: %v", err)
				} else if ok {
					logger.Printf("snapshot tick=%d archived to %s", s.Tick, dst)
				}
				if n, err := snapshot.Prune(snapDir, *snapshotKeep); err != nil {
					logger.Printf("snapshot prune: %v", err)
				} else if n > 0 {
					logger.Printf("snapshot tick=%d written; pruned %d", s.Tick, n)
				}
			}
		}
	}()

	go func() {
		if err := r.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("runner stopped: %v", err)
		}
	}()

	var history observer.History
	if idx != nil {
		history = idx
	}
	obsSrv := observer.NewServer(r, history, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, req *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, r.Metrics(), obsSrv.Sessions(), tickLog.Lines(), idx.Stats(), idx != nil)
	})
	mux.HandleFunc("/v1/bootstrap", obsSrv.BootstrapHandler())
	mux.HandleFunc("/v1/history", obsSrv.HistoryHandler())
	mux.HandleFunc("/v1/observer/ws", obsSrv.WSHandler())

	enableAdminHTTP := envBool("TRUSTSIM_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())
	enablePprofHTTP := envBool("TRUSTSIM_ENABLE_PPROF_HTTP", false)
	if enableAdminHTTP {
		// Local-only admin endpoints.
		admin.New(r, logger).Register(mux)
	} else {
		logger.Printf("admin endpoints disabled (TRUSTSIM_ENABLE_ADMIN_HTTP=false)")
	}
	if enablePprofHTTP {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

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

	logger.Printf("listening on %s (grid=%dx%d seed=%d run=%s)", *addr, eng.Config().Width, eng.Config().Height, tune.Seed, runID)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
	<-r.Done()
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

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
