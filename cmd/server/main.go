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
	"syscall"
	"time"

	"tileworld.ai/internal/persistence/indexdb"
	persistlog "tileworld.ai/internal/persistence/log"
	"tileworld.ai/internal/persistence/worlddir"
	"tileworld.ai/internal/preset"
	"tileworld.ai/internal/transport/ws"
	"tileworld.ai/internal/worldgen/pipeline"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		presetPath = flag.String("preset", "./configs/presets/default.yaml", "preset yaml (empty for built-in defaults)")
		worldID    = flag.String("world", "world_1", "world id")
		seed       = flag.Uint64("seed", 1337, "world seed")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		workers    = flag.Int("workers", 2, "parallel workers for region generation")
		cacheSize  = flag.Int("cache", 1024, "decoded chunks kept in memory (0 disables)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite generation index")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	p, err := preset.Load(*presetPath)
	if err != nil {
		logger.Fatalf("load preset: %v", err)
	}
	w, err := worlddir.Open(worlddir.Options{DataDir: *dataDir, WorldID: *worldID, Seed: *seed, Preset: p})
	if err != nil {
		logger.Fatalf("open world: %v", err)
	}

	var idx *indexdb.SQLiteIndex
	sinks := []pipeline.EventSink{}
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(w.Dir, "index", "world.sqlite"))
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
		sinks = append(sinks, idx)
	}
	evlog := persistlog.NewEventLogger(w.Dir)
	defer evlog.Close()
	sinks = append(sinks, evlog)

	gen, err := pipeline.NewGenerator(p, *seed)
	if err != nil {
		logger.Fatalf("generator: %v", err)
	}
	pl := pipeline.New(gen, w.Store, pipeline.Config{
		WorldID: w.Meta.WorldID,
		Workers: *workers,
		Logger:  log.New(os.Stdout, "[worldgen] ", log.LstdFlags|log.Lmicroseconds),
		Sink:    pipeline.MultiSink(sinks...),
	})
	cache := pipeline.NewCache(pl, *cacheSize)

	ctx, cancel := signalContext()
	defer cancel()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", metricsHandler(w.Meta.WorldID, cache, idx, evlog))
	if envBool("TW_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		logger.Printf("pprof endpoints disabled (TW_ENABLE_PPROF_HTTP=false)")
	}
	mux.HandleFunc("/v1/ws", ws.NewServer(cache, w.Meta, logger).Handler())

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

	logger.Printf("world %s seed=%d preset=%s dir=%s", w.Meta.WorldID, w.Meta.Seed, p.Name, w.Dir)
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
