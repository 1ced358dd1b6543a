package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	persistlog "tradehall.ai/internal/persistence/log"
	"tradehall.ai/internal/persistence/tradedb"
	"tradehall.ai/internal/sim/hall"
	"tradehall.ai/internal/trade"
	"tradehall.ai/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		worldID    = flag.String("world", "hall-0", "hall world id")
		configPath = flag.String("config", "./configs/hall.yaml", "hall config path")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite trade index and settings store")

		starterBalance = flag.Float64("starter_balance", 1000, "balance granted to joining participants")
		starterExp     = flag.Int("starter_exp", 0, "experience granted to joining participants")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tcfg, err := trade.Load(*configPath)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Printf("config not found (%s); using defaults", *configPath)
			tcfg = trade.Defaults()
		} else {
			logger.Fatalf("load config: %v", err)
		}
	}

	_ = os.MkdirAll(*dataDir, 0o755)

	// Settled-trade sinks: JSONL archive plus the queryable sqlite index.
	var sinks multiSink
	if tcfg.EnableTradeLog {
		jl := persistlog.NewSettledLogger(*dataDir)
		defer jl.Close()
		sinks = append(sinks, jl)
	}

	var settings hall.Settings
	if !*disableDB {
		db, err := tradedb.Open(filepath.Join(*dataDir, "trades.db"), tcfg.LogRetentionDays, tcfg.CleanupInterval, logger)
		if err != nil {
			logger.Fatalf("open trade db: %v", err)
		}
		defer db.Close()
		settings = db
		if tcfg.EnableTradeLog {
			sinks = append(sinks, db)
		}
	}

	h := hall.New(hall.Config{
		WorldID:        *worldID,
		StarterBalance: *starterBalance,
		StarterExp:     *starterExp,
	}, tcfg, settings, sinks, logger)

	ctx, cancel := signalContext()
	defer cancel()

	sweeper := trade.NewSweeper(h.Registry(), tcfg.SweepInterval, logger)
	sweeper.Start()
	defer sweeper.Stop()

	hallDone := make(chan struct{})
	go func() {
		defer close(hallDone)
		if err := h.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("hall stopped: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP tradehall_participants Connected participants.\n")
		fmt.Fprintf(rw, "# TYPE tradehall_participants gauge\n")
		fmt.Fprintf(rw, "tradehall_participants{world=%q} %d\n", *worldID, h.Population())

		fmt.Fprintf(rw, "# HELP tradehall_pending_requests Pending trade requests.\n")
		fmt.Fprintf(rw, "# TYPE tradehall_pending_requests gauge\n")
		fmt.Fprintf(rw, "tradehall_pending_requests{world=%q} %d\n", *worldID, h.Registry().PendingCount())

		fmt.Fprintf(rw, "# HELP tradehall_open_sessions Open negotiation sessions.\n")
		fmt.Fprintf(rw, "# TYPE tradehall_open_sessions gauge\n")
		fmt.Fprintf(rw, "tradehall_open_sessions{world=%q} %d\n", *worldID, h.OpenSessions())
	})
	mux.HandleFunc("/v1/ws", ws.NewServer(h, logger).Handler())

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

	// Wait for the hall to cancel open sessions before the sinks close.
	select {
	case <-hallDone:
	case <-time.After(5 * time.Second):
		logger.Printf("hall did not stop in time")
	}
}

// multiSink fans a settled record out to every configured sink.
type multiSink []trade.SettledSink

func (m multiSink) Record(rec trade.SettledRecord) error {
	var first error
	for _, s := range m {
		if err := s.Record(rec); err != nil && first == nil {
			first = err
		}
	}
	return first
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
