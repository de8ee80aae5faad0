package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/deep60/nexus-security/internal/archive"
	"github.com/deep60/nexus-security/internal/auth"
	"github.com/deep60/nexus-security/internal/config"
	"github.com/deep60/nexus-security/internal/custody"
	"github.com/deep60/nexus-security/internal/engine"
	"github.com/deep60/nexus-security/internal/events"
	"github.com/deep60/nexus-security/internal/httpserver"
	"github.com/deep60/nexus-security/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var st store.Store
	if cfg.DevMode {
		st = store.NewMemoryStore()
		log.Printf("[startup] dev mode: in-memory store")
	} else {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db open: %v", err)
		}
		defer db.Close()
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
		if err := db.Ping(); err != nil {
			log.Fatalf("db ping: %v", err)
		}
		st = store.NewPGStore(db)
	}

	var bank custody.Custodian
	if cfg.DevMode {
		bank = custody.NewMemoryBank()
		log.Printf("[startup] dev mode: in-memory custodian")
	} else {
		client, err := custody.NewHTTPClient(custody.HTTPClientConfig{BaseURL: cfg.CustodyURL})
		if err != nil {
			log.Fatalf("custody client init: %v", err)
		}
		bank = client
	}

	var sink events.Sink = events.NopSink{}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaSink, err := events.NewKafkaSink(events.KafkaSinkConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		})
		if err != nil {
			log.Fatalf("kafka sink init: %v", err)
		}
		defer kafkaSink.Close()
		sink = kafkaSink
	}

	var archiver archive.Archiver
	if cfg.ArchiveBucket != "" {
		s3Archiver, err := archive.NewS3Archiver(ctx, cfg.ArchiveBucket, cfg.ArchivePrefix)
		if err != nil {
			log.Fatalf("archiver init: %v", err)
		}
		archiver = s3Archiver
	}

	eng := engine.New(engine.Config{
		PlatformFeePercent:      cfg.PlatformFeePercent,
		AutoResolveThreshold:    cfg.AutoResolveThreshold,
		MinSubmissionsToResolve: cfg.MinSubmissionsToResolve,
		FeeCollector:            cfg.FeeCollector,
	}, st, bank, sink, archiver)

	var verifier *auth.Verifier
	if cfg.JWTSecret != "" {
		verifier = auth.NewVerifier(cfg.JWTSecret)
		verifier.DevAllowHeader = cfg.DevAllowLocal
	} else if !cfg.DevMode {
		log.Fatalf("[startup] NEXUS_JWT_SECRET required outside dev mode")
	}

	server := httpserver.New(eng, st, verifier)
	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: server.Router(),
	}

	go runSweeper(ctx, eng, cfg.SweepInterval)

	go func() {
		log.Printf("bounty engine listening on %s", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	waitForShutdown(cancel, httpServer)
}

// runSweeper resolves expired bounties on an interval. The engine itself
// never schedules anything; this driver is the only timer.
func runSweeper(ctx context.Context, eng *engine.Engine, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := eng.SweepExpired(ctx); n > 0 {
				log.Printf("[sweep] resolved %d expired bounties", n)
			}
		}
	}
}

func waitForShutdown(cancel context.CancelFunc, srv *http.Server) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	cancel()
	ctx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
