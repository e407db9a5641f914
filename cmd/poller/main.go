// The poller walks every known feed on a timer and emits NewPost events.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/matrix-org/dugong"
	_ "github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"

	_ "github.com/lib/pq"

	"github.com/newsprism/newsprism/broker"
	"github.com/newsprism/newsprism/config"
	"github.com/newsprism/newsprism/database"
	"github.com/newsprism/newsprism/extractor"
	"github.com/newsprism/newsprism/metrics"
	"github.com/newsprism/newsprism/poller"
)

const shutdownGrace = 30 * time.Second

func main() {
	amqpURL := config.MustString("AMQP_URL")
	databaseType := config.String("DATABASE_TYPE", config.DefaultDatabaseType)
	databaseURL := config.MustString("DATABASE_URL")
	bindAddress := config.String("BIND_ADDRESS", config.DefaultBindAddress)
	interval := config.Minutes("POLL_INTERVAL_MINUTES", config.DefaultPollInterval)
	concurrency := config.Int("POLLER_CONCURRENCY", config.DefaultConcurrency)

	if logDir := os.Getenv("LOG_DIR"); logDir != "" {
		log.AddHook(dugong.NewFSHook(
			filepath.Join(logDir, "info.log"),
			filepath.Join(logDir, "warn.log"),
			filepath.Join(logDir, "error.log"),
		))
	}
	log.Infof("newsprism-poller (DATABASE_TYPE=%s BIND_ADDRESS=%s interval=%s concurrency=%d)",
		databaseType, bindAddress, interval, concurrency)

	db, err := database.Open(databaseType, databaseURL)
	if err != nil {
		log.WithError(err).Fatal("Failed to open database")
	}
	b, err := broker.Dial(amqpURL)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to broker")
	}
	metrics.Serve(bindAddress)

	ctx, cancel := context.WithCancel(context.Background())
	p := poller.New(db, b, extractor.New(), interval, int64(concurrency))
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	log.Info("Shutting down")
	cancel()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		log.Warn("Shutdown grace period expired")
	}
	b.Close()
	db.Close()
}
