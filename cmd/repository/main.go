// The repository serves broker-mediated CRUD and request/reply lookups for
// users, feeds and subscriptions.
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
	"github.com/newsprism/newsprism/metrics"
	"github.com/newsprism/newsprism/repository"
	"github.com/newsprism/newsprism/types"
)

const shutdownGrace = 30 * time.Second

func main() {
	amqpURL := config.MustString("AMQP_URL")
	databaseType := config.String("DATABASE_TYPE", config.DefaultDatabaseType)
	databaseURL := config.MustString("DATABASE_URL")
	bindAddress := config.String("BIND_ADDRESS", config.DefaultBindAddress)

	if logDir := os.Getenv("LOG_DIR"); logDir != "" {
		log.AddHook(dugong.NewFSHook(
			filepath.Join(logDir, "info.log"),
			filepath.Join(logDir, "warn.log"),
			filepath.Join(logDir, "error.log"),
		))
	}
	log.Infof("newsprism-repository (DATABASE_TYPE=%s BIND_ADDRESS=%s)", databaseType, bindAddress)

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
	svc := repository.New(db, b, b)

	consumers := map[string]func(context.Context, *broker.Delivery){
		types.QueueCreateUser:       svc.HandleCreateUser,
		types.QueueProfileRequest:   svc.HandleProfileRequest,
		types.QueuePreferences:      svc.HandleUpdatePreferences,
		types.QueueAntipathy:        svc.HandleUpdateAntipathy,
		types.QueueSetStatusID:      svc.HandleSetStatus,
		types.QueueSetStatusName:    svc.HandleSetStatus,
		types.QueueSubscribe:        svc.HandleSubscribe,
		types.QueueUnsubscribe:      svc.HandleUnsubscribe,
		types.QueueSubscriptionList: svc.HandleSubscriptions,
	}
	for queue, handler := range consumers {
		handler := handler
		if err := b.Consume(ctx, queue, true, func(d *broker.Delivery) {
			handler(ctx, d)
		}); err != nil {
			log.WithError(err).WithField("queue", queue).Fatal("Failed to start consumer")
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	log.Info("Shutting down")
	cancel()
	b.Drain(shutdownGrace)
	b.Close()
	db.Close()
}
