// The delivery router paces outbound messages per user.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/matrix-org/dugong"
	log "github.com/sirupsen/logrus"

	"github.com/newsprism/newsprism/broker"
	"github.com/newsprism/newsprism/config"
	"github.com/newsprism/newsprism/delivery"
	"github.com/newsprism/newsprism/metrics"
	"github.com/newsprism/newsprism/types"
)

const shutdownGrace = 30 * time.Second

func main() {
	amqpURL := config.MustString("AMQP_URL")
	bindAddress := config.String("BIND_ADDRESS", config.DefaultBindAddress)
	pacing := config.Minutes("PACING_MINUTES", config.DefaultPacing)

	if logDir := os.Getenv("LOG_DIR"); logDir != "" {
		log.AddHook(dugong.NewFSHook(
			filepath.Join(logDir, "info.log"),
			filepath.Join(logDir, "warn.log"),
			filepath.Join(logDir, "error.log"),
		))
	}
	log.Infof("newsprism-delivery (BIND_ADDRESS=%s pacing=%s)", bindAddress, pacing)

	b, err := broker.Dial(amqpURL)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to broker")
	}
	metrics.Serve(bindAddress)

	ctx, cancel := context.WithCancel(context.Background())
	router := delivery.New(ctx, &delivery.QueueSender{Publisher: b}, pacing)

	err = b.Consume(ctx, types.QueueReadyPosts, false, func(d *broker.Delivery) {
		router.HandleReadyPost(ctx, d)
	})
	if err != nil {
		log.WithError(err).Fatal("Failed to start consuming ready posts")
	}
	err = b.Consume(ctx, types.QueueStatusNotify, false, func(d *broker.Delivery) {
		router.HandleStatusNotification(ctx, d)
	})
	if err != nil {
		log.WithError(err).Fatal("Failed to start consuming status notifications")
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	log.Info("Shutting down")
	cancel()
	router.Wait()
	b.Drain(shutdownGrace)
	b.Close()
}
