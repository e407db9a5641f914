// The writer rewrites relevant posts into short personalized summaries.
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
	"github.com/newsprism/newsprism/metrics"
	"github.com/newsprism/newsprism/model"
	"github.com/newsprism/newsprism/types"
	"github.com/newsprism/newsprism/writer"
)

const shutdownGrace = 30 * time.Second

func main() {
	amqpURL := config.MustString("AMQP_URL")
	bindAddress := config.String("BIND_ADDRESS", config.DefaultBindAddress)
	modelKey := config.MustString("WRITING_MODEL_KEY")
	modelURL := config.String("WRITING_MODEL_URL", config.DefaultModelBaseURL)
	modelName := config.String("WRITING_MODEL_NAME", config.DefaultWritingModel)
	ratePerSec := config.Float("WRITING_MODEL_RATE", config.DefaultWriterRate)

	if logDir := os.Getenv("LOG_DIR"); logDir != "" {
		log.AddHook(dugong.NewFSHook(
			filepath.Join(logDir, "info.log"),
			filepath.Join(logDir, "warn.log"),
			filepath.Join(logDir, "error.log"),
		))
	}
	log.Infof("newsprism-writer (BIND_ADDRESS=%s rate=%.1f/s)", bindAddress, ratePerSec)

	b, err := broker.Dial(amqpURL)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to broker")
	}
	metrics.Serve(bindAddress)

	mc := &model.Client{
		BaseURL:     modelURL,
		APIKey:      modelKey,
		Model:       modelName,
		Temperature: 0.6,
		MaxTokens:   1000,
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := writer.New(b, mc, ratePerSec)
	err = b.Consume(ctx, types.QueueRelevantPosts, true, func(d *broker.Delivery) {
		w.HandleRelevantPost(ctx, d)
	})
	if err != nil {
		log.WithError(err).Fatal("Failed to start consuming relevant posts")
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	log.Info("Shutting down")
	cancel()
	b.Drain(shutdownGrace)
	b.Close()
}
