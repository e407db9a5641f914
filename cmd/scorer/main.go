// The scorer rates every new post against each subscriber's interests.
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
	"github.com/newsprism/newsprism/model"
	"github.com/newsprism/newsprism/scorer"
	"github.com/newsprism/newsprism/types"
)

const shutdownGrace = 30 * time.Second

func main() {
	amqpURL := config.MustString("AMQP_URL")
	databaseType := config.String("DATABASE_TYPE", config.DefaultDatabaseType)
	databaseURL := config.MustString("DATABASE_URL")
	bindAddress := config.String("BIND_ADDRESS", config.DefaultBindAddress)
	modelKey := config.MustString("SCORING_MODEL_KEY")
	modelURL := config.String("SCORING_MODEL_URL", config.DefaultModelBaseURL)
	modelName := config.String("SCORING_MODEL_NAME", config.DefaultScoringModel)
	threshold := config.Int("RELEVANCE_THRESHOLD", config.DefaultThreshold)
	maxAge := time.Duration(config.Int("MAX_POST_AGE_HOURS", config.DefaultMaxPostAgeHrs)) * time.Hour
	ratePerSec := config.Float("SCORING_MODEL_RATE", config.DefaultScorerRate)

	if logDir := os.Getenv("LOG_DIR"); logDir != "" {
		log.AddHook(dugong.NewFSHook(
			filepath.Join(logDir, "info.log"),
			filepath.Join(logDir, "warn.log"),
			filepath.Join(logDir, "error.log"),
		))
	}
	log.Infof("newsprism-scorer (DATABASE_TYPE=%s BIND_ADDRESS=%s threshold=%d rate=%.1f/s)",
		databaseType, bindAddress, threshold, ratePerSec)

	db, err := database.Open(databaseType, databaseURL)
	if err != nil {
		log.WithError(err).Fatal("Failed to open database")
	}
	b, err := broker.Dial(amqpURL)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to broker")
	}
	metrics.Serve(bindAddress)

	mc := &model.Client{
		BaseURL:     modelURL,
		APIKey:      modelKey,
		Model:       modelName,
		Temperature: 0.1,
		MaxTokens:   300,
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := scorer.New(db, b, mc, threshold, maxAge, ratePerSec)
	err = b.Consume(ctx, types.QueueNewPosts, true, func(d *broker.Delivery) {
		s.HandleNewPost(ctx, d)
	})
	if err != nil {
		log.WithError(err).Fatal("Failed to start consuming new posts")
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
