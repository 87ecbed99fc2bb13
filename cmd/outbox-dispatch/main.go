package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/ledger_backend/config"
	"bitbucket.org/mmdatafocus/ledger_backend/workflow"
)

// outbox-dispatch runs the Pub/Sub outbox dispatcher as a standalone process.
// Safe to run more than one instance; claiming uses SKIP LOCKED.
func main() {
	batchSize := flag.Int("batch-size", 50, "Records claimed per poll")
	pollMs := flag.Int("poll-ms", 500, "Poll interval in milliseconds")
	maxAttempts := flag.Int("max-attempts", 20, "Publish attempts before a record goes DEAD")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	logger := config.GetLogger()

	d := workflow.NewOutboxDispatcher(db, logger)
	d.BatchSize = *batchSize
	d.PollInterval = time.Duration(*pollMs) * time.Millisecond
	d.MaxAttempts = *maxAttempts

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if topic := os.Getenv("PUBSUB_TOPIC"); topic != "" {
		client, err := config.GetClient(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "pubsub client: %v\n", err)
			os.Exit(1)
		}
		if _, err := config.CreateTopicIfNotExists(client, topic); err != nil {
			fmt.Fprintf(os.Stderr, "ensure topic %s: %v\n", topic, err)
			os.Exit(1)
		}
	}

	logger.WithField("dispatcher_id", d.DispatcherID).Info("outbox dispatcher starting")
	d.Run(ctx)
	logger.Info("outbox dispatcher stopped")
}
