// Command poller runs the user-profile queue pipeline as a long-lived consumer, for
// containers and local development against an SQS-compatible endpoint.
package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	_ "github.com/joho/godotenv/autoload"

	"github.com/hatsunemiku3939/lambdapipe"
	"github.com/hatsunemiku3939/lambdapipe/internal/profiles"
	"github.com/hatsunemiku3939/lambdapipe/pkg/dedupe"
	"github.com/hatsunemiku3939/lambdapipe/pkg/settings"
	"github.com/hatsunemiku3939/lambdapipe/router"
)

func main() {
	// --- 1. Setup Context for Graceful Shutdown ---
	appCtx, cancelApp := context.WithCancel(context.Background())
	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-shutdownChan
		log.Printf("🛑 Received shutdown signal: %v. Starting graceful shutdown...", sig)
		cancelApp()
	}()

	// --- 2. Load Configuration ---
	s, err := settings.Load(os.Getenv)
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	if s.QueueURL == "" {
		log.Fatal("FATAL: SQS_QUEUE_URL environment variable is not set.")
	}

	cfg, err := config.LoadDefaultConfig(appCtx)
	if err != nil {
		log.Fatalf("FATAL: Failed to load AWS config: %v", err)
	}
	sqsClient := sqs.NewFromConfig(cfg, func(o *sqs.Options) {
		if s.SQSEndpoint != "" {
			o.BaseEndpoint = aws.String(s.SQSEndpoint)
		}
	})
	logger := lambdapipe.DefaultLogger()

	// --- 3. Setup Router and Register Handlers ---
	r, err := router.NewRouter(router.EnvelopeSchema, router.WithLogger(logger))
	if err != nil {
		log.Fatalf("FATAL: Could not initialize router: %v", err)
	}
	r.Use(logRoutes(logger))
	if err := profiles.NewService(profiles.NewStore(), logger).Register(r); err != nil {
		log.Fatalf("FATAL: %v", err)
	}

	opts := append(s.SQSOptions(),
		lambdapipe.WithDecoder(router.DecodeRaw),
		lambdapipe.WithDeduplicator(dedupe.InBatch),
	)
	handler := lambdapipe.NewSQSHandler[json.RawMessage](sqsClient, r.Handle, opts...)

	// --- 4. Setup and Start the Consumer ---
	var consumerOpts []lambdapipe.ConsumerOption
	if cfg.Region != "" {
		consumerOpts = append(consumerOpts, lambdapipe.WithRegion(cfg.Region))
	}
	consumer, err := lambdapipe.NewConsumer(sqsClient, s.QueueURL, handler, consumerOpts...)
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	consumer.Start(appCtx)

	log.Println("Application has shut down.")
}
