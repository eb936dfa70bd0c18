// Command sqsfunc is the SQS-triggered entry point that routes user-profile messages.
package main

import (
	"context"
	"encoding/json"
	"log"
	"os"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	_ "github.com/joho/godotenv/autoload"
	"github.com/redis/go-redis/v9"

	"github.com/hatsunemiku3939/lambdapipe"
	"github.com/hatsunemiku3939/lambdapipe/internal/profiles"
	"github.com/hatsunemiku3939/lambdapipe/pkg/dedupe"
	"github.com/hatsunemiku3939/lambdapipe/pkg/settings"
	"github.com/hatsunemiku3939/lambdapipe/router"
)

func main() {
	s, err := settings.Load(os.Getenv)
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}

	cfg, err := config.LoadDefaultConfig(context.Background())
	if err != nil {
		log.Fatalf("FATAL: Failed to load AWS config: %v", err)
	}
	client := sqs.NewFromConfig(cfg)
	logger := lambdapipe.DefaultLogger()

	h, err := newHandler(client, s, logger)
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	h.Start()
}

func newHandler(client lambdapipe.SQSClient, s settings.Settings, logger lambdapipe.Logger) (*lambdapipe.SQSHandler[json.RawMessage], error) {
	routerOpts := []router.RouterOption{router.WithLogger(logger)}
	if s.FailurePolicy != nil {
		routerOpts = append(routerOpts, router.WithFailurePolicy(s.FailurePolicy))
	}
	r, err := router.NewRouter(router.EnvelopeSchema, routerOpts...)
	if err != nil {
		return nil, err
	}
	if err := profiles.NewService(profiles.NewStore(), logger).Register(r); err != nil {
		return nil, err
	}

	opts := append(s.SQSOptions(),
		lambdapipe.WithSQSLogger(logger),
		lambdapipe.WithDecoder(router.DecodeRaw),
	)
	if s.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: s.RedisAddr})
		opts = append(opts, lambdapipe.WithDeduplicator(dedupe.NewRedis(rdb, "lambdapipe:seen:", s.DedupeTTL, logger)))
	} else {
		opts = append(opts, lambdapipe.WithDeduplicator(dedupe.InBatch))
	}
	return lambdapipe.NewSQSHandler[json.RawMessage](client, r.Handle, opts...), nil
}
