// Package dedupe provides batch deduplicators for the SQS pipeline.
package dedupe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/hatsunemiku3939/lambdapipe"
	"github.com/redis/go-redis/v9"
)

// Identity keeps every record.
var Identity lambdapipe.Deduplicator = lambdapipe.DedupeFunc(identity)

// InBatch drops records whose message id already appeared earlier in the same batch.
var InBatch lambdapipe.Deduplicator = lambdapipe.DedupeFunc(ByMessageID)

func identity(_ context.Context, msgs []events.SQSMessage) (keep, duplicates []events.SQSMessage) {
	return msgs, nil
}

// ByMessageID splits msgs into the first record of every message id and the repeats.
func ByMessageID(_ context.Context, msgs []events.SQSMessage) (keep, duplicates []events.SQSMessage) {
	seen := make(map[string]struct{}, len(msgs))
	keep = make([]events.SQSMessage, 0, len(msgs))
	for _, m := range msgs {
		if _, dup := seen[m.MessageId]; dup {
			duplicates = append(duplicates, m)
			continue
		}
		seen[m.MessageId] = struct{}{}
		keep = append(keep, m)
	}
	return keep, duplicates
}

// RedisClient is the subset of a redis client the cross-invocation deduplicator needs.
// *redis.Client and *redis.ClusterClient satisfy it.
type RedisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

const (
	stateProcessing = "processing"
	stateDone       = "done"

	// DefaultClaimTTL bounds how long an in-flight claim blocks other deliveries. It matches
	// the longest a Lambda invocation can run.
	DefaultClaimTTL = 15 * time.Minute
)

// Redis deduplicates deliveries across invocations. A message id is claimed as in flight
// before processing. Once the batch settles, the claim becomes a done marker kept for ttl
// when the message was removed from its queue, and is released otherwise so a redelivery
// is processed again.
//
// A delivery whose id is marked done is a duplicate and is removed. A delivery whose id is
// in flight elsewhere is left on the queue. When redis is unreachable the record is kept
// and the error is logged.
type Redis struct {
	client   RedisClient
	prefix   string
	ttl      time.Duration
	claimTTL time.Duration
	logger   lambdapipe.Logger
}

// NewRedis returns a Redis deduplicator storing keys under prefix.
func NewRedis(client RedisClient, prefix string, ttl time.Duration, logger lambdapipe.Logger) *Redis {
	if logger == nil {
		logger = lambdapipe.DefaultLogger()
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl, claimTTL: DefaultClaimTTL, logger: logger}
}

// WithClaimTTL overrides DefaultClaimTTL and returns d.
func (d *Redis) WithClaimTTL(ttl time.Duration) *Redis {
	d.claimTTL = ttl
	return d
}

// Filter implements lambdapipe.Deduplicator.
func (d *Redis) Filter(ctx context.Context, msgs []events.SQSMessage) (keep, duplicates []events.SQSMessage) {
	msgs, duplicates = ByMessageID(ctx, msgs)
	keep = make([]events.SQSMessage, 0, len(msgs))
	for _, m := range msgs {
		key := d.prefix + m.MessageId
		claimed, err := d.client.SetNX(ctx, key, stateProcessing, d.claimTTL).Result()
		if err != nil {
			d.logger.Warn(fmt.Sprintf("dedupe: claim %s: %v", m.MessageId, err))
			keep = append(keep, m)
			continue
		}
		if claimed {
			keep = append(keep, m)
			continue
		}

		state, err := d.client.Get(ctx, key).Result()
		switch {
		case errors.Is(err, redis.Nil):
			// The claim expired in between; process this delivery.
			keep = append(keep, m)
		case err != nil:
			d.logger.Warn(fmt.Sprintf("dedupe: read %s: %v", m.MessageId, err))
			keep = append(keep, m)
		case state == stateDone:
			duplicates = append(duplicates, m)
		}
	}
	return keep, duplicates
}

// Settle implements lambdapipe.Settler. It runs even when the invocation context is done.
func (d *Redis) Settle(ctx context.Context, kept, removed []events.SQSMessage) {
	ctx = context.WithoutCancel(ctx)
	done := make(map[string]bool, len(removed))
	for _, m := range removed {
		done[m.MessageId] = true
	}
	for _, m := range kept {
		key := d.prefix + m.MessageId
		if done[m.MessageId] {
			if err := d.client.Set(ctx, key, stateDone, d.ttl).Err(); err != nil {
				d.logger.Warn(fmt.Sprintf("dedupe: mark %s done: %v", m.MessageId, err))
			}
			continue
		}
		if err := d.client.Del(ctx, key).Err(); err != nil {
			d.logger.Warn(fmt.Sprintf("dedupe: release %s: %v", m.MessageId, err))
		}
	}
}
