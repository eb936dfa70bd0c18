// Package settings loads entry point configuration from the environment.
package settings

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hatsunemiku3939/lambdapipe"
	"github.com/hatsunemiku3939/lambdapipe/policy"
)

// Settings is the environment-driven configuration shared by the binaries.
type Settings struct {
	LoggingPolicy      lambdapipe.LoggingPolicy
	DefaultStatus      int
	DefaultHeaders     map[string]string
	FailurePolicy      policy.Policy
	DeadLetterQueueURL string
	SQSEndpoint        string
	QueueURL           string
	RedisAddr          string
	DedupeTTL          time.Duration
}

// Load reads settings through getenv, typically os.Getenv. Unset variables keep the
// pipeline defaults.
func Load(getenv func(string) string) (Settings, error) {
	s := Settings{
		DeadLetterQueueURL: strings.TrimSpace(getenv("DEAD_LETTER_QUEUE_URL")),
		SQSEndpoint:        strings.TrimSpace(getenv("SQS_ENDPOINT")),
		QueueURL:           strings.TrimSpace(getenv("SQS_QUEUE_URL")),
		RedisAddr:          strings.TrimSpace(getenv("REDIS_ADDR")),
		DedupeTTL:          24 * time.Hour,
	}

	if v := getenv("LOGGING_POLICY"); v != "" {
		p, err := lambdapipe.ParseLoggingPolicy(v)
		if err != nil {
			return s, fmt.Errorf("LOGGING_POLICY: %w", err)
		}
		s.LoggingPolicy = p
	}

	if v := getenv("DEFAULT_STATUS_CODE"); v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n < 100 || n > 599 {
			return s, fmt.Errorf("DEFAULT_STATUS_CODE: invalid status %q", v)
		}
		s.DefaultStatus = n
	}

	if v := getenv("DEFAULT_HEADERS"); v != "" {
		h, err := parseHeaders(v)
		if err != nil {
			return s, fmt.Errorf("DEFAULT_HEADERS: %w", err)
		}
		s.DefaultHeaders = h
	}

	if v := getenv("FAILURE_POLICY"); v != "" {
		p, ok := policy.ByName(strings.TrimSpace(v))
		if !ok {
			return s, fmt.Errorf("FAILURE_POLICY: unknown policy %q", v)
		}
		s.FailurePolicy = p
	}

	if v := getenv("DEDUPE_TTL"); v != "" {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return s, fmt.Errorf("DEDUPE_TTL: %w", err)
		}
		s.DedupeTTL = d
	}
	return s, nil
}

// parseHeaders reads "Key: Value, Key2: Value2".
func parseHeaders(s string) (map[string]string, error) {
	out := map[string]string{}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, ":")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid header %q", pair)
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out, nil
}

// HTTPOptions converts the request pipeline settings into options. Unset values add nothing.
func (s Settings) HTTPOptions() []lambdapipe.HTTPOption {
	var opts []lambdapipe.HTTPOption
	if s.DefaultStatus != 0 {
		opts = append(opts, lambdapipe.WithDefaultStatus(s.DefaultStatus))
	}
	if s.DefaultHeaders != nil {
		opts = append(opts, lambdapipe.WithDefaultHeaders(s.DefaultHeaders))
	}
	if s.LoggingPolicy != nil {
		opts = append(opts, lambdapipe.WithLoggingPolicy(s.LoggingPolicy))
	}
	return opts
}

// SQSOptions converts the batch pipeline settings into options. Unset values add nothing.
func (s Settings) SQSOptions() []lambdapipe.SQSOption {
	var opts []lambdapipe.SQSOption
	if s.LoggingPolicy != nil {
		opts = append(opts, lambdapipe.WithSQSLoggingPolicy(s.LoggingPolicy))
	}
	if s.FailurePolicy != nil {
		opts = append(opts, lambdapipe.WithFailurePolicy(s.FailurePolicy))
	}
	if s.DeadLetterQueueURL != "" {
		opts = append(opts, lambdapipe.WithDeadLetterQueue(s.DeadLetterQueueURL))
	}
	if s.SQSEndpoint != "" {
		opts = append(opts, lambdapipe.WithAckOptions(lambdapipe.WithEndpoint(s.SQSEndpoint)))
	}
	return opts
}
