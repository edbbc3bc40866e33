package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/maltehedderich/mealplan-api/internal/apperror"
	"github.com/maltehedderich/mealplan-api/internal/awsclient"
	"github.com/maltehedderich/mealplan-api/internal/clock"
	"github.com/maltehedderich/mealplan-api/internal/config"
	"github.com/maltehedderich/mealplan-api/internal/logger"
	"github.com/maltehedderich/mealplan-api/internal/metrics"
	"github.com/maltehedderich/mealplan-api/internal/tracing"
)

const (
	keyPrefix = "ratelimit"
	// ttlMargin keeps an entry alive a little past the moment it would be full again
	ttlMargin = time.Minute
)

// FailureMode decides what happens when bucket storage is unreachable
type FailureMode string

const (
	FailOpen   FailureMode = "fail-open"
	FailClosed FailureMode = "fail-closed"
)

// Result is the outcome of one bucket check
type Result struct {
	Operation  string
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	Reset      time.Time
}

// LimitOptions selects the consumer and the rejection behavior of Limit
type LimitOptions struct {
	// Key identifies the consumer, usually the user ID. Ignored for global buckets.
	Key string
	// Throws turns a rejection into a RateLimited error
	Throws bool
}

// Check is one step of EnforceAll
type Check struct {
	Operation string
	Key       string
}

// Options configures a Limiter
type Options struct {
	Registry    *Registry
	Storage     Storage
	Clock       clock.Clock
	FailureMode FailureMode
	// Backend labels metrics; defaults to "custom"
	Backend string
	// Disabled allows every call without touching storage
	Disabled bool
}

// Limiter is the gate every rate limited operation passes through
type Limiter struct {
	registry    *Registry
	storage     Storage
	clock       clock.Clock
	failureMode FailureMode
	backend     string
	disabled    bool
}

// New creates a limiter from explicit parts
func New(opts Options) *Limiter {
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if opts.FailureMode == "" {
		opts.FailureMode = FailClosed
	}
	if opts.Backend == "" {
		opts.Backend = "custom"
	}
	return &Limiter{
		registry:    opts.Registry,
		storage:     opts.Storage,
		clock:       opts.Clock,
		failureMode: opts.FailureMode,
		backend:     opts.Backend,
		disabled:    opts.Disabled,
	}
}

// NewFromConfig builds the registry and the configured storage backend
func NewFromConfig(ctx context.Context, cfg *config.RateLimitConfig, clk clock.Clock) (*Limiter, error) {
	registry, err := NewRegistryFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid bucket definitions: %w", err)
	}

	var storage Storage
	switch cfg.Backend {
	case "memory":
		storage = NewMemoryStorage(clk, time.Minute)
	case "redis":
		storage, err = NewRedisStorage(ctx, RedisConfig{
			Addr:       cfg.RedisAddr,
			Password:   cfg.RedisPassword,
			DB:         cfg.RedisDB,
			MaxRetries: cfg.MaxConflictRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Redis storage: %w", err)
		}
	case "dynamodb":
		client, err := awsclient.NewDynamoDB(ctx, awsclient.DynamoDBOptions{
			Region:   cfg.DynamoDBRegion,
			Endpoint: cfg.DynamoDBEndpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create DynamoDB storage: %w", err)
		}
		storage = NewDynamoDBStorage(client, cfg.DynamoDBTable, clk, cfg.MaxConflictRetries)
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}

	return New(Options{
		Registry:    registry,
		Storage:     storage,
		Clock:       clk,
		FailureMode: FailureMode(cfg.FailureMode),
		Backend:     cfg.Backend,
		Disabled:    !cfg.Enabled,
	}), nil
}

// Registry returns the bucket definitions in use
func (l *Limiter) Registry() *Registry {
	return l.registry
}

// StorageKey returns the key under which a bucket's state is stored
func StorageKey(def Definition, key string) string {
	if def.Scope == Global {
		return keyPrefix + ":" + def.Name
	}
	return keyPrefix + ":" + def.Name + ":" + key
}

// Limit refills the operation's bucket and consumes one token if available.
// Bucket state is written back on every call, allowed or not.
func (l *Limiter) Limit(ctx context.Context, operation string, opts LimitOptions) (*Result, error) {
	def, ok := l.registry.Lookup(operation)
	if !ok {
		return nil, apperror.Wrap(apperror.KindInternal, "unknown rate limit operation",
			fmt.Errorf("no bucket defined for %q", operation))
	}
	if def.Scope == PerUser && opts.Key == "" {
		return nil, apperror.Validation("rate limit key is required")
	}

	// A zero bucket rejects even when limiting is switched off or storage is down
	if def.Disabled() {
		metrics.RecordRateLimitDecision(operation, "rejected")
		return l.reject(ctx, def, opts, &Result{Operation: operation, Reset: l.clock.Now()})
	}

	if l.disabled {
		return &Result{Operation: operation, Allowed: true, Limit: def.Capacity, Remaining: def.Capacity}, nil
	}

	ctx, span := tracing.StartSpan(ctx, "ratelimit.check")
	defer span.End()
	span.SetAttributes(
		attribute.String("ratelimit.operation", operation),
		attribute.String("ratelimit.scope", def.Scope.String()),
	)

	start := time.Now()
	now := l.clock.Now()

	var dec Decision
	err := l.storage.Update(ctx, StorageKey(def, opts.Key), def.FillTime()+ttlMargin, func(current *BucketState) BucketState {
		var next BucketState
		next, dec = Take(def, current, now)
		return next
	})
	metrics.RecordRateLimitCheckDuration(l.backend, time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "storage failure")
		return l.storageFailure(ctx, def, opts, err)
	}

	result := &Result{
		Operation:  operation,
		Allowed:    dec.Allowed,
		Limit:      def.Capacity,
		Remaining:  int(math.Floor(dec.Tokens)),
		RetryAfter: dec.RetryAfter,
		Reset:      now.Add(dec.ResetIn),
	}
	span.SetAttributes(
		attribute.Bool("ratelimit.allowed", result.Allowed),
		attribute.Int("ratelimit.remaining", result.Remaining),
	)

	if result.Allowed {
		metrics.RecordRateLimitDecision(operation, "allowed")
		recordResult(ctx, result)
		return result, nil
	}

	metrics.RecordRateLimitDecision(operation, "rejected")
	metrics.RecordRateLimitRetryAfter(operation, result.RetryAfter)
	return l.reject(ctx, def, opts, result)
}

func (l *Limiter) reject(ctx context.Context, def Definition, opts LimitOptions, result *Result) (*Result, error) {
	recordResult(ctx, result)
	logger.FromContext(ctx, "ratelimit").Info("rate limit exceeded", logger.Fields{
		"operation":      def.Name,
		"scope":          def.Scope.String(),
		"retry_after_ms": result.RetryAfter.Milliseconds(),
	})

	if opts.Throws {
		return result, apperror.RateLimited(def.Name, def.Capacity, result.RetryAfter)
	}
	return result, nil
}

func (l *Limiter) storageFailure(ctx context.Context, def Definition, opts LimitOptions, err error) (*Result, error) {
	errorType := "storage"
	if errors.Is(err, ErrConflict) {
		errorType = "conflict"
	}
	metrics.RecordRateLimitError(l.backend, errorType)

	log := logger.FromContext(ctx, "ratelimit")
	fields := logger.Fields{
		"operation":    def.Name,
		"backend":      l.backend,
		"failure_mode": string(l.failureMode),
		"error":        err.Error(),
	}

	if errors.Is(err, context.Canceled) {
		return nil, err
	}

	if l.failureMode == FailOpen {
		log.Warn("rate limit storage failed, allowing request", fields)
		metrics.RecordRateLimitDecision(def.Name, "fail_open")
		return &Result{Operation: def.Name, Allowed: true, Limit: def.Capacity}, nil
	}

	log.Error("rate limit storage failed, rejecting request", fields)
	metrics.RecordRateLimitDecision(def.Name, "fail_closed")
	return &Result{Operation: def.Name, Allowed: false, Limit: def.Capacity},
		apperror.Wrap(apperror.KindUnavailable, "Service temporarily unavailable. Please try again.", err)
}

// Enforce is Limit with Throws set
func (l *Limiter) Enforce(ctx context.Context, operation, key string) error {
	_, err := l.Limit(ctx, operation, LimitOptions{Key: key, Throws: true})
	return err
}

// EnforceAll runs checks in order and stops at the first rejection.
// Tokens taken by earlier checks are not returned when a later one fails.
func (l *Limiter) EnforceAll(ctx context.Context, checks ...Check) error {
	for _, c := range checks {
		if err := l.Enforce(ctx, c.Operation, c.Key); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the storage backend
func (l *Limiter) Close() error {
	return l.storage.Close()
}

// Ping checks that the storage backend is reachable
func (l *Limiter) Ping(ctx context.Context) error {
	return l.storage.Ping(ctx)
}
