package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/maltehedderich/mealplan-api/internal/apperror"
	"github.com/maltehedderich/mealplan-api/internal/clock"
	"github.com/maltehedderich/mealplan-api/internal/config"
)

func newTestLimiter(t *testing.T, defs ...Definition) (*Limiter, *clock.Manual, *MemoryStorage) {
	t.Helper()
	if len(defs) == 0 {
		defs = DefaultDefinitions()
	}
	registry, err := NewRegistry(defs)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	clk := clock.NewManual(t0)
	storage := NewMemoryStorage(clk, 0)
	t.Cleanup(func() { _ = storage.Close() })

	return New(Options{Registry: registry, Storage: storage, Clock: clk, Backend: "memory"}), clk, storage
}

func TestLimiter_CapacityThenReject(t *testing.T) {
	l, _, storage := newTestLimiter(t)
	ctx := context.Background()

	for i := 1; i <= 25; i++ {
		res, err := l.Limit(ctx, OpCreateMenu, LimitOptions{Key: "user-1"})
		if err != nil {
			t.Fatalf("call %d: unexpected error %v", i, err)
		}
		if !res.Allowed {
			t.Fatalf("call %d: expected allow", i)
		}
		if res.Remaining != 25-i {
			t.Errorf("call %d: remaining = %d, want %d", i, res.Remaining, 25-i)
		}
	}

	state, ok, _ := storage.Get(ctx, "ratelimit:createMenu:user-1")
	if !ok || state.Tokens != 0 {
		t.Fatalf("stored state = %+v, want 0 tokens", state)
	}

	res, err := l.Limit(ctx, OpCreateMenu, LimitOptions{Key: "user-1"})
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if res.Allowed {
		t.Fatal("26th call should be rejected")
	}
	if res.RetryAfter != 3*time.Second {
		t.Errorf("retry after = %v, want 3s", res.RetryAfter)
	}
}

func TestLimiter_ThrowsRateLimitedError(t *testing.T) {
	l, _, _ := newTestLimiter(t, perUser("op", 1, time.Minute, 1))
	ctx := context.Background()

	if err := l.Enforce(ctx, "op", "u"); err != nil {
		t.Fatalf("first call: %v", err)
	}

	err := l.Enforce(ctx, "op", "u")
	appErr, ok := apperror.As(err)
	if !ok || appErr.Kind != apperror.KindRateLimited {
		t.Fatalf("expected rate limited error, got %v", err)
	}
	if appErr.RetryAfter != time.Minute {
		t.Errorf("retry after = %v, want 1m", appErr.RetryAfter)
	}
	if appErr.Operation != "op" {
		t.Errorf("operation = %q", appErr.Operation)
	}
}

func TestLimiter_RefillAfterPeriod(t *testing.T) {
	l, clk, storage := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := l.Enforce(ctx, OpGenerateRecipeAI, "u"); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if err := l.Enforce(ctx, OpGenerateRecipeAI, "u"); !apperror.Is(err, apperror.KindRateLimited) {
		t.Fatalf("expected exhaustion, got %v", err)
	}

	clk.Advance(time.Hour)

	res, err := l.Limit(ctx, OpGenerateRecipeAI, LimitOptions{Key: "u"})
	if err != nil || !res.Allowed {
		t.Fatalf("expected allow after one period, got %+v %v", res, err)
	}
	state, _, _ := storage.Get(ctx, "ratelimit:generateRecipeAI:u")
	if state.Tokens != 9 {
		t.Errorf("tokens = %v, want 9 (10 regained, 1 consumed)", state.Tokens)
	}
}

func TestLimiter_DisabledBucket(t *testing.T) {
	l, clk, _ := newTestLimiter(t, perUser(OpGenerateRecipeAI, 0, time.Hour, 0))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := l.Enforce(ctx, OpGenerateRecipeAI, "u")
		appErr, ok := apperror.As(err)
		if !ok || appErr.Kind != apperror.KindRateLimited {
			t.Fatalf("call %d: expected rate limited, got %v", i, err)
		}
		if appErr.RetryAfter != 0 {
			t.Errorf("retry after = %v, want no hint", appErr.RetryAfter)
		}
		clk.Advance(24 * time.Hour)
	}
}

func TestLimiter_UsersAreIsolated(t *testing.T) {
	l, _, _ := newTestLimiter(t, perUser("op", 1, time.Minute, 1))
	ctx := context.Background()

	if err := l.Enforce(ctx, "op", "alice"); err != nil {
		t.Fatal(err)
	}
	if err := l.Enforce(ctx, "op", "bob"); err != nil {
		t.Errorf("bob should have his own bucket: %v", err)
	}
}

func TestLimiter_GlobalBucketIsShared(t *testing.T) {
	l, _, storage := newTestLimiter(t, global("shared", 2, time.Hour, 2))
	ctx := context.Background()

	for _, user := range []string{"alice", "bob"} {
		if err := l.Enforce(ctx, "shared", user); err != nil {
			t.Fatalf("%s: %v", user, err)
		}
	}
	if err := l.Enforce(ctx, "shared", "carol"); !apperror.Is(err, apperror.KindRateLimited) {
		t.Errorf("expected global bucket exhausted, got %v", err)
	}
	if _, ok, _ := storage.Get(ctx, "ratelimit:shared"); !ok {
		t.Error("expected global state under ratelimit:shared")
	}
}

func TestLimiter_EnforceAllDoesNotRollBack(t *testing.T) {
	l, _, storage := newTestLimiter(t,
		perUser(OpGenerateImageAI, 5, time.Hour, 5),
		global(OpGenerateImageAIGlobal, 1, time.Hour, 1),
	)
	ctx := context.Background()

	checks := func(user string) []Check {
		return []Check{{OpGenerateImageAI, user}, {OpGenerateImageAIGlobal, user}}
	}

	if err := l.EnforceAll(ctx, checks("alice")...); err != nil {
		t.Fatalf("first call: %v", err)
	}

	err := l.EnforceAll(ctx, checks("bob")...)
	appErr, ok := apperror.As(err)
	if !ok || appErr.Operation != OpGenerateImageAIGlobal {
		t.Fatalf("expected global rejection, got %v", err)
	}

	state, _, _ := storage.Get(ctx, "ratelimit:generateImageAI:bob")
	if state == nil || state.Tokens != 4 {
		t.Errorf("bob's per-user bucket = %+v, want 4 tokens (consumed, not refunded)", state)
	}
}

func TestLimiter_EnforceAllStopsAtFirstRejection(t *testing.T) {
	l, _, storage := newTestLimiter(t,
		perUser("user", 1, time.Hour, 1),
		global("glob", 10, time.Hour, 10),
	)
	ctx := context.Background()

	_ = l.Enforce(ctx, "user", "u")
	if err := l.EnforceAll(ctx, Check{"user", "u"}, Check{"glob", "u"}); err == nil {
		t.Fatal("expected rejection")
	}
	if _, ok, _ := storage.Get(ctx, "ratelimit:glob"); ok {
		t.Error("global bucket should not be touched after per-user rejection")
	}
}

func TestLimiter_ConcurrentLastToken(t *testing.T) {
	l, _, _ := newTestLimiter(t, perUser("op", 1, time.Hour, 10))
	ctx := context.Background()

	for i := 0; i < 9; i++ {
		if err := l.Enforce(ctx, "op", "u"); err != nil {
			t.Fatal(err)
		}
	}

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Enforce(ctx, "op", "u"); err == nil {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := allowed.Load(); got != 1 {
		t.Errorf("allowed = %d, want exactly 1", got)
	}
}

func TestLimiter_InputErrors(t *testing.T) {
	l, _, _ := newTestLimiter(t)
	ctx := context.Background()

	if _, err := l.Limit(ctx, "bake", LimitOptions{Key: "u"}); !apperror.Is(err, apperror.KindInternal) {
		t.Errorf("unknown operation error = %v", err)
	}
	if _, err := l.Limit(ctx, OpCreateMenu, LimitOptions{}); !apperror.Is(err, apperror.KindValidation) {
		t.Errorf("missing key error = %v", err)
	}
}

func TestLimiter_Disabled(t *testing.T) {
	registry, _ := NewRegistry([]Definition{perUser("op", 1, time.Hour, 1)})
	l := New(Options{Registry: registry, Storage: &failingStorage{}, Disabled: true})

	for i := 0; i < 3; i++ {
		if err := l.Enforce(context.Background(), "op", "u"); err != nil {
			t.Fatalf("disabled limiter rejected: %v", err)
		}
	}
}

func TestLimiter_ZeroBucketRejectsWhenLimitingIsOff(t *testing.T) {
	registry, err := NewRegistryFromConfig(&config.RateLimitConfig{RecipeGenerationDisabled: true})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		opts Options
	}{
		{"limiter disabled", Options{Registry: registry, Storage: &failingStorage{}, Disabled: true}},
		{"fail-open with storage down", Options{Registry: registry, Storage: &failingStorage{err: errors.New("connection refused")}, FailureMode: FailOpen}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New(tt.opts)
			res, err := l.Limit(context.Background(), OpGenerateRecipeAI, LimitOptions{Key: "u", Throws: true})
			if !apperror.Is(err, apperror.KindRateLimited) {
				t.Fatalf("expected rate limited error, got %v", err)
			}
			if res == nil || res.Allowed || res.RetryAfter != 0 {
				t.Errorf("result = %+v, want rejection without retry hint", res)
			}

			if err := l.Enforce(context.Background(), OpCreateMenu, "u"); err != nil {
				t.Errorf("other buckets should stay open: %v", err)
			}
		})
	}
}

type failingStorage struct {
	err error
}

func (f *failingStorage) Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) error {
	return f.err
}

func (f *failingStorage) Get(ctx context.Context, key string) (*BucketState, bool, error) {
	return nil, false, f.err
}

func (f *failingStorage) Close() error                   { return nil }
func (f *failingStorage) Ping(ctx context.Context) error { return f.err }

func TestLimiter_FailureModes(t *testing.T) {
	registry, _ := NewRegistry([]Definition{perUser("op", 1, time.Hour, 1)})
	storage := &failingStorage{err: errors.New("connection refused")}

	t.Run("fail-closed", func(t *testing.T) {
		l := New(Options{Registry: registry, Storage: storage, FailureMode: FailClosed})
		res, err := l.Limit(context.Background(), "op", LimitOptions{Key: "u"})
		if !apperror.Is(err, apperror.KindUnavailable) {
			t.Fatalf("expected unavailable error, got %v", err)
		}
		if res == nil || res.Allowed {
			t.Error("fail-closed must not allow")
		}
	})

	t.Run("fail-open", func(t *testing.T) {
		l := New(Options{Registry: registry, Storage: storage, FailureMode: FailOpen})
		res, err := l.Limit(context.Background(), "op", LimitOptions{Key: "u"})
		if err != nil {
			t.Fatalf("fail-open returned error %v", err)
		}
		if !res.Allowed {
			t.Error("fail-open must allow")
		}
	})

	t.Run("canceled context is not a storage failure", func(t *testing.T) {
		l := New(Options{Registry: registry, Storage: &failingStorage{err: context.Canceled}, FailureMode: FailOpen})
		if _, err := l.Limit(context.Background(), "op", LimitOptions{Key: "u"}); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestStorageKey(t *testing.T) {
	if got := StorageKey(perUser("createMenu", 1, time.Minute, 1), "u1"); got != "ratelimit:createMenu:u1" {
		t.Errorf("per-user key = %q", got)
	}
	if got := StorageKey(global("generateImageAIGlobal", 1, time.Minute, 1), "u1"); got != "ratelimit:generateImageAIGlobal" {
		t.Errorf("global key = %q", got)
	}
}
