package mealplan

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/maltehedderich/mealplan-api/internal/ai"
	"github.com/maltehedderich/mealplan-api/internal/apperror"
	"github.com/maltehedderich/mealplan-api/internal/clock"
	"github.com/maltehedderich/mealplan-api/internal/metrics"
	"github.com/maltehedderich/mealplan-api/internal/ratelimit"
)

// Gate admits or rejects an operation for a consumer. *ratelimit.Limiter
// implements it.
type Gate interface {
	Enforce(ctx context.Context, operation, key string) error
	EnforceAll(ctx context.Context, checks ...ratelimit.Check) error
}

// Options configures a Service
type Options struct {
	Gate          Gate
	Store         Store
	AI            ai.Provider
	Clock         clock.Clock
	MaxImageBytes int64
	// NewID generates entity IDs; defaults to random UUIDs
	NewID func() string
}

// Service runs the user facing operations. Every mutation and every AI
// call passes the gate with the caller's user ID first, then checks
// ownership of the entities it touches, then performs its effect. A
// rejection at any step leaves storage untouched.
type Service struct {
	gate          Gate
	store         Store
	ai            ai.Provider
	clock         clock.Clock
	maxImageBytes int64
	newID         func() string
}

// NewService creates a service from its collaborators
func NewService(opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.MaxImageBytes <= 0 {
		opts.MaxImageBytes = 8 << 20
	}
	return &Service{
		gate:          opts.Gate,
		store:         opts.Store,
		ai:            opts.AI,
		clock:         opts.Clock,
		maxImageBytes: opts.MaxImageBytes,
		newID:         opts.NewID,
	}
}

// Ping checks the domain store
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// authenticate rejects calls without a caller. Operations run it ahead of
// input validation so an anonymous caller always sees 401.
func authenticate(userID string) error {
	if userID == "" {
		return apperror.Unauthenticated("Authentication required")
	}
	return nil
}

// admit passes a single per-user bucket
func (s *Service) admit(ctx context.Context, operation, userID string) error {
	if err := authenticate(userID); err != nil {
		return err
	}
	return s.gate.Enforce(ctx, operation, userID)
}

// admitWithGlobal passes the per-user bucket, then the shared one. A token
// taken from the per-user bucket is kept when the shared one rejects.
func (s *Service) admitWithGlobal(ctx context.Context, operation, global, userID string) error {
	if err := authenticate(userID); err != nil {
		return err
	}
	return s.gate.EnforceAll(ctx,
		ratelimit.Check{Operation: operation, Key: userID},
		ratelimit.Check{Operation: global, Key: userID},
	)
}

// observe counts the outcome of an operation
func observe(operation string, err error) {
	outcome := "success"
	if err != nil {
		outcome = strings.ToLower(string(apperror.KindOf(err)))
	}
	metrics.RecordOperation(operation, outcome)
}

// storeError turns a storage failure into an application error
func storeError(err error, what string) error {
	if errors.Is(err, ErrNotFound) {
		return apperror.NotFound(what + " not found")
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if _, ok := apperror.As(err); ok {
		return err
	}
	return apperror.Wrap(apperror.KindInternal, "Internal server error", err)
}

func (s *Service) loadRecipe(ctx context.Context, userID, id string) (*Recipe, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperror.Validation("recipe id is required")
	}
	r, err := s.store.GetRecipe(ctx, id)
	if err != nil {
		return nil, storeError(err, "Recipe")
	}
	if r.UserID != userID {
		return nil, apperror.Forbidden("You do not have access to this recipe")
	}
	return r, nil
}

func (s *Service) loadMenu(ctx context.Context, userID, id string) (*Menu, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperror.Validation("menu id is required")
	}
	m, err := s.store.GetMenu(ctx, id)
	if err != nil {
		return nil, storeError(err, "Menu")
	}
	if m.UserID != userID {
		return nil, apperror.Forbidden("You do not have access to this menu")
	}
	return m, nil
}

func (s *Service) loadGroceryItem(ctx context.Context, userID, id string) (*GroceryItem, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperror.Validation("grocery item id is required")
	}
	item, err := s.store.GetGroceryItem(ctx, id)
	if err != nil {
		return nil, storeError(err, "Grocery item")
	}
	if item.UserID != userID {
		return nil, apperror.Forbidden("You do not have access to this grocery item")
	}
	return item, nil
}
