package mealplan

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/maltehedderich/mealplan-api/internal/apperror"
	"github.com/maltehedderich/mealplan-api/internal/logger"
	"github.com/maltehedderich/mealplan-api/internal/ratelimit"
)

const (
	maxTitleLength       = 200
	maxSummaryLength     = 2000
	maxIngredients       = 100
	maxInstructions      = 100
	maxInstructionLength = 2000
	maxServings          = 100
)

// RecipeInput is the user supplied part of a recipe. It is also the shape
// of a generated draft, which the user saves with CreateRecipe.
type RecipeInput struct {
	Title           string       `json:"title"`
	Summary         string       `json:"summary,omitempty"`
	Ingredients     []Ingredient `json:"ingredients"`
	Instructions    []string     `json:"instructions"`
	Servings        int          `json:"servings"`
	PrepTimeMinutes int          `json:"prep_time_minutes,omitempty"`
	CookTimeMinutes int          `json:"cook_time_minutes,omitempty"`
	Source          Source       `json:"source,omitempty"`
	Image           *RecipeImage `json:"image,omitempty"`
	Nutrition       *Nutrition   `json:"nutrition,omitempty"`
}

func (in *RecipeInput) normalize() error {
	in.Title = strings.TrimSpace(in.Title)
	in.Summary = strings.TrimSpace(in.Summary)

	switch {
	case in.Title == "":
		return apperror.Validation("title is required")
	case utf8.RuneCountInString(in.Title) > maxTitleLength:
		return apperror.Validation(fmt.Sprintf("title must be at most %d characters", maxTitleLength))
	case utf8.RuneCountInString(in.Summary) > maxSummaryLength:
		return apperror.Validation(fmt.Sprintf("summary must be at most %d characters", maxSummaryLength))
	case len(in.Ingredients) == 0:
		return apperror.Validation("at least one ingredient is required")
	case len(in.Ingredients) > maxIngredients:
		return apperror.Validation(fmt.Sprintf("a recipe can have at most %d ingredients", maxIngredients))
	case len(in.Instructions) > maxInstructions:
		return apperror.Validation(fmt.Sprintf("a recipe can have at most %d steps", maxInstructions))
	case in.Servings < 0 || in.Servings > maxServings:
		return apperror.Validation(fmt.Sprintf("servings must be between 1 and %d", maxServings))
	case in.PrepTimeMinutes < 0 || in.CookTimeMinutes < 0:
		return apperror.Validation("times must not be negative")
	}

	for i := range in.Ingredients {
		ing := &in.Ingredients[i]
		ing.Name = strings.TrimSpace(ing.Name)
		ing.Unit = strings.TrimSpace(ing.Unit)
		if ing.Name == "" {
			return apperror.Validation(fmt.Sprintf("ingredient %d has no name", i+1))
		}
		if ing.Quantity < 0 {
			return apperror.Validation(fmt.Sprintf("ingredient %q has a negative quantity", ing.Name))
		}
	}

	steps := make([]string, 0, len(in.Instructions))
	for _, step := range in.Instructions {
		step = strings.TrimSpace(step)
		if step == "" {
			continue
		}
		if utf8.RuneCountInString(step) > maxInstructionLength {
			return apperror.Validation(fmt.Sprintf("steps must be at most %d characters", maxInstructionLength))
		}
		steps = append(steps, step)
	}
	in.Instructions = steps

	if in.Servings == 0 {
		in.Servings = 1
	}
	switch in.Source {
	case "":
		in.Source = SourceManual
	case SourceManual, SourceAIText, SourceAIImage:
	default:
		return apperror.Validation("unknown recipe source")
	}
	return nil
}

// CreateRecipe validates and saves a new recipe
func (s *Service) CreateRecipe(ctx context.Context, userID string, in RecipeInput) (r *Recipe, err error) {
	defer func() { observe(ratelimit.OpCreateRecipe, err) }()

	if err := authenticate(userID); err != nil {
		return nil, err
	}
	if err := in.normalize(); err != nil {
		return nil, err
	}
	if in.Image != nil && int64(len(in.Image.Data)) > s.maxImageBytes {
		return nil, apperror.Validation("image is too large")
	}
	if err := s.admit(ctx, ratelimit.OpCreateRecipe, userID); err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	r = &Recipe{
		ID:              s.newID(),
		UserID:          userID,
		Title:           in.Title,
		Summary:         in.Summary,
		Ingredients:     in.Ingredients,
		Instructions:    in.Instructions,
		Servings:        in.Servings,
		PrepTimeMinutes: in.PrepTimeMinutes,
		CookTimeMinutes: in.CookTimeMinutes,
		Source:          in.Source,
		Image:           in.Image,
		Nutrition:       in.Nutrition,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.PutRecipe(ctx, r); err != nil {
		return nil, storeError(err, "Recipe")
	}
	return r, nil
}

// GetRecipe returns one of the caller's recipes
func (s *Service) GetRecipe(ctx context.Context, userID, id string) (*Recipe, error) {
	if userID == "" {
		return nil, apperror.Unauthenticated("Authentication required")
	}
	return s.loadRecipe(ctx, userID, id)
}

// ListRecipes returns the caller's recipes, newest first
func (s *Service) ListRecipes(ctx context.Context, userID string, page Page) (*RecipePage, error) {
	if userID == "" {
		return nil, apperror.Unauthenticated("Authentication required")
	}
	recipes, err := s.store.ListRecipes(ctx, userID)
	if err != nil {
		return nil, storeError(err, "Recipe")
	}
	return paginate(recipes, page), nil
}

// DeleteRecipe removes a recipe and drops it from the caller's menus
func (s *Service) DeleteRecipe(ctx context.Context, userID, id string) (err error) {
	defer func() { observe(ratelimit.OpDeleteRecipe, err) }()

	if err := s.admit(ctx, ratelimit.OpDeleteRecipe, userID); err != nil {
		return err
	}
	if _, err := s.loadRecipe(ctx, userID, id); err != nil {
		return err
	}

	menus, err := s.store.ListMenus(ctx, userID)
	if err != nil {
		return storeError(err, "Menu")
	}
	now := s.clock.Now().UTC()
	for _, m := range menus {
		kept, removed := without(m.RecipeIDs, id)
		if !removed {
			continue
		}
		m.RecipeIDs = kept
		m.UpdatedAt = now
		if err := s.store.PutMenu(ctx, m); err != nil {
			return storeError(err, "Menu")
		}
	}

	if err := s.store.DeleteRecipe(ctx, id); err != nil {
		return storeError(err, "Recipe")
	}
	logger.FromContext(ctx, "mealplan").Info("recipe deleted", logger.Fields{"recipe_id": id})
	return nil
}

// SearchRecipes matches the query case-insensitively against the title,
// summary and ingredient names of the caller's recipes
func (s *Service) SearchRecipes(ctx context.Context, userID, query string, page Page) (res *RecipePage, err error) {
	defer func() { observe(ratelimit.OpSearchRecipes, err) }()

	if err := authenticate(userID); err != nil {
		return nil, err
	}
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil, apperror.Validation("search query is required")
	}
	if utf8.RuneCountInString(query) > maxTitleLength {
		return nil, apperror.Validation("search query is too long")
	}
	if err := s.admit(ctx, ratelimit.OpSearchRecipes, userID); err != nil {
		return nil, err
	}

	recipes, err := s.store.ListRecipes(ctx, userID)
	if err != nil {
		return nil, storeError(err, "Recipe")
	}
	matches := make([]*Recipe, 0, len(recipes))
	for _, r := range recipes {
		if matchesQuery(r, query) {
			matches = append(matches, r)
		}
	}
	return paginate(matches, page), nil
}

func matchesQuery(r *Recipe, query string) bool {
	if strings.Contains(strings.ToLower(r.Title), query) || strings.Contains(strings.ToLower(r.Summary), query) {
		return true
	}
	for _, ing := range r.Ingredients {
		if strings.Contains(strings.ToLower(ing.Name), query) {
			return true
		}
	}
	return false
}

// without returns ids minus every occurrence of id
func without(ids []string, id string) ([]string, bool) {
	out := make([]string, 0, len(ids))
	removed := false
	for _, v := range ids {
		if v == id {
			removed = true
			continue
		}
		out = append(out, v)
	}
	return out, removed
}
