package mealplan

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/maltehedderich/mealplan-api/internal/apperror"
	"github.com/maltehedderich/mealplan-api/internal/ratelimit"
)

const (
	maxMenuNameLength    = 100
	maxDescriptionLength = 2000
	maxMenuRecipes       = 200
)

// MenuInput creates a menu
type MenuInput struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	RecipeIDs   []string `json:"recipe_ids,omitempty"`
}

// MenuPatch changes the fields that are set
type MenuPatch struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

func validateMenuName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperror.Validation("menu name is required")
	}
	if utf8.RuneCountInString(name) > maxMenuNameLength {
		return "", apperror.Validation(fmt.Sprintf("menu name must be at most %d characters", maxMenuNameLength))
	}
	return name, nil
}

func validateDescription(desc string) (string, error) {
	desc = strings.TrimSpace(desc)
	if utf8.RuneCountInString(desc) > maxDescriptionLength {
		return "", apperror.Validation(fmt.Sprintf("description must be at most %d characters", maxDescriptionLength))
	}
	return desc, nil
}

// CreateMenu saves a new menu. Any initial recipes must belong to the caller.
func (s *Service) CreateMenu(ctx context.Context, userID string, in MenuInput) (m *Menu, err error) {
	defer func() { observe(ratelimit.OpCreateMenu, err) }()

	if err := authenticate(userID); err != nil {
		return nil, err
	}
	name, err := validateMenuName(in.Name)
	if err != nil {
		return nil, err
	}
	desc, err := validateDescription(in.Description)
	if err != nil {
		return nil, err
	}
	if len(in.RecipeIDs) > maxMenuRecipes {
		return nil, apperror.Validation(fmt.Sprintf("a menu can hold at most %d recipes", maxMenuRecipes))
	}
	if err := s.admit(ctx, ratelimit.OpCreateMenu, userID); err != nil {
		return nil, err
	}

	recipeIDs := []string{}
	seen := make(map[string]bool, len(in.RecipeIDs))
	for _, id := range in.RecipeIDs {
		if seen[id] {
			continue
		}
		if _, err := s.loadRecipe(ctx, userID, id); err != nil {
			return nil, err
		}
		seen[id] = true
		recipeIDs = append(recipeIDs, id)
	}

	now := s.clock.Now().UTC()
	m = &Menu{
		ID:          s.newID(),
		UserID:      userID,
		Name:        name,
		Description: desc,
		RecipeIDs:   recipeIDs,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.PutMenu(ctx, m); err != nil {
		return nil, storeError(err, "Menu")
	}
	return m, nil
}

// GetMenu returns one of the caller's menus
func (s *Service) GetMenu(ctx context.Context, userID, id string) (*Menu, error) {
	if userID == "" {
		return nil, apperror.Unauthenticated("Authentication required")
	}
	return s.loadMenu(ctx, userID, id)
}

// ListMenus returns the caller's menus, newest first
func (s *Service) ListMenus(ctx context.Context, userID string) ([]*Menu, error) {
	if userID == "" {
		return nil, apperror.Unauthenticated("Authentication required")
	}
	menus, err := s.store.ListMenus(ctx, userID)
	if err != nil {
		return nil, storeError(err, "Menu")
	}
	return menus, nil
}

// UpdateMenu renames a menu or changes its description
func (s *Service) UpdateMenu(ctx context.Context, userID, id string, patch MenuPatch) (m *Menu, err error) {
	defer func() { observe(ratelimit.OpUpdateMenu, err) }()

	if err := authenticate(userID); err != nil {
		return nil, err
	}
	if patch.Name == nil && patch.Description == nil {
		return nil, apperror.Validation("nothing to update")
	}
	var name, desc string
	if patch.Name != nil {
		if name, err = validateMenuName(*patch.Name); err != nil {
			return nil, err
		}
	}
	if patch.Description != nil {
		if desc, err = validateDescription(*patch.Description); err != nil {
			return nil, err
		}
	}

	if err := s.admit(ctx, ratelimit.OpUpdateMenu, userID); err != nil {
		return nil, err
	}
	m, err = s.loadMenu(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if patch.Name != nil {
		m.Name = name
	}
	if patch.Description != nil {
		m.Description = desc
	}

	m.UpdatedAt = s.clock.Now().UTC()
	if err := s.store.PutMenu(ctx, m); err != nil {
		return nil, storeError(err, "Menu")
	}
	return m, nil
}

// DeleteMenu removes a menu. Its recipes are kept.
func (s *Service) DeleteMenu(ctx context.Context, userID, id string) (err error) {
	defer func() { observe(ratelimit.OpDeleteMenu, err) }()

	if err := s.admit(ctx, ratelimit.OpDeleteMenu, userID); err != nil {
		return err
	}
	if _, err := s.loadMenu(ctx, userID, id); err != nil {
		return err
	}
	if err := s.store.DeleteMenu(ctx, id); err != nil {
		return storeError(err, "Menu")
	}
	return nil
}

// AddRecipeToMenu appends a recipe to a menu. Adding a recipe that is
// already on the menu changes nothing.
func (s *Service) AddRecipeToMenu(ctx context.Context, userID, menuID, recipeID string) (m *Menu, err error) {
	defer func() { observe(ratelimit.OpUpdateMenuRecipes, err) }()

	if err := s.admit(ctx, ratelimit.OpUpdateMenuRecipes, userID); err != nil {
		return nil, err
	}
	m, err = s.loadMenu(ctx, userID, menuID)
	if err != nil {
		return nil, err
	}
	if _, err := s.loadRecipe(ctx, userID, recipeID); err != nil {
		return nil, err
	}
	for _, id := range m.RecipeIDs {
		if id == recipeID {
			return m, nil
		}
	}
	if len(m.RecipeIDs) >= maxMenuRecipes {
		return nil, apperror.Validation(fmt.Sprintf("a menu can hold at most %d recipes", maxMenuRecipes))
	}

	m.RecipeIDs = append(m.RecipeIDs, recipeID)
	m.UpdatedAt = s.clock.Now().UTC()
	if err := s.store.PutMenu(ctx, m); err != nil {
		return nil, storeError(err, "Menu")
	}
	return m, nil
}

// RemoveRecipeFromMenu drops a recipe from a menu
func (s *Service) RemoveRecipeFromMenu(ctx context.Context, userID, menuID, recipeID string) (m *Menu, err error) {
	defer func() { observe(ratelimit.OpUpdateMenuRecipes, err) }()

	if err := s.admit(ctx, ratelimit.OpUpdateMenuRecipes, userID); err != nil {
		return nil, err
	}
	m, err = s.loadMenu(ctx, userID, menuID)
	if err != nil {
		return nil, err
	}
	if _, err := s.loadRecipe(ctx, userID, recipeID); err != nil {
		return nil, err
	}
	kept, removed := without(m.RecipeIDs, recipeID)
	if !removed {
		return nil, apperror.NotFound("Recipe is not on this menu")
	}

	m.RecipeIDs = kept
	m.UpdatedAt = s.clock.Now().UTC()
	if err := s.store.PutMenu(ctx, m); err != nil {
		return nil, storeError(err, "Menu")
	}
	return m, nil
}
