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
	maxItemNameLength = 200
	maxUnitLength     = 32
	maxSyncRecipes    = 50
)

// GroceryInput adds an item to the grocery list
type GroceryInput struct {
	Name     string  `json:"name"`
	Quantity float64 `json:"quantity,omitempty"`
	Unit     string  `json:"unit,omitempty"`
	RecipeID string  `json:"recipe_id,omitempty"`
}

// ClearOptions selects which items ClearGroceryList removes
type ClearOptions struct {
	CheckedOnly bool
}

// SyncRequest names the recipes whose ingredients go onto the grocery
// list, either through a menu or directly
type SyncRequest struct {
	MenuID    string   `json:"menu_id,omitempty"`
	RecipeIDs []string `json:"recipe_ids,omitempty"`
}

// SyncResult reports what SyncIngredients changed
type SyncResult struct {
	Added   int            `json:"added"`
	Updated int            `json:"updated"`
	Items   []*GroceryItem `json:"items"`
}

// ListGroceryItems returns the caller's grocery list, oldest first
func (s *Service) ListGroceryItems(ctx context.Context, userID string) ([]*GroceryItem, error) {
	if userID == "" {
		return nil, apperror.Unauthenticated("Authentication required")
	}
	items, err := s.store.ListGroceryItems(ctx, userID)
	if err != nil {
		return nil, storeError(err, "Grocery item")
	}
	return items, nil
}

// AddGroceryItem adds one item to the caller's list
func (s *Service) AddGroceryItem(ctx context.Context, userID string, in GroceryInput) (item *GroceryItem, err error) {
	defer func() { observe(ratelimit.OpAddGroceryItem, err) }()

	if err := authenticate(userID); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	unit := strings.TrimSpace(in.Unit)
	switch {
	case name == "":
		return nil, apperror.Validation("item name is required")
	case utf8.RuneCountInString(name) > maxItemNameLength:
		return nil, apperror.Validation(fmt.Sprintf("item name must be at most %d characters", maxItemNameLength))
	case utf8.RuneCountInString(unit) > maxUnitLength:
		return nil, apperror.Validation(fmt.Sprintf("unit must be at most %d characters", maxUnitLength))
	case in.Quantity < 0:
		return nil, apperror.Validation("quantity must not be negative")
	}
	if err := s.admit(ctx, ratelimit.OpAddGroceryItem, userID); err != nil {
		return nil, err
	}
	if in.RecipeID != "" {
		if _, err := s.loadRecipe(ctx, userID, in.RecipeID); err != nil {
			return nil, err
		}
	}

	now := s.clock.Now().UTC()
	item = &GroceryItem{
		ID:        s.newID(),
		UserID:    userID,
		Name:      name,
		Quantity:  in.Quantity,
		Unit:      unit,
		RecipeID:  in.RecipeID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.PutGroceryItem(ctx, item); err != nil {
		return nil, storeError(err, "Grocery item")
	}
	return item, nil
}

// ToggleGroceryItem flips the checked state of an item
func (s *Service) ToggleGroceryItem(ctx context.Context, userID, id string) (item *GroceryItem, err error) {
	defer func() { observe(ratelimit.OpToggleGroceryItem, err) }()

	if err := s.admit(ctx, ratelimit.OpToggleGroceryItem, userID); err != nil {
		return nil, err
	}
	item, err = s.loadGroceryItem(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	item.Checked = !item.Checked
	item.UpdatedAt = s.clock.Now().UTC()
	if err := s.store.PutGroceryItem(ctx, item); err != nil {
		return nil, storeError(err, "Grocery item")
	}
	return item, nil
}

// DeleteGroceryItem removes one item
func (s *Service) DeleteGroceryItem(ctx context.Context, userID, id string) (err error) {
	defer func() { observe(ratelimit.OpDeleteGroceryItem, err) }()

	if err := s.admit(ctx, ratelimit.OpDeleteGroceryItem, userID); err != nil {
		return err
	}
	if _, err := s.loadGroceryItem(ctx, userID, id); err != nil {
		return err
	}
	if err := s.store.DeleteGroceryItem(ctx, id); err != nil {
		return storeError(err, "Grocery item")
	}
	return nil
}

// ClearGroceryList removes the caller's items and returns how many went
func (s *Service) ClearGroceryList(ctx context.Context, userID string, opts ClearOptions) (removed int, err error) {
	defer func() { observe(ratelimit.OpClearGroceryList, err) }()

	if err := s.admit(ctx, ratelimit.OpClearGroceryList, userID); err != nil {
		return 0, err
	}
	items, err := s.store.ListGroceryItems(ctx, userID)
	if err != nil {
		return 0, storeError(err, "Grocery item")
	}
	for _, item := range items {
		if opts.CheckedOnly && !item.Checked {
			continue
		}
		if err := s.store.DeleteGroceryItem(ctx, item.ID); err != nil {
			return removed, storeError(err, "Grocery item")
		}
		removed++
	}
	return removed, nil
}

// aggregate is one merged ingredient line
type aggregate struct {
	name     string
	unit     string
	quantity float64
	recipeID string
}

// SyncIngredients adds the ingredients of a menu, or of the given recipes,
// to the caller's grocery list. Ingredients with the same normalized name
// and unit are summed, and the sum is merged into a matching unchecked
// item when there is one. Checked items are left alone.
func (s *Service) SyncIngredients(ctx context.Context, userID string, req SyncRequest) (res *SyncResult, err error) {
	defer func() { observe(ratelimit.OpSyncIngredients, err) }()

	if err := authenticate(userID); err != nil {
		return nil, err
	}
	if req.MenuID == "" && len(req.RecipeIDs) == 0 {
		return nil, apperror.Validation("no recipes to sync")
	}
	if len(req.RecipeIDs) > maxSyncRecipes {
		return nil, apperror.Validation(fmt.Sprintf("at most %d recipes can be synced at once", maxSyncRecipes))
	}
	if err := s.admit(ctx, ratelimit.OpSyncIngredients, userID); err != nil {
		return nil, err
	}

	recipeIDs := req.RecipeIDs
	if req.MenuID != "" {
		m, err := s.loadMenu(ctx, userID, req.MenuID)
		if err != nil {
			return nil, err
		}
		recipeIDs = m.RecipeIDs
	}
	if len(recipeIDs) == 0 {
		return nil, apperror.Validation("no recipes to sync")
	}
	if len(recipeIDs) > maxSyncRecipes {
		return nil, apperror.Validation(fmt.Sprintf("at most %d recipes can be synced at once", maxSyncRecipes))
	}

	var order []string
	merged := make(map[string]*aggregate)
	seen := make(map[string]bool, len(recipeIDs))
	for _, id := range recipeIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		r, err := s.loadRecipe(ctx, userID, id)
		if err != nil {
			return nil, err
		}
		for _, ing := range r.Ingredients {
			key := normalizeKey(ing.Name, ing.Unit)
			agg, ok := merged[key]
			if !ok {
				agg = &aggregate{name: strings.TrimSpace(ing.Name), unit: strings.TrimSpace(ing.Unit), recipeID: r.ID}
				merged[key] = agg
				order = append(order, key)
			} else if agg.recipeID != r.ID {
				agg.recipeID = ""
			}
			agg.quantity += ing.Quantity
		}
	}

	existing, err := s.store.ListGroceryItems(ctx, userID)
	if err != nil {
		return nil, storeError(err, "Grocery item")
	}
	open := make(map[string]*GroceryItem)
	for _, item := range existing {
		key := normalizeKey(item.Name, item.Unit)
		if _, ok := open[key]; !ok && !item.Checked {
			open[key] = item
		}
	}

	res = &SyncResult{}
	now := s.clock.Now().UTC()
	for _, key := range order {
		agg := merged[key]
		if item, ok := open[key]; ok {
			item.Quantity += agg.quantity
			item.UpdatedAt = now
			if err := s.store.PutGroceryItem(ctx, item); err != nil {
				return nil, storeError(err, "Grocery item")
			}
			res.Updated++
			continue
		}
		item := &GroceryItem{
			ID:        s.newID(),
			UserID:    userID,
			Name:      agg.name,
			Quantity:  agg.quantity,
			Unit:      agg.unit,
			RecipeID:  agg.recipeID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.store.PutGroceryItem(ctx, item); err != nil {
			return nil, storeError(err, "Grocery item")
		}
		res.Added++
	}

	if res.Items, err = s.store.ListGroceryItems(ctx, userID); err != nil {
		return nil, storeError(err, "Grocery item")
	}
	logger.FromContext(ctx, "mealplan").Info("ingredients synced", logger.Fields{
		"recipes": len(seen),
		"added":   res.Added,
		"updated": res.Updated,
	})
	return res, nil
}
