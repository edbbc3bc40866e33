package mealplan

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps everything in process memory. Entities are copied on
// the way in and out so callers never share state with the store.
type MemoryStore struct {
	mu        sync.RWMutex
	recipes   map[string]Recipe
	menus     map[string]Menu
	groceries map[string]GroceryItem
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		recipes:   make(map[string]Recipe),
		menus:     make(map[string]Menu),
		groceries: make(map[string]GroceryItem),
	}
}

func copyRecipe(r Recipe) *Recipe {
	r.Ingredients = append([]Ingredient(nil), r.Ingredients...)
	r.Instructions = append([]string(nil), r.Instructions...)
	if r.Image != nil {
		img := *r.Image
		img.Data = append([]byte(nil), img.Data...)
		r.Image = &img
	}
	if r.Nutrition != nil {
		n := *r.Nutrition
		r.Nutrition = &n
	}
	return &r
}

func copyMenu(m Menu) *Menu {
	m.RecipeIDs = append([]string{}, m.RecipeIDs...)
	return &m
}

func (s *MemoryStore) PutRecipe(ctx context.Context, r *Recipe) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recipes[r.ID] = *copyRecipe(*r)
	return nil
}

func (s *MemoryStore) GetRecipe(ctx context.Context, id string) (*Recipe, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.recipes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRecipe(r), nil
}

func (s *MemoryStore) DeleteRecipe(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recipes[id]; !ok {
		return ErrNotFound
	}
	delete(s.recipes, id)
	return nil
}

func (s *MemoryStore) ListRecipes(ctx context.Context, userID string) ([]*Recipe, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*Recipe{}
	for _, r := range s.recipes {
		if r.UserID == userID {
			out = append(out, copyRecipe(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return newerFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID) })
	return out, nil
}

func (s *MemoryStore) PutMenu(ctx context.Context, m *Menu) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.menus[m.ID] = *copyMenu(*m)
	return nil
}

func (s *MemoryStore) GetMenu(ctx context.Context, id string) (*Menu, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.menus[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyMenu(m), nil
}

func (s *MemoryStore) DeleteMenu(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.menus[id]; !ok {
		return ErrNotFound
	}
	delete(s.menus, id)
	return nil
}

func (s *MemoryStore) ListMenus(ctx context.Context, userID string) ([]*Menu, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*Menu{}
	for _, m := range s.menus {
		if m.UserID == userID {
			out = append(out, copyMenu(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return newerFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID) })
	return out, nil
}

func (s *MemoryStore) PutGroceryItem(ctx context.Context, item *GroceryItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groceries[item.ID] = *item
	return nil
}

func (s *MemoryStore) GetGroceryItem(ctx context.Context, id string) (*GroceryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.groceries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &item, nil
}

func (s *MemoryStore) DeleteGroceryItem(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groceries[id]; !ok {
		return ErrNotFound
	}
	delete(s.groceries, id)
	return nil
}

// ListGroceryItems returns the user's items, oldest first
func (s *MemoryStore) ListGroceryItems(ctx context.Context, userID string) ([]*GroceryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*GroceryItem{}
	for _, item := range s.groceries {
		if item.UserID == userID {
			item := item
			out = append(out, &item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return newerFirst(out[j].CreatedAt, out[i].CreatedAt, out[j].ID, out[i].ID) })
	return out, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}
