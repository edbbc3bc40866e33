package mealplan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/maltehedderich/mealplan-api/internal/ai"
	"github.com/maltehedderich/mealplan-api/internal/apperror"
	"github.com/maltehedderich/mealplan-api/internal/clock"
	"github.com/maltehedderich/mealplan-api/internal/ratelimit"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeProvider struct {
	mu    sync.Mutex
	calls map[string]int

	recipe    *ai.RecipeDraft
	image     *ai.Image
	nutrition *ai.NutritionFacts
	err       error

	// block makes every call wait for ctx to end
	block   bool
	started chan struct{}
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		calls: make(map[string]int),
		recipe: &ai.RecipeDraft{
			Title:        "Shakshuka",
			Ingredients:  []ai.Ingredient{{Name: "eggs", Quantity: 4, Unit: "pcs"}},
			Instructions: []string{"Simmer tomatoes", "Add eggs"},
			Servings:     2,
		},
		image:     &ai.Image{Data: []byte("\x89PNG fake"), MIMEType: "image/png"},
		nutrition: &ai.NutritionFacts{Calories: 420, ProteinGrams: 20, PerServing: true},
		started:   make(chan struct{}, 1),
	}
}

func (f *fakeProvider) enter(ctx context.Context, kind string) error {
	f.mu.Lock()
	f.calls[kind]++
	f.mu.Unlock()

	if f.block {
		select {
		case f.started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return ctx.Err()
	}
	return f.err
}

func (f *fakeProvider) count(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[kind]
}

func (f *fakeProvider) GenerateRecipe(ctx context.Context, description string) (*ai.RecipeDraft, error) {
	if err := f.enter(ctx, "recipe"); err != nil {
		return nil, err
	}
	return f.recipe, nil
}

func (f *fakeProvider) GenerateImage(ctx context.Context, prompt ai.ImagePrompt) (*ai.Image, error) {
	if err := f.enter(ctx, "image"); err != nil {
		return nil, err
	}
	return f.image, nil
}

func (f *fakeProvider) AnalyzeImage(ctx context.Context, req ai.AnalyzeRequest) (*ai.RecipeDraft, error) {
	if err := f.enter(ctx, "vision"); err != nil {
		return nil, err
	}
	return f.recipe, nil
}

func (f *fakeProvider) NutritionalValues(ctx context.Context, req ai.NutritionRequest) (*ai.NutritionFacts, error) {
	if err := f.enter(ctx, "nutrition"); err != nil {
		return nil, err
	}
	return f.nutrition, nil
}

type testEnv struct {
	svc      *Service
	store    *MemoryStore
	buckets  *ratelimit.MemoryStorage
	clock    *clock.Manual
	provider *fakeProvider
}

// newTestEnv builds a service on the default bucket table with the given
// definitions replacing defaults of the same name
func newTestEnv(t *testing.T, overrides ...ratelimit.Definition) *testEnv {
	t.Helper()

	defs := ratelimit.DefaultDefinitions()
	for _, o := range overrides {
		for i := range defs {
			if defs[i].Name == o.Name {
				defs[i] = o
			}
		}
	}
	registry, err := ratelimit.NewRegistry(defs)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	clk := clock.NewManual(t0)
	buckets := ratelimit.NewMemoryStorage(clk, 0)
	t.Cleanup(func() { _ = buckets.Close() })

	var seq atomic.Int64
	env := &testEnv{
		store:    NewMemoryStore(),
		buckets:  buckets,
		clock:    clk,
		provider: newFakeProvider(),
	}
	env.svc = NewService(Options{
		Gate:  ratelimit.New(ratelimit.Options{Registry: registry, Storage: buckets, Clock: clk, Backend: "memory"}),
		Store: env.store,
		AI:    env.provider,
		Clock: clk,
		NewID: func() string { return fmt.Sprintf("id-%03d", seq.Add(1)) },
	})
	return env
}

func (e *testEnv) tokens(t *testing.T, key string) float64 {
	t.Helper()
	state, ok, err := e.buckets.Get(context.Background(), key)
	if err != nil || !ok {
		t.Fatalf("no bucket state under %s (err %v)", key, err)
	}
	return state.Tokens
}

func (e *testEnv) recipe(t *testing.T, userID, title string, ingredients ...Ingredient) *Recipe {
	t.Helper()
	if len(ingredients) == 0 {
		ingredients = []Ingredient{{Name: "salt"}}
	}
	r, err := e.svc.CreateRecipe(context.Background(), userID, RecipeInput{
		Title:        title,
		Ingredients:  ingredients,
		Instructions: []string{"Cook"},
	})
	if err != nil {
		t.Fatalf("CreateRecipe() error = %v", err)
	}
	return r
}

func wantKind(t *testing.T, err error, kind apperror.Kind) *apperror.Error {
	t.Helper()
	appErr, ok := apperror.As(err)
	if !ok || appErr.Kind != kind {
		t.Fatalf("error = %v, want kind %s", err, kind)
	}
	return appErr
}

func TestInvalidInputSpendsNoToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name string
		key  string
		call func() error
	}{
		{"createRecipe", "ratelimit:createRecipe:u", func() error {
			_, err := env.svc.CreateRecipe(ctx, "u", RecipeInput{Title: " "})
			return err
		}},
		{"createMenu", "ratelimit:createMenu:u", func() error {
			_, err := env.svc.CreateMenu(ctx, "u", MenuInput{})
			return err
		}},
		{"updateMenu", "ratelimit:updateMenu:u", func() error {
			_, err := env.svc.UpdateMenu(ctx, "u", "menu-1", MenuPatch{})
			return err
		}},
		{"addGroceryItem", "ratelimit:addGroceryItem:u", func() error {
			_, err := env.svc.AddGroceryItem(ctx, "u", GroceryInput{Quantity: -1, Name: "milk"})
			return err
		}},
		{"syncIngredients", "ratelimit:syncIngredients:u", func() error {
			_, err := env.svc.SyncIngredients(ctx, "u", SyncRequest{})
			return err
		}},
		{"searchRecipes", "ratelimit:searchRecipes:u", func() error {
			_, err := env.svc.SearchRecipes(ctx, "u", "", Page{})
			return err
		}},
		{"generateRecipeAI", "ratelimit:generateRecipeAI:u", func() error {
			_, err := env.svc.GenerateRecipe(ctx, "u", "   ")
			return err
		}},
		{"generateImageAI", "ratelimit:generateImageAI:u", func() error {
			_, err := env.svc.GenerateImage(ctx, "u", GenerateImageRequest{})
			return err
		}},
		{"nutritionalValuesAI", "ratelimit:nutritionalValuesAI:u", func() error {
			_, err := env.svc.NutritionalValues(ctx, "u", NutritionRequest{Ingredients: []string{"oats"}, Servings: -2})
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wantKind(t, tt.call(), apperror.KindValidation)
			if _, ok, _ := env.buckets.Get(ctx, tt.key); ok {
				t.Errorf("bucket %s was touched by an invalid request", tt.key)
			}
		})
	}

	if _, ok, _ := env.buckets.Get(ctx, "ratelimit:generateImageAIGlobal"); ok {
		t.Error("global image bucket was touched by an invalid request")
	}
	for _, kind := range []string{"recipe", "image", "nutrition"} {
		if n := env.provider.count(kind); n != 0 {
			t.Errorf("%s provider calls = %d, want 0", kind, n)
		}
	}
}

func TestAnonymousInvalidInputIsUnauthenticated(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.CreateMenu(context.Background(), "", MenuInput{})
	wantKind(t, err, apperror.KindUnauthenticated)
}

func TestCreateMenu_RateLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 1; i <= 25; i++ {
		if _, err := env.svc.CreateMenu(ctx, "user-1", MenuInput{Name: fmt.Sprintf("Week %d", i)}); err != nil {
			t.Fatalf("call %d: unexpected error %v", i, err)
		}
	}

	_, err := env.svc.CreateMenu(ctx, "user-1", MenuInput{Name: "One too many"})
	appErr := wantKind(t, err, apperror.KindRateLimited)
	if appErr.RetryAfter != 3*time.Second {
		t.Errorf("retry after = %v, want 3s", appErr.RetryAfter)
	}
	if appErr.Operation != ratelimit.OpCreateMenu {
		t.Errorf("operation = %q", appErr.Operation)
	}

	menus, _ := env.store.ListMenus(ctx, "user-1")
	if len(menus) != 25 {
		t.Errorf("stored menus = %d, want 25", len(menus))
	}

	if _, err := env.svc.CreateMenu(ctx, "user-2", MenuInput{Name: "Other user"}); err != nil {
		t.Errorf("another user should not be limited: %v", err)
	}

	env.clock.Advance(3 * time.Second)
	if _, err := env.svc.CreateMenu(ctx, "user-1", MenuInput{Name: "After refill"}); err != nil {
		t.Errorf("expected a token after 3s: %v", err)
	}
}

func TestGateRunsBeforeOwnership(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	menu, err := env.svc.CreateMenu(ctx, "alice", MenuInput{Name: "Alice's week"})
	if err != nil {
		t.Fatal(err)
	}
	name := "Stolen"

	_, err = env.svc.UpdateMenu(ctx, "bob", menu.ID, MenuPatch{Name: &name})
	wantKind(t, err, apperror.KindForbidden)

	if got := env.tokens(t, "ratelimit:updateMenu:bob"); got != 39 {
		t.Errorf("bob's tokens = %v, want 39", got)
	}
	stored, _ := env.store.GetMenu(ctx, menu.ID)
	if stored.Name != "Alice's week" {
		t.Errorf("menu was modified: %q", stored.Name)
	}
}

func TestForeignResources(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	recipe := env.recipe(t, "alice", "Pancakes")
	menu, _ := env.svc.CreateMenu(ctx, "alice", MenuInput{Name: "Brunch"})
	item, _ := env.svc.AddGroceryItem(ctx, "alice", GroceryInput{Name: "Milk"})
	bobMenu, _ := env.svc.CreateMenu(ctx, "bob", MenuInput{Name: "Bob's"})

	tests := []struct {
		name string
		call func() error
	}{
		{"get recipe", func() error { _, err := env.svc.GetRecipe(ctx, "bob", recipe.ID); return err }},
		{"delete recipe", func() error { return env.svc.DeleteRecipe(ctx, "bob", recipe.ID) }},
		{"delete menu", func() error { return env.svc.DeleteMenu(ctx, "bob", menu.ID) }},
		{"add foreign recipe to own menu", func() error {
			_, err := env.svc.AddRecipeToMenu(ctx, "bob", bobMenu.ID, recipe.ID)
			return err
		}},
		{"create menu with foreign recipe", func() error {
			_, err := env.svc.CreateMenu(ctx, "bob", MenuInput{Name: "x", RecipeIDs: []string{recipe.ID}})
			return err
		}},
		{"toggle item", func() error { _, err := env.svc.ToggleGroceryItem(ctx, "bob", item.ID); return err }},
		{"delete item", func() error { return env.svc.DeleteGroceryItem(ctx, "bob", item.ID) }},
		{"sync foreign menu", func() error {
			_, err := env.svc.SyncIngredients(ctx, "bob", SyncRequest{MenuID: menu.ID})
			return err
		}},
		{"image for foreign recipe", func() error {
			_, err := env.svc.GenerateImage(ctx, "bob", GenerateImageRequest{Title: "x", RecipeID: recipe.ID})
			return err
		}},
		{"nutrition for foreign recipe", func() error {
			_, err := env.svc.NutritionalValues(ctx, "bob", NutritionRequest{RecipeID: recipe.ID})
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wantKind(t, tt.call(), apperror.KindForbidden)
		})
	}

	if env.provider.count("image")+env.provider.count("nutrition") != 0 {
		t.Error("provider must not be called for a foreign recipe")
	}
	if _, err := env.store.GetRecipe(ctx, recipe.ID); err != nil {
		t.Error("alice's recipe should still exist")
	}
}

func TestNotFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.GetMenu(context.Background(), "alice", "missing")
	wantKind(t, err, apperror.KindNotFound)
	err = env.svc.DeleteRecipe(context.Background(), "alice", "missing")
	wantKind(t, err, apperror.KindNotFound)
}

func TestUnauthenticated(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.CreateRecipe(context.Background(), "", RecipeInput{Title: "x"})
	wantKind(t, err, apperror.KindUnauthenticated)
	_, err = env.svc.ListRecipes(context.Background(), "", Page{})
	wantKind(t, err, apperror.KindUnauthenticated)
}

func TestRejectedCallWritesNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		env.recipe(t, "u", fmt.Sprintf("Recipe %d", i))
	}
	_, err := env.svc.CreateRecipe(ctx, "u", RecipeInput{Title: "Extra", Ingredients: []Ingredient{{Name: "salt"}}})
	wantKind(t, err, apperror.KindRateLimited)

	recipes, _ := env.store.ListRecipes(ctx, "u")
	if len(recipes) != 15 {
		t.Errorf("stored recipes = %d, want 15", len(recipes))
	}
}

func TestCreateRecipe_Validation(t *testing.T) {
	tests := []struct {
		name string
		in   RecipeInput
	}{
		{"missing title", RecipeInput{Ingredients: []Ingredient{{Name: "a"}}}},
		{"no ingredients", RecipeInput{Title: "x"}},
		{"unnamed ingredient", RecipeInput{Title: "x", Ingredients: []Ingredient{{Name: " "}}}},
		{"negative quantity", RecipeInput{Title: "x", Ingredients: []Ingredient{{Name: "a", Quantity: -1}}}},
		{"too many servings", RecipeInput{Title: "x", Ingredients: []Ingredient{{Name: "a"}}, Servings: 1000}},
		{"unknown source", RecipeInput{Title: "x", Ingredients: []Ingredient{{Name: "a"}}, Source: "fax"}},
	}

	env := newTestEnv(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.CreateRecipe(context.Background(), "u", tt.in)
			wantKind(t, err, apperror.KindValidation)
		})
	}
}

func TestCreateRecipe_Defaults(t *testing.T) {
	env := newTestEnv(t)
	r, err := env.svc.CreateRecipe(context.Background(), "u", RecipeInput{
		Title:        "  Soup ",
		Ingredients:  []Ingredient{{Name: " leek ", Quantity: 2}},
		Instructions: []string{"", " Chop "},
	})
	if err != nil {
		t.Fatal(err)
	}
	if r.Title != "Soup" || r.Servings != 1 || r.Source != SourceManual {
		t.Errorf("recipe = %+v", r)
	}
	if len(r.Instructions) != 1 || r.Instructions[0] != "Chop" {
		t.Errorf("instructions = %q", r.Instructions)
	}
	if r.Ingredients[0].Name != "leek" {
		t.Errorf("ingredient = %+v", r.Ingredients[0])
	}
	if !r.CreatedAt.Equal(t0) {
		t.Errorf("created at = %v", r.CreatedAt)
	}
}

func TestDeleteRecipe_RemovesFromMenus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	keep := env.recipe(t, "u", "Keep")
	drop := env.recipe(t, "u", "Drop")
	menu, err := env.svc.CreateMenu(ctx, "u", MenuInput{Name: "Week", RecipeIDs: []string{keep.ID, drop.ID}})
	if err != nil {
		t.Fatal(err)
	}

	if err := env.svc.DeleteRecipe(ctx, "u", drop.ID); err != nil {
		t.Fatal(err)
	}

	stored, _ := env.store.GetMenu(ctx, menu.ID)
	if len(stored.RecipeIDs) != 1 || stored.RecipeIDs[0] != keep.ID {
		t.Errorf("menu recipes = %v", stored.RecipeIDs)
	}
	if _, err := env.store.GetRecipe(ctx, drop.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("recipe still stored: %v", err)
	}
}

func TestSearchRecipes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.recipe(t, "u", "Tomato Soup", Ingredient{Name: "tomatoes"})
	env.clock.Advance(time.Second)
	env.recipe(t, "u", "Pasta", Ingredient{Name: "Cherry Tomatoes"}, Ingredient{Name: "spaghetti"})
	env.clock.Advance(time.Second)
	env.recipe(t, "u", "Pancakes", Ingredient{Name: "flour"})
	env.recipe(t, "other", "Tomato salad", Ingredient{Name: "tomato"})

	page, err := env.svc.SearchRecipes(ctx, "u", "TOMATO", Page{})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 2 {
		t.Fatalf("total = %d, want 2", page.Total)
	}
	if page.Items[0].Title != "Pasta" || page.Items[1].Title != "Tomato Soup" {
		t.Errorf("order = %s, %s", page.Items[0].Title, page.Items[1].Title)
	}

	page, _ = env.svc.SearchRecipes(ctx, "u", "tomato", Page{Limit: 1, Offset: 1})
	if len(page.Items) != 1 || page.Items[0].Title != "Tomato Soup" {
		t.Errorf("second page = %+v", page.Items)
	}

	_, err = env.svc.SearchRecipes(ctx, "u", "  ", Page{})
	wantKind(t, err, apperror.KindValidation)
}

func TestMenuRecipes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	r := env.recipe(t, "u", "Curry")
	menu, _ := env.svc.CreateMenu(ctx, "u", MenuInput{Name: "Week"})

	for i := 0; i < 2; i++ {
		m, err := env.svc.AddRecipeToMenu(ctx, "u", menu.ID, r.ID)
		if err != nil {
			t.Fatal(err)
		}
		if len(m.RecipeIDs) != 1 {
			t.Fatalf("recipe ids = %v, want one entry", m.RecipeIDs)
		}
	}

	m, err := env.svc.RemoveRecipeFromMenu(ctx, "u", menu.ID, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.RecipeIDs) != 0 {
		t.Errorf("recipe ids = %v", m.RecipeIDs)
	}
	_, err = env.svc.RemoveRecipeFromMenu(ctx, "u", menu.ID, r.ID)
	wantKind(t, err, apperror.KindNotFound)
}

func TestUpdateMenu(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	menu, _ := env.svc.CreateMenu(ctx, "u", MenuInput{Name: "Week", Description: "old"})

	env.clock.Advance(time.Minute)
	desc := "new"
	m, err := env.svc.UpdateMenu(ctx, "u", menu.ID, MenuPatch{Description: &desc})
	if err != nil {
		t.Fatal(err)
	}
	if m.Name != "Week" || m.Description != "new" || !m.UpdatedAt.Equal(t0.Add(time.Minute)) {
		t.Errorf("menu = %+v", m)
	}

	empty := " "
	_, err = env.svc.UpdateMenu(ctx, "u", menu.ID, MenuPatch{Name: &empty})
	wantKind(t, err, apperror.KindValidation)
	_, err = env.svc.UpdateMenu(ctx, "u", menu.ID, MenuPatch{})
	wantKind(t, err, apperror.KindValidation)
}

func TestGroceryList(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	milk, err := env.svc.AddGroceryItem(ctx, "u", GroceryInput{Name: "Milk", Quantity: 1, Unit: "l"})
	if err != nil {
		t.Fatal(err)
	}
	env.clock.Advance(time.Second)
	bread, _ := env.svc.AddGroceryItem(ctx, "u", GroceryInput{Name: "Bread"})

	toggled, err := env.svc.ToggleGroceryItem(ctx, "u", milk.ID)
	if err != nil || !toggled.Checked {
		t.Fatalf("toggle = %+v, %v", toggled, err)
	}

	items, _ := env.svc.ListGroceryItems(ctx, "u")
	if len(items) != 2 || items[0].ID != milk.ID || items[1].ID != bread.ID {
		t.Fatalf("items = %+v", items)
	}

	removed, err := env.svc.ClearGroceryList(ctx, "u", ClearOptions{CheckedOnly: true})
	if err != nil || removed != 1 {
		t.Fatalf("clear checked = %d, %v", removed, err)
	}
	if err := env.svc.DeleteGroceryItem(ctx, "u", bread.ID); err != nil {
		t.Fatal(err)
	}
	items, _ = env.svc.ListGroceryItems(ctx, "u")
	if len(items) != 0 {
		t.Errorf("items left = %d", len(items))
	}

	_, err = env.svc.AddGroceryItem(ctx, "u", GroceryInput{Name: ""})
	wantKind(t, err, apperror.KindValidation)
}

func TestSyncIngredients_Merges(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	bread := env.recipe(t, "u", "Bread",
		Ingredient{Name: "Flour", Quantity: 500, Unit: "g"},
		Ingredient{Name: "Water", Quantity: 300, Unit: "ml"},
	)
	cake := env.recipe(t, "u", "Cake",
		Ingredient{Name: "flour ", Quantity: 200, Unit: "G"},
		Ingredient{Name: "Eggs", Quantity: 3, Unit: "pcs"},
	)
	menu, _ := env.svc.CreateMenu(ctx, "u", MenuInput{Name: "Baking", RecipeIDs: []string{bread.ID, cake.ID}})

	flour, _ := env.svc.AddGroceryItem(ctx, "u", GroceryInput{Name: "flour", Quantity: 100, Unit: "g"})
	eggs, _ := env.svc.AddGroceryItem(ctx, "u", GroceryInput{Name: "eggs", Quantity: 6, Unit: "pcs"})
	if _, err := env.svc.ToggleGroceryItem(ctx, "u", eggs.ID); err != nil {
		t.Fatal(err)
	}

	res, err := env.svc.SyncIngredients(ctx, "u", SyncRequest{MenuID: menu.ID})
	if err != nil {
		t.Fatal(err)
	}
	if res.Updated != 1 || res.Added != 2 {
		t.Errorf("added %d updated %d, want 2 and 1", res.Added, res.Updated)
	}

	byKey := map[string][]*GroceryItem{}
	for _, item := range res.Items {
		k := normalizeKey(item.Name, item.Unit)
		byKey[k] = append(byKey[k], item)
	}

	if got := byKey["flour|g"]; len(got) != 1 || got[0].ID != flour.ID || got[0].Quantity != 800 {
		t.Errorf("flour = %+v, want existing item with 800", got)
	}
	if got := byKey["eggs|pcs"]; len(got) != 2 {
		t.Errorf("eggs items = %d, want checked item kept plus a new one", len(got))
	}
	if got := byKey["water|ml"]; len(got) != 1 || got[0].Quantity != 300 || got[0].RecipeID != bread.ID {
		t.Errorf("water = %+v", got)
	}
}

func TestSyncIngredients_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	menu, _ := env.svc.CreateMenu(ctx, "u", MenuInput{Name: "Empty"})

	_, err := env.svc.SyncIngredients(ctx, "u", SyncRequest{MenuID: menu.ID})
	wantKind(t, err, apperror.KindValidation)
	_, err = env.svc.SyncIngredients(ctx, "u", SyncRequest{RecipeIDs: []string{"missing"}})
	wantKind(t, err, apperror.KindNotFound)
}

func TestGenerateRecipe(t *testing.T) {
	env := newTestEnv(t)
	draft, err := env.svc.GenerateRecipe(context.Background(), "u", "spicy eggs")
	if err != nil {
		t.Fatal(err)
	}
	if draft.Title != "Shakshuka" || draft.Source != SourceAIText || len(draft.Ingredients) != 1 {
		t.Errorf("draft = %+v", draft)
	}
	recipes, _ := env.store.ListRecipes(context.Background(), "u")
	if len(recipes) != 0 {
		t.Error("a generated draft must not be saved")
	}
}

func TestGenerateRecipe_Disabled(t *testing.T) {
	env := newTestEnv(t, ratelimit.Definition{
		Name: ratelimit.OpGenerateRecipeAI, Rate: 0, Period: time.Hour, Capacity: 0, Scope: ratelimit.PerUser,
	})

	for i := 0; i < 3; i++ {
		_, err := env.svc.GenerateRecipe(context.Background(), "u", "soup")
		appErr := wantKind(t, err, apperror.KindRateLimited)
		if appErr.RetryAfter != 0 {
			t.Errorf("retry after = %v, want none", appErr.RetryAfter)
		}
		env.clock.Advance(24 * time.Hour)
	}
	if env.provider.count("recipe") != 0 {
		t.Error("provider must not be called when the gate rejects")
	}
}

func TestGenerateRecipe_ProviderError(t *testing.T) {
	env := newTestEnv(t)
	env.provider.err = apperror.Upstream(errors.New("502 from gateway"))

	_, err := env.svc.GenerateRecipe(context.Background(), "u", "soup")
	wantKind(t, err, apperror.KindUpstream)
	if got := env.tokens(t, "ratelimit:generateRecipeAI:u"); got != 9 {
		t.Errorf("tokens = %v, want 9 (no refund)", got)
	}
}

func TestGenerateImage_PersistsOnRecipe(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	r := env.recipe(t, "u", "Risotto")

	img, err := env.svc.GenerateImage(ctx, "u", GenerateImageRequest{RecipeID: r.ID})
	if err != nil {
		t.Fatal(err)
	}
	if img.MIMEType != "image/png" {
		t.Errorf("mime = %q", img.MIMEType)
	}
	stored, _ := env.store.GetRecipe(ctx, r.ID)
	if stored.Image == nil || string(stored.Image.Data) != string(img.Data) {
		t.Error("image not saved on recipe")
	}
	if got := env.tokens(t, "ratelimit:generateImageAIGlobal"); got != 199 {
		t.Errorf("global tokens = %v, want 199", got)
	}
}

func TestGenerateImage_CanceledPersistsNothing(t *testing.T) {
	env := newTestEnv(t)
	r := env.recipe(t, "u", "Risotto")
	env.provider.block = true

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := env.svc.GenerateImage(ctx, "u", GenerateImageRequest{Title: "Risotto", RecipeID: r.ID})
		done <- err
	}()

	select {
	case <-env.provider.started:
	case <-time.After(5 * time.Second):
		t.Fatal("provider was never called")
	}
	cancel()

	var err error
	select {
	case err = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("generation did not stop after cancel")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}

	stored, _ := env.store.GetRecipe(context.Background(), r.ID)
	if stored.Image != nil {
		t.Error("image saved after cancellation")
	}
	if got := env.tokens(t, "ratelimit:generateImageAI:u"); got != 4 {
		t.Errorf("tokens = %v, want 4 (no refund)", got)
	}
}

func TestGenerateImage_GlobalRejectionKeepsUserToken(t *testing.T) {
	env := newTestEnv(t, ratelimit.Definition{
		Name: ratelimit.OpGenerateImageAIGlobal, Rate: 1, Period: time.Hour, Capacity: 1, Scope: ratelimit.Global,
	})
	ctx := context.Background()

	if _, err := env.svc.GenerateImage(ctx, "alice", GenerateImageRequest{Title: "Soup"}); err != nil {
		t.Fatal(err)
	}
	_, err := env.svc.GenerateImage(ctx, "bob", GenerateImageRequest{Title: "Soup"})
	appErr := wantKind(t, err, apperror.KindRateLimited)
	if appErr.Operation != ratelimit.OpGenerateImageAIGlobal {
		t.Errorf("operation = %q", appErr.Operation)
	}
	if got := env.tokens(t, "ratelimit:generateImageAI:bob"); got != 4 {
		t.Errorf("bob's tokens = %v, want 4", got)
	}
	if env.provider.count("image") != 1 {
		t.Errorf("provider calls = %d, want 1", env.provider.count("image"))
	}
}

func TestGenerateImage_TooLarge(t *testing.T) {
	env := newTestEnv(t)
	env.svc.maxImageBytes = 4
	_, err := env.svc.GenerateImage(context.Background(), "u", GenerateImageRequest{Title: "Soup"})
	wantKind(t, err, apperror.KindUpstream)
}

func TestAnalyzeImage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	draft, err := env.svc.AnalyzeImage(ctx, "u", AnalyzeImageRequest{
		Image: RecipeImage{Data: []byte("jpeg"), MIMEType: "image/jpeg"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if draft.Source != SourceAIImage {
		t.Errorf("source = %q", draft.Source)
	}

	tests := []struct {
		name string
		img  RecipeImage
	}{
		{"empty", RecipeImage{MIMEType: "image/png"}},
		{"unsupported type", RecipeImage{Data: []byte("%PDF"), MIMEType: "application/pdf"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.AnalyzeImage(ctx, "u", AnalyzeImageRequest{Image: tt.img})
			wantKind(t, err, apperror.KindValidation)
		})
	}
	if got := env.tokens(t, "ratelimit:analyzeImageAIGlobal"); got != 299 {
		t.Errorf("global tokens = %v, want 299 (invalid images spend nothing)", got)
	}
}

func TestNutritionalValues_FromRecipe(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	r := env.recipe(t, "u", "Porridge", Ingredient{Name: "oats", Quantity: 80, Unit: "g"}, Ingredient{Name: "salt"})

	n, err := env.svc.NutritionalValues(ctx, "u", NutritionRequest{RecipeID: r.ID})
	if err != nil {
		t.Fatal(err)
	}
	if n.Calories != 420 || !n.PerServing {
		t.Errorf("nutrition = %+v", n)
	}
	stored, _ := env.store.GetRecipe(ctx, r.ID)
	if stored.Nutrition == nil || stored.Nutrition.Calories != 420 {
		t.Error("nutrition not saved on recipe")
	}

	_, err = env.svc.NutritionalValues(ctx, "u", NutritionRequest{Ingredients: []string{" "}})
	wantKind(t, err, apperror.KindValidation)
}

func TestFormatIngredient(t *testing.T) {
	tests := []struct {
		in   Ingredient
		want string
	}{
		{Ingredient{Name: "oats", Quantity: 80, Unit: "g"}, "80 g oats"},
		{Ingredient{Name: "eggs", Quantity: 2.5}, "2.5 eggs"},
		{Ingredient{Name: "salt"}, "salt"},
	}
	for _, tt := range tests {
		if got := formatIngredient(tt.in); got != tt.want {
			t.Errorf("formatIngredient(%+v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
