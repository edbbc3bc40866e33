// Package mealplan implements the recipe, menu and grocery list operations.
// Every mutating operation and every AI call passes the rate limit gate
// before it touches storage or a provider.
package mealplan

import (
	"strings"
	"time"
)

// Source records how a recipe was created
type Source string

const (
	SourceManual  Source = "manual"
	SourceAIText  Source = "ai_text"
	SourceAIImage Source = "ai_image"
)

// Ingredient is one line of a recipe
type Ingredient struct {
	Name     string  `json:"name"`
	Quantity float64 `json:"quantity"`
	Unit     string  `json:"unit"`
}

// Nutrition are estimated nutritional values of a recipe
type Nutrition struct {
	Calories     float64 `json:"calories"`
	ProteinGrams float64 `json:"protein_grams"`
	CarbsGrams   float64 `json:"carbs_grams"`
	FatGrams     float64 `json:"fat_grams"`
	FiberGrams   float64 `json:"fiber_grams"`
	SugarGrams   float64 `json:"sugar_grams"`
	SodiumMg     float64 `json:"sodium_mg"`
	PerServing   bool    `json:"per_serving"`
}

// RecipeImage is the picture attached to a recipe
type RecipeImage struct {
	Data     []byte `json:"data"`
	MIMEType string `json:"mime_type"`
}

// Recipe is a saved recipe
type Recipe struct {
	ID              string       `json:"id"`
	UserID          string       `json:"user_id"`
	Title           string       `json:"title"`
	Summary         string       `json:"summary,omitempty"`
	Ingredients     []Ingredient `json:"ingredients"`
	Instructions    []string     `json:"instructions"`
	Servings        int          `json:"servings"`
	PrepTimeMinutes int          `json:"prep_time_minutes,omitempty"`
	CookTimeMinutes int          `json:"cook_time_minutes,omitempty"`
	Source          Source       `json:"source"`
	Image           *RecipeImage `json:"image,omitempty"`
	Nutrition       *Nutrition   `json:"nutrition,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// Menu is a named collection of recipes
type Menu struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	RecipeIDs   []string  `json:"recipe_ids"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// GroceryItem is one line of a user's grocery list
type GroceryItem struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Quantity  float64   `json:"quantity,omitempty"`
	Unit      string    `json:"unit,omitempty"`
	Checked   bool      `json:"checked"`
	RecipeID  string    `json:"recipe_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Page selects a slice of a sorted list
type Page struct {
	Limit  int
	Offset int
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func (p Page) normalize() Page {
	if p.Limit <= 0 {
		p.Limit = defaultPageSize
	}
	if p.Limit > maxPageSize {
		p.Limit = maxPageSize
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// RecipePage is one page of recipes plus the total match count
type RecipePage struct {
	Items  []*Recipe `json:"items"`
	Total  int       `json:"total"`
	Limit  int       `json:"limit"`
	Offset int       `json:"offset"`
}

func paginate(recipes []*Recipe, p Page) *RecipePage {
	p = p.normalize()
	page := &RecipePage{Items: []*Recipe{}, Total: len(recipes), Limit: p.Limit, Offset: p.Offset}
	if p.Offset >= len(recipes) {
		return page
	}
	end := p.Offset + p.Limit
	if end > len(recipes) {
		end = len(recipes)
	}
	page.Items = recipes[p.Offset:end]
	return page
}

// normalizeKey folds an ingredient name and unit into a merge key
func normalizeKey(name, unit string) string {
	name = strings.Join(strings.Fields(strings.ToLower(name)), " ")
	return name + "|" + strings.ToLower(strings.TrimSpace(unit))
}
