package ratelimit

import (
	"fmt"
	"sort"
	"time"

	"github.com/maltehedderich/mealplan-api/internal/config"
)

// Operation names. Each names exactly one bucket definition.
const (
	OpCreateRecipe      = "createRecipe"
	OpDeleteRecipe      = "deleteRecipe"
	OpCreateMenu        = "createMenu"
	OpUpdateMenu        = "updateMenu"
	OpDeleteMenu        = "deleteMenu"
	OpUpdateMenuRecipes = "updateMenuRecipes"
	OpAddGroceryItem    = "addGroceryItem"
	OpToggleGroceryItem = "toggleGroceryItem"
	OpDeleteGroceryItem = "deleteGroceryItem"
	OpClearGroceryList  = "clearGroceryList"
	OpSyncIngredients   = "syncIngredients"
	OpSearchRecipes     = "searchRecipes"

	OpGenerateRecipeAI      = "generateRecipeAI"
	OpGenerateImageAI       = "generateImageAI"
	OpGenerateImageAIGlobal = "generateImageAIGlobal"
	OpAnalyzeImageAI        = "analyzeImageAI"
	OpAnalyzeImageAIGlobal  = "analyzeImageAIGlobal"
	OpNutritionalValuesAI   = "nutritionalValuesAI"
)

// Scope determines whose requests share a bucket
type Scope int

const (
	// PerUser buckets are keyed by the caller's user ID
	PerUser Scope = iota
	// Global buckets are shared by every caller
	Global
)

// String returns the scope name used in logs and metrics
func (s Scope) String() string {
	if s == Global {
		return "global"
	}
	return "user"
}

// Definition is the immutable policy of one operation's bucket.
// Rate tokens are added every Period, up to Capacity.
type Definition struct {
	Name     string
	Rate     float64
	Period   time.Duration
	Capacity int
	Scope    Scope
}

// Disabled reports whether the bucket can never hold a token
func (d Definition) Disabled() bool {
	return d.Capacity < 1 || d.Rate <= 0
}

// FillTime returns how long an empty bucket takes to become full again
func (d Definition) FillTime() time.Duration {
	if d.Disabled() {
		return d.Period
	}
	return time.Duration(float64(d.Capacity) * float64(d.Period) / d.Rate)
}

// Validate checks the definition for consistency
func (d Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("bucket name is required")
	}
	if d.Period <= 0 {
		return fmt.Errorf("bucket %s: period must be positive", d.Name)
	}
	if d.Rate < 0 || d.Capacity < 0 {
		return fmt.Errorf("bucket %s: rate and capacity must not be negative", d.Name)
	}
	if d.Rate == 0 && d.Capacity != 0 {
		return fmt.Errorf("bucket %s: a zero rate requires zero capacity", d.Name)
	}
	if d.Rate > 0 && float64(d.Capacity) < d.Rate {
		return fmt.Errorf("bucket %s: capacity %d is below rate %g", d.Name, d.Capacity, d.Rate)
	}
	return nil
}

func perUser(name string, rate float64, period time.Duration, capacity int) Definition {
	return Definition{Name: name, Rate: rate, Period: period, Capacity: capacity, Scope: PerUser}
}

func global(name string, rate float64, period time.Duration, capacity int) Definition {
	return Definition{Name: name, Rate: rate, Period: period, Capacity: capacity, Scope: Global}
}

// DefaultDefinitions returns the built-in bucket table
func DefaultDefinitions() []Definition {
	return []Definition{
		perUser(OpCreateRecipe, 10, time.Minute, 15),
		perUser(OpDeleteRecipe, 20, time.Minute, 30),
		perUser(OpCreateMenu, 20, time.Minute, 25),
		perUser(OpUpdateMenu, 30, time.Minute, 40),
		perUser(OpDeleteMenu, 20, time.Minute, 25),
		perUser(OpUpdateMenuRecipes, 60, time.Minute, 80),
		perUser(OpAddGroceryItem, 60, time.Minute, 80),
		perUser(OpToggleGroceryItem, 120, time.Minute, 150),
		perUser(OpDeleteGroceryItem, 60, time.Minute, 80),
		perUser(OpClearGroceryList, 10, time.Minute, 15),
		perUser(OpSyncIngredients, 10, time.Minute, 15),
		perUser(OpSearchRecipes, 60, time.Minute, 100),

		perUser(OpGenerateRecipeAI, 10, time.Hour, 10),
		perUser(OpGenerateImageAI, 5, time.Hour, 5),
		global(OpGenerateImageAIGlobal, 200, time.Hour, 200),
		perUser(OpAnalyzeImageAI, 10, time.Hour, 10),
		global(OpAnalyzeImageAIGlobal, 300, time.Hour, 300),
		perUser(OpNutritionalValuesAI, 20, time.Hour, 20),
	}
}

// Registry maps operation names to bucket definitions. It is built once
// and never modified, so lookups need no locking.
type Registry struct {
	defs map[string]Definition
}

// NewRegistry validates defs and builds a registry
func NewRegistry(defs []Definition) (*Registry, error) {
	r := &Registry{defs: make(map[string]Definition, len(defs))}
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.defs[d.Name]; dup {
			return nil, fmt.Errorf("duplicate bucket definition: %s", d.Name)
		}
		r.defs[d.Name] = d
	}
	return r, nil
}

// NewRegistryFromConfig builds the default registry with configured overrides applied
func NewRegistryFromConfig(cfg *config.RateLimitConfig) (*Registry, error) {
	defs := DefaultDefinitions()
	index := make(map[string]int, len(defs))
	for i, d := range defs {
		index[d.Name] = i
	}

	for name, o := range cfg.Overrides {
		i, ok := index[name]
		if !ok {
			return nil, fmt.Errorf("override for unknown operation: %s", name)
		}
		switch {
		case o.Disabled:
			if o.Rate != 0 || o.Capacity != 0 {
				return nil, fmt.Errorf("override for %s: disabled bucket must not set rate or capacity", name)
			}
		case o.Rate <= 0 || o.Capacity <= 0:
			return nil, fmt.Errorf("override for %s: rate and capacity are required (set disabled: true to turn the operation off)", name)
		}
		defs[i].Rate = o.Rate
		defs[i].Capacity = o.Capacity
		if o.Period > 0 {
			defs[i].Period = o.Period
		}
	}

	if cfg.RecipeGenerationDisabled {
		i := index[OpGenerateRecipeAI]
		defs[i].Rate = 0
		defs[i].Capacity = 0
	}

	return NewRegistry(defs)
}

// Lookup returns the definition for an operation
func (r *Registry) Lookup(operation string) (Definition, bool) {
	d, ok := r.defs[operation]
	return d, ok
}

// Operations returns all operation names in sorted order
func (r *Registry) Operations() []string {
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
