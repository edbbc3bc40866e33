package ai

import "context"

// Ingredient is one line of a generated recipe
type Ingredient struct {
	Name     string  `json:"name"`
	Quantity float64 `json:"quantity"`
	Unit     string  `json:"unit"`
}

// RecipeDraft is a recipe as returned by the model, before it is saved
type RecipeDraft struct {
	Title           string       `json:"title"`
	Summary         string       `json:"summary"`
	Ingredients     []Ingredient `json:"ingredients"`
	Instructions    []string     `json:"instructions"`
	Servings        int          `json:"servings"`
	PrepTimeMinutes int          `json:"prep_time_minutes"`
	CookTimeMinutes int          `json:"cook_time_minutes"`
}

// NutritionFacts are estimated nutritional values
type NutritionFacts struct {
	Calories     float64 `json:"calories"`
	ProteinGrams float64 `json:"protein_grams"`
	CarbsGrams   float64 `json:"carbs_grams"`
	FatGrams     float64 `json:"fat_grams"`
	FiberGrams   float64 `json:"fiber_grams"`
	SugarGrams   float64 `json:"sugar_grams"`
	SodiumMg     float64 `json:"sodium_mg"`
	PerServing   bool    `json:"per_serving"`
}

// Image is a generated or uploaded image
type Image struct {
	Data     []byte
	MIMEType string
}

// ImagePrompt describes the dish to illustrate
type ImagePrompt struct {
	Title   string
	Summary string
}

// AnalyzeRequest is a photo of a dish or a handwritten recipe
type AnalyzeRequest struct {
	Image        Image
	Instructions string
}

// NutritionRequest lists the ingredients to estimate
type NutritionRequest struct {
	Ingredients []string
	Servings    int
}

// Provider is the AI backend used by the generation operations. Every
// method honors ctx cancellation by aborting the outbound request.
type Provider interface {
	GenerateRecipe(ctx context.Context, description string) (*RecipeDraft, error)
	GenerateImage(ctx context.Context, prompt ImagePrompt) (*Image, error)
	AnalyzeImage(ctx context.Context, req AnalyzeRequest) (*RecipeDraft, error)
	NutritionalValues(ctx context.Context, req NutritionRequest) (*NutritionFacts, error)
}
