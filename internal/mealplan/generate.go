package mealplan

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/maltehedderich/mealplan-api/internal/ai"
	"github.com/maltehedderich/mealplan-api/internal/apperror"
	"github.com/maltehedderich/mealplan-api/internal/logger"
	"github.com/maltehedderich/mealplan-api/internal/ratelimit"
)

const (
	maxNutritionItems    = 100
	maxAnalyzeNoteLength = 1000
)

var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/gif":  true,
}

// GenerateImageRequest describes the dish to illustrate. When RecipeID is
// set the image is attached to that recipe after generation succeeds.
type GenerateImageRequest struct {
	Title    string `json:"title"`
	Summary  string `json:"summary,omitempty"`
	RecipeID string `json:"recipe_id,omitempty"`
}

// AnalyzeImageRequest is an uploaded photo plus optional hints
type AnalyzeImageRequest struct {
	Image        RecipeImage
	Instructions string
}

// NutritionRequest lists the ingredients to estimate. When RecipeID is set
// the recipe's ingredients are used if none are given, and the result is
// saved on the recipe.
type NutritionRequest struct {
	Ingredients []string `json:"ingredients,omitempty"`
	Servings    int      `json:"servings,omitempty"`
	RecipeID    string   `json:"recipe_id,omitempty"`
}

func draftToInput(d *ai.RecipeDraft, source Source) *RecipeInput {
	in := &RecipeInput{
		Title:           d.Title,
		Summary:         d.Summary,
		Ingredients:     make([]Ingredient, 0, len(d.Ingredients)),
		Instructions:    d.Instructions,
		Servings:        d.Servings,
		PrepTimeMinutes: d.PrepTimeMinutes,
		CookTimeMinutes: d.CookTimeMinutes,
		Source:          source,
	}
	for _, ing := range d.Ingredients {
		in.Ingredients = append(in.Ingredients, Ingredient{Name: ing.Name, Quantity: ing.Quantity, Unit: ing.Unit})
	}
	if in.Instructions == nil {
		in.Instructions = []string{}
	}
	return in
}

// GenerateRecipe turns a free text description into a recipe draft. The
// draft is not saved.
func (s *Service) GenerateRecipe(ctx context.Context, userID, description string) (draft *RecipeInput, err error) {
	defer func() { observe(ratelimit.OpGenerateRecipeAI, err) }()

	if err := authenticate(userID); err != nil {
		return nil, err
	}
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, apperror.Validation("description is required")
	}
	if utf8.RuneCountInString(description) > maxDescriptionLength {
		return nil, apperror.Validation(fmt.Sprintf("description must be at most %d characters", maxDescriptionLength))
	}
	if err := s.admit(ctx, ratelimit.OpGenerateRecipeAI, userID); err != nil {
		return nil, err
	}

	d, err := s.ai.GenerateRecipe(ctx, description)
	if err != nil {
		return nil, err
	}
	return draftToInput(d, SourceAIText), nil
}

// GenerateImage creates a picture of a dish. Both the caller's bucket and
// the shared bucket must admit the call. If the caller goes away while the
// image is being generated, nothing is saved and the token stays spent.
func (s *Service) GenerateImage(ctx context.Context, userID string, req GenerateImageRequest) (img *RecipeImage, err error) {
	defer func() { observe(ratelimit.OpGenerateImageAI, err) }()

	if err := authenticate(userID); err != nil {
		return nil, err
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" && req.RecipeID == "" {
		return nil, apperror.Validation("title is required")
	}
	if utf8.RuneCountInString(req.Title) > maxTitleLength || utf8.RuneCountInString(req.Summary) > maxSummaryLength {
		return nil, apperror.Validation("title or summary is too long")
	}
	if err := s.admitWithGlobal(ctx, ratelimit.OpGenerateImageAI, ratelimit.OpGenerateImageAIGlobal, userID); err != nil {
		return nil, err
	}

	var recipe *Recipe
	if req.RecipeID != "" {
		if recipe, err = s.loadRecipe(ctx, userID, req.RecipeID); err != nil {
			return nil, err
		}
		if req.Title == "" {
			req.Title, req.Summary = recipe.Title, recipe.Summary
		}
	}

	generated, err := s.ai.GenerateImage(ctx, ai.ImagePrompt{Title: req.Title, Summary: strings.TrimSpace(req.Summary)})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if int64(len(generated.Data)) > s.maxImageBytes {
		return nil, apperror.Upstream(fmt.Errorf("generated image of %d bytes exceeds limit", len(generated.Data)))
	}

	img = &RecipeImage{Data: generated.Data, MIMEType: generated.MIMEType}
	if recipe != nil {
		recipe.Image = img
		recipe.UpdatedAt = s.clock.Now().UTC()
		if err := s.store.PutRecipe(ctx, recipe); err != nil {
			return nil, storeError(err, "Recipe")
		}
		logger.FromContext(ctx, "mealplan").Info("recipe image saved", logger.Fields{
			"recipe_id": recipe.ID,
			"bytes":     len(img.Data),
		})
	}
	return img, nil
}

// AnalyzeImage reads a recipe from a photo of a dish or a written recipe.
// Both the caller's bucket and the shared bucket must admit the call.
func (s *Service) AnalyzeImage(ctx context.Context, userID string, req AnalyzeImageRequest) (draft *RecipeInput, err error) {
	defer func() { observe(ratelimit.OpAnalyzeImageAI, err) }()

	if err := authenticate(userID); err != nil {
		return nil, err
	}
	switch {
	case len(req.Image.Data) == 0:
		return nil, apperror.Validation("image is required")
	case int64(len(req.Image.Data)) > s.maxImageBytes:
		return nil, apperror.Validation("image is too large")
	case !allowedImageTypes[req.Image.MIMEType]:
		return nil, apperror.Validation("unsupported image type")
	case utf8.RuneCountInString(req.Instructions) > maxAnalyzeNoteLength:
		return nil, apperror.Validation(fmt.Sprintf("instructions must be at most %d characters", maxAnalyzeNoteLength))
	}
	if err := s.admitWithGlobal(ctx, ratelimit.OpAnalyzeImageAI, ratelimit.OpAnalyzeImageAIGlobal, userID); err != nil {
		return nil, err
	}

	d, err := s.ai.AnalyzeImage(ctx, ai.AnalyzeRequest{
		Image:        ai.Image{Data: req.Image.Data, MIMEType: req.Image.MIMEType},
		Instructions: strings.TrimSpace(req.Instructions),
	})
	if err != nil {
		return nil, err
	}
	return draftToInput(d, SourceAIImage), nil
}

// NutritionalValues estimates nutrition for a list of ingredients or for a
// saved recipe
func (s *Service) NutritionalValues(ctx context.Context, userID string, req NutritionRequest) (n *Nutrition, err error) {
	defer func() { observe(ratelimit.OpNutritionalValuesAI, err) }()

	if err := authenticate(userID); err != nil {
		return nil, err
	}
	if err := validateNutritionInput(req.Ingredients, req.Servings, req.RecipeID != ""); err != nil {
		return nil, err
	}
	if err := s.admit(ctx, ratelimit.OpNutritionalValuesAI, userID); err != nil {
		return nil, err
	}

	var recipe *Recipe
	if req.RecipeID != "" {
		if recipe, err = s.loadRecipe(ctx, userID, req.RecipeID); err != nil {
			return nil, err
		}
		if len(req.Ingredients) == 0 {
			for _, ing := range recipe.Ingredients {
				req.Ingredients = append(req.Ingredients, formatIngredient(ing))
			}
		}
		if req.Servings == 0 {
			req.Servings = recipe.Servings
		}
	}

	ingredients := make([]string, 0, len(req.Ingredients))
	for _, line := range req.Ingredients {
		if line = strings.TrimSpace(line); line != "" {
			ingredients = append(ingredients, line)
		}
	}
	if err := validateNutritionInput(ingredients, req.Servings, false); err != nil {
		return nil, err
	}
	if req.Servings == 0 {
		req.Servings = 1
	}

	facts, err := s.ai.NutritionalValues(ctx, ai.NutritionRequest{Ingredients: ingredients, Servings: req.Servings})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n = &Nutrition{
		Calories:     facts.Calories,
		ProteinGrams: facts.ProteinGrams,
		CarbsGrams:   facts.CarbsGrams,
		FatGrams:     facts.FatGrams,
		FiberGrams:   facts.FiberGrams,
		SugarGrams:   facts.SugarGrams,
		SodiumMg:     facts.SodiumMg,
		PerServing:   facts.PerServing,
	}
	if recipe != nil {
		recipe.Nutrition = n
		recipe.UpdatedAt = s.clock.Now().UTC()
		if err := s.store.PutRecipe(ctx, recipe); err != nil {
			return nil, storeError(err, "Recipe")
		}
	}
	return n, nil
}

func formatIngredient(ing Ingredient) string {
	parts := make([]string, 0, 3)
	if ing.Quantity > 0 {
		parts = append(parts, strconv.FormatFloat(ing.Quantity, 'f', -1, 64))
	}
	if ing.Unit != "" {
		parts = append(parts, ing.Unit)
	}
	return strings.Join(append(parts, ing.Name), " ")
}

// validateNutritionInput checks the ingredient lines and servings of a
// nutrition request. fromRecipe allows an empty list that a saved recipe
// fills in later.
func validateNutritionInput(ingredients []string, servings int, fromRecipe bool) error {
	lines := 0
	for _, line := range ingredients {
		if strings.TrimSpace(line) != "" {
			lines++
		}
	}
	switch {
	case lines == 0 && !fromRecipe:
		return apperror.Validation("at least one ingredient is required")
	case lines > maxNutritionItems:
		return apperror.Validation(fmt.Sprintf("at most %d ingredients can be estimated", maxNutritionItems))
	case servings < 0 || servings > maxServings:
		return apperror.Validation(fmt.Sprintf("servings must be between 1 and %d", maxServings))
	}
	return nil
}
