package ai

import (
	"fmt"
	"strings"
)

const recipeSchema = `{"title": string, "summary": string, "ingredients": [{"name": string, "quantity": number, "unit": string}], "instructions": [string], "servings": number, "prep_time_minutes": number, "cook_time_minutes": number}`

const generateRecipeSystemPrompt = `You are a recipe assistant. Create one recipe that matches the user's description. ` +
	`Answer with a single JSON object of the form ` + recipeSchema + `. Use metric units. Do not add any other keys or text.`

const analyzeImageSystemPrompt = `You are a recipe assistant. The user sends a photo of a dish or of a written recipe. ` +
	`Reconstruct the recipe and answer with a single JSON object of the form ` + recipeSchema + `. ` +
	`If the image shows no food or recipe, answer with {"title": ""}.`

const nutritionSystemPrompt = `You are a nutrition assistant. Estimate the nutritional values of the listed ingredients. ` +
	`Answer with a single JSON object of the form {"calories": number, "protein_grams": number, "carbs_grams": number, ` +
	`"fat_grams": number, "fiber_grams": number, "sugar_grams": number, "sodium_mg": number, "per_serving": boolean}.`

func imagePrompt(p ImagePrompt) string {
	var b strings.Builder
	fmt.Fprintf(&b, "An appetizing overhead food photograph of %s", strings.TrimSpace(p.Title))
	if s := strings.TrimSpace(p.Summary); s != "" {
		fmt.Fprintf(&b, ": %s", s)
	}
	b.WriteString(". Natural light, plated on a simple table, no text or people.")
	return b.String()
}

func nutritionPrompt(req NutritionRequest) string {
	var b strings.Builder
	if req.Servings > 0 {
		fmt.Fprintf(&b, "Servings: %d. Report values per serving.\n", req.Servings)
	} else {
		b.WriteString("Report values for the whole recipe.\n")
	}
	b.WriteString("Ingredients:\n")
	for _, ing := range req.Ingredients {
		fmt.Fprintf(&b, "- %s\n", ing)
	}
	return b.String()
}
