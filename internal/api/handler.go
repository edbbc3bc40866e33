// Package api exposes the meal planning operations over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/maltehedderich/mealplan-api/internal/apperror"
	"github.com/maltehedderich/mealplan-api/internal/auth"
	"github.com/maltehedderich/mealplan-api/internal/mealplan"
	"github.com/maltehedderich/mealplan-api/internal/middleware"
)

// Handler serves the /api routes
type Handler struct {
	svc            *mealplan.Service
	maxUploadBytes int64
}

// NewHandler creates the API handler. maxUploadBytes bounds image uploads.
func NewHandler(svc *mealplan.Service, maxUploadBytes int64) *Handler {
	return &Handler{svc: svc, maxUploadBytes: maxUploadBytes}
}

// Register adds every route to mux behind requireUser
func (h *Handler) Register(mux *http.ServeMux, requireUser middleware.Middleware) {
	routes := []struct {
		pattern string
		handler http.HandlerFunc
	}{
		{"POST /api/ai/generate-recipe", h.generateRecipe},
		{"POST /api/ai/generate-image", h.generateImage},
		{"POST /api/ai/analyze-image", h.analyzeImage},
		{"POST /api/ai/nutritional-values", h.nutritionalValues},

		{"GET /api/recipes", h.listRecipes},
		{"POST /api/recipes", h.createRecipe},
		{"GET /api/recipes/search", h.searchRecipes},
		{"GET /api/recipes/{id}", h.getRecipe},
		{"DELETE /api/recipes/{id}", h.deleteRecipe},

		{"GET /api/menus", h.listMenus},
		{"POST /api/menus", h.createMenu},
		{"GET /api/menus/{id}", h.getMenu},
		{"PATCH /api/menus/{id}", h.updateMenu},
		{"DELETE /api/menus/{id}", h.deleteMenu},
		{"POST /api/menus/{id}/recipes", h.addMenuRecipe},
		{"DELETE /api/menus/{id}/recipes/{recipeID}", h.removeMenuRecipe},
		{"POST /api/menus/{id}/sync-groceries", h.syncMenuGroceries},

		{"GET /api/grocery", h.listGroceries},
		{"POST /api/grocery", h.addGroceryItem},
		{"DELETE /api/grocery", h.clearGroceries},
		{"POST /api/grocery/sync", h.syncGroceries},
		{"POST /api/grocery/{id}/toggle", h.toggleGroceryItem},
		{"DELETE /api/grocery/{id}", h.deleteGroceryItem},
	}

	for _, route := range routes {
		mux.Handle(route.pattern, requireUser(route.handler))
	}
}

// decodeJSON reads the request body into v
func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return apperror.Validation("Request body too large")
		case errors.Is(err, io.EOF):
			return apperror.Validation("Request body is required")
		}
		return apperror.Wrap(apperror.KindValidation, "Invalid JSON body", err)
	}
	return nil
}

// pageFrom reads limit and offset query parameters
func pageFrom(r *http.Request) (mealplan.Page, error) {
	var page mealplan.Page
	q := r.URL.Query()
	for name, dst := range map[string]*int{"limit": &page.Limit, "offset": &page.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return page, apperror.Validation(name + " must be a non-negative integer")
		}
		*dst = n
	}
	return page, nil
}

func userID(r *http.Request) string {
	return auth.UserID(r.Context())
}

type deletedResponse struct {
	Deleted string `json:"deleted"`
}
