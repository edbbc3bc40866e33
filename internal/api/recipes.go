package api

import (
	"net/http"

	"github.com/maltehedderich/mealplan-api/internal/mealplan"
	"github.com/maltehedderich/mealplan-api/internal/middleware"
)

func (h *Handler) createRecipe(w http.ResponseWriter, r *http.Request) {
	var in mealplan.RecipeInput
	if err := decodeJSON(r, &in); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	recipe, err := h.svc.CreateRecipe(r.Context(), userID(r), in)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, recipe)
}

func (h *Handler) listRecipes(w http.ResponseWriter, r *http.Request) {
	page, err := pageFrom(r)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	res, err := h.svc.ListRecipes(r.Context(), userID(r), page)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) searchRecipes(w http.ResponseWriter, r *http.Request) {
	page, err := pageFrom(r)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	res, err := h.svc.SearchRecipes(r.Context(), userID(r), r.URL.Query().Get("q"), page)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) getRecipe(w http.ResponseWriter, r *http.Request) {
	recipe, err := h.svc.GetRecipe(r.Context(), userID(r), r.PathValue("id"))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, recipe)
}

func (h *Handler) deleteRecipe(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.svc.DeleteRecipe(r.Context(), userID(r), id); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, deletedResponse{Deleted: id})
}
