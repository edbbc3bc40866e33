package api

import (
	"net/http"

	"github.com/maltehedderich/mealplan-api/internal/mealplan"
	"github.com/maltehedderich/mealplan-api/internal/middleware"
)

type menuRecipeRequest struct {
	RecipeID string `json:"recipe_id"`
}

func (h *Handler) createMenu(w http.ResponseWriter, r *http.Request) {
	var in mealplan.MenuInput
	if err := decodeJSON(r, &in); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	menu, err := h.svc.CreateMenu(r.Context(), userID(r), in)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, menu)
}

func (h *Handler) listMenus(w http.ResponseWriter, r *http.Request) {
	menus, err := h.svc.ListMenus(r.Context(), userID(r))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{"items": menus})
}

func (h *Handler) getMenu(w http.ResponseWriter, r *http.Request) {
	menu, err := h.svc.GetMenu(r.Context(), userID(r), r.PathValue("id"))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, menu)
}

func (h *Handler) updateMenu(w http.ResponseWriter, r *http.Request) {
	var patch mealplan.MenuPatch
	if err := decodeJSON(r, &patch); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	menu, err := h.svc.UpdateMenu(r.Context(), userID(r), r.PathValue("id"), patch)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, menu)
}

func (h *Handler) deleteMenu(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.svc.DeleteMenu(r.Context(), userID(r), id); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, deletedResponse{Deleted: id})
}

func (h *Handler) addMenuRecipe(w http.ResponseWriter, r *http.Request) {
	var req menuRecipeRequest
	if err := decodeJSON(r, &req); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	menu, err := h.svc.AddRecipeToMenu(r.Context(), userID(r), r.PathValue("id"), req.RecipeID)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, menu)
}

func (h *Handler) removeMenuRecipe(w http.ResponseWriter, r *http.Request) {
	menu, err := h.svc.RemoveRecipeFromMenu(r.Context(), userID(r), r.PathValue("id"), r.PathValue("recipeID"))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, menu)
}

func (h *Handler) syncMenuGroceries(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.SyncIngredients(r.Context(), userID(r), mealplan.SyncRequest{MenuID: r.PathValue("id")})
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, res)
}
