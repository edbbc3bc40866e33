package api

import (
	"net/http"
	"strconv"

	"github.com/maltehedderich/mealplan-api/internal/apperror"
	"github.com/maltehedderich/mealplan-api/internal/mealplan"
	"github.com/maltehedderich/mealplan-api/internal/middleware"
)

func (h *Handler) listGroceries(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListGroceryItems(r.Context(), userID(r))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (h *Handler) addGroceryItem(w http.ResponseWriter, r *http.Request) {
	var in mealplan.GroceryInput
	if err := decodeJSON(r, &in); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	item, err := h.svc.AddGroceryItem(r.Context(), userID(r), in)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, item)
}

func (h *Handler) toggleGroceryItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.svc.ToggleGroceryItem(r.Context(), userID(r), r.PathValue("id"))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, item)
}

func (h *Handler) deleteGroceryItem(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.svc.DeleteGroceryItem(r.Context(), userID(r), id); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, deletedResponse{Deleted: id})
}

// clearGroceries removes every item, or only checked ones with ?checked=true
func (h *Handler) clearGroceries(w http.ResponseWriter, r *http.Request) {
	var opts mealplan.ClearOptions
	if raw := r.URL.Query().Get("checked"); raw != "" {
		checked, err := strconv.ParseBool(raw)
		if err != nil {
			middleware.WriteError(w, r, apperror.Validation("checked must be true or false"))
			return
		}
		opts.CheckedOnly = checked
	}
	removed, err := h.svc.ClearGroceryList(r.Context(), userID(r), opts)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (h *Handler) syncGroceries(w http.ResponseWriter, r *http.Request) {
	var req mealplan.SyncRequest
	if err := decodeJSON(r, &req); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	res, err := h.svc.SyncIngredients(r.Context(), userID(r), req)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, res)
}
