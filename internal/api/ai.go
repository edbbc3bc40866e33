package api

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/maltehedderich/mealplan-api/internal/apperror"
	"github.com/maltehedderich/mealplan-api/internal/mealplan"
	"github.com/maltehedderich/mealplan-api/internal/middleware"
)

type generateRecipeRequest struct {
	Description string `json:"description"`
}

type imageResponse struct {
	Image *mealplan.RecipeImage `json:"image"`
}

func (h *Handler) generateRecipe(w http.ResponseWriter, r *http.Request) {
	var req generateRecipeRequest
	if err := decodeJSON(r, &req); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	draft, err := h.svc.GenerateRecipe(r.Context(), userID(r), req.Description)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, draft)
}

func (h *Handler) generateImage(w http.ResponseWriter, r *http.Request) {
	var req mealplan.GenerateImageRequest
	if err := decodeJSON(r, &req); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	img, err := h.svc.GenerateImage(r.Context(), userID(r), req)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, imageResponse{Image: img})
}

// analyzeImage takes a multipart form with an "image" file and optional
// "instructions"
func (h *Handler) analyzeImage(w http.ResponseWriter, r *http.Request) {
	img, instructions, err := h.readUpload(r)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	draft, err := h.svc.AnalyzeImage(r.Context(), userID(r), mealplan.AnalyzeImageRequest{
		Image:        img,
		Instructions: instructions,
	})
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, draft)
}

func (h *Handler) readUpload(r *http.Request) (mealplan.RecipeImage, string, error) {
	var img mealplan.RecipeImage

	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return img, "", apperror.Validation("image is too large")
		}
		return img, "", apperror.Wrap(apperror.KindValidation, "Expected a multipart form with an image", err)
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, _, err := r.FormFile("image")
	if err != nil {
		return img, "", apperror.Validation("image is required")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxUploadBytes+1))
	if err != nil {
		return img, "", apperror.Wrap(apperror.KindValidation, "Failed to read image", err)
	}
	if int64(len(data)) > h.maxUploadBytes {
		return img, "", apperror.Validation("image is too large")
	}

	img.Data = data
	img.MIMEType = strings.TrimSpace(strings.Split(http.DetectContentType(data), ";")[0])
	return img, r.FormValue("instructions"), nil
}

func (h *Handler) nutritionalValues(w http.ResponseWriter, r *http.Request) {
	var req mealplan.NutritionRequest
	if err := decodeJSON(r, &req); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	n, err := h.svc.NutritionalValues(r.Context(), userID(r), req)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, n)
}
