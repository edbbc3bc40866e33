package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/maltehedderich/mealplan-api/internal/apperror"
	"github.com/maltehedderich/mealplan-api/internal/circuitbreaker"
	"github.com/maltehedderich/mealplan-api/internal/config"
	"github.com/maltehedderich/mealplan-api/internal/logger"
	"github.com/maltehedderich/mealplan-api/internal/metrics"
	"github.com/maltehedderich/mealplan-api/internal/tracing"
)

const (
	// Provider names, one breaker each
	ProviderLLM    = "llm"
	ProviderImages = "images"

	maxResponseBytes = 16 << 20
	maxErrorBody     = 4 << 10
)

// Client talks to an OpenAI-compatible chat completions API and images API.
// Each call runs under a fixed timeout derived from the caller's context and
// is never retried.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	imageBaseURL string
	apiKey       string
	textModel    string
	visionModel  string
	imageModel   string
	imageSize    string
	timeout      time.Duration
	breakers     *circuitbreaker.Manager
}

// NewClient creates a client from the AI configuration. A nil breakers
// manager gets one with default settings.
func NewClient(cfg *config.AIConfig, breakers *circuitbreaker.Manager) *Client {
	if breakers == nil {
		breakers = circuitbreaker.NewManager(nil, nil)
	}
	imageBaseURL := cfg.ImageBaseURL
	if imageBaseURL == "" {
		imageBaseURL = cfg.BaseURL
	}
	visionModel := cfg.VisionModel
	if visionModel == "" {
		visionModel = cfg.TextModel
	}

	return &Client{
		// No client-level timeout: the per-call context deadline governs.
		httpClient:   &http.Client{Transport: http.DefaultTransport},
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		imageBaseURL: strings.TrimRight(imageBaseURL, "/"),
		apiKey:       cfg.APIKey,
		textModel:    cfg.TextModel,
		visionModel:  visionModel,
		imageModel:   cfg.ImageModel,
		imageSize:    cfg.ImageSize,
		timeout:      cfg.Timeout,
		breakers:     breakers,
	}
}

// Breakers exposes the circuit breakers for health reporting
func (c *Client) Breakers() *circuitbreaker.Manager {
	return c.breakers
}

type chatMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
	Temperature    float64         `json:"temperature"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

type imageRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n"`
	Size           string `json:"size,omitempty"`
	ResponseFormat string `json:"response_format"`
}

type imageResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}

// GenerateRecipe asks the text model for a recipe matching description
func (c *Client) GenerateRecipe(ctx context.Context, description string) (*RecipeDraft, error) {
	messages := []chatMessage{
		{Role: "system", Content: generateRecipeSystemPrompt},
		{Role: "user", Content: description},
	}

	var draft RecipeDraft
	if err := c.chatJSON(ctx, "generate_recipe", c.textModel, messages, &draft); err != nil {
		return nil, err
	}
	if err := validateDraft(&draft); err != nil {
		return nil, apperror.Upstream(err)
	}
	return &draft, nil
}

// AnalyzeImage asks the vision model to reconstruct a recipe from a photo
func (c *Client) AnalyzeImage(ctx context.Context, req AnalyzeRequest) (*RecipeDraft, error) {
	text := "Extract the recipe from this image."
	if s := strings.TrimSpace(req.Instructions); s != "" {
		text += " " + s
	}
	dataURL := "data:" + req.Image.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(req.Image.Data)

	messages := []chatMessage{
		{Role: "system", Content: analyzeImageSystemPrompt},
		{Role: "user", Content: []contentPart{
			{Type: "text", Text: text},
			{Type: "image_url", ImageURL: &imageURL{URL: dataURL}},
		}},
	}

	var draft RecipeDraft
	if err := c.chatJSON(ctx, "analyze_image", c.visionModel, messages, &draft); err != nil {
		return nil, err
	}
	if draft.Title == "" {
		return nil, apperror.Validation("No recipe could be recognized in the image")
	}
	if err := validateDraft(&draft); err != nil {
		return nil, apperror.Upstream(err)
	}
	return &draft, nil
}

// NutritionalValues asks the text model to estimate nutrition facts
func (c *Client) NutritionalValues(ctx context.Context, req NutritionRequest) (*NutritionFacts, error) {
	messages := []chatMessage{
		{Role: "system", Content: nutritionSystemPrompt},
		{Role: "user", Content: nutritionPrompt(req)},
	}

	var facts NutritionFacts
	if err := c.chatJSON(ctx, "nutritional_values", c.textModel, messages, &facts); err != nil {
		return nil, err
	}
	if facts.Calories < 0 || facts.ProteinGrams < 0 || facts.CarbsGrams < 0 || facts.FatGrams < 0 {
		return nil, apperror.Upstream(errors.New("negative nutritional values"))
	}
	return &facts, nil
}

// GenerateImage asks the images API for a picture of the dish
func (c *Client) GenerateImage(ctx context.Context, prompt ImagePrompt) (*Image, error) {
	body := imageRequest{
		Model:          c.imageModel,
		Prompt:         imagePrompt(prompt),
		N:              1,
		Size:           c.imageSize,
		ResponseFormat: "b64_json",
	}

	var resp imageResponse
	if err := c.call(ctx, "generate_image", ProviderImages, c.imageBaseURL+"/images/generations", body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return nil, apperror.Upstream(errors.New("image response carried no data"))
	}

	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, apperror.Upstream(fmt.Errorf("failed to decode image: %w", err))
	}
	return &Image{Data: data, MIMEType: http.DetectContentType(data)}, nil
}

func (c *Client) chatJSON(ctx context.Context, kind, model string, messages []chatMessage, out interface{}) error {
	body := chatRequest{
		Model:          model,
		Messages:       messages,
		ResponseFormat: &responseFormat{Type: "json_object"},
		Temperature:    0.7,
	}

	var resp chatResponse
	if err := c.call(ctx, kind, ProviderLLM, c.baseURL+"/chat/completions", body, &resp); err != nil {
		return err
	}
	if len(resp.Choices) == 0 {
		return apperror.Upstream(errors.New("completion carried no choices"))
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), out); err != nil {
		return apperror.Upstream(fmt.Errorf("model returned malformed JSON: %w", err))
	}
	return nil
}

// call performs one POST under the configured timeout. Cancellation by the
// caller is returned as context.Canceled; everything else the provider
// does wrong becomes an Upstream error.
func (c *Client) call(ctx context.Context, kind, provider, url string, in, out interface{}) error {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	callCtx, span := tracing.StartSpan(callCtx, "ai."+kind, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("ai.provider", provider))

	log := logger.FromContext(ctx, "ai")
	start := time.Now()

	err := c.breakers.Get(provider).Execute(callCtx, func(callCtx context.Context) error {
		return c.do(callCtx, url, in, out)
	})
	elapsed := time.Since(start)

	if err == nil {
		metrics.RecordAIRequest(kind, "success", elapsed)
		return nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, "provider call failed")

	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		metrics.RecordAIRequest(kind, "canceled", elapsed)
		log.Info("AI request canceled by client", logger.Fields{"kind": kind, "duration_ms": elapsed.Milliseconds()})
		return ctx.Err()
	case errors.Is(callCtx.Err(), context.DeadlineExceeded):
		metrics.RecordAIRequest(kind, "timeout", elapsed)
		log.Warn("AI request timed out", logger.Fields{"kind": kind, "timeout": c.timeout.String()})
		return apperror.Upstream(fmt.Errorf("%s timed out after %s: %w", kind, c.timeout, context.DeadlineExceeded))
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		metrics.RecordAIRequest(kind, "circuit_open", elapsed)
		log.Warn("AI provider circuit open", logger.Fields{"kind": kind, "provider": provider})
		return apperror.Upstream(err)
	}

	metrics.RecordAIRequest(kind, "error", elapsed)
	log.Error("AI request failed", logger.Fields{
		"kind":        kind,
		"provider":    provider,
		"error":       err.Error(),
		"duration_ms": elapsed.Milliseconds(),
	})
	if _, ok := apperror.As(err); ok {
		return err
	}
	return apperror.Upstream(err)
}

func (c *Client) do(ctx context.Context, url string, in, out interface{}) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if id := logger.GetCorrelationID(ctx); id != "" {
		req.Header.Set(logger.CorrelationHeader, id)
	}
	tracing.InjectTraceContext(ctx, req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return fmt.Errorf("failed to decode provider response: %w", err)
	}
	return nil
}

func validateDraft(d *RecipeDraft) error {
	d.Title = strings.TrimSpace(d.Title)
	if d.Title == "" {
		return errors.New("generated recipe has no title")
	}
	if len(d.Ingredients) == 0 {
		return errors.New("generated recipe has no ingredients")
	}
	if len(d.Instructions) == 0 {
		return errors.New("generated recipe has no instructions")
	}
	if d.Servings <= 0 {
		d.Servings = 1
	}
	return nil
}
