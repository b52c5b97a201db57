package lessonplan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ashureev/tutorlive/internal/domain"
	"google.golang.org/genai"
)

// DefaultGenAIModel is used when no model is configured.
const DefaultGenAIModel = "gemini-2.5-flash"

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GenAIPlanner generates lesson plans with a Gemini model.
type GenAIPlanner struct {
	models contentGenerator
	model  string
	logger *slog.Logger
}

// NewGenAIPlanner creates a planner backed by the Gemini API.
func NewGenAIPlanner(ctx context.Context, apiKey, model string, logger *slog.Logger) (*GenAIPlanner, error) {
	if apiKey == "" {
		return nil, errors.New("lessonplan: gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return newGenAIPlanner(client.Models, model, logger), nil
}

func newGenAIPlanner(models contentGenerator, model string, logger *slog.Logger) *GenAIPlanner {
	if model == "" {
		model = DefaultGenAIModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GenAIPlanner{models: models, model: model, logger: logger}
}

func stringList() *genai.Schema {
	return &genai.Schema{Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}}
}

var planSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"title":                 {Type: genai.TypeString},
		"objectives":            stringList(),
		"entry_question":        {Type: genai.TypeString},
		"key_questions":         stringList(),
		"common_misconceptions": stringList(),
		"scaffolds":             stringList(),
		"transfer_challenge":    {Type: genai.TypeString},
		"reflection_prompt":     {Type: genai.TypeString},
	},
	Required: []string{"title", "entry_question", "key_questions"},
}

// GeneratePlan asks the model for a plan as structured JSON.
func (p *GenAIPlanner) GeneratePlan(ctx context.Context, req domain.LessonPlanRequest) (*domain.LessonPlan, error) {
	resp, err := p.models.GenerateContent(ctx, p.model, genai.Text(buildPrompt(req)), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemInstruction, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    planSchema,
		Temperature:       genai.Ptr[float32](0.4),
	})
	if err != nil {
		return nil, fmt.Errorf("generate lesson plan: %w", err)
	}
	plan, err := parsePlan(resp.Text())
	if err != nil {
		return nil, err
	}
	p.logger.Debug("Lesson plan generated", "learner_id", req.LearnerID, "topic", req.Topic, "model", p.model)
	return plan, nil
}
