package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

var (
	// ErrAIUnavailable is returned when the OpenAI integration is not configured.
	ErrAIUnavailable = errors.New("openai api key is not configured")
	// ErrEmptyResponse is returned when the model replies with no content.
	ErrEmptyResponse = errors.New("model returned an empty response")
	// ErrMalformedResponse is returned when the model reply is not valid JSON.
	ErrMalformedResponse = errors.New("model did not return valid JSON")
)

// AIService turns extracted document text into study material by calling an
// OpenAI-compatible chat completion API. Models are tried in priority order;
// the first one that answers wins.
type AIService struct {
	client *openai.Client
	models []string
}

func NewAIService(apiKey string, apiEndpoint string, modelPriority []string) *AIService {
	if apiKey == "" {
		return &AIService{}
	}

	cfg := openai.DefaultConfig(apiKey)
	if apiEndpoint != "" {
		cfg.BaseURL = apiEndpoint
	}

	return &AIService{
		client: openai.NewClientWithConfig(cfg),
		models: modelPriority,
	}
}

// StudyMaterial is the normalized payload parsed from the model response.
type StudyMaterial struct {
	Summary    string               `json:"summary"`
	Flashcards []FlashcardPrototype `json:"flashcards"`
	Quiz       []QuizItem           `json:"quiz"`
}

type FlashcardPrototype struct {
	Front string `json:"front"`
	Back  string `json:"back"`
}

type QuizItem struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
	Answer   string   `json:"answer"`
}

func (s *AIService) disabled() bool {
	return s.client == nil || len(s.models) == 0
}

const studySystemPrompt = "You are DocuMind, an AI-powered study assistant. You turn study documents into learning aids and respond only with a single valid JSON object."

func buildStudyPrompt(text string) string {
	var builder strings.Builder
	builder.WriteString(`You will receive the full text of a study document.

Your task is to create three types of learning aids and respond ONLY with a single valid JSON object using this exact schema:

{
  "summary": "string with concise bullet-point style summary",
  "flashcards": [
    {"front": "question string", "back": "answer string"}
  ],
  "quiz": [
    {
      "question": "question string",
      "options": ["option A", "option B", "option C", "option D"],
      "answer": "exact text of the correct option from options[]"
    }
  ]
}

- The summary should be concise, written as bullet-style sentences but kept inside a single string.
- Flashcards should cover the most important definitions, concepts, and formulas.
- Quiz questions must be a list of AT LEAST 10 exam-style MCQs with exactly four options each.
- Do NOT include any explanation fields.
- Do NOT wrap the JSON in markdown or any extra text.

Here is the source material:

`)
	builder.WriteString(text)
	return builder.String()
}

// extractJSON removes markdown code block formatting if present and extracts the JSON
func extractJSON(content string) string {
	content = strings.TrimSpace(content)

	// Remove markdown code blocks like ```json ... ``` or ``` ... ```
	if strings.HasPrefix(content, "```") {
		// Skip past the opening ``` and optional language identifier (e.g., "json")
		start := 3
		// Find the first newline to skip the language identifier line
		if newlineIdx := strings.Index(content[start:], "\n"); newlineIdx != -1 {
			start += newlineIdx + 1
		}

		// Find the closing ```
		if endIdx := strings.Index(content[start:], "```"); endIdx != -1 {
			content = content[start : start+endIdx]
		} else {
			// No closing ```, just take everything after the opening
			content = content[start:]
		}
	}

	content = strings.TrimSpace(content)

	// Additional safety: find the first { and last } to extract just the JSON object
	if startIdx := strings.Index(content, "{"); startIdx != -1 {
		if endIdx := strings.LastIndex(content, "}"); endIdx != -1 && endIdx > startIdx {
			content = content[startIdx : endIdx+1]
		}
	}

	return strings.TrimSpace(content)
}

// GenerateStudyMaterial asks the configured models, in priority order, for a
// summary, flashcards, and a quiz covering the given text. The first model
// that returns a response is used; later models are not tried. If every model
// fails, the last error is returned.
func (s *AIService) GenerateStudyMaterial(ctx context.Context, text string) (*StudyMaterial, error) {
	if s.disabled() {
		return nil, ErrAIUnavailable
	}

	req := openai.ChatCompletionRequest{
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: studySystemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildStudyPrompt(text),
			},
		},
		Temperature:    0.2,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	}

	var resp openai.ChatCompletionResponse
	var lastErr error
	succeeded := false
	for _, model := range s.models {
		req.Model = model
		log.Printf("generating study material with model %s", model)
		resp, lastErr = s.client.CreateChatCompletion(ctx, req)
		if lastErr == nil {
			succeeded = true
			break
		}
		log.Printf("model %s failed: %v", model, lastErr)
	}
	if !succeeded {
		return nil, fmt.Errorf("all model attempts failed: %w", lastErr)
	}

	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}
	content := resp.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyResponse
	}

	return parseStudyMaterial(content)
}

// parseStudyMaterial decodes the model reply and coerces missing or
// wrongly-typed top-level fields to safe defaults. The shape of individual
// flashcard and quiz entries is passed through without validation.
func parseStudyMaterial(content string) (*StudyMaterial, error) {
	var raw struct {
		Summary    json.RawMessage `json:"summary"`
		Flashcards json.RawMessage `json:"flashcards"`
		Quiz       json.RawMessage `json:"quiz"`
	}
	jsonStr := extractJSON(content)
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		log.Printf("failed to unmarshal study material, raw response:\n%s", content)
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	material := &StudyMaterial{
		Flashcards: []FlashcardPrototype{},
		Quiz:       []QuizItem{},
	}
	if len(raw.Summary) > 0 {
		var summary string
		if err := json.Unmarshal(raw.Summary, &summary); err == nil {
			material.Summary = summary
		}
	}
	if len(raw.Flashcards) > 0 {
		var cards []FlashcardPrototype
		if err := json.Unmarshal(raw.Flashcards, &cards); err == nil && cards != nil {
			material.Flashcards = cards
		}
	}
	if len(raw.Quiz) > 0 {
		var quiz []QuizItem
		if err := json.Unmarshal(raw.Quiz, &quiz); err == nil && quiz != nil {
			material.Quiz = quiz
		}
	}

	return material, nil
}
