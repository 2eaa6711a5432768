package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const defaultChatCompletionsURL = "https://api.openai.com/v1/chat/completions"

// AIAugmenter narrates explanations through an OpenAI-compatible chat
// completions endpoint. Disabled unless OPENAI_API_KEY is set; every
// failure path leaves the caller on the template output.
type AIAugmenter struct {
	apiKey     string
	apiURL     string
	model      string
	enabled    bool
	httpClient *http.Client
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// NewAIAugmenter reads its configuration from the environment.
func NewAIAugmenter() *AIAugmenter {
	apiKey := os.Getenv("OPENAI_API_KEY")
	apiURL := os.Getenv("OPENAI_API_URL")
	if apiURL == "" {
		apiURL = defaultChatCompletionsURL
	}
	model := os.Getenv("OPENAI_MODEL")
	if model == "" {
		model = "gpt-4o-mini"
	}

	return &AIAugmenter{
		apiKey:  apiKey,
		apiURL:  apiURL,
		model:   model,
		enabled: apiKey != "",
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Enabled reports whether an API key is configured.
func (a *AIAugmenter) Enabled() bool {
	return a.enabled
}

// Narrate asks the model for a short borrower-facing explanation.
func (a *AIAugmenter) Narrate(ctx context.Context, score *domain.ScoreResult, decision *domain.Decision) (string, error) {
	if !a.enabled {
		return "", fmt.Errorf("augmenter disabled")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Credit score: %d (%s).\n", score.Score, score.Classification)
	for factor, rating := range score.Breakdown.ComponentRatings {
		fmt.Fprintf(&b, "Factor %s: %s (%.2f).\n", factor, rating.Rating, rating.Value)
	}
	if decision != nil {
		fmt.Fprintf(&b, "Lending decision: %s. Reasons: %s.\n", decision.Decision, strings.Join(decision.Reasons, "; "))
	}
	b.WriteString("Write a 3-4 sentence explanation of this credit assessment for the borrower. Be clear, factual and encouraging. Do not invent numbers.")

	reqBody := chatRequest{
		Model: a.model,
		Messages: []chatMessage{
			{
				Role:    "system",
				Content: "You are a lending assistant that explains credit scores and lending decisions to borrowers in plain language. Only use the figures provided.",
			},
			{
				Role:    "user",
				Content: b.String(),
			},
		},
		MaxTokens: 300,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", err
	}

	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("empty response from model")
	}

	return strings.TrimSpace(chatResp.Choices[0].Message.Content), nil
}
