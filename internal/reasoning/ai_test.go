package reasoning

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestAIAugmenterDisabledWithoutKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	augmenter := NewAIAugmenter()
	if augmenter.Enabled() {
		t.Error("expected augmenter disabled without an API key")
	}

	if _, err := augmenter.Narrate(context.Background(), sampleScore(), nil); err == nil {
		t.Error("expected error narrating while disabled")
	}
}

func TestAIAugmenterNarrate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("expected bearer auth, got %q", got)
		}

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		if len(req.Messages) != 2 {
			t.Errorf("expected system and user messages, got %d", len(req.Messages))
		}
		if !strings.Contains(req.Messages[1].Content, "742") {
			t.Errorf("expected score in prompt, got %q", req.Messages[1].Content)
		}

		json.NewEncoder(w).Encode(chatResponse{
			Choices: []struct {
				Message chatMessage `json:"message"`
			}{
				{Message: chatMessage{Role: "assistant", Content: "  Your credit is in great shape.  "}},
			},
		})
	}))
	defer server.Close()

	t.Setenv("OPENAI_API_KEY", "test-key")
	t.Setenv("OPENAI_API_URL", server.URL)

	augmenter := NewAIAugmenter()
	if !augmenter.Enabled() {
		t.Fatal("expected augmenter enabled")
	}

	narrative, err := augmenter.Narrate(context.Background(), sampleScore(), sampleDecision(domain.DecisionApprove))
	if err != nil {
		t.Fatalf("Narrate failed: %v", err)
	}
	if narrative != "Your credit is in great shape." {
		t.Errorf("expected trimmed narrative, got %q", narrative)
	}
}

func TestAIAugmenterAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	t.Setenv("OPENAI_API_KEY", "test-key")
	t.Setenv("OPENAI_API_URL", server.URL)

	augmenter := NewAIAugmenter()
	if _, err := augmenter.Narrate(context.Background(), sampleScore(), nil); err == nil {
		t.Error("expected error on non-200 response")
	}
}

func TestAIAugmenterEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(chatResponse{})
	}))
	defer server.Close()

	t.Setenv("OPENAI_API_KEY", "test-key")
	t.Setenv("OPENAI_API_URL", server.URL)

	augmenter := NewAIAugmenter()
	if _, err := augmenter.Narrate(context.Background(), sampleScore(), nil); err == nil {
		t.Error("expected error on empty choices")
	}
}
