package llm

import (
	"errors"
	"testing"

	"github.com/nutrikb/nutrikb/internal/config"
)

func TestCheckCredentials_GeminiMissing(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")

	cfg := &config.Config{Provider: config.ProviderGemini}
	if err := checkCredentials(cfg); !errors.Is(err, config.ErrMissingAPIKey) {
		t.Errorf("expected ErrMissingAPIKey, got: %v", err)
	}
}

func TestCheckCredentials_GeminiPresent(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")

	cfg := &config.Config{Provider: config.ProviderGemini}
	if err := checkCredentials(cfg); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestCheckCredentials_GoogleKeyAccepted(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "test-key")

	cfg := &config.Config{Provider: config.ProviderGemini}
	if err := checkCredentials(cfg); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestCheckCredentials_OpenAIMissing(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	cfg := &config.Config{Provider: config.ProviderOpenAI}
	if err := checkCredentials(cfg); !errors.Is(err, config.ErrMissingAPIKey) {
		t.Errorf("expected ErrMissingAPIKey, got: %v", err)
	}
}

func TestCheckCredentials_OllamaNoKey(t *testing.T) {
	cfg := &config.Config{Provider: config.ProviderOllama}
	if err := checkCredentials(cfg); err != nil {
		t.Errorf("ollama should not require credentials, got: %v", err)
	}
}
