package config

import (
	"fmt"
	"strings"
	"unicode"
)

var validSSLModes = map[string]bool{
	"disable":     true,
	"allow":       true,
	"prefer":      true,
	"require":     true,
	"verify-ca":   true,
	"verify-full": true,
}

// Validate checks the configuration for invalid values.
// Returns a sentinel error (wrapped with context) on the first violation.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	switch c.Provider {
	case ProviderGemini, ProviderOllama, ProviderOpenAI:
	default:
		return fmt.Errorf("%w: %q (expected gemini, ollama, or openai)", ErrInvalidProvider, c.Provider)
	}

	if strings.TrimSpace(c.ModelName) == "" {
		return fmt.Errorf("%w: model name must not be empty", ErrInvalidModelName)
	}
	if strings.TrimSpace(c.EmbedderModel) == "" {
		return fmt.Errorf("%w: embedder model must not be empty", ErrInvalidEmbedderModel)
	}

	if strings.TrimSpace(c.PostgresHost) == "" {
		return fmt.Errorf("%w: host must not be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d (expected 1-65535)", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if strings.TrimSpace(c.PostgresDBName) == "" {
		return fmt.Errorf("%w: database name must not be empty", ErrInvalidPostgresDBName)
	}
	if !validSSLModes[c.PostgresSSLMode] {
		return fmt.Errorf("%w: %q", ErrInvalidPostgresSSLMode, c.PostgresSSLMode)
	}

	if err := validateDelimiter(c.SegmentDelimiter); err != nil {
		return err
	}

	if c.BatchWorkers < 1 || c.BatchWorkers > MaxBatchWorkers {
		return fmt.Errorf("%w: %d (expected 1-%d)", ErrInvalidWorkerCount, c.BatchWorkers, MaxBatchWorkers)
	}

	return nil
}

// validateDelimiter rejects delimiters the segmenter cannot split on reliably.
// The split is a literal string match against LLM output, so the delimiter
// must be non-empty, non-whitespace, and must not be plain prose characters
// that occur inside ordinary paragraphs.
func validateDelimiter(d string) error {
	if d == "" {
		return fmt.Errorf("%w: empty", ErrInvalidDelimiter)
	}
	if strings.TrimSpace(d) == "" {
		return fmt.Errorf("%w: whitespace only", ErrInvalidDelimiter)
	}
	for _, r := range d {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return fmt.Errorf("%w: %q contains letters or digits", ErrInvalidDelimiter, d)
		}
	}
	return nil
}
