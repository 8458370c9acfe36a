package layout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// defaultParseTimeout bounds one parse round trip when the caller's context
// carries no deadline. Layout analysis of large PDFs is slow but bounded.
const defaultParseTimeout = 2 * time.Minute

// HTTPParser is a client for an HTTP layout-analysis service.
// The service accepts the raw document bytes and returns
// {"layouts": [{"type", "subType", "markdownContent"}, ...]}.
type HTTPParser struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPParser creates a layout parsing client.
// Fails fast when the service URL is missing: parsing is a hard dependency
// of ingestion and there is no local fallback.
func NewHTTPParser(url, apiKey string) (*HTTPParser, error) {
	if url == "" {
		return nil, fmt.Errorf("layout parser URL is required")
	}
	return &HTTPParser{
		url:    url,
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: defaultParseTimeout,
		},
	}, nil
}

// Parse uploads the file at localPath and returns its parsed layout.
func (p *HTTPParser) Parse(ctx context.Context, localPath string) (*Layout, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Filename", filepath.Base(localPath))
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("parse request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read parse response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("parser service error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var parsed Layout
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal layout: %w", err)
	}

	return &parsed, nil
}
