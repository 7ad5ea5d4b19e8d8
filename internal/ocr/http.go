package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/tettehnarh/serverless-invoice-scanner/internal/apperr"
	"github.com/tettehnarh/serverless-invoice-scanner/internal/retry"
)

// HTTPClient calls a hosted OCR service: document bytes in, typed blocks
// out. Transport failures come back retryable; rejections of the document
// itself come back wrapped in retry.NonRetryable so the pipeline's retry
// policy short-circuits.
type HTTPClient struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPClient constructs a client for the given endpoint.
func NewHTTPClient(endpoint, apiKey string) *HTTPClient {
	return &HTTPClient{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{},
	}
}

type recognizeResponse struct {
	Blocks []Block `json:"blocks"`
}

// Recognize submits the document and decodes the block list.
func (c *HTTPClient) Recognize(ctx context.Context, data []byte, mimeType string) ([]Block, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build ocr request: %w", err)
	}
	req.Header.Set("Content-Type", mimeType)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "ocr service unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<24))
	if err != nil {
		return nil, fmt.Errorf("read ocr response: %w", err)
	}
	switch {
	case resp.StatusCode >= 500:
		return nil, apperr.Newf(apperr.KindUnavailable, "ocr service returned %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, retry.NonRetryable(apperr.Newf(apperr.KindProcessing, "ocr rejected document: %d %s", resp.StatusCode, truncate(body)))
	}

	var decoded recognizeResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, retry.NonRetryable(apperr.Wrap(apperr.KindProcessing, "decode ocr response", err))
	}
	return decoded.Blocks, nil
}

func truncate(body []byte) string {
	const max = 256
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
