package structuring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tettehnarh/serverless-invoice-scanner/internal/apperr"
	"github.com/tettehnarh/serverless-invoice-scanner/internal/model"
	"github.com/tettehnarh/serverless-invoice-scanner/internal/retry"
)

const systemPrompt = `You are an invoice parsing assistant. Extract structured fields from the invoice text you are given and respond with a single JSON object using these keys where present: invoiceNumber, invoiceDate, dueDate, vendorName, vendorAddress, customerName, subtotal, taxAmount, totalAmount, currency (ISO 4217 code), lineItems (array of {description, quantity, unitPrice, total, taxRate}), confidence ({fields: {fieldName: score in [0,1]}}). Amounts are decimal strings. Omit keys you cannot determine. Respond with JSON only.`

// HTTPClient calls an OpenAI-style chat-completions endpoint and decodes
// the JSON reply into typed fields.
type HTTPClient struct {
	endpoint   string
	apiKey     string
	modelName  string
	httpClient *http.Client
}

// NewHTTPClient constructs a client for the given endpoint and model.
func NewHTTPClient(endpoint, apiKey, modelName string) *HTTPClient {
	return &HTTPClient{
		endpoint:   endpoint,
		apiKey:     apiKey,
		modelName:  modelName,
		httpClient: &http.Client{},
	}
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat *format       `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type format struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Structure submits the corpus and parses the model's JSON reply.
func (c *HTTPClient) Structure(ctx context.Context, text string) (*model.ExtractedData, error) {
	payload, err := json.Marshal(chatRequest{
		Model: c.modelName,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: text},
		},
		Temperature:    0,
		ResponseFormat: &format{Type: "json_object"},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal structuring request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build structuring request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "structuring service unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<22))
	if err != nil {
		return nil, fmt.Errorf("read structuring response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, apperr.Newf(apperr.KindUnavailable, "structuring service returned %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, retry.NonRetryable(apperr.Newf(apperr.KindProcessing, "structuring request rejected: %d", resp.StatusCode))
	}

	var decoded chatResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, retry.NonRetryable(apperr.Wrap(apperr.KindProcessing, "decode structuring response", err))
	}
	if decoded.Error != nil {
		return nil, apperr.Newf(apperr.KindProcessing, "structuring error: %s", decoded.Error.Message)
	}
	if len(decoded.Choices) == 0 {
		return nil, retry.NonRetryable(apperr.New(apperr.KindProcessing, "structuring returned no choices"))
	}

	content := stripFences(decoded.Choices[0].Message.Content)
	var data model.ExtractedData
	if err := json.Unmarshal([]byte(content), &data); err != nil {
		return nil, retry.NonRetryable(apperr.Wrap(apperr.KindProcessing, "decode structured fields", err))
	}
	return &data, nil
}

// stripFences removes a markdown code fence if the model wrapped its JSON
// in one despite instructions.
func stripFences(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}
