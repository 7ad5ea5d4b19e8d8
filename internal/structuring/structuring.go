// Package structuring defines the capability that turns a raw text corpus
// into typed invoice fields. Like OCR, the capability is external; this
// package holds its contract and an HTTP client for an OpenAI-style
// chat-completions endpoint.
package structuring

import (
	"context"

	"github.com/tettehnarh/serverless-invoice-scanner/internal/model"
)

// Client structures a text corpus into invoice fields. Results are
// best-effort: missing fields are not an error, only capability failure is.
type Client interface {
	Structure(ctx context.Context, text string) (*model.ExtractedData, error)
}
