// Package ocr defines the text-extraction capability consumed by the
// pipeline. The capability is external; this package holds its contract,
// an HTTP client for a hosted service, and a local PDF implementation
// for development.
package ocr

import "context"

// Block types mirror what layout-aware OCR services emit. The pipeline
// reduces LINE blocks to the text corpus.
const (
	BlockTypeLine = "LINE"
	BlockTypeWord = "WORD"
)

// Block is one typed text/layout unit with an optional per-block
// confidence in [0,1]. Nil confidence means the service reported none.
type Block struct {
	Type       string   `json:"type"`
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// Client extracts text blocks from raw document bytes.
type Client interface {
	Recognize(ctx context.Context, data []byte, mimeType string) ([]Block, error)
}
