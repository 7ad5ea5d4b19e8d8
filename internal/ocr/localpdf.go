package ocr

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	pdf "github.com/ledongthuc/pdf"

	"github.com/tettehnarh/serverless-invoice-scanner/internal/retry"
)

// LocalPDF is the development OCR capability: it extracts embedded text
// from PDFs with ledongthuc/pdf instead of calling a hosted service.
// Real OCR over scanned images is out of its reach, so non-PDF input is
// rejected outright.
type LocalPDF struct{}

// NewLocalPDF constructs the local capability.
func NewLocalPDF() *LocalPDF {
	return &LocalPDF{}
}

// Recognize returns one LINE block per non-empty text line, confidence
// 1.0 since the text is read rather than recognized.
func (l *LocalPDF) Recognize(_ context.Context, data []byte, mimeType string) ([]Block, error) {
	if mimeType != "application/pdf" {
		return nil, retry.NonRetryable(fmt.Errorf("local ocr supports application/pdf only, got %s", mimeType))
	}
	reader := bytes.NewReader(data)
	doc, err := pdf.NewReader(reader, int64(len(data)))
	if err != nil {
		return nil, retry.NonRetryable(fmt.Errorf("new pdf reader: %w", err))
	}

	exact := 1.0
	var blocks []Block
	total := doc.NumPage()
	for page := 1; page <= total; page++ {
		p := doc.Page(page)
		if p.V.IsNull() {
			continue
		}
		content, err := p.GetPlainText(nil)
		if err != nil {
			return nil, retry.NonRetryable(fmt.Errorf("page %d: %w", page, err))
		}
		for _, line := range strings.Split(content, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			blocks = append(blocks, Block{Type: BlockTypeLine, Text: line, Confidence: &exact})
		}
	}
	return blocks, nil
}
