package store

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/tettehnarh/serverless-invoice-scanner/internal/apperr"
	"github.com/tettehnarh/serverless-invoice-scanner/internal/signing"
)

// cursorPayload is the last-returned sort position. Resuming strictly
// after (createdAt, id) keeps already-handed-out pages reproducible even
// as newer records arrive ahead of them.
type cursorPayload struct {
	CreatedAt int64  `json:"t"` // unix nanoseconds
	ID        string `json:"id"`
}

// CursorCodec turns sort positions into opaque, HMAC-signed tokens and
// back. A forged or truncated token decodes to a validation error, never
// to a scan position.
type CursorCodec struct {
	signer *signing.Signer
}

// NewCursorCodec creates a codec signing with secret.
func NewCursorCodec(secret []byte) *CursorCodec {
	return &CursorCodec{signer: signing.NewSigner(secret)}
}

// Encode serializes the position of the last record on a page.
func (c *CursorCodec) Encode(createdAt time.Time, id string) string {
	payload, _ := json.Marshal(cursorPayload{CreatedAt: createdAt.UnixNano(), ID: id})
	body := base64.RawURLEncoding.EncodeToString(payload)
	return body + "." + c.signer.Sign(payload)
}

// Decode recovers the sort position from a client-supplied token.
func (c *CursorCodec) Decode(token string) (time.Time, string, error) {
	body, sig, ok := strings.Cut(token, ".")
	if !ok {
		return time.Time{}, "", apperr.New(apperr.KindValidation, "malformed cursor")
	}
	payload, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return time.Time{}, "", apperr.Wrap(apperr.KindValidation, "malformed cursor", err)
	}
	if !c.signer.Verify(payload, sig) {
		return time.Time{}, "", apperr.New(apperr.KindValidation, "cursor signature mismatch")
	}
	var p cursorPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return time.Time{}, "", apperr.Wrap(apperr.KindValidation, "malformed cursor", err)
	}
	if p.ID == "" {
		return time.Time{}, "", apperr.New(apperr.KindValidation, "empty cursor position")
	}
	return time.Unix(0, p.CreatedAt).UTC(), p.ID, nil
}
