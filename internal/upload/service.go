// Package upload issues upload grants: it validates the file descriptor,
// creates the UPLOADED record, and hands back a time-limited write
// capability for the blob store. The record always exists before the
// client can write a single byte.
package upload

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tettehnarh/serverless-invoice-scanner/internal/apperr"
	"github.com/tettehnarh/serverless-invoice-scanner/internal/blob"
	"github.com/tettehnarh/serverless-invoice-scanner/internal/model"
	"github.com/tettehnarh/serverless-invoice-scanner/internal/store"
)

// Granter is the slice of the blob store the service needs.
type Granter interface {
	PresignUpload(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Service mints upload grants.
type Service struct {
	store store.Store
	blobs Granter
	ttl   time.Duration
}

// NewService constructs the grant service.
func NewService(st store.Store, blobs Granter, ttl time.Duration) *Service {
	return &Service{store: st, blobs: blobs, ttl: ttl}
}

// GrantRequest is the client-declared file descriptor.
type GrantRequest struct {
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
	MimeType string `json:"mimeType"`
}

// Grant is the write capability returned to the client.
type Grant struct {
	RecordID  string    `json:"recordId"`
	BlobKey   string    `json:"blobKey"`
	UploadURL string    `json:"uploadUrl"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Grant validates the request, creates the UPLOADED record, and presigns
// the upload URL.
func (s *Service) Grant(ctx context.Context, ownerID string, req GrantRequest) (*Grant, error) {
	if ownerID == "" {
		return nil, apperr.New(apperr.KindValidation, "missing owner identity")
	}
	if err := validate(req); err != nil {
		return nil, err
	}

	recordID := uuid.NewString()
	key := blob.Key{
		OwnerID:  ownerID,
		RecordID: recordID,
		FileName: sanitizeFileName(req.FileName),
	}.String()

	rec := &model.InvoiceRecord{
		ID:       recordID,
		OwnerID:  ownerID,
		FileName: req.FileName,
		FileSize: req.FileSize,
		MimeType: req.MimeType,
		BlobKey:  key,
	}
	if err := s.store.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("create record: %w", err)
	}

	url, err := s.blobs.PresignUpload(ctx, key, s.ttl)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "presign upload", err)
	}
	return &Grant{
		RecordID:  recordID,
		BlobKey:   key,
		UploadURL: url,
		ExpiresAt: time.Now().UTC().Add(s.ttl),
	}, nil
}

func validate(req GrantRequest) error {
	if strings.TrimSpace(req.FileName) == "" {
		return apperr.New(apperr.KindValidation, "fileName is required")
	}
	if req.FileSize < model.MinFileSize {
		return apperr.Newf(apperr.KindValidation, "fileSize must be at least %d byte", model.MinFileSize)
	}
	if req.FileSize > model.MaxFileSize {
		return apperr.Newf(apperr.KindValidation, "fileSize exceeds %d bytes", model.MaxFileSize)
	}
	if _, ok := model.AllowedMimeTypes[req.MimeType]; !ok {
		return apperr.Newf(apperr.KindValidation, "unsupported mimeType %q", req.MimeType)
	}
	return nil
}

// sanitizeFileName keeps only the final path element so client-supplied
// names cannot steer the blob key outside the record's prefix.
func sanitizeFileName(name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." || base == ".." {
		return "upload"
	}
	return base
}
