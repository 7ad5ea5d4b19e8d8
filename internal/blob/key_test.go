package blob

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyRoundTrip(t *testing.T) {
	key := Key{OwnerID: "alice", RecordID: "rec-1", FileName: "invoice.pdf"}
	assert.Equal(t, "uploads/alice/rec-1/invoice.pdf", key.String())

	parsed, err := ParseKey(key.String())
	require.NoError(t, err)
	assert.Equal(t, key, parsed)
}

func TestParseKeyToleratesEncodingAndPrefixes(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Key
	}{
		{
			"url encoded",
			"uploads/alice/rec-1/scan+of%20invoice.pdf",
			Key{OwnerID: "alice", RecordID: "rec-1", FileName: "scan of invoice.pdf"},
		},
		{
			"leading slash",
			"/uploads/alice/rec-1/invoice.pdf",
			Key{OwnerID: "alice", RecordID: "rec-1", FileName: "invoice.pdf"},
		},
		{
			"extra prefix segment",
			"staging/uploads/alice/rec-1/invoice.pdf",
			Key{OwnerID: "alice", RecordID: "rec-1", FileName: "invoice.pdf"},
		},
		{
			"filename with slashes",
			"uploads/alice/rec-1/2024/march/invoice.pdf",
			Key{OwnerID: "alice", RecordID: "rec-1", FileName: "2024/march/invoice.pdf"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			parsed, err := ParseKey(tc.raw)
			require.NoError(t, err)
			assert.Equal(t, tc.want, parsed)
		})
	}
}

func TestParseKeyRejectsForeignKeys(t *testing.T) {
	tests := []string{
		"",
		"invoice.pdf",
		"processed/alice/rec-1/invoice.pdf",
		"uploads/alice/rec-1",
		"uploads//rec-1/invoice.pdf",
	}
	for _, raw := range tests {
		t.Run(raw, func(t *testing.T) {
			_, err := ParseKey(raw)
			assert.Error(t, err)
		})
	}
}
