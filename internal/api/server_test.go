package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tettehnarh/serverless-invoice-scanner/internal/config"
	"github.com/tettehnarh/serverless-invoice-scanner/internal/model"
	"github.com/tettehnarh/serverless-invoice-scanner/internal/query"
	"github.com/tettehnarh/serverless-invoice-scanner/internal/store"
	"github.com/tettehnarh/serverless-invoice-scanner/internal/upload"
)

type fakeGranter struct{}

func (fakeGranter) PresignUpload(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://blobs.test/" + key + "?sig=abc", nil
}

func newTestHandler(t *testing.T) (http.Handler, *store.Memory) {
	t.Helper()
	st := store.NewMemory(store.NewCursorCodec([]byte("test-secret")))
	srv := New(
		&config.Config{Address: ":0"},
		upload.NewService(st, fakeGranter{}, 15*time.Minute),
		query.NewService(st),
	)
	return srv.Handler(), st
}

func do(t *testing.T, h http.Handler, method, target, owner, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if owner != "" {
		req.Header.Set("X-Owner-Id", owner)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	return env
}

func TestHealthz(t *testing.T) {
	h, _ := newTestHandler(t)
	rr := do(t, h, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, decodeEnvelope(t, rr).Success)
}

func TestGrantEndpoint(t *testing.T) {
	h, st := newTestHandler(t)

	rr := do(t, h, http.MethodPost, "/invoices/grants", "alice",
		`{"fileName":"invoice.pdf","fileSize":2048,"mimeType":"application/pdf"}`)
	require.Equal(t, http.StatusCreated, rr.Code)

	env := decodeEnvelope(t, rr)
	require.True(t, env.Success)
	grant := env.Data.(map[string]any)
	recordID := grant["recordId"].(string)
	assert.NotEmpty(t, recordID)
	assert.Contains(t, grant["uploadUrl"].(string), "https://blobs.test/")

	rec, err := st.Get(context.Background(), recordID, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.StatusUploaded, rec.Status)
}

func TestGrantRejectsInvalidRequests(t *testing.T) {
	h, _ := newTestHandler(t)

	cases := map[string]struct {
		owner string
		body  string
	}{
		"missing owner":    {"", `{"fileName":"a.pdf","fileSize":10,"mimeType":"application/pdf"}`},
		"oversized file":   {"alice", `{"fileName":"a.pdf","fileSize":10485761,"mimeType":"application/pdf"}`},
		"bad mime type":    {"alice", `{"fileName":"a.sh","fileSize":10,"mimeType":"application/x-sh"}`},
		"malformed body":   {"alice", `{"fileName":`},
		"zero-length file": {"alice", `{"fileName":"a.pdf","fileSize":0,"mimeType":"application/pdf"}`},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rr := do(t, h, http.MethodPost, "/invoices/grants", tc.owner, tc.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			env := decodeEnvelope(t, rr)
			assert.False(t, env.Success)
			assert.Equal(t, "VALIDATION_ERROR", env.Error)
		})
	}
}

func TestListAndGetEndpoints(t *testing.T) {
	h, st := newTestHandler(t)
	ctx := context.Background()
	ids := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		rr := do(t, h, http.MethodPost, "/invoices/grants", "alice",
			`{"fileName":"invoice.pdf","fileSize":2048,"mimeType":"application/pdf"}`)
		require.Equal(t, http.StatusCreated, rr.Code)
		env := decodeEnvelope(t, rr)
		ids = append(ids, env.Data.(map[string]any)["recordId"].(string))
	}

	rr := do(t, h, http.MethodGet, "/invoices?limit=2", "alice", "")
	require.Equal(t, http.StatusOK, rr.Code)
	env := decodeEnvelope(t, rr)
	page := env.Data.(map[string]any)
	assert.Len(t, page["items"].([]any), 2)
	assert.NotEmpty(t, page["nextCursor"])

	rr = do(t, h, http.MethodGet, "/invoices/"+ids[0], "alice", "")
	assert.Equal(t, http.StatusOK, rr.Code)

	// Another owner cannot see the record; NOT_FOUND hides existence.
	rr = do(t, h, http.MethodGet, "/invoices/"+ids[0], "mallory", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "NOT_FOUND", decodeEnvelope(t, rr).Error)

	// Blob keys never leave the service.
	rec, err := st.Get(ctx, ids[0], "alice")
	require.NoError(t, err)
	raw, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), rec.BlobKey)
}

func TestListRejectsBadParameters(t *testing.T) {
	h, _ := newTestHandler(t)

	rr := do(t, h, http.MethodGet, "/invoices?limit=abc", "alice", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, http.MethodGet, "/invoices?status=SHREDDED", "alice", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, http.MethodGet, "/invoices", "", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSearchAndStatsEndpoints(t *testing.T) {
	h, _ := newTestHandler(t)

	rr := do(t, h, http.MethodGet, "/invoices/search?q=acme", "alice", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	env := decodeEnvelope(t, rr)
	assert.Zero(t, env.Data.(map[string]any)["count"].(float64))

	rr = do(t, h, http.MethodGet, "/invoices/search?q=", "alice", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, http.MethodGet, "/invoices/stats", "alice", "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	h, _ := newTestHandler(t)

	rr := do(t, h, http.MethodDelete, "/invoices", "alice", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)

	rr = do(t, h, http.MethodGet, "/invoices/grants", "alice", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}
