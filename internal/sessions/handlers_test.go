package sessions

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupHandlerTestRouter() (*gin.Engine, *Service) {
	gin.SetMode(gin.TestMode)

	svc, _, _ := newTestService()
	r := gin.New()
	NewHandler(svc).RegisterAdminRoutes(r.Group("/v1"))
	return r, svc
}

func TestHandler_CreateSession_201(t *testing.T) {
	router, svc := setupHandlerTestRouter()

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/admin/analysis/sessions", bytes.NewBufferString(`{"owner":"ops"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp CreateSessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, svc.now().Add(svc.ttl).UnixMilli(), resp.Expires)

	sess, err := svc.Validate(t.Context(), resp.Token)
	require.NoError(t, err)
	assert.Equal(t, resp.SessionID, sess.ID)
}

func TestHandler_CreateSession_400(t *testing.T) {
	router, _ := setupHandlerTestRouter()

	for _, body := range []string{`{"owner":""}`, `{}`, `nope`} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/v1/admin/analysis/sessions", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
}
