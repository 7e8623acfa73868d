package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/livesync/core/internal/logging"
)

func serve(t *testing.T, path, requestPath string, header http.Header) (*httptest.ResponseRecorder, *http.Request) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Correlation())

	var captured *http.Request
	r.GET(path, func(c *gin.Context) {
		captured = c.Request
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, requestPath, nil)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp, captured
}

func TestCorrelation_GeneratesIDAndStampsRequestContext(t *testing.T) {
	resp, captured := serve(t, "/test", "/test", nil)

	assert.Equal(t, http.StatusOK, resp.Code)
	echoed := resp.Header().Get(HeaderXCorrelationID)
	assert.NotEmpty(t, echoed, "a generated correlation id must be echoed in the response")

	ctxVal, ok := captured.Context().Value(logging.CorrelationIDKey).(string)
	assert.True(t, ok, "the correlation id must land in the request context the log helpers read")
	assert.Equal(t, echoed, ctxVal)
}

func TestCorrelation_PropagatesExistingID(t *testing.T) {
	existing := "existing-uuid-123"
	header := http.Header{}
	header.Set(HeaderXCorrelationID, existing)

	resp, captured := serve(t, "/test", "/test", header)

	assert.Equal(t, existing, resp.Header().Get(HeaderXCorrelationID))
	ctxVal, _ := captured.Context().Value(logging.CorrelationIDKey).(string)
	assert.Equal(t, existing, ctxVal)
}

func TestCorrelation_StampsContainerIDFromRoute(t *testing.T) {
	_, captured := serve(t, "/ws/:containerId", "/ws/container-42", nil)

	ctxVal, ok := captured.Context().Value(logging.ContainerIDKey).(string)
	assert.True(t, ok)
	assert.Equal(t, "container-42", ctxVal)
}

func TestCorrelation_NoContainerParamLeavesContextBare(t *testing.T) {
	_, captured := serve(t, "/metrics", "/metrics", nil)

	_, ok := captured.Context().Value(logging.ContainerIDKey).(string)
	assert.False(t, ok, "routes without a containerId param must not invent one")
}
