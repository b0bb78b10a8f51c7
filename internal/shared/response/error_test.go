package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apperrors "github.com/taskhub/server/internal/shared/errors"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(err error) *httptest.ResponseRecorder {
	router := gin.New()
	router.GET("/x", func(c *gin.Context) {
		HandleError(c, zap.NewNop(), err)
	})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	return w
}

func TestHandleError(t *testing.T) {
	t.Run("app error keeps status and code", func(t *testing.T) {
		w := serve(apperrors.ErrLinkExhausted)
		assert.Equal(t, http.StatusGone, w.Code)

		var body ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "link_unavailable", body.Code)
	})

	t.Run("expired and exhausted links are indistinguishable", func(t *testing.T) {
		assert.Equal(t, serve(apperrors.ErrLinkExpired).Body.String(), serve(apperrors.ErrLinkExhausted).Body.String())
	})

	t.Run("unknown error hides detail", func(t *testing.T) {
		w := serve(errors.New("pq: relation does not exist"))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "relation")
	})
}
