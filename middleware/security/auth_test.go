package security

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"PPChatSync/tools/errs"
	tokens "PPChatSync/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	opts := tokens.DefaultOptions([]byte("0123456789abcdef0123456789abcdef"))
	token, _, err := tokens.Issue(opts, "alice")
	require.NoError(t, err)

	e := gin.New()
	e.GET("/me", Middleware(opts, nil), func(c *gin.Context) {
		c.String(http.StatusOK, UserID(c))
	})

	cases := map[string]func(r *http.Request){
		"header": func(r *http.Request) { r.Header.Set("authorization", token) },
		"bearer": func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) },
		"query":  func(r *http.Request) { r.URL.RawQuery = "access_token=" + token },
	}
	for name, prep := range cases {
		r := httptest.NewRequest(http.MethodGet, "/me", nil)
		prep(r)
		w := httptest.NewRecorder()
		e.ServeHTTP(w, r)
		assert.Equal(t, http.StatusOK, w.Code, name)
		assert.Equal(t, "alice", w.Body.String(), name)
	}

	for _, bad := range []string{"", "Bearer nope"} {
		r := httptest.NewRequest(http.MethodGet, "/me", nil)
		if bad != "" {
			r.Header.Set("Authorization", bad)
		}
		w := httptest.NewRecorder()
		e.ServeHTTP(w, r)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), fmt.Sprintf(`"code":%d`, errs.NoSessionError))
	}
}
