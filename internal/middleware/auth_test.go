package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/memoire-api/internal/models"
	appErrors "github.com/noah-isme/memoire-api/pkg/errors"
)

type validatorStub map[string]*models.JWTClaims

func (v validatorStub) ValidateToken(token string) (*models.JWTClaims, error) {
	if claims, ok := v[token]; ok {
		return claims, nil
	}
	return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
}

func newAuthRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	tokens := validatorStub{
		"teacher-token": {UserID: "t1", Role: models.RoleTeacher},
		"admin-token":   {UserID: "a1", Role: models.RoleAdmin},
		"anonymous":     {Role: models.RoleTeacher},
	}
	chain := append([]gin.HandlerFunc{Authenticate(tokens)}, handlers...)
	chain = append(chain, func(c *gin.Context) {
		claims, ok := Claims(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, claims.UserID)
	})
	r.GET("/teachers/:id/load", chain...)
	return r
}

func serve(r *gin.Engine, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthenticate(t *testing.T) {
	r := newAuthRouter()

	cases := []struct {
		name    string
		path    string
		headers map[string]string
		status  int
	}{
		{"missing header", "/teachers/t1/load", nil, http.StatusUnauthorized},
		{"wrong scheme", "/teachers/t1/load", map[string]string{"Authorization": "Basic teacher-token"}, http.StatusUnauthorized},
		{"unknown token", "/teachers/t1/load", map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized},
		{"no identity", "/teachers/t1/load", map[string]string{"Authorization": "Bearer anonymous"}, http.StatusUnauthorized},
		{"valid", "/teachers/t1/load", map[string]string{"Authorization": "bearer teacher-token"}, http.StatusOK},
		{"query token on plain request", "/teachers/t1/load?access_token=teacher-token", nil, http.StatusUnauthorized},
		{"query token on event stream", "/teachers/t1/load?access_token=teacher-token", map[string]string{"Accept": "text/event-stream"}, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := serve(r, tc.path, tc.headers)
			assert.Equal(t, tc.status, w.Code)
		})
	}
}

func TestRequireRolesOrSelf(t *testing.T) {
	r := newAuthRouter(RequireRolesOrSelf("id", models.RoleHead, models.RoleAdmin))

	w := serve(r, "/teachers/t1/load", map[string]string{"Authorization": "Bearer teacher-token"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(r, "/teachers/t2/load", map[string]string{"Authorization": "Bearer teacher-token"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = serve(r, "/teachers/t2/load", map[string]string{"Authorization": "Bearer admin-token"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireRolesWithoutClaims(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/archives", RequireRoles(models.RoleAdmin), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(r, "/archives", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
