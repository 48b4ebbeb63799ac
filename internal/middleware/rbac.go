package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/memoire-api/internal/models"
	appErrors "github.com/noah-isme/memoire-api/pkg/errors"
	"github.com/noah-isme/memoire-api/pkg/response"
)

// RequireRoles lets through callers holding one of roles. Finer rules, such as
// "the named supervisor" or "head of that department", stay in the services.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	return authorize(roles, "")
}

// RequireRolesOrSelf additionally admits callers whose user ID equals the path
// parameter param, e.g. a teacher reading their own load.
func RequireRolesOrSelf(param string, roles ...models.UserRole) gin.HandlerFunc {
	return authorize(roles, param)
}

func authorize(roles []models.UserRole, selfParam string) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}

	return func(c *gin.Context) {
		claims, ok := Claims(c)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		if _, ok := allowed[claims.Role]; ok {
			c.Next()
			return
		}
		if selfParam != "" && c.Param(selfParam) == claims.UserID {
			c.Next()
			return
		}

		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "role "+string(claims.Role)+" may not perform this action"))
		c.Abort()
	}
}
