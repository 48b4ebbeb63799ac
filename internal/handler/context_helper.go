package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/memoire-api/internal/middleware"
	"github.com/noah-isme/memoire-api/internal/models"
	appErrors "github.com/noah-isme/memoire-api/pkg/errors"
	"github.com/noah-isme/memoire-api/pkg/response"
)

// currentActor returns the caller or answers 401 itself.
func currentActor(c *gin.Context) (*models.JWTClaims, bool) {
	claims, ok := middleware.Claims(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return nil, false
	}
	return claims, true
}
