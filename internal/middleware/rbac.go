package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-analytics/internal/response"
	"github.com/stemsi/exstem-analytics/internal/service"
)

// RequirePermission checks that the admin JWT contains the required permission code.
func RequirePermission(permissionCode string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		if claims.HasPermission(permissionCode) {
			c.Next()
			return
		}

		response.AbortFail(c, http.StatusForbidden, response.ErrPermissionDenied)
	}
}

// RequireSelfOrPermission lets students through only for their own
// :student_id, and admins only with permissionCode.
func RequireSelfOrPermission(permissionCode string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		switch claims.TokenType {
		case service.TokenTypeStudent:
			studentID, err := strconv.Atoi(c.Param("student_id"))
			if err != nil {
				response.AbortFail(c, http.StatusBadRequest, response.ErrInvalidID)
				return
			}
			if studentID != claims.UserID {
				response.AbortFail(c, http.StatusForbidden, response.ErrForbidden)
				return
			}
		case service.TokenTypeAdmin:
			if !claims.HasPermission(permissionCode) {
				response.AbortFail(c, http.StatusForbidden, response.ErrPermissionDenied)
				return
			}
		default:
			response.AbortFail(c, http.StatusForbidden, response.ErrForbidden)
			return
		}

		c.Next()
	}
}
