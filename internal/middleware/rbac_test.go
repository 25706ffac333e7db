package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-analytics/internal/model"
	"github.com/stemsi/exstem-analytics/internal/service"
)

func TestRequireSelfOrPermission(t *testing.T) {
	gin.SetMode(gin.TestMode)
	auth := service.NewAuthService("test-secret")

	issue := func(tt service.TokenType, userID int, perms ...string) string {
		tok, err := auth.IssueToken(tt, userID, 1, perms, time.Minute)
		if err != nil {
			t.Fatalf("issue token: %v", err)
		}
		return tok
	}

	r := gin.New()
	r.GET("/exams/:exam_id/students/:student_id/analytics",
		RequireJWT(auth),
		RequireSelfOrPermission(string(model.PermissionAnalyticsRead)),
		func(c *gin.Context) { c.Status(http.StatusOK) },
	)

	tests := []struct {
		name   string
		token  string
		path   string
		expect int
	}{
		{"no token", "", "/exams/x/students/7/analytics", http.StatusUnauthorized},
		{"bad token", "garbage", "/exams/x/students/7/analytics", http.StatusUnauthorized},
		{"student self", issue(service.TokenTypeStudent, 7), "/exams/x/students/7/analytics", http.StatusOK},
		{"student other", issue(service.TokenTypeStudent, 7), "/exams/x/students/8/analytics", http.StatusForbidden},
		{"student bad id", issue(service.TokenTypeStudent, 7), "/exams/x/students/abc/analytics", http.StatusBadRequest},
		{"admin with permission", issue(service.TokenTypeAdmin, 1, string(model.PermissionAnalyticsRead)), "/exams/x/students/8/analytics", http.StatusOK},
		{"admin without permission", issue(service.TokenTypeAdmin, 1, string(model.PermissionAnalyticsWrite)), "/exams/x/students/8/analytics", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.expect {
				t.Errorf("expected %d, got %d: %s", tt.expect, w.Code, w.Body.String())
			}
		})
	}
}

func TestRequireAdminJWTRejectsStudents(t *testing.T) {
	gin.SetMode(gin.TestMode)
	auth := service.NewAuthService("test-secret")

	r := gin.New()
	r.POST("/admin/analytics/recompute",
		RequireAdminJWT(auth),
		RequirePermission(string(model.PermissionAnalyticsRecompute)),
		func(c *gin.Context) { c.Status(http.StatusOK) },
	)

	student, _ := auth.IssueToken(service.TokenTypeStudent, 7, 1, nil, time.Minute)
	admin, _ := auth.IssueToken(service.TokenTypeAdmin, 1, 0, []string{string(model.PermissionAnalyticsRecompute)}, time.Minute)

	for token, expect := range map[string]int{student: http.StatusForbidden, admin: http.StatusOK} {
		req := httptest.NewRequest(http.MethodPost, "/admin/analytics/recompute", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != expect {
			t.Errorf("expected %d, got %d", expect, w.Code)
		}
	}
}
