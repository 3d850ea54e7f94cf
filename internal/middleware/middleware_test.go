package middleware

import (
	"io"
	"lingua-chat-go/internal/model"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func roleRouter(user *model.User) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if user != nil {
			c.Set("user", user)
		}
		c.Next()
	})
	r.GET("/teachers", RequireRoles(model.RoleTeacher, model.RoleParent), func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	return r
}

func TestRequireRoles(t *testing.T) {
	cases := []struct {
		name string
		user *model.User
		want int
	}{
		{"teacher allowed", &model.User{Role: model.RoleTeacher}, http.StatusOK},
		{"parent allowed", &model.User{Role: model.RoleParent}, http.StatusOK},
		{"student forbidden", &model.User{Role: model.RoleStudent}, http.StatusForbidden},
		{"no user", nil, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			roleRouter(tc.user).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/teachers", nil))
			if w.Code != tc.want {
				t.Errorf("expected %d, got %d", tc.want, w.Code)
			}
		})
	}
}

func TestRequestLoggerKeepsBodyReadable(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestLogger())
	r.POST("/echo", func(c *gin.Context) {
		body, _ := io.ReadAll(c.Request.Body)
		c.String(http.StatusOK, string(body))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader("hello")))
	if w.Code != http.StatusOK || w.Body.String() != "hello" {
		t.Errorf("unexpected response %d %q", w.Code, w.Body.String())
	}
}

func TestRedactedPaths(t *testing.T) {
	if !redacted("/api/v1/users/login") || !redacted("/api/v1/auth/refreshToken") {
		t.Error("expected credential endpoints to be redacted")
	}
	if redacted("/api/v1/chat/sessions") {
		t.Error("expected chat endpoints to be logged")
	}
}
