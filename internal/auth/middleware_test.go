package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"casevault/internal/config"
)

func TestRequireAccessToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m, _ := NewManager(config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour})
	pair, _ := m.IssuePair(time.Now(), Identity{UserID: "u1", Email: "u1@x.test", Role: "analyst"})

	r := gin.New()
	r.GET("/me", RequireAccessToken(m), func(c *gin.Context) {
		id, err := IdentityFrom(c.Request.Context())
		if err != nil {
			c.Status(500)
			return
		}
		c.String(200, id.UserID+"|"+id.Email+"|"+id.Role)
	})

	cases := []struct {
		name   string
		header string
		code   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"refresh token", "Bearer " + pair.RefreshToken, http.StatusUnauthorized},
		{"garbage", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer " + pair.AccessToken, http.StatusOK},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		r.ServeHTTP(w, req)
		if w.Code != tc.code {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.code, w.Code)
		}
		if tc.code == http.StatusOK && w.Body.String() != "u1|u1@x.test|analyst" {
			t.Fatalf("unexpected identity %q", w.Body.String())
		}
	}
}
