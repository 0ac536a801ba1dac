package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"casevault/internal/auth"

	"github.com/gin-gonic/gin"
)

func serveAs(role string, allowed ...string) int {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/x", func(c *gin.Context) {
		if role != "" {
			ctx := auth.WithIdentity(c.Request.Context(), auth.Identity{UserID: "u", Role: role})
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	}, RequireAnyRole(allowed...), func(c *gin.Context) {
		c.Status(200)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	r.ServeHTTP(w, req)
	return w.Code
}

func TestRequireAnyRole_AdminBypasses(t *testing.T) {
	if code := serveAs(RoleAdmin, Recorders...); code != 200 {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireAnyRole_AuditorCannotRecord(t *testing.T) {
	if code := serveAs(RoleAuditor, Recorders...); code != 403 {
		t.Fatalf("expected 403, got %d", code)
	}
	if code := serveAs(RoleAuditor, Readers...); code != 200 {
		t.Fatalf("expected auditor to read, got %d", code)
	}
}

func TestRequireAnyRole_UnknownRoleDenied(t *testing.T) {
	if code := serveAs("owner", "owner"); code != 403 {
		t.Fatalf("expected 403, got %d", code)
	}
}

func TestRequireAnyRole_RoleRequired(t *testing.T) {
	if code := serveAs("", Readers...); code != 401 {
		t.Fatalf("expected 401, got %d", code)
	}
}
