package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"support-calls/internal/auth"

	"github.com/gin-gonic/gin"
)

func withPrincipal(p auth.Principal) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(auth.WithPrincipal(c.Request.Context(), p))
		c.Next()
	}
}

func serve(t *testing.T, handlers ...gin.HandlerFunc) int {
	t.Helper()
	gin.SetMode(gin.TestMode)

	r := gin.New()
	handlers = append(handlers, func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/x", handlers...)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	return w.Code
}

func TestRequireSupport_AllowsSupport(t *testing.T) {
	code := serve(t, withPrincipal(auth.Principal{Email: "ops@shop.test", Role: RoleSupport}), RequireSupport())
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireSupport_DeniesCustomer(t *testing.T) {
	code := serve(t, withPrincipal(auth.Principal{Email: "ann@example.com", Role: RoleCustomer}), RequireSupport())
	if code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", code)
	}
}

func TestRequireAnyRole_NoPrincipal(t *testing.T) {
	code := serve(t, RequireAnyRole(RoleCustomer, RoleSupport))
	if code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
}

func TestRequirePrincipal_RejectsIncomplete(t *testing.T) {
	code := serve(t, withPrincipal(auth.Principal{Role: RoleCustomer}), RequirePrincipal())
	if code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
}

func TestParseRole(t *testing.T) {
	if r, ok := ParseRole("support"); !ok || r != RoleSupport {
		t.Fatalf("unexpected %q %v", r, ok)
	}
	if _, ok := ParseRole("super_admin"); ok {
		t.Fatalf("expected unknown role to be rejected")
	}
}
