package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"sevapay/pkg/ctxkeys"
)

func serveWithRole(t *testing.T, role string, gate gin.HandlerFunc) int {
	t.Helper()
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if role != "" {
			c.Set(string(ctxkeys.KeyRole), role)
		}
		c.Next()
	})
	r.Use(gate)
	r.GET("/ok", func(c *gin.Context) { c.String(200, "ok") })

	w := httptest.NewRecorder()
	req, _ := http.NewRequestWithContext(context.Background(), "GET", "/ok", nil)
	r.ServeHTTP(w, req)
	return w.Code
}

func TestRequireRole(t *testing.T) {
	gate := RequireRole(RoleAdmin, RoleEmployee)

	tests := []struct {
		name string
		role string
		want int
	}{
		{"no role set", "", http.StatusUnauthorized},
		{"allowed admin", RoleAdmin, http.StatusOK},
		{"allowed employee", RoleEmployee, http.StatusOK},
		{"forbidden retailer", RoleRetailer, http.StatusForbidden},
		{"forbidden customer", RoleCustomer, http.StatusForbidden},
		{"service token bypasses", RoleService, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := serveWithRole(t, tt.role, gate); got != tt.want {
				t.Fatalf("role %q: expected %d, got %d", tt.role, tt.want, got)
			}
		})
	}
}
