package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/winnersdraw91/pacs-v2/internal/domain/identity"
)

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name  string
		role  identity.Role
		allow []identity.Role
		code  int
	}{
		{"matching role", identity.RoleRadiologist, []identity.Role{identity.RoleRadiologist}, http.StatusOK},
		{"one of several", identity.RoleCentreOperator, []identity.Role{identity.RoleRadiologist, identity.RoleCentreOperator}, http.StatusOK},
		{"admin bypass", identity.RoleAdmin, []identity.Role{identity.RoleTechnician}, http.StatusOK},
		{"denied", identity.RoleDoctor, []identity.Role{identity.RoleTechnician}, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req = req.WithContext(WithActor(req.Context(), identity.Actor{ID: uuid.New(), Role: tt.role}))
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			err := RequireRole(tt.allow...)(func(c echo.Context) error {
				return c.String(http.StatusOK, "ok")
			})(c)
			if tt.code == http.StatusOK {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			he, ok := err.(*echo.HTTPError)
			if !ok || he.Code != tt.code {
				t.Fatalf("expected %d, got %v", tt.code, err)
			}
		})
	}
}

func TestRequireRole_Unauthenticated(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	err := RequireRole(identity.RoleAdmin)(func(c echo.Context) error { return nil })(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}
