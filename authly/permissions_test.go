package authly_test

import (
	"errors"
	"net/http"
	"testing"

	"github.com/keksclan/coffeeshop/authly"
)

func TestCheckPermissions(t *testing.T) {
	tests := []struct {
		name       string
		claims     authly.Claims
		permission string
		wantErr    error
		status     int
	}{
		{
			name:       "granted",
			claims:     authly.Claims{"permissions": []any{"get:drinks-detail", "post:drinks"}},
			permission: "post:drinks",
		},
		{
			name:       "granted string slice",
			claims:     authly.Claims{"permissions": []string{"delete:drinks"}},
			permission: "delete:drinks",
		},
		{
			name:       "claim missing",
			claims:     authly.Claims{"sub": "x"},
			permission: "post:drinks",
			wantErr:    authly.ErrMissingPermissionsClaim,
			status:     http.StatusBadRequest,
		},
		{
			name:       "not granted",
			claims:     authly.Claims{"permissions": []any{"get:drinks-detail"}},
			permission: "post:drinks",
			wantErr:    authly.ErrPermissionDenied,
			status:     http.StatusForbidden,
		},
		{
			name:       "empty list",
			claims:     authly.Claims{"permissions": []any{}},
			permission: "post:drinks",
			wantErr:    authly.ErrPermissionDenied,
			status:     http.StatusForbidden,
		},
		{
			name:       "case sensitive",
			claims:     authly.Claims{"permissions": []any{"POST:drinks"}},
			permission: "post:drinks",
			wantErr:    authly.ErrPermissionDenied,
			status:     http.StatusForbidden,
		},
		{
			name:       "not a list",
			claims:     authly.Claims{"permissions": "post:drinks"},
			permission: "post:drinks",
			wantErr:    authly.ErrPermissionDenied,
			status:     http.StatusForbidden,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := authly.CheckPermissions(tt.permission, tt.claims)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			ae, _ := authly.AsAuthError(err)
			if ae.StatusCode() != tt.status {
				t.Fatalf("status = %d, want %d", ae.StatusCode(), tt.status)
			}
		})
	}
}

func TestClaimsClone(t *testing.T) {
	c := authly.Claims{"sub": "a"}
	cp := c.Clone()
	cp["sub"] = "b"
	if c.Subject() != "a" {
		t.Fatal("clone shares storage with original")
	}
}

func TestClaimsCloneCopiesNestedValues(t *testing.T) {
	c := authly.Claims{
		"permissions": []any{"get:drinks-detail"},
		"app":         map[string]any{"roles": []any{"barista"}},
		"scopes":      []string{"openid"},
	}
	cp := c.Clone()
	cp["permissions"].([]any)[0] = "delete:drinks"
	cp["app"].(map[string]any)["roles"].([]any)[0] = "manager"
	cp["scopes"].([]string)[0] = "profile"

	if perms, _ := c.Permissions(); perms[0] != "get:drinks-detail" {
		t.Fatalf("permissions leaked into original: %v", perms)
	}
	if r := c["app"].(map[string]any)["roles"].([]any)[0]; r != "barista" {
		t.Fatalf("nested map leaked into original: %v", r)
	}
	if s := c["scopes"].([]string)[0]; s != "openid" {
		t.Fatalf("string slice leaked into original: %v", s)
	}
	if authly.Claims(nil).Clone() != nil {
		t.Fatal("nil claims must clone to nil")
	}
}
