package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	testKey    = "test-signing-key"
	testIssuer = "campusattend"
)

func TestIssueAndParse(t *testing.T) {
	tok, err := Issue("user-1", RoleStaff, testIssuer, testKey, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	claims, err := Parse(tok.AccessToken, testKey, testIssuer)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Subject != "user-1" || claims.Role != RoleStaff {
		t.Fatalf("claims %+v", claims)
	}
	if _, err := Parse(tok.AccessToken, "other-key", testIssuer); err == nil {
		t.Error("token verified with the wrong key")
	}
	if _, err := Parse(tok.AccessToken, testKey, "someone-else"); err == nil {
		t.Error("issuer mismatch accepted")
	}
}

func TestExpiredToken(t *testing.T) {
	tok, err := Issue("user-1", RoleStaff, testIssuer, testKey, -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Parse(tok.AccessToken, testKey, testIssuer); err == nil {
		t.Fatal("expired token accepted")
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/admin", Bearer(testKey, testIssuer), RequireRoles(RoleAdmin), func(c *gin.Context) {
		claims, _ := FromContext(c)
		c.String(http.StatusOK, claims.Subject)
	})

	admin, _ := Issue("root", RoleAdmin, testIssuer, testKey, time.Hour)
	staff, _ := Issue("u-lect", RoleStaff, testIssuer, testKey, time.Hour)

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"garbage", "Bearer nope", http.StatusUnauthorized},
		{"wrong role", "Bearer " + staff.AccessToken, http.StatusForbidden},
		{"admin", "Bearer " + admin.AccessToken, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tc.want {
				t.Fatalf("status %d, want %d", w.Code, tc.want)
			}
		})
	}
}
