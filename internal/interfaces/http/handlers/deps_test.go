package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kirogate/kirogate/internal/infrastructure/auth"
	"github.com/kirogate/kirogate/internal/infrastructure/config"
	apperrors "github.com/kirogate/kirogate/pkg/errors"
)

func testDeps(t *testing.T, withGlobal bool) *Deps {
	t.Helper()
	log := zap.NewNop()

	cache, err := auth.NewCache(4, auth.ManagerConfig{Region: "us-east-1"}, log)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}

	var global *auth.Manager
	if withGlobal {
		global, err = auth.NewManager(auth.ManagerConfig{
			RefreshToken: "rt-global",
			Region:       "us-east-1",
		}, log)
		if err != nil {
			t.Fatalf("NewManager: %v", err)
		}
	}

	return &Deps{
		Cfg:    &config.Config{ProxyAPIKey: "secret"},
		Global: global,
		Cache:  cache,
		Logger: log,
	}
}

func TestAuthenticateGlobalKey(t *testing.T) {
	d := testDeps(t, true)

	mgr, err := d.Authenticate("secret")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if mgr != d.Global {
		t.Error("plain key should resolve to the global manager")
	}
}

func TestAuthenticateTenantKey(t *testing.T) {
	d := testDeps(t, false)

	mgr, err := d.Authenticate("secret:rt-tenant")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if mgr.RefreshToken() != "rt-tenant" {
		t.Errorf("refresh token = %q", mgr.RefreshToken())
	}

	again, err := d.Authenticate("secret:rt-tenant")
	if err != nil {
		t.Fatalf("Authenticate (cached): %v", err)
	}
	if again != mgr {
		t.Error("same tenant token produced a different manager")
	}
}

func TestAuthenticateRejections(t *testing.T) {
	d := testDeps(t, false)

	cases := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"wrong key", "nope"},
		{"wrong key with tenant", "nope:rt-x"},
		{"valid key without global manager", "secret"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := d.Authenticate(tc.token)
			if err == nil {
				t.Fatal("expected rejection")
			}
			if apperrors.KindOf(err) != apperrors.KindAuthentication {
				t.Errorf("kind = %v", apperrors.KindOf(err))
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		header string
		want   string
	}{
		{"Bearer abc", "abc"},
		{"Bearer  abc ", "abc"},
		{"Basic abc", ""},
		{"", ""},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.header != "" {
			c.Request.Header.Set("Authorization", tc.header)
		}
		if got := BearerToken(c); got != tc.want {
			t.Errorf("BearerToken(%q) = %q, want %q", tc.header, got, tc.want)
		}
	}
}

func TestHTTPStatus(t *testing.T) {
	if got := HTTPStatus(apperrors.NewValidationError("bad")); got != http.StatusBadRequest {
		t.Errorf("validation status = %d", got)
	}
	if got := HTTPStatus(apperrors.NewUpstreamError(503, "down")); got != 503 {
		t.Errorf("upstream status = %d", got)
	}
	if got := HTTPStatus(http.ErrBodyNotAllowed); got != http.StatusInternalServerError {
		t.Errorf("plain error status = %d", got)
	}
}
