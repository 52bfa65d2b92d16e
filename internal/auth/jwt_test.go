package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestIssueParseRoundTrip(t *testing.T) {
	pair, err := Issue("u1", "app-mobile", "test-key", time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("expected non-empty tokens")
	}

	claims, err := Parse(pair.AccessToken, "test-key", "app-mobile")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if claims.UID != "u1" || claims.Subject != "u1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	if _, err := Parse(pair.AccessToken, "other-key", "app-mobile"); err == nil {
		t.Fatal("expected failure with wrong key")
	}
	if _, err := Parse(pair.AccessToken, "test-key", "other-issuer"); err == nil {
		t.Fatal("expected failure with wrong issuer")
	}
}

func TestParseExpiredToken(t *testing.T) {
	pair, err := Issue("u1", "app-mobile", "test-key", -time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if _, err := Parse(pair.AccessToken, "test-key", "app-mobile"); err == nil {
		t.Fatal("expected failure for expired token")
	}
}

func TestUserAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/protected", UserAuth("test-key", "app-mobile"), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"uid": UIDFrom(c)})
	})

	// No token.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	// Garbage token.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", w.Code)
	}

	// Valid token.
	pair, err := Issue("u1", "app-mobile", "test-key", time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with valid token, got %d (%s)", w.Code, w.Body.String())
	}
}
