// Package guard gates navigation into protected areas: one observation of
// the session stream decides, unauthenticated callers are redirected to
// sign-in with the requested path preserved.
package guard

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ChequedMetal/App-Mobile/internal/session"
)

// DefaultLoginPath is where denied callers are sent.
const DefaultLoginPath = "/login"

// Guard consults the session store before allowing entry.
type Guard struct {
	store     *session.Store
	loginPath string
}

// New creates a guard redirecting to loginPath; empty means
// DefaultLoginPath.
func New(store *session.Store, loginPath string) *Guard {
	if loginPath == "" {
		loginPath = DefaultLoginPath
	}
	return &Guard{store: store, loginPath: loginPath}
}

// CanEnter observes exactly one emission from the session stream. It
// permits entry when a session is present; otherwise it returns the
// sign-in redirect carrying the originally requested path.
func (g *Guard) CanEnter(targetPath string) (bool, string) {
	ch, cancel := g.store.Subscribe()
	defer cancel()
	if sess := <-ch; sess != nil {
		return true, ""
	}
	redirect := g.loginPath
	if targetPath != "" {
		redirect += "?returnTo=" + url.QueryEscape(targetPath)
	}
	return false, redirect
}

// Middleware adapts the guard to gin. Browser clients get the redirect;
// API clients get 401 JSON. Session state is never mutated here.
func (g *Guard) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, redirect := g.CanEnter(c.Request.URL.Path)
		if ok {
			c.Next()
			return
		}
		if strings.Contains(c.GetHeader("Accept"), "text/html") {
			c.Redirect(http.StatusFound, redirect)
			c.Abort()
			return
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error":    session.UserMessage(session.ErrNotAuthenticated),
			"redirect": redirect,
		})
	}
}
