package server

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/argon2"
)

const (
	sessionCookieName   = "statusd_session"
	sessionCookieMaxAge = 365 * 24 * 60 * 60
	authContextKey      = "statusd_authenticated"
)

// AuthGate decides between the authenticated and the public view of the API.
// Credentials are a single shared password checked via HTTP Basic (the user
// name is ignored); on success a derived session cookie is issued so browsers
// do not keep resending the raw password. With no password configured every
// request is authenticated.
type AuthGate struct {
	password string
	cookie   string
	logger   *zap.Logger
}

// NewAuthGate derives the session cookie value from the password and salt
// (64 hex chars; random when empty, which invalidates cookies across
// restarts). A gate without a password authenticates everyone.
func NewAuthGate(password, saltHex string, logger *zap.Logger) (*AuthGate, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	gate := &AuthGate{password: password, logger: logger}
	if password == "" {
		return gate, nil
	}

	var salt []byte
	if saltHex == "" {
		salt = make([]byte, 32)
		if _, err := rand.Read(salt); err != nil {
			return nil, err
		}
	} else {
		decoded, err := hex.DecodeString(saltHex)
		if err != nil || len(decoded) != 32 {
			return nil, fmt.Errorf("cookie salt must be 64 hex characters")
		}
		salt = decoded
	}
	gate.cookie = deriveCookie(password, salt)
	return gate, nil
}

// deriveCookie is the salted transform of the shared secret; the raw password
// never travels in a cookie.
func deriveCookie(password string, salt []byte) string {
	key := argon2.IDKey([]byte(password), salt, 3, 64*1024, 4, 32)
	return hex.EncodeToString(key)
}

// Middleware resolves the caller's authorization level once per request and
// stores it in the gin context. It never aborts: handlers decide which
// surface a public caller may see.
func (g *AuthGate) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(authContextKey, g.authenticate(c))
		c.Next()
	}
}

func (g *AuthGate) authenticate(c *gin.Context) bool {
	if g.password == "" {
		return true
	}

	if cookie, err := c.Cookie(sessionCookieName); err == nil {
		if subtle.ConstantTimeCompare([]byte(cookie), []byte(g.cookie)) == 1 {
			g.setSessionCookie(c)
			return true
		}
		// never trust a stale cookie; force fresh credentials
		g.clearSessionCookie(c)
	}

	_, password, ok := c.Request.BasicAuth()
	if ok && subtle.ConstantTimeCompare([]byte(password), []byte(g.password)) == 1 {
		g.setSessionCookie(c)
		return true
	}
	return false
}

func (g *AuthGate) setSessionCookie(c *gin.Context) {
	c.SetCookie(sessionCookieName, g.cookie, sessionCookieMaxAge, "/", "", false, true)
}

func (g *AuthGate) clearSessionCookie(c *gin.Context) {
	c.SetCookie(sessionCookieName, "", -1, "/", "", false, true)
}

// isAuthenticated reads the gate's per-request decision.
func isAuthenticated(c *gin.Context) bool {
	return c.GetBool(authContextKey)
}

// requireAuth aborts public callers with 401 and the Basic challenge.
func requireAuth(c *gin.Context) bool {
	if isAuthenticated(c) {
		return true
	}
	c.Header("WWW-Authenticate", "Basic")
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	return false
}
