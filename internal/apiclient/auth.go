package apiclient

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"kings-storefront/internal/domain"
)

// LoginPath is where an unauthorized user is sent to sign in again.
const LoginPath = "/login"

// AuthStrategy decorates outgoing requests with credentials.
type AuthStrategy interface {
	Apply(req *http.Request) error
}

// TokenSource supplies the current bearer token, or "" when signed out.
type TokenSource interface {
	Token() string
}

// NoAuth sends requests without credentials.
type NoAuth struct{}

func (NoAuth) Apply(*http.Request) error { return nil }

// CookieAuth relies on the client's cookie jar to carry the session cookie.
type CookieAuth struct{}

func (CookieAuth) Apply(*http.Request) error { return nil }

// BearerAuth sets an Authorization header from a TokenSource.
type BearerAuth struct {
	Source TokenSource
}

func (a BearerAuth) Apply(req *http.Request) error {
	if a.Source == nil {
		return nil
	}
	if tok := a.Source.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	return nil
}

// StaticToken is a fixed TokenSource.
type StaticToken string

func (t StaticToken) Token() string { return string(t) }

// Claims are the fields the platform puts in its session tokens.
type Claims struct {
	UserID string      `json:"id"`
	Email  string      `json:"email"`
	Role   domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// Session is the shared auth context: the current token and what it says
// about the signed-in user. Claims are read without signature verification;
// the backend remains the authority.
type Session struct {
	mu     sync.RWMutex
	token  string
	claims *Claims
	now    func() time.Time
}

// NewSession returns a signed-out session.
func NewSession() *Session {
	return &Session{now: time.Now}
}

// Set stores a token and parses its claims. Tokens that are not JWTs are
// kept as opaque bearer tokens with no claims.
func (s *Session) Set(token string) {
	var claims *Claims
	if token != "" {
		c := &Claims{}
		parser := jwt.NewParser()
		if _, _, err := parser.ParseUnverified(token, c); err == nil {
			claims = c
		}
	}
	s.mu.Lock()
	s.token = token
	s.claims = claims
	s.mu.Unlock()
}

// Clear signs the session out.
func (s *Session) Clear() {
	s.Set("")
}

// Token implements TokenSource. An expired token yields "".
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.expiredLocked() {
		return ""
	}
	return s.token
}

// SignedIn reports whether a non-expired token is held.
func (s *Session) SignedIn() bool {
	return s.Token() != ""
}

// Role returns the role claim, or "" when unknown.
func (s *Session) Role() domain.Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.claims == nil {
		return ""
	}
	return s.claims.Role
}

// Claims returns a copy of the parsed claims, or nil.
func (s *Session) Claims() *Claims {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.claims == nil {
		return nil
	}
	c := *s.claims
	return &c
}

func (s *Session) expiredLocked() bool {
	if s.claims == nil || s.claims.ExpiresAt == nil {
		return false
	}
	return !s.now().Before(s.claims.ExpiresAt.Time)
}

// UnauthorizedHandler is called once for every request answered with 401.
type UnauthorizedHandler func(ctx context.Context, req *http.Request)

// SignOutOnUnauthorized clears the session and logs the redirect to LoginPath.
func SignOutOnUnauthorized(s *Session, log *logrus.Entry) UnauthorizedHandler {
	return func(ctx context.Context, req *http.Request) {
		if s != nil {
			s.Clear()
		}
		if log != nil {
			log.WithFields(logrus.Fields{
				"method":   req.Method,
				"path":     req.URL.Path,
				"redirect": LoginPath,
			}).Warn("upstream rejected credentials, session cleared")
		}
	}
}
