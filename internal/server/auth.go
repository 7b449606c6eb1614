package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// DefaultPassword is the dashboard password used when no hash is configured.
const DefaultPassword = "admin123"

// ErrInvalidCredentials is returned by [Auth.Login] on a bad email or
// password.
var ErrInvalidCredentials = errors.New("server: invalid credentials")

// User is the account returned by a successful login.
type User struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// AuthConfig describes the dashboard account.
type AuthConfig struct {
	Email        string
	Name         string
	PasswordHash string
	RequireToken bool

	// TokenTTL bounds token lifetime. Zero keeps tokens until restart.
	TokenTTL time.Duration
}

// Auth checks dashboard credentials and issues bearer tokens. It is safe for
// concurrent use.
type Auth struct {
	user    User
	hash    []byte
	ttl     time.Duration
	now     func() time.Time
	require atomic.Bool

	mu     sync.Mutex
	tokens map[string]time.Time
}

// NewAuth creates an Auth for cfg. An empty PasswordHash selects
// [DefaultPassword].
func NewAuth(cfg AuthConfig) (*Auth, error) {
	if cfg.Email == "" {
		return nil, errors.New("server: auth email must not be empty")
	}
	hash := []byte(cfg.PasswordHash)
	if len(hash) == 0 {
		var err error
		hash, err = bcrypt.GenerateFromPassword([]byte(DefaultPassword), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		slog.Warn("no dashboard password hash configured, using the default password", "email", cfg.Email)
	} else if _, err := bcrypt.Cost(hash); err != nil {
		return nil, err
	}
	a := &Auth{
		user:   User{Name: cfg.Name, Email: cfg.Email},
		hash:   hash,
		ttl:    cfg.TokenTTL,
		now:    time.Now,
		tokens: make(map[string]time.Time),
	}
	a.require.Store(cfg.RequireToken)
	return a, nil
}

// SetRequireToken toggles token enforcement at run time.
func (a *Auth) SetRequireToken(v bool) {
	a.require.Store(v)
	slog.Info("token enforcement changed", "require_token", v)
}

// Login verifies the credentials and returns a fresh token. The email is
// compared case-insensitively.
func (a *Auth) Login(email, password string) (User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email != strings.ToLower(a.user.Email) {
		return User{}, "", ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword(a.hash, []byte(password)) != nil {
		return User{}, "", ErrInvalidCredentials
	}

	token := uuid.NewString()
	var expires time.Time
	if a.ttl > 0 {
		expires = a.now().Add(a.ttl)
	}
	a.mu.Lock()
	a.pruneLocked()
	a.tokens[token] = expires
	a.mu.Unlock()
	return a.user, token, nil
}

// Valid reports whether token was issued by Login and has not expired.
func (a *Auth) Valid(token string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	expires, ok := a.tokens[token]
	if !ok {
		return false
	}
	if !expires.IsZero() && !a.now().Before(expires) {
		delete(a.tokens, token)
		return false
	}
	return true
}

// pruneLocked drops expired tokens. Must be called with a.mu held.
func (a *Auth) pruneLocked() {
	if a.ttl <= 0 {
		return
	}
	now := a.now()
	for t, exp := range a.tokens {
		if !now.Before(exp) {
			delete(a.tokens, t)
		}
	}
}

// Require wraps next with a bearer token check while enforcement is on.
// WebSocket clients that cannot set headers may pass the token as the
// "token" query parameter.
func (a *Auth) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.require.Load() {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			token = r.URL.Query().Get("token")
		}
		if token == "" || !a.Valid(strings.TrimSpace(token)) {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Message string `json:"message"`
	User    User   `json:"user"`
	Token   string `json:"token"`
}

func (a *Auth) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(r, &req) {
		writeError(w, http.StatusBadRequest, "Missing request body")
		return
	}
	slog.Info("login attempt", "email", req.Email)

	user, token, err := a.Login(req.Email, req.Password)
	if err != nil {
		slog.Warn("login failed", "email", req.Email)
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Message: "Authentication successful",
		User:    user,
		Token:   token,
	})
}
