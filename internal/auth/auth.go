// Package auth issues and verifies session tokens and hashes passwords.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// CookieName is the name of the cookie carrying the session token
const CookieName = "auth-token"

const (
	issuer     = "peerchat"
	bcryptCost = 12
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrNoSecret        = errors.New("jwt secret must not be empty")
)

// Config defines fields used for parsing token settings from environment variables
type Config struct {
	Secret       string        `env:"JWT_SECRET"`
	TokenTTL     time.Duration `env:"TOKEN_TTL" envDefault:"168h"`
	SecureCookie bool          `env:"COOKIE_SECURE" envDefault:"false"`
}

type claims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// Authenticator issues tokens and resolves the user behind an HTTP request
type Authenticator struct {
	secret []byte
	ttl    time.Duration
	secure bool
	now    func() time.Time
}

func NewAuthenticator(cfg Config) (*Authenticator, error) {
	if cfg.Secret == "" {
		return nil, ErrNoSecret
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 7 * 24 * time.Hour
	}
	return &Authenticator{
		secret: []byte(cfg.Secret),
		ttl:    cfg.TokenTTL,
		secure: cfg.SecureCookie,
		now:    time.Now,
	}, nil
}

// IssueToken creates a signed HS256 token for user
func (a *Authenticator) IssueToken(userID string) (string, error) {
	now := a.now()
	c := claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(a.secret)
}

// VerifyToken checks signature and expiration of token and returns its user id
func (a *Authenticator) VerifyToken(token string) (string, error) {
	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if c.UserID == "" {
		return "", ErrUnauthenticated
	}
	return c.UserID, nil
}

// AuthenticateRequest returns the user id of the session token sent with r,
// either as the auth cookie or as a bearer token
func (a *Authenticator) AuthenticateRequest(r *http.Request) (string, error) {
	token := ""
	if cookie, err := r.Cookie(CookieName); err == nil {
		token = cookie.Value
	}
	if h := r.Header.Get("Authorization"); token == "" && strings.HasPrefix(h, "Bearer ") {
		token = strings.TrimPrefix(h, "Bearer ")
	}
	if token == "" {
		return "", ErrUnauthenticated
	}
	return a.VerifyToken(token)
}

// SetCookie writes the session cookie for token
func (a *Authenticator) SetCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(a.ttl / time.Second),
		HttpOnly: true,
		Secure:   a.secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// ClearCookie expires the session cookie
func (a *Authenticator) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// HashPassword returns bcrypt hash of password
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares password with hash produced by HashPassword
func VerifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

type ctxKey struct{}

// NewContext returns ctx carrying the authenticated user id
func NewContext(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

// UserID returns the authenticated user id stored by NewContext
func UserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok && id != ""
}
