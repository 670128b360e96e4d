// ABOUTME: Identity resolution for incoming connections and OAuth metadata types
// ABOUTME: Provides the Provider interface plus a JWT bearer-token implementation

package identity

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Identity errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// Identity describes a resolved user. A nil Identity means anonymous.
type Identity struct {
	UserID   string
	Verified bool
}

// OAuthMetadata describes an external authentication event relevant to
// workflow selection. It is an explicit optional field on the session,
// defaulting to absent.
type OAuthMetadata struct {
	Provider    string    `json:"provider"`
	Shop        string    `json:"shop,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
	IsNew       bool      `json:"is_new"`
}

// CompletedWithin reports whether the OAuth flow finished inside the
// given recency window. The window is a configurable heuristic, not a
// protocol invariant.
func (m *OAuthMetadata) CompletedWithin(window time.Duration) bool {
	if m == nil || m.CompletedAt.IsZero() {
		return false
	}
	return time.Since(m.CompletedAt) <= window
}

// Provider resolves an identity from an incoming request.
// Implementations must return (nil, nil) for anonymous requests rather
// than an error: unauthenticated sessions are a supported mode.
type Provider interface {
	Resolve(r *http.Request) (*Identity, error)
}

// JWTProvider resolves identities from HS256-signed bearer tokens,
// accepted either in the Authorization header or a "token" query
// parameter (browsers cannot set headers on WebSocket upgrades).
type JWTProvider struct {
	secret []byte
}

// NewJWTProvider creates a provider with the given signing secret.
func NewJWTProvider(secret []byte) *JWTProvider {
	return &JWTProvider{secret: secret}
}

// Resolve extracts and verifies the token, returning the identity from
// the "sub" claim. Requests without a token resolve as anonymous.
func (p *JWTProvider) Resolve(r *http.Request) (*Identity, error) {
	tokenString := bearerToken(r)
	if tokenString == "" {
		return nil, nil
	}

	userID, err := p.Verify(tokenString)
	if err != nil {
		return nil, err
	}
	return &Identity{UserID: userID, Verified: true}, nil
}

// Verify validates the token and extracts the user ID from the "sub" claim
func (p *JWTProvider) Verify(tokenString string) (userID string, err error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method is HMAC
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return p.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	return sub, nil
}

// Generate creates a new JWT token for the given user ID with expiration
func (p *JWTProvider) Generate(userID string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(expiresIn).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(p.secret)
}

// AnonymousProvider resolves every request as anonymous. Used when no
// JWT secret is configured.
type AnonymousProvider struct{}

// Resolve always returns an anonymous identity.
func (AnonymousProvider) Resolve(*http.Request) (*Identity, error) {
	return nil, nil
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if strings.HasPrefix(h, "Bearer ") {
			return strings.TrimPrefix(h, "Bearer ")
		}
	}
	return r.URL.Query().Get("token")
}
