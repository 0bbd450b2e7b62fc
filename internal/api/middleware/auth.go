package middleware

import (
	"crypto/rsa"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"querydock/internal/api/response"
)

// TokenVerifier validates a bearer token and returns its subject.
type TokenVerifier interface {
	Verify(token string) (subject string, err error)
}

// RS256Verifier validates RS256-signed JWTs against a fixed public key.
type RS256Verifier struct {
	publicKey *rsa.PublicKey
}

// NewRS256Verifier parses a PEM-encoded RSA public key.
func NewRS256Verifier(publicKeyPEM []byte) (*RS256Verifier, error) {
	key, err := jwt.ParseRSAPublicKeyFromPEM(publicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parsing JWT public key: %w", err)
	}
	return &RS256Verifier{publicKey: key}, nil
}

// Verify checks the token signature and expiry and returns the subject claim.
func (v *RS256Verifier) Verify(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		return v.publicKey, nil
	}, jwt.WithValidMethods([]string{"RS256"}))
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}

	subject, err := token.Claims.GetSubject()
	if err != nil || subject == "" {
		return "", fmt.Errorf("token has no subject claim")
	}
	return subject, nil
}

// Auth provides authentication middleware for the query API and the
// internal callback endpoint.
type Auth struct {
	verifier    TokenVerifier
	internalKey string
}

// NewAuth creates authentication middleware.
func NewAuth(verifier TokenVerifier, internalKey string) *Auth {
	return &Auth{verifier: verifier, internalKey: internalKey}
}

// Authenticate validates the Bearer JWT and sets the owner in the request
// context.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r)
		if token == "" {
			response.Error(w, http.StatusUnauthorized, "missing or invalid Authorization header")
			return
		}

		owner, err := a.verifier.Verify(token)
		if err != nil {
			response.Error(w, http.StatusUnauthorized, "invalid token")
			return
		}

		next.ServeHTTP(w, r.WithContext(SetOwner(r.Context(), owner)))
	})
}

// InternalOnly guards service-to-service endpoints with a shared API key
// carried in the X-Internal-Api-Key header.
func (a *Auth) InternalOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-Internal-Api-Key")
		if subtle.ConstantTimeCompare([]byte(key), []byte(a.internalKey)) != 1 {
			response.Error(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
