// Package admin guards operator routes with the configured admin key.
package admin

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	request "nip05d/pkg/platform/middleware/request"
	"nip05d/pkg/requestcontext"
)

const (
	HeaderAPIKey = "X-API-Key"
	// APIKeyActor is recorded as the actor for key-authenticated calls.
	APIKeyActor = "api-key"
	issuer      = "nip05d"
)

var ErrNoKey = errors.New("admin key is not configured")

// Authenticator checks admin credentials. The configured key is either a
// literal or a bcrypt hash of one; bearer tokens are HS256 JWTs signed with
// the configured value.
type Authenticator struct {
	key    string
	hashed bool
}

func NewAuthenticator(key string) *Authenticator {
	return &Authenticator{
		key:    key,
		hashed: isBcrypt(key),
	}
}

func isBcrypt(s string) bool {
	_, err := bcrypt.Cost([]byte(s))
	return err == nil
}

// CheckKey reports whether presented matches the configured key.
func (a *Authenticator) CheckKey(presented string) bool {
	if a.key == "" || presented == "" {
		return false
	}
	if a.hashed {
		return bcrypt.CompareHashAndPassword([]byte(a.key), []byte(presented)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(a.key)) == 1
}

// IssueToken signs a bearer token for subject valid for ttl.
func (a *Authenticator) IssueToken(subject string, ttl time.Duration, now time.Time) (string, error) {
	if a.key == "" {
		return "", ErrNoKey
	}
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(a.key))
}

// ParseToken validates a bearer token and returns its subject.
func (a *Authenticator) ParseToken(raw string) (string, error) {
	if a.key == "" {
		return "", ErrNoKey
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return []byte(a.key), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("invalid admin token: %w", err)
	}
	if claims.Subject == "" {
		return "", errors.New("invalid admin token: missing subject")
	}
	return claims.Subject, nil
}

func writeUnauthorized(w http.ResponseWriter, desc string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="admin"`)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = fmt.Fprintf(w, `{"error":"unauthorized","error_description":%q}`, desc)
}

// RequireAdmin admits requests carrying a valid X-API-Key or admin bearer
// token and records the actor on the context. With no key configured every
// request is refused.
func RequireAdmin(auth *Authenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := request.GetRequestID(ctx)

			if key := r.Header.Get(HeaderAPIKey); key != "" {
				if !auth.CheckKey(key) {
					logger.WarnContext(ctx, "admin key mismatch", "request_id", requestID)
					writeUnauthorized(w, "invalid admin key")
					return
				}
				next.ServeHTTP(w, r.WithContext(requestcontext.WithActor(ctx, APIKeyActor)))
				return
			}

			if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
				subject, err := auth.ParseToken(token)
				if err != nil {
					logger.WarnContext(ctx, "admin token rejected",
						"request_id", requestID,
						"error", err,
					)
					writeUnauthorized(w, "invalid or expired token")
					return
				}
				next.ServeHTTP(w, r.WithContext(requestcontext.WithActor(ctx, subject)))
				return
			}

			logger.WarnContext(ctx, "admin credentials missing", "request_id", requestID)
			writeUnauthorized(w, "admin credentials required")
		})
	}
}
