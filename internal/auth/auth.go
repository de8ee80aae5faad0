// Package auth extracts and verifies the acting party's identity on the
// HTTP surface. Participants and creators authenticate with HS256 bearer
// tokens whose subject is their custody account address; handlers compare
// that subject against the acting party in each request.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type ctxKey string

const ctxKeyPrincipal ctxKey = "nexus.principal"

// Principal is the authenticated identity attached to a request.
type Principal struct {
	Subject string
}

// FromContext returns the Principal stored in the request context, or nil.
func FromContext(ctx context.Context) *Principal {
	v := ctx.Value(ctxKeyPrincipal)
	if v == nil {
		return nil
	}
	if p, ok := v.(*Principal); ok {
		return p
	}
	return nil
}

// Verifier validates bearer tokens.
type Verifier struct {
	secret []byte
	// DevAllowHeader trusts the X-Local-Dev-Principal header when set.
	// Never enable outside local development.
	DevAllowHeader bool
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// VerifySubject parses and validates the token and returns its subject.
func (v *Verifier) VerifySubject(tokenStr string) (string, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("token parse error: %w", err)
	}
	if !token.Valid {
		return "", errors.New("invalid token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", errors.New("token missing subject")
	}
	return sub, nil
}

// Middleware enforces a valid bearer token and stores the Principal in the
// request context.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if v.DevAllowHeader {
			if dev := r.Header.Get("X-Local-Dev-Principal"); dev != "" {
				ctx := context.WithValue(r.Context(), ctxKeyPrincipal, &Principal{Subject: dev})
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
		}
		authz := r.Header.Get("Authorization")
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			http.Error(w, "bearer token required", http.StatusUnauthorized)
			return
		}
		sub, err := v.VerifySubject(strings.TrimSpace(authz[7:]))
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyPrincipal, &Principal{Subject: sub})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Sign issues a token for subject. Used by tests and local tooling.
func (v *Verifier) Sign(subject string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": subject})
	return token.SignedString(v.secret)
}
