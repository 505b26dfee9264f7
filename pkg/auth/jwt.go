/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package auth verifies the bearer tokens viewers present to the relay.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/carverauto/relay/pkg/logger"
	"github.com/carverauto/relay/pkg/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

type ctxKey struct{}

const (
	accessTokenParam  = "access_token"
	accessTokenCookie = "accessToken"
	bearerPrefix      = "Bearer "
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid bearer token")
	errEmptySecret  = errors.New("jwt secret is empty")
)

type tokenClaims struct {
	Name        string      `json:"name,omitempty"`
	TenantID    uuid.UUID   `json:"tenant_id"`
	Roles       []string    `json:"roles,omitempty"`
	TagIDs      []uuid.UUID `json:"tags,omitempty"`
	ServerAdmin bool        `json:"server_admin,omitempty"`
	jwt.RegisteredClaims
}

// Verifier checks HS256 tokens signed with a shared secret.
type Verifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewVerifier builds a Verifier. An empty issuer accepts any issuer.
func NewVerifier(cfg models.AuthConfig) (*Verifier, error) {
	if cfg.JWTSecret == "" {
		return nil, errEmptySecret
	}

	return &Verifier{
		secret: []byte(cfg.JWTSecret),
		issuer: cfg.Issuer,
		now:    time.Now,
	}, nil
}

// Verify parses token and returns the identity it carries.
func (v *Verifier) Verify(token string) (*models.Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
	}

	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var tc tokenClaims

	parsed, err := jwt.ParseWithClaims(token, &tc, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if !parsed.Valid || tc.Subject == "" {
		return nil, ErrInvalidToken
	}

	return &models.Claims{
		Subject:     tc.Subject,
		Name:        tc.Name,
		TenantID:    tc.TenantID,
		Roles:       tc.Roles,
		TagIDs:      tc.TagIDs,
		ServerAdmin: tc.ServerAdmin,
	}, nil
}

// Issue signs claims valid for ttl. The relay only verifies tokens; Issue
// exists for tooling and tests.
func (v *Verifier) Issue(claims models.Claims, ttl time.Duration) (string, error) {
	now := v.now()

	tc := tokenClaims{
		Name:        claims.Name,
		TenantID:    claims.TenantID,
		Roles:       claims.Roles,
		TagIDs:      claims.TagIDs,
		ServerAdmin: claims.ServerAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.Subject,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, tc).SignedString(v.secret)
}

// TokenFromRequest looks for a token in the Authorization header, then the
// access_token query parameter browsers use for websockets, then the
// accessToken cookie.
func TokenFromRequest(r *http.Request) (string, error) {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, bearerPrefix) {
		if token := strings.TrimSpace(strings.TrimPrefix(h, bearerPrefix)); token != "" {
			return token, nil
		}
	}

	if token := r.URL.Query().Get(accessTokenParam); token != "" {
		return token, nil
	}

	if cookie, err := r.Cookie(accessTokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value, nil
	}

	return "", ErrMissingToken
}

// Authenticate verifies the request's token.
func (v *Verifier) Authenticate(r *http.Request) (*models.Claims, error) {
	token, err := TokenFromRequest(r)
	if err != nil {
		return nil, err
	}

	return v.Verify(token)
}

// Middleware rejects requests without a valid token and stores the claims
// on the request context.
func (v *Verifier) Middleware(log logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := v.Authenticate(r)
			if err != nil {
				log.Debug().Err(err).Str("path", r.URL.Path).Msg("Rejected unauthenticated request")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)

				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// WithClaims attaches claims to ctx.
func WithClaims(ctx context.Context, claims *models.Claims) context.Context {
	return context.WithValue(ctx, ctxKey{}, claims)
}

// ClaimsFromContext returns the claims stored by Middleware, if any.
func ClaimsFromContext(ctx context.Context) (*models.Claims, bool) {
	claims, ok := ctx.Value(ctxKey{}).(*models.Claims)

	return claims, ok && claims != nil
}
