// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package pointsync

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mobiletoly/go-pointcard/internal/auth"
)

// Principal is the authenticated caller of a ledger request
type Principal struct {
	UserID   string
	SourceID string
	Role     string
}

// IsAdmin reports whether the principal may act on other users' ledgers.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// CanActFor reports whether the principal may read or write userID's ledger.
func (p Principal) CanActFor(userID string) bool {
	return p.IsAdmin() || p.UserID == userID
}

// JWTAuth handles JWT authentication
type JWTAuth struct {
	secret []byte
}

// NewJWTAuth creates a new JWT authenticator
func NewJWTAuth(secret string) *JWTAuth {
	return &JWTAuth{
		secret: []byte(secret),
	}
}

// JWTClaims carries user (sub), device (did) and optional role
type JWTClaims struct {
	DeviceID string `json:"did"`
	Role     string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// GenerateToken generates a member token for a device
func (j *JWTAuth) GenerateToken(userID, deviceID string, expiration time.Duration) (string, error) {
	return j.GenerateTokenWithRole(userID, deviceID, "", expiration)
}

// GenerateTokenWithRole generates a token carrying the given role
func (j *JWTAuth) GenerateTokenWithRole(userID, deviceID, role string, expiration time.Duration) (string, error) {
	now := time.Now()
	claims := &JWTClaims{
		DeviceID: deviceID,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(expiration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "go-pointcard",
			Subject:   userID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.secret)
}

// ValidateToken validates a JWT token and returns the claims
func (j *JWTAuth) ValidateToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.secret, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*JWTClaims); ok && token.Valid {
		if claims.DeviceID == "" {
			return nil, fmt.Errorf("missing did (device ID) in token")
		}
		if claims.Subject == "" {
			return nil, fmt.Errorf("missing sub (user ID) in token")
		}
		return claims, nil
	}

	return nil, fmt.Errorf("invalid token")
}

// Authenticate resolves the caller of r (implements ClientAuthenticator).
// Identity placed in the request context by Middleware wins over the header.
func (j *JWTAuth) Authenticate(r *http.Request) (Principal, error) {
	if userID, ok := auth.GetUserID(r.Context()); ok {
		sourceID, _ := auth.GetSourceID(r.Context())
		return Principal{UserID: userID, SourceID: sourceID, Role: auth.GetRole(r.Context())}, nil
	}

	tokenString, err := bearerToken(r)
	if err != nil {
		return Principal{}, err
	}
	claims, err := j.ValidateToken(tokenString)
	if err != nil {
		return Principal{}, fmt.Errorf("invalid token: %w", err)
	}
	return Principal{UserID: claims.Subject, SourceID: claims.DeviceID, Role: claims.Role}, nil
}

// Middleware returns an HTTP middleware for JWT authentication
func (j *JWTAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, err := bearerToken(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, CodeAuthenticationFailed, err.Error())
			return
		}

		claims, err := j.ValidateToken(tokenString)
		if err != nil {
			tokenPrefix := tokenString
			if len(tokenPrefix) > 20 {
				tokenPrefix = tokenPrefix[:20]
			}
			slog.Error("JWT validation failed", "error", err, "token_prefix", tokenPrefix)
			writeError(w, http.StatusUnauthorized, CodeAuthenticationFailed, "Invalid token")
			return
		}

		ctx := auth.SetAuthContext(r.Context(), claims.Subject, claims.DeviceID, claims.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", fmt.Errorf("authorization header required")
	}
	tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok || tokenString == "" {
		return "", fmt.Errorf("bearer token required")
	}
	return tokenString, nil
}
