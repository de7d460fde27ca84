package permissions

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/morezero/app-gateway/pkg/dispatcher"
)

// Sentinel errors for token checks.
var (
	ErrMissingToken = errors.New("permissions: missing token")
	ErrAppMismatch  = errors.New("permissions: token issued to a different app")
)

// Claims are the gateway-specific JWT claims.
type Claims struct {
	AppID       string   `json:"app_id"`
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}

// JWT grants the permission groups listed in the caller's HS256 token.
type JWT struct {
	secret []byte
	parser *jwt.Parser
}

// NewJWT creates a JWT checker for secret.
func NewJWT(secret string) *JWT {
	return &JWT{
		secret: []byte(secret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithLeeway(5*time.Second)),
	}
}

// IssueToken signs a token for app with groups, valid for ttl.
func (j *JWT) IssueToken(app string, groups []string, ttl time.Duration) (string, error) {
	if app == "" {
		return "", errors.New("permissions: app cannot be empty")
	}
	now := time.Now()
	claims := Claims{
		AppID:       app,
		Permissions: groups,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   app,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
	if err != nil {
		return "", fmt.Errorf("permissions:jwt - failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and verifies a token, with or without a "Bearer " prefix.
func (j *JWT) ValidateToken(token string) (*Claims, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return nil, ErrMissingToken
	}

	claims := &Claims{}
	parsed, err := j.parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return j.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("permissions:jwt - invalid token: %w", err)
	}
	if !parsed.Valid {
		return nil, errors.New("permissions:jwt - token is not valid")
	}
	return claims, nil
}

// CheckPermission validates caller.Token and looks for group in its claims.
// A token issued to another app is an error, not a denial.
func (j *JWT) CheckPermission(_ context.Context, caller dispatcher.RequestContext, group string) (bool, error) {
	claims, err := j.ValidateToken(caller.Token)
	if err != nil {
		return false, err
	}
	if claims.AppID != caller.AppID {
		return false, fmt.Errorf("%w: token=%s caller=%s", ErrAppMismatch, claims.AppID, caller.AppID)
	}
	return slices.Contains(claims.Permissions, group), nil
}
