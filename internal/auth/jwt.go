// Package auth issues and verifies the bearer tokens that guard the API.
package auth

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"norelock.dev/listenify/bragi/internal/models"
	"norelock.dev/listenify/bragi/internal/utils"
)

// JWT errors. Both wrap models.ErrUnauthorized.
var (
	ErrInvalidToken = fmt.Errorf("%w: invalid token", models.ErrUnauthorized)
	ErrExpiredToken = fmt.Errorf("%w: token has expired", models.ErrUnauthorized)
)

// JWTConfig contains configuration for the JWT provider.
type JWTConfig struct {
	// Secret is the HMAC signing key.
	Secret string `validate:"required"`

	// Issuer is checked when non-empty.
	Issuer string

	// TokenDuration is the lifetime of issued tokens.
	TokenDuration time.Duration
}

// Claims are the claims carried by an API token.
type Claims struct {
	// Client names the API consumer.
	Client string `json:"client"`

	// Scopes limits which operations the client may call. Empty means all.
	Scopes []string `json:"scopes,omitempty"`

	jwt.RegisteredClaims
}

// Allows reports whether the claims grant scope.
func (c *Claims) Allows(scope string) bool {
	return len(c.Scopes) == 0 || slices.Contains(c.Scopes, scope)
}

// JWTProvider signs and validates HS256 tokens.
type JWTProvider struct {
	config JWTConfig
	parser *jwt.Parser
	logger *utils.Logger
}

// NewJWTProvider creates a new JWT provider.
func NewJWTProvider(config JWTConfig, logger *utils.Logger) (*JWTProvider, error) {
	if err := utils.Validate(config); err != nil {
		return nil, fmt.Errorf("%w: jwt: %v", models.ErrConfiguration, err)
	}
	if config.TokenDuration <= 0 {
		config.TokenDuration = 30 * 24 * time.Hour
	}
	if logger == nil {
		logger = utils.GetLogger()
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(time.Second),
		jwt.WithExpirationRequired(),
	}
	if config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(config.Issuer))
	}

	return &JWTProvider{
		config: config,
		parser: jwt.NewParser(opts...),
		logger: logger.Named("jwt_provider"),
	}, nil
}

// GenerateToken creates a token for client.
func (p *JWTProvider) GenerateToken(client string, scopes []string) (string, error) {
	now := time.Now()
	claims := Claims{
		Client: client,
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    p.config.Issuer,
			Subject:   client,
			ExpiresAt: jwt.NewNumericDate(now.Add(p.config.TokenDuration)),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        fmt.Sprintf("%d", now.UnixNano()),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(p.config.Secret))
	if err != nil {
		p.logger.Error("Failed to sign JWT token", err, "client", client)
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return token, nil
}

// ValidateToken checks the signature, expiry and issuer of tokenString.
func (p *JWTProvider) ValidateToken(tokenString string) (*Claims, error) {
	var claims Claims
	token, err := p.parser.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return []byte(p.config.Secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		p.logger.Debug("Rejected JWT token", "error", err)
		return nil, ErrInvalidToken
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}
