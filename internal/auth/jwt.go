// Package auth выдаёт и проверяет JWT для изменяющих запросов API.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/annel0/slp-replay/internal/logging"
)

// Области доступа
const (
	ScopeWrite = "replays:write"
	ScopeAdmin = "replays:admin"
)

var ErrInvalidToken = errors.New("invalid token")

// Config
type Config struct {
	// Secret base64, не короче 32 байт; пустой: случайный на время жизни процесса
	Secret string        `yaml:"secret" env:"SLP_JWT_SECRET"`
	Issuer string        `yaml:"issuer" env:"SLP_JWT_ISSUER"`
	TTL    time.Duration `yaml:"ttl" env:"SLP_JWT_TTL"`
	// Required без него POST/DELETE открыты
	Required bool `yaml:"required" env:"SLP_AUTH_REQUIRED"`
}

// Claims
type Claims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// HasScope
func (c *Claims) HasScope(scope string) bool {
	return slices.Contains(strings.Fields(c.Scope), scope)
}

// Authenticator подписывает токены HS256
type Authenticator struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewAuthenticator
func NewAuthenticator(cfg Config) (*Authenticator, error) {
	a := &Authenticator{issuer: cfg.Issuer, ttl: cfg.TTL}
	if a.issuer == "" {
		a.issuer = "slp-replay"
	}
	if a.ttl == 0 {
		a.ttl = 24 * time.Hour
	}

	if cfg.Secret == "" {
		a.secret = make([]byte, 32)
		if _, err := rand.Read(a.secret); err != nil {
			return nil, fmt.Errorf("generate secret: %w", err)
		}
		logging.Warn("🔐 JWT secret not configured, using an ephemeral one")
		return a, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(cfg.Secret)
	if err != nil {
		return nil, fmt.Errorf("decode secret: %w", err)
	}
	if len(decoded) < 32 {
		return nil, errors.New("secret key must be at least 32 bytes")
	}
	a.secret = decoded
	return a, nil
}

// Issue токен для subject с перечисленными областями
func (a *Authenticator) Issue(subject string, scopes ...string) (string, error) {
	now := time.Now()
	claims := &Claims{
		Scope: strings.Join(scopes, " "),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    a.issuer,
			Subject:   subject,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Validate проверяет подпись, срок и издателя
func (a *Authenticator) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithIssuer(a.issuer))
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// GenerateSecret новый секрет в base64
func GenerateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
