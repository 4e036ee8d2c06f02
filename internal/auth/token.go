package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	tokenIssuer = "filevault"
	// DefaultTokenTTL is how long an issued token stays valid.
	DefaultTokenTTL = time.Hour
	minSecretLength = 32
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// Claims is the verified content of an access token.
type Claims struct {
	OwnerID   int64
	SessionID string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenIssuer signs and verifies HS256 access tokens. The subject is the
// owner id and the token id names a server-side session row.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

func NewTokenIssuer(secret []byte, ttl time.Duration) (*TokenIssuer, error) {
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("token secret must be at least %d bytes", minSecretLength)
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	key := make([]byte, len(secret))
	copy(key, secret)
	return &TokenIssuer{secret: key, ttl: ttl}, nil
}

func (i *TokenIssuer) TTL() time.Duration {
	return i.ttl
}

// Issue signs a new token for ownerID with a fresh session id.
func (i *TokenIssuer) Issue(ownerID int64, now time.Time) (string, Claims, error) {
	if ownerID <= 0 {
		return "", Claims{}, fmt.Errorf("owner id must be positive")
	}
	now = now.UTC().Truncate(time.Second)
	claims := Claims{
		OwnerID:   ownerID,
		SessionID: uuid.NewString(),
		IssuedAt:  now,
		ExpiresAt: now.Add(i.ttl),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   strconv.FormatInt(ownerID, 10),
		ID:        claims.SessionID,
		IssuedAt:  jwt.NewNumericDate(claims.IssuedAt),
		ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
	})
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", Claims{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, claims, nil
}

// Parse verifies signature, issuer and expiry as of now.
func (i *TokenIssuer) Parse(raw string, now time.Time) (Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Claims{}, ErrInvalidToken
	}

	var registered jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &registered, func(*jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrTokenExpired
		}
		return Claims{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	ownerID, err := strconv.ParseInt(registered.Subject, 10, 64)
	if err != nil || ownerID <= 0 {
		return Claims{}, fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}
	if registered.ID == "" {
		return Claims{}, fmt.Errorf("%w: missing token id", ErrInvalidToken)
	}

	claims := Claims{OwnerID: ownerID, SessionID: registered.ID}
	if registered.IssuedAt != nil {
		claims.IssuedAt = registered.IssuedAt.Time
	}
	if registered.ExpiresAt != nil {
		claims.ExpiresAt = registered.ExpiresAt.Time
	}
	return claims, nil
}

// GenerateSecret returns a random base64url secret suitable for
// auth.token_secret.
func GenerateSecret() (string, error) {
	buf := make([]byte, minSecretLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
