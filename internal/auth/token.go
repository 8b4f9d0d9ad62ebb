// Package auth issues and verifies the HMAC signed bearer tokens that
// identify comment authors.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"marginalia/internal/util"
)

type Claims struct {
	Sub  string `json:"sub"`
	Name string `json:"name"`
	Role string `json:"role"`
	JTI  string `json:"jti"`
	Exp  int64  `json:"exp"`
}

// ExpiresAt returns the expiry as a time.
func (c Claims) ExpiresAt() time.Time {
	return time.Unix(c.Exp, 0)
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
	ErrMissingToken = errors.New("missing bearer token")
)

func IssueToken(secret []byte, claims Claims) (string, error) {
	payloadBytes, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(payloadBytes)
	return payload + "." + sign(secret, payload), nil
}

func ParseToken(secret []byte, token string) (Claims, error) {
	return parseToken(secret, token, time.Now())
}

func parseToken(secret []byte, token string, now time.Time) (Claims, error) {
	payload, signature, ok := strings.Cut(token, ".")
	if !ok || strings.Contains(signature, ".") {
		return Claims{}, ErrInvalidToken
	}
	if !hmac.Equal([]byte(signature), []byte(sign(secret, payload))) {
		return Claims{}, ErrInvalidToken
	}

	decoded, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}

	var claims Claims
	if err := json.Unmarshal(decoded, &claims); err != nil {
		return Claims{}, ErrInvalidToken
	}
	if claims.Sub == "" || claims.Name == "" || claims.JTI == "" || claims.Exp == 0 {
		return Claims{}, ErrInvalidToken
	}
	if now.Unix() >= claims.Exp {
		return Claims{}, ErrExpiredToken
	}
	return claims, nil
}

func sign(secret []byte, payload string) string {
	sum := hmac.New(sha256.New, secret)
	_, _ = sum.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(sum.Sum(nil))
}

// Issuer mints tokens with a fixed lifetime.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue returns a signed token for the user along with its claims.
func (i *Issuer) Issue(userID, name, role string) (string, Claims, error) {
	claims := Claims{
		Sub:  userID,
		Name: name,
		Role: role,
		JTI:  util.NewID("tok"),
		Exp:  i.now().Add(i.ttl).Unix(),
	}
	token, err := IssueToken(i.secret, claims)
	if err != nil {
		return "", Claims{}, err
	}
	return token, claims, nil
}

func (i *Issuer) Parse(token string) (Claims, error) {
	return parseToken(i.secret, token, i.now())
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", ErrMissingToken
	}
	return strings.TrimSpace(token), nil
}
