package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fathima-sithara/order-messaging/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrEmptyToken   = errors.New("empty token")
	ErrInvalidToken = errors.New("invalid token")
)

// Identity is the caller as vouched for by the token.
type Identity struct {
	UserID string
	Role   domain.Role
}

type JWTValidator struct {
	alg string
	key interface{}
}

// NewRS256Validator loads a PEM encoded RSA public key.
func NewRS256Validator(pubPath string) (*JWTValidator, error) {
	b, err := os.ReadFile(pubPath)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	pub, err := parseRSAPublicKey(b)
	if err != nil {
		return nil, err
	}
	return &JWTValidator{alg: jwt.SigningMethodRS256.Alg(), key: pub}, nil
}

func NewHS256Validator(secret string) (*JWTValidator, error) {
	if secret == "" {
		return nil, errors.New("empty hs256 secret")
	}
	return &JWTValidator{alg: jwt.SigningMethodHS256.Alg(), key: []byte(secret)}, nil
}

func parseRSAPublicKey(b []byte) (*rsa.PublicKey, error) {
	if pub, err := jwt.ParseRSAPublicKeyFromPEM(b); err == nil {
		return pub, nil
	}
	block, _ := pem.Decode(b)
	if block == nil {
		return nil, errors.New("invalid public PEM")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("not RSA public key")
	}
	return pub, nil
}

// Validate checks the signature and returns the caller. The uid comes from
// "sub", falling back to "user_id"; the role claim must be client or courier.
func (j *JWTValidator) Validate(tokenStr string) (Identity, error) {
	if tokenStr == "" {
		return Identity{}, ErrEmptyToken
	}
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return j.key, nil
	}, jwt.WithValidMethods([]string{j.alg}))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return Identity{}, ErrInvalidToken
	}

	uid, _ := claims["sub"].(string)
	if uid == "" {
		uid, _ = claims["user_id"].(string)
	}
	if uid == "" {
		return Identity{}, fmt.Errorf("%w: sub claim missing", ErrInvalidToken)
	}
	role, _ := claims["role"].(string)
	r := domain.Role(strings.ToLower(role))
	if !r.Valid() {
		return Identity{}, fmt.Errorf("%w: role %q", ErrInvalidToken, role)
	}
	return Identity{UserID: uid, Role: r}, nil
}
