package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Signer signs and verifies token strings with a single algorithm.
type Signer struct {
	method    jwt.SigningMethod
	signKey   any
	verifyKey any
	keyID     string
}

// NewHS256Signer returns a signer backed by a shared secret.
func NewHS256Signer(secret string) (*Signer, error) {
	secret = strings.TrimSpace(secret)
	if len(secret) < 32 {
		return nil, errors.New("auth: signing secret must be at least 32 bytes")
	}
	return &Signer{
		method:    jwt.SigningMethodHS256,
		signKey:   []byte(secret),
		verifyKey: []byte(secret),
	}, nil
}

// NewRS256Signer returns a signer backed by an RSA key pair in PEM form.
// An empty public key is derived from the private key.
func NewRS256Signer(privatePEM, publicPEM, keyID string) (*Signer, error) {
	privatePEM = strings.TrimSpace(privatePEM)
	if privatePEM == "" {
		return nil, errors.New("auth: private key is required")
	}
	priv, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(privatePEM))
	if err != nil {
		return nil, fmt.Errorf("auth: parse private key: %w", err)
	}
	pub := &priv.PublicKey
	if publicPEM = strings.TrimSpace(publicPEM); publicPEM != "" {
		parsed, err := jwt.ParseRSAPublicKeyFromPEM([]byte(publicPEM))
		if err != nil {
			return nil, fmt.Errorf("auth: parse public key: %w", err)
		}
		if !parsed.Equal(pub) {
			return nil, errors.New("auth: public key does not match private key")
		}
		pub = parsed
	}
	return newRSASigner(priv, pub, keyID), nil
}

func newRSASigner(priv *rsa.PrivateKey, pub *rsa.PublicKey, keyID string) *Signer {
	return &Signer{
		method:    jwt.SigningMethodRS256,
		signKey:   priv,
		verifyKey: pub,
		keyID:     strings.TrimSpace(keyID),
	}
}

// Algorithm returns the JWT alg header value.
func (s *Signer) Algorithm() string { return s.method.Alg() }

// Sign serializes and signs the claims.
func (s *Signer) Sign(claims *Claims) (string, error) {
	token := jwt.NewWithClaims(s.method, claims)
	if s.keyID != "" {
		token.Header["kid"] = s.keyID
	}
	signed, err := token.SignedString(s.signKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (s *Signer) keyFunc(t *jwt.Token) (any, error) {
	if t.Method.Alg() != s.method.Alg() {
		return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
	}
	return s.verifyKey, nil
}
