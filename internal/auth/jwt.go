package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"
)

// ProjectClaims are the custom claims of a video provider REST token.
type ProjectClaims struct {
	IssuerType string `json:"ist"`
}

// ApplicationClaims are the custom claims of a voice application token.
type ApplicationClaims struct {
	ApplicationID string `json:"application_id"`
}

// ProjectJWT signs a short-lived HS256 token for the video provider REST API
// (sent as X-OPENTOK-AUTH).
func ProjectJWT(apiKey, apiSecret string, now time.Time, ttl time.Duration) (string, error) {
	sig, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: []byte(apiSecret)},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("project jwt signer: %w", err)
	}
	return jwt.Signed(sig).
		Claims(registered(apiKey, now, ttl)).
		Claims(ProjectClaims{IssuerType: "project"}).
		Serialize()
}

// ApplicationJWT signs an RS256 token for the voice application with its private key.
func ApplicationJWT(appID string, key *rsa.PrivateKey, now time.Time, ttl time.Duration) (string, error) {
	if key == nil {
		return "", errors.New("application private key not loaded")
	}
	sig, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.RS256, Key: key},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("application jwt signer: %w", err)
	}
	return jwt.Signed(sig).
		Claims(registered("", now, ttl)).
		Claims(ApplicationClaims{ApplicationID: appID}).
		Serialize()
}

func registered(issuer string, now time.Time, ttl time.Duration) jwt.Claims {
	return jwt.Claims{
		Issuer:   issuer,
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(now.Add(ttl)),
		ID:       uuid.NewString(),
	}
}

// ParseRSAPrivateKey decodes a PEM encoded PKCS#8 or PKCS#1 RSA key.
func ParseRSAPrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("no PEM block found in private key")
	}
	if k, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rk, ok := k.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("private key is %T, want RSA", k)
		}
		return rk, nil
	}
	k, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return k, nil
}
