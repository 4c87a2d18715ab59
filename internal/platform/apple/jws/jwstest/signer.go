// Package jwstest signs App Store style envelopes with a throwaway certificate chain.
package jwstest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"

	"github.com/golang-jwt/jwt"
)

// Signer owns a root, an intermediate and an ES256 leaf key.
type Signer struct {
	RootPEM string
	leafKey *ecdsa.PrivateKey
	x5c     []string
}

// NewSigner generates a fresh chain valid for one year.
func NewSigner() (*Signer, error) {
	now := time.Now()

	rootKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	rootTmpl := caTemplate(1, "Test Root CA", now)
	rootDER, err := x509.CreateCertificate(rand.Reader, rootTmpl, rootTmpl, &rootKey.PublicKey, rootKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create root: %w", err)
	}
	rootCert, err := x509.ParseCertificate(rootDER)
	if err != nil {
		return nil, err
	}

	interKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	interDER, err := x509.CreateCertificate(rand.Reader, caTemplate(2, "Test Intermediate CA", now), rootCert, &interKey.PublicKey, rootKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create intermediate: %w", err)
	}
	interCert, err := x509.ParseCertificate(interDER)
	if err != nil {
		return nil, err
	}

	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	leafTmpl := &x509.Certificate{
		SerialNumber: big.NewInt(3),
		Subject:      pkix.Name{CommonName: "Test Signing Leaf"},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTmpl, interCert, &leafKey.PublicKey, interKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create leaf: %w", err)
	}

	return &Signer{
		RootPEM: string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: rootDER})),
		leafKey: leafKey,
		x5c: []string{
			base64.StdEncoding.EncodeToString(leafDER),
			base64.StdEncoding.EncodeToString(interDER),
			base64.StdEncoding.EncodeToString(rootDER),
		},
	}, nil
}

func caTemplate(serial int64, cn string, now time.Time) *x509.Certificate {
	return &x509.Certificate{
		SerialNumber:          big.NewInt(serial),
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(365 * 24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
}

// Sign marshals payload to JSON and signs it with the leaf key, embedding the x5c chain.
func (s *Signer) Sign(payload any) (string, error) {
	claims, err := toMapClaims(payload)
	if err != nil {
		return "", err
	}
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["x5c"] = s.x5c
	return token.SignedString(s.leafKey)
}

// MustSign is Sign for test fixtures.
func (s *Signer) MustSign(payload any) string {
	out, err := s.Sign(payload)
	if err != nil {
		panic(err)
	}
	return out
}

// Unsigned builds an envelope with a valid shape and an empty signature.
func Unsigned(payload any) string {
	b, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	h := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"ES256"}`))
	return h + "." + base64.RawURLEncoding.EncodeToString(b) + "."
}

func toMapClaims(payload any) (jwt.MapClaims, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	claims := jwt.MapClaims{}
	if err := json.Unmarshal(b, &claims); err != nil {
		return nil, err
	}
	return claims, nil
}
