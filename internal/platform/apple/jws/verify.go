package jws

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt"

	"github.com/fatflowers/entitlement/pkg/types"
)

// ErrVerification marks envelopes whose signature or certificate chain is not trusted.
var ErrVerification = errors.New("signed envelope verification failed")

const appleRootCAG3RootPem = `-----BEGIN CERTIFICATE-----
MIICQzCCAcmgAwIBAgIILcX8iNLFS5UwCgYIKoZIzj0EAwMwZzEbMBkGA1UEAwwS
QXBwbGUgUm9vdCBDQSAtIEczMSYwJAYDVQQLDB1BcHBsZSBDZXJ0aWZpY2F0aW9u
IEF1dGhvcml0eTETMBEGA1UECgwKQXBwbGUgSW5jLjELMAkGA1UEBhMCVVMwHhcN
MTQwNDMwMTgxOTA2WhcNMzkwNDMwMTgxOTA2WjBnMRswGQYDVQQDDBJBcHBsZSBS
b290IENBIC0gRzMxJjAkBgNVBAsMHUFwcGxlIENlcnRpZmljYXRpb24gQXV0aG9y
aXR5MRMwEQYDVQQKDApBcHBsZSBJbmMuMQswCQYDVQQGEwJVUzB2MBAGByqGSM49
AgEGBSuBBAAiA2IABJjpLz1AcqTtkyJygRMc3RCV8cWjTnHcFBbZDuWmBSp3ZHtf
TjjTuxxEtX/1H7YyYl3J6YRbTzBPEVoA/VhYDKX1DyxNB0cTddqXl5dvMVztK517
IDvYuVTZXpmkOlEKMaNCMEAwHQYDVR0OBBYEFLuw3qFYM4iapIqZ3r6966/ayySr
MA8GA1UdEwEB/wQFMAMBAf8wDgYDVR0PAQH/BAQDAgEGMAoGCCqGSM49BAMDA2gA
MGUCMQCD6cHEFl4aXTQY2e3v9GwOAEZLuN+yRhHFD/3meoyhpmvOwgPUnPWTxnS4
at+qIxUCMG1mihDK1A3UT82NQz60imOlM27jbdoXt2QfyFMm+YhidDkLF1vLUagM
6BgD56KyKA==
-----END CERTIFICATE-----`

type header struct {
	Alg string   `json:"alg"`
	X5c []string `json:"x5c"`
}

// Verifier checks that an envelope is signed by a leaf certificate chaining to a trusted root.
type Verifier struct {
	roots *x509.CertPool
}

// NewVerifier trusts the given PEM roots, or the Apple Root CA G3 when none are given.
func NewVerifier(rootPEMs ...string) (*Verifier, error) {
	if len(rootPEMs) == 0 {
		rootPEMs = []string{appleRootCAG3RootPem}
	}
	roots := x509.NewCertPool()
	for _, pem := range rootPEMs {
		if ok := roots.AppendCertsFromPEM([]byte(pem)); !ok {
			return nil, errors.New("root certificate couldn't be parsed")
		}
	}
	return &Verifier{roots: roots}, nil
}

// VerifyTransaction verifies envelope and returns the transaction it carries.
func (v *Verifier) VerifyTransaction(envelope string) (*types.TransactionRecord, error) {
	claims := &transactionClaims{}
	if err := v.verify(envelope, claims); err != nil {
		return nil, err
	}
	if err := checkTransaction(&claims.TransactionRecord); err != nil {
		return nil, err
	}
	return &claims.TransactionRecord, nil
}

// VerifyRenewal verifies envelope and returns the renewal info it carries.
func (v *Verifier) VerifyRenewal(envelope string) (*types.RenewalRecord, error) {
	claims := &renewalClaims{}
	if err := v.verify(envelope, claims); err != nil {
		return nil, err
	}
	if err := checkRenewal(&claims.RenewalRecord); err != nil {
		return nil, err
	}
	return &claims.RenewalRecord, nil
}

// VerifyNotification verifies the outer notification envelope. Inner envelopes are returned
// still signed and must be verified separately.
func (v *Verifier) VerifyNotification(envelope string) (*types.Notification, error) {
	claims := &notificationClaims{}
	if err := v.verify(envelope, claims); err != nil {
		return nil, err
	}
	return claims.toNotification()
}

func (v *Verifier) verify(envelope string, claims jwt.Claims) error {
	parts, err := splitEnvelope(envelope)
	if err != nil {
		return err
	}
	leaf, err := v.verifyChain(parts[0])
	if errors.Is(err, ErrInvalidEncoding) {
		return err
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVerification, err)
	}
	pk, ok := leaf.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return fmt.Errorf("%w: appstore public key must be of type ecdsa.PublicKey", ErrVerification)
	}

	_, err = jwt.ParseWithClaims(envelope, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodECDSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return pk, nil
	})
	if err != nil {
		var ve *jwt.ValidationError
		if errors.As(err, &ve) && ve.Errors&jwt.ValidationErrorMalformed != 0 {
			return fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
		}
		return fmt.Errorf("%w: %v", ErrVerification, err)
	}
	return nil
}

// verifyChain checks x5c[0] against the trusted roots with x5c[1:] as intermediates.
func (v *Verifier) verifyChain(headerSeg string) (*x509.Certificate, error) {
	raw, err := decodeSegment(headerSeg)
	if err != nil {
		return nil, err
	}
	var h header
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, fmt.Errorf("%w: header couldn't be parsed: %v", ErrInvalidEncoding, err)
	}
	if len(h.X5c) < 2 {
		return nil, fmt.Errorf("x5c chain too short: %d", len(h.X5c))
	}

	certs := make([]*x509.Certificate, 0, len(h.X5c))
	for i, enc := range h.X5c {
		der, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			return nil, fmt.Errorf("x5c[%d] couldn't be decoded: %w", i, err)
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("x5c[%d] couldn't be parsed: %w", i, err)
		}
		certs = append(certs, cert)
	}

	intermediates := x509.NewCertPool()
	for _, c := range certs[1:] {
		intermediates.AddCert(c)
	}
	opts := x509.VerifyOptions{
		Roots:         v.roots,
		Intermediates: intermediates,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}
	if _, err := certs[0].Verify(opts); err != nil {
		return nil, err
	}
	return certs[0], nil
}

type transactionClaims struct {
	types.TransactionRecord
}

func (*transactionClaims) Valid() error { return nil }

type renewalClaims struct {
	types.RenewalRecord
}

func (*renewalClaims) Valid() error { return nil }

type notificationClaims struct {
	notificationPayload
}

func (*notificationClaims) Valid() error { return nil }
