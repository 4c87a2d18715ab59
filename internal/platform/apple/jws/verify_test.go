package jws

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fatflowers/entitlement/internal/platform/apple/jws/jwstest"
	"github.com/fatflowers/entitlement/pkg/types"
)

func newTestVerifier(t *testing.T) (*Verifier, *jwstest.Signer) {
	t.Helper()
	signer, err := jwstest.NewSigner()
	require.NoError(t, err)
	v, err := NewVerifier(signer.RootPEM)
	require.NoError(t, err)
	return v, signer
}

func TestNewVerifier_DefaultsToAppleRoot(t *testing.T) {
	v, err := NewVerifier()
	require.NoError(t, err)
	require.NotNil(t, v.roots)

	_, err = NewVerifier("not a pem")
	require.Error(t, err)
}

func TestVerifyTransaction(t *testing.T) {
	v, signer := newTestVerifier(t)
	envelope := signer.MustSign(map[string]any{
		"transactionId":         "2",
		"originalTransactionId": "1",
		"productId":             "com.example.premium.yearly",
		"expiresDate":           int64(1800000000000),
		"bundleId":              "com.example.app",
	})

	tx, err := v.VerifyTransaction(envelope)
	require.NoError(t, err)
	require.Equal(t, "com.example.app", tx.BundleID)
	require.Equal(t, int64(1800000000000), tx.ExpiresAt())
}

func TestVerifyTransaction_RejectsUntrustedChain(t *testing.T) {
	v, _ := newTestVerifier(t)
	other, err := jwstest.NewSigner()
	require.NoError(t, err)

	_, err = v.VerifyTransaction(other.MustSign(map[string]any{
		"transactionId": "2", "originalTransactionId": "1", "productId": "p",
	}))
	require.ErrorIs(t, err, ErrVerification)
}

func TestVerifyTransaction_RejectsTamperedPayload(t *testing.T) {
	v, signer := newTestVerifier(t)
	envelope := signer.MustSign(map[string]any{
		"transactionId": "2", "originalTransactionId": "1", "productId": "p",
	})
	forged := jwstest.Unsigned(map[string]any{
		"transactionId": "2", "originalTransactionId": "1", "productId": "p", "expiresDate": int64(9999999999999),
	})
	parts := strings.Split(envelope, ".")
	forgedParts := strings.Split(forged, ".")
	tampered := parts[0] + "." + forgedParts[1] + "." + parts[2]

	_, err := v.VerifyTransaction(tampered)
	require.ErrorIs(t, err, ErrVerification)
}

func TestVerifyTransaction_RejectsUnsignedAndMalformed(t *testing.T) {
	v, _ := newTestVerifier(t)

	_, err := v.VerifyTransaction(jwstest.Unsigned(map[string]any{
		"transactionId": "2", "originalTransactionId": "1", "productId": "p",
	}))
	require.ErrorIs(t, err, ErrVerification)

	_, err = v.VerifyTransaction("only.two")
	require.ErrorIs(t, err, ErrMalformedEnvelope)
}

func TestVerifyTransaction_BadHeaderIsEncodingError(t *testing.T) {
	v, _ := newTestVerifier(t)
	payload := strings.Split(jwstest.Unsigned(map[string]any{
		"transactionId": "2", "originalTransactionId": "1", "productId": "p",
	}), ".")[1]

	tests := []struct {
		name   string
		header string
	}{
		{"not base64", "!!!"},
		{"not json", base64.RawURLEncoding.EncodeToString([]byte("not-json"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.VerifyTransaction(tt.header + "." + payload + ".sig")
			require.ErrorIs(t, err, ErrInvalidEncoding)
			require.NotErrorIs(t, err, ErrVerification)
		})
	}
}

func TestVerifyNotificationAndRenewal(t *testing.T) {
	v, signer := newTestVerifier(t)
	renewal := signer.MustSign(map[string]any{"originalTransactionId": "1", "autoRenewStatus": 1})
	envelope := signer.MustSign(map[string]any{
		"notificationType": "DID_RENEW",
		"notificationUUID": "n-1",
		"data": map[string]any{
			"bundleId":              "com.example.app",
			"environment":           "Production",
			"signedTransactionInfo": "x.y.z",
			"signedRenewalInfo":     renewal,
		},
	})

	n, err := v.VerifyNotification(envelope)
	require.NoError(t, err)
	require.Equal(t, types.NotificationTypeDidRenew, n.NotificationType)
	require.Equal(t, "x.y.z", n.SignedTransactionInfo)

	r, err := v.VerifyRenewal(n.SignedRenewalInfo)
	require.NoError(t, err)
	require.True(t, r.AutoRenewOn())
}
