// Package jws decodes and verifies App Store signed envelopes (compact JWS).
package jws

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/fatflowers/entitlement/pkg/types"
)

var (
	ErrMalformedEnvelope = errors.New("malformed signed envelope")
	ErrInvalidEncoding   = errors.New("invalid envelope encoding")
	ErrMissingField      = errors.New("missing required field")
)

// Decode extracts the transaction carried in the payload part of envelope.
// The signature is not checked; use Verifier.VerifyTransaction at trust boundaries.
func Decode(envelope string) (*types.TransactionRecord, error) {
	var tx types.TransactionRecord
	if err := decodePayload(envelope, &tx); err != nil {
		return nil, err
	}
	if err := checkTransaction(&tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// DecodeRenewal extracts renewal info from envelope without checking the signature.
func DecodeRenewal(envelope string) (*types.RenewalRecord, error) {
	var r types.RenewalRecord
	if err := decodePayload(envelope, &r); err != nil {
		return nil, err
	}
	if err := checkRenewal(&r); err != nil {
		return nil, err
	}
	return &r, nil
}

// DecodeNotification extracts a server notification from envelope without checking the signature.
func DecodeNotification(envelope string) (*types.Notification, error) {
	var p notificationPayload
	if err := decodePayload(envelope, &p); err != nil {
		return nil, err
	}
	return p.toNotification()
}

type notificationData struct {
	BundleID              string `json:"bundleId"`
	Environment           string `json:"environment"`
	SignedTransactionInfo string `json:"signedTransactionInfo"`
	SignedRenewalInfo     string `json:"signedRenewalInfo"`
}

type notificationSummary struct {
	BundleID    string `json:"bundleId"`
	Environment string `json:"environment"`
}

type notificationPayload struct {
	NotificationType string               `json:"notificationType"`
	Subtype          string               `json:"subtype"`
	NotificationUUID string               `json:"notificationUUID"`
	Version          string               `json:"version"`
	SignedDate       int64                `json:"signedDate"`
	Data             *notificationData    `json:"data"`
	Summary          *notificationSummary `json:"summary"`
}

func (p *notificationPayload) toNotification() (*types.Notification, error) {
	if p.NotificationType == "" {
		return nil, fmt.Errorf("%w: notificationType", ErrMissingField)
	}
	n := &types.Notification{
		NotificationType: types.NotificationType(p.NotificationType),
		Subtype:          p.Subtype,
		NotificationUUID: p.NotificationUUID,
		Version:          p.Version,
		SignedDate:       p.SignedDate,
	}
	switch {
	case p.Data != nil:
		n.BundleID = p.Data.BundleID
		n.Environment = p.Data.Environment
		n.SignedTransactionInfo = p.Data.SignedTransactionInfo
		n.SignedRenewalInfo = p.Data.SignedRenewalInfo
	case p.Summary != nil:
		n.BundleID = p.Summary.BundleID
		n.Environment = p.Summary.Environment
	}
	return n, nil
}

func checkTransaction(tx *types.TransactionRecord) error {
	switch {
	case tx.TransactionID == "":
		return fmt.Errorf("%w: transactionId", ErrMissingField)
	case tx.OriginalTransactionID == "":
		return fmt.Errorf("%w: originalTransactionId", ErrMissingField)
	case tx.ProductID == "":
		return fmt.Errorf("%w: productId", ErrMissingField)
	}
	return nil
}

func checkRenewal(r *types.RenewalRecord) error {
	if r.OriginalTransactionID == "" {
		return fmt.Errorf("%w: originalTransactionId", ErrMissingField)
	}
	return nil
}

func splitEnvelope(envelope string) ([]string, error) {
	parts := strings.Split(strings.TrimSpace(envelope), ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: expected 3 parts, got %d", ErrMalformedEnvelope, len(parts))
	}
	return parts, nil
}

// decodeSegment accepts base64url with or without padding.
func decodeSegment(seg string) ([]byte, error) {
	b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(seg, "="))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}
	return b, nil
}

func decodePayload(envelope string, v any) error {
	parts, err := splitEnvelope(envelope)
	if err != nil {
		return err
	}
	raw, err := decodeSegment(parts[1])
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}
	return nil
}
