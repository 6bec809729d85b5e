package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader carries the processor's webhook signature:
// "t=<unix>,v1=<hex hmac-sha256 of '<unix>.<body>'>".
const SignatureHeader = "Gateway-Signature"

// Tolerance bounds how old a signed webhook timestamp may be, limiting
// replay of captured deliveries.
const Tolerance = 5 * time.Minute

var (
	ErrInvalidSignature = errors.New("webhook signature verification failed")
	ErrStaleTimestamp   = errors.New("webhook timestamp outside tolerance")
)

// WebhookEvent is the notification envelope delivered by the processor.
type WebhookEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"` // payment_intent.succeeded, payment_intent.payment_failed
	Data struct {
		Object Intent `json:"object"`
	} `json:"data"`
}

// VerifySignature checks the signature header against the raw request body.
// It must be called before the payload is acted on in any way.
func VerifySignature(payload []byte, header, secret string, now time.Time) error {
	var timestamp int64
	var signatures []string

	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return ErrInvalidSignature
			}
			timestamp = ts
		case "v1":
			signatures = append(signatures, v)
		}
	}

	if timestamp == 0 || len(signatures) == 0 {
		return ErrInvalidSignature
	}

	age := now.Sub(time.Unix(timestamp, 0))
	if age > Tolerance || age < -Tolerance {
		return ErrStaleTimestamp
	}

	expected := Sign(payload, secret, timestamp)
	for _, sig := range signatures {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// Sign computes the signature the processor would attach for the given
// payload and timestamp. Exposed for tests and local tooling.
func Sign(payload []byte, secret string, timestamp int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// WebhookSecret returns the shared secret used to verify deliveries.
func WebhookSecret() string {
	return getEnv("PAYMENT_WEBHOOK_SECRET", "whsec_change_me")
}
