package payments

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

const testSecret = "whsec_test"

var webhookNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func signedHeader(payload []byte, secret string, ts time.Time) string {
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), Sign(payload, secret, ts.Unix()))
}

func TestVerifySignature_Valid(t *testing.T) {
	payload := []byte(`{"type":"payment_intent.succeeded"}`)
	header := signedHeader(payload, testSecret, webhookNow)

	if err := VerifySignature(payload, header, testSecret, webhookNow); err != nil {
		t.Errorf("Expected valid signature, got %v", err)
	}
}

func TestVerifySignature_WrongSecret(t *testing.T) {
	payload := []byte(`{"type":"payment_intent.succeeded"}`)
	header := signedHeader(payload, "whsec_other", webhookNow)

	if err := VerifySignature(payload, header, testSecret, webhookNow); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("Expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifySignature_TamperedPayload(t *testing.T) {
	payload := []byte(`{"type":"payment_intent.succeeded"}`)
	header := signedHeader(payload, testSecret, webhookNow)

	tampered := []byte(`{"type":"payment_intent.payment_failed"}`)
	if err := VerifySignature(tampered, header, testSecret, webhookNow); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("Expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifySignature_StaleTimestamp(t *testing.T) {
	payload := []byte(`{}`)
	header := signedHeader(payload, testSecret, webhookNow.Add(-10*time.Minute))

	if err := VerifySignature(payload, header, testSecret, webhookNow); !errors.Is(err, ErrStaleTimestamp) {
		t.Errorf("Expected ErrStaleTimestamp, got %v", err)
	}
}

func TestVerifySignature_MalformedHeader(t *testing.T) {
	for _, header := range []string{"", "garbage", "t=abc,v1=def", "v1=deadbeef"} {
		if err := VerifySignature([]byte(`{}`), header, testSecret, webhookNow); err == nil {
			t.Errorf("Expected rejection for header %q", header)
		}
	}
}
