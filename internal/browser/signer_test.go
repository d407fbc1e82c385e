package browser

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"testing"
	"time"
)

func TestSigner_Sign(t *testing.T) {
	secret := []byte("test-secret-key")
	signer := NewSigner(secret)

	t.Run("generates valid signature", func(t *testing.T) {
		keyID := "key_123"
		jobID := "job_456"
		body := []byte(`{"url":"https://example.com","runtime":"playwright"}`)

		headers := signer.Sign(keyID, jobID, body)

		if headers.Signature == "" {
			t.Error("expected non-empty signature")
		}
		if headers.Timestamp == "" {
			t.Error("expected non-empty timestamp")
		}
		if headers.KeyID != keyID {
			t.Errorf("KeyID = %q, want %q", headers.KeyID, keyID)
		}
		if headers.JobID != jobID {
			t.Errorf("JobID = %q, want %q", headers.JobID, jobID)
		}
	})

	t.Run("signature format matches expected", func(t *testing.T) {
		keyID := "key_123"
		jobID := "job_789"
		body := []byte(`{"test":"data"}`)

		headers := signer.Sign(keyID, jobID, body)

		bodyHash := sha256.Sum256(body)
		message := headers.Timestamp + "|" + keyID + "|" + jobID + "|" + hex.EncodeToString(bodyHash[:])
		h := hmac.New(sha256.New, secret)
		h.Write([]byte(message))
		expected := hex.EncodeToString(h.Sum(nil))

		if headers.Signature != expected {
			t.Errorf("Signature = %q, want %q", headers.Signature, expected)
		}
	})

	t.Run("different bodies produce different signatures", func(t *testing.T) {
		headers1 := signer.Sign("key", "job", []byte(`{"url":"https://example1.com"}`))
		headers2 := signer.Sign("key", "job", []byte(`{"url":"https://example2.com"}`))

		if headers1.Signature == headers2.Signature {
			t.Error("expected different signatures for different bodies")
		}
	})

	t.Run("different job IDs produce different signatures", func(t *testing.T) {
		body := []byte(`{"url":"https://example.com"}`)

		headers1 := signer.Sign("key", "job_1", body)
		headers2 := signer.Sign("key", "job_2", body)

		if headers1.Signature == headers2.Signature {
			t.Error("expected different signatures for different job IDs")
		}
	})
}

func TestSigner_Verify(t *testing.T) {
	secret := []byte("test-secret-key")
	signer := NewSigner(secret)

	t.Run("verifies valid signature", func(t *testing.T) {
		body := []byte(`{"test":"data"}`)
		headers := signer.Sign("key_123", "job_456", body)

		if !signer.Verify(headers.Signature, headers.Timestamp, headers.KeyID, headers.JobID, body) {
			t.Error("expected signature to be valid")
		}
	})

	t.Run("rejects expired timestamp", func(t *testing.T) {
		body := []byte(`{"test":"data"}`)
		oldTimestamp := strconv.FormatInt(time.Now().Add(-6*time.Minute).Unix(), 10)

		bodyHash := sha256.Sum256(body)
		message := oldTimestamp + "|key_123||" + hex.EncodeToString(bodyHash[:])
		h := hmac.New(sha256.New, secret)
		h.Write([]byte(message))
		signature := hex.EncodeToString(h.Sum(nil))

		if signer.Verify(signature, oldTimestamp, "key_123", "", body) {
			t.Error("expected signature with expired timestamp to be invalid")
		}
	})

	t.Run("rejects tampered body", func(t *testing.T) {
		headers := signer.Sign("key_123", "", []byte(`{"test":"original"}`))

		if signer.Verify(headers.Signature, headers.Timestamp, headers.KeyID, headers.JobID, []byte(`{"test":"tampered"}`)) {
			t.Error("expected signature to be invalid for tampered body")
		}
	})

	t.Run("rejects tampered job ID", func(t *testing.T) {
		body := []byte(`{"test":"data"}`)
		headers := signer.Sign("key_123", "job_123", body)

		if signer.Verify(headers.Signature, headers.Timestamp, headers.KeyID, "tampered_job_id", body) {
			t.Error("expected signature to be invalid for tampered job ID")
		}
	})

	t.Run("rejects wrong secret", func(t *testing.T) {
		wrongSigner := NewSigner([]byte("wrong-secret"))
		body := []byte(`{"test":"data"}`)
		headers := signer.Sign("key_123", "", body)

		if wrongSigner.Verify(headers.Signature, headers.Timestamp, headers.KeyID, headers.JobID, body) {
			t.Error("expected signature to be invalid with wrong secret")
		}
	})

	t.Run("rejects invalid timestamp format", func(t *testing.T) {
		if signer.Verify("some-signature", "not-a-number", "key", "", []byte("body")) {
			t.Error("expected invalid timestamp format to be rejected")
		}
	})
}
