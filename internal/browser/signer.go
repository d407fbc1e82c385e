package browser

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// Signer creates HMAC signatures for browser service requests.
type Signer struct {
	secret []byte
}

// NewSigner creates a new HMAC signer with the given secret.
func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret}
}

// SignatureHeaders are the headers included in a signed request.
type SignatureHeaders struct {
	Signature string
	Timestamp string
	KeyID     string
	JobID     string
}

// Sign creates a signature for the given request parameters.
// Signature format: HMAC-SHA256(timestamp|keyID|jobID|bodyHash).
func (s *Signer) Sign(keyID, jobID string, body []byte) SignatureHeaders {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)

	bodyHash := sha256.Sum256(body)
	message := timestamp + "|" + keyID + "|" + jobID + "|" + hex.EncodeToString(bodyHash[:])

	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(message))

	return SignatureHeaders{
		Signature: hex.EncodeToString(h.Sum(nil)),
		Timestamp: timestamp,
		KeyID:     keyID,
		JobID:     jobID,
	}
}

// Verify checks a signature against the expected parameters. The timestamp
// must be within five minutes of now.
func (s *Signer) Verify(signature, timestamp, keyID, jobID string, body []byte) bool {
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	if time.Since(time.Unix(ts, 0)) > 5*time.Minute {
		return false
	}

	bodyHash := sha256.Sum256(body)
	message := timestamp + "|" + keyID + "|" + jobID + "|" + hex.EncodeToString(bodyHash[:])

	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(message))
	expected := hex.EncodeToString(h.Sum(nil))

	return hmac.Equal([]byte(signature), []byte(expected))
}
