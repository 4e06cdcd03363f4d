package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// SignatureHeader carries the forum's webhook signature.
const SignatureHeader = "X-Discourse-Event-Signature"

var (
	ErrMissingSignature = errors.New("missing signature")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrInvalidAdminKey  = errors.New("invalid admin key")
)

// SignWebhook returns the header value the forum sends for body:
// "sha256=" followed by the hex HMAC-SHA256 of the raw body.
func SignWebhook(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhookSignature checks signature against the raw body. The digest
// comparison is constant time.
func VerifyWebhookSignature(secret, body []byte, signature string) error {
	if len(secret) == 0 || strings.TrimSpace(signature) == "" {
		return ErrMissingSignature
	}
	if !strings.HasPrefix(signature, "sha256=") {
		return ErrInvalidSignature
	}
	expected := SignWebhook(secret, body)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return ErrInvalidSignature
	}
	return nil
}

// HashAdminKey produces the bcrypt hash stored in MOONBASE_ADMIN_KEY_HASH.
func HashAdminKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyAdminKey compares a presented key with the configured bcrypt hash.
// An empty hash disables the admin routes entirely.
func VerifyAdminKey(hash, presented string) error {
	if hash == "" || presented == "" {
		return ErrInvalidAdminKey
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(presented)); err != nil {
		return ErrInvalidAdminKey
	}
	return nil
}
