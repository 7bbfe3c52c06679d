package sso

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"
)

// FlowStateTTL bounds the lifetime of a login attempt between initiation and
// callback.
const FlowStateTTL = 5 * time.Minute

// FlowState is the ephemeral per-login-attempt data carried in the encrypted
// state cookie. It is never persisted.
type FlowState struct {
	State        string    `json:"state"`
	Nonce        string    `json:"nonce"`
	CodeVerifier string    `json:"codeVerifier"`
	ConfigID     string    `json:"configId"`
	ReturnURL    string    `json:"returnUrl"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// StateCodec encrypts flow state into an opaque cookie value and back.
// Purely a codec: no storage side effects, which keeps the login flow
// stateless across server instances.
type StateCodec struct {
	aead cipher.AEAD
	now  func() time.Time
}

// HKDF parameters. Fixed so every instance sharing the secret derives the
// same key.
const (
	stateKeySalt = "sso-flow-state-v1"
	stateKeyInfo = "state-cookie-aead"
)

// NewStateCodec derives an AES-256-GCM key from the server secret via
// HKDF-SHA256 and returns a ready codec.
func NewStateCodec(secret string) (*StateCodec, error) {
	if secret == "" {
		return nil, fmt.Errorf("state codec secret is required")
	}

	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, []byte(secret), []byte(stateKeySalt), []byte(stateKeyInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive state key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	return &StateCodec{aead: aead, now: time.Now}, nil
}

// Encode serializes and encrypts a flow state. The opaque form is
// base64url(iv || authTag || ciphertext) with a fresh random iv per call.
func (c *StateCodec) Encode(state FlowState) (string, error) {
	plaintext, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("marshal flow state: %w", err)
	}

	iv := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}

	// Seal appends the auth tag after the ciphertext; the wire layout puts
	// the tag between iv and ciphertext instead.
	sealed := c.aead.Seal(nil, iv, plaintext, nil)
	tagStart := len(sealed) - c.aead.Overhead()
	ciphertext, tag := sealed[:tagStart], sealed[tagStart:]

	out := make([]byte, 0, len(iv)+len(tag)+len(ciphertext))
	out = append(out, iv...)
	out = append(out, tag...)
	out = append(out, ciphertext...)

	return base64.RawURLEncoding.EncodeToString(out), nil
}

// Decode decrypts an opaque cookie value back into a flow state.
// Fails closed: returns nil on malformed input, authentication failure,
// or an expired state.
func (c *StateCodec) Decode(encoded string) *FlowState {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil
	}

	ivSize := c.aead.NonceSize()
	tagSize := c.aead.Overhead()
	if len(data) < ivSize+tagSize {
		return nil
	}

	iv := data[:ivSize]
	tag := data[ivSize : ivSize+tagSize]
	ciphertext := data[ivSize+tagSize:]

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := c.aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil
	}

	var state FlowState
	if err := json.Unmarshal(plaintext, &state); err != nil {
		return nil
	}
	if !c.now().Before(state.ExpiresAt) {
		return nil
	}
	return &state
}
