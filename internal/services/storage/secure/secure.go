// Package secure seals values for storage with NaCl anonymous boxes. A value
// is sealed to a Curve25519 public key and can be opened only with the
// matching private key.
package secure

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"

	apperrors "github.com/louisbranch/tierstore/internal/platform/errors"
)

// Value is the stored form of a sealed value.
type Value struct {
	// Ciphertext is the base64 sealed box of the JSON-encoded value.
	Ciphertext string `json:"ciphertext"`
	// KeyID fingerprints the public key the value was sealed to.
	KeyID string `json:"key_id"`
}

// KeyPair is a base64-encoded Curve25519 key pair.
type KeyPair struct {
	PublicKey  string
	PrivateKey string
}

// GenerateKeyPair creates a key pair from random.
func GenerateKeyPair(random io.Reader) (KeyPair, error) {
	if random == nil {
		random = rand.Reader
	}
	public, private, err := box.GenerateKey(random)
	if err != nil {
		return KeyPair{}, fmt.Errorf("generate key pair: %w", err)
	}
	return KeyPair{
		PublicKey:  base64.StdEncoding.EncodeToString(public[:]),
		PrivateKey: base64.StdEncoding.EncodeToString(private[:]),
	}, nil
}

// KeyID returns the fingerprint of a public key.
func KeyID(public *[32]byte) string {
	sum := sha256.Sum256(public[:])
	return hex.EncodeToString(sum[:8])
}

// Seal encodes value as JSON and seals it to publicKey.
func Seal(value any, publicKey string) (Value, error) {
	public, err := parseKey(publicKey, "public_key")
	if err != nil {
		return Value{}, apperrors.Wrap(apperrors.CodeEncryptFailed, "seal value", err)
	}
	plaintext, err := json.Marshal(value)
	if err != nil {
		return Value{}, apperrors.Wrap(apperrors.CodeEncryptFailed, "seal value: encode", err)
	}
	sealed, err := box.SealAnonymous(nil, plaintext, public, rand.Reader)
	if err != nil {
		return Value{}, apperrors.Wrap(apperrors.CodeEncryptFailed, "seal value", err)
	}
	return Value{
		Ciphertext: base64.StdEncoding.EncodeToString(sealed),
		KeyID:      KeyID(public),
	}, nil
}

// Open opens a sealed value with privateKey and decodes its JSON. stored may
// be a Value or any JSON-shaped form of one, as read back from a tier.
func Open(stored any, privateKey string) (any, error) {
	value, ok := FromAny(stored)
	if !ok {
		return nil, apperrors.New(apperrors.CodeDecryptFailed, "open value: stored value is not sealed")
	}
	private, err := parseKey(privateKey, "private_key")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDecryptFailed, "open value", err)
	}
	publicBytes, err := curve25519.X25519(private[:], curve25519.Basepoint)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDecryptFailed, "open value: derive public key", err)
	}
	var public [32]byte
	copy(public[:], publicBytes)
	if value.KeyID != "" && value.KeyID != KeyID(&public) {
		return nil, apperrors.WithMetadata(
			apperrors.CodeDecryptFailed,
			"open value: sealed to a different key",
			map[string]string{"key_id": value.KeyID},
		)
	}

	sealed, err := base64.StdEncoding.DecodeString(value.Ciphertext)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDecryptFailed, "open value: decode ciphertext", err)
	}
	plaintext, ok := box.OpenAnonymous(nil, sealed, &public, private)
	if !ok {
		return nil, apperrors.New(apperrors.CodeDecryptFailed, "open value: authentication failed")
	}
	var decoded any
	if err := json.Unmarshal(plaintext, &decoded); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDecryptFailed, "open value: decode plaintext", err)
	}
	return decoded, nil
}

// FromAny recovers a Value from what a tier returned: the Value itself, a
// pointer to one, decoded JSON, or JSON text.
func FromAny(stored any) (Value, bool) {
	var value Value
	switch v := stored.(type) {
	case Value:
		value = v
	case *Value:
		if v == nil {
			return Value{}, false
		}
		value = *v
	case string:
		if err := json.Unmarshal([]byte(v), &value); err != nil {
			return Value{}, false
		}
	case map[string]any:
		ciphertext, _ := v["ciphertext"].(string)
		keyID, _ := v["key_id"].(string)
		value = Value{Ciphertext: ciphertext, KeyID: keyID}
	default:
		return Value{}, false
	}
	return value, value.Ciphertext != ""
}

func parseKey(encoded, param string) (*[32]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, apperrors.InvalidArgument(param)
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", param, err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("%s must be 32 bytes, got %d", param, len(raw))
	}
	var key [32]byte
	copy(key[:], raw)
	return &key, nil
}
