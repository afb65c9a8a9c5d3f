package identity

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/libp2p/go-libp2p/core/crypto"
)

// Argon2id parameters for the optional passphrase-sealed key file,
// tuned for a solo operator's machine rather than a server farm: ~1s
// derivation is an acceptable one-time cost at process start.
const (
	argonTime    = 3
	argonMemory  = 64 * 1024 // 64 MiB, in KiB
	argonThreads = 4
	argonKeyLen  = chacha20poly1305.KeySize
	saltLen      = 16
)

// ErrWrongPassphrase is returned by UnsealPrivateKey when the
// passphrase fails AEAD authentication against the sealed key file.
var ErrWrongPassphrase = errors.New("identity: wrong passphrase or corrupted key file")

// sealedKey is the on-disk representation of a passphrase-protected
// identity secret.
type sealedKey struct {
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// SealPrivateKey encrypts priv's marshaled bytes under a key derived
// from passphrase via Argon2id, returning the JSON-encoded sealed
// envelope to write to P2P_SECRET_KEY_PATH in place of the plaintext
// key.
func SealPrivateKey(priv crypto.PrivKey, passphrase string) ([]byte, error) {
	raw, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("identity: marshal key: %w", err)
	}

	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("identity: generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("identity: init aead: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("identity: generate nonce: %w", err)
	}

	ciphertext := aead.Seal(nil, nonce, raw, nil)
	return json.Marshal(sealedKey{Salt: salt, Nonce: nonce, Ciphertext: ciphertext})
}

// UnsealPrivateKey reverses SealPrivateKey: it re-derives the AEAD key
// from passphrase and decrypts data. ErrWrongPassphrase covers both an
// incorrect passphrase and on-disk corruption — AEAD authentication
// failure can't distinguish the two, and a caller shouldn't either.
func UnsealPrivateKey(data []byte, passphrase string) (crypto.PrivKey, error) {
	var sk sealedKey
	if err := json.Unmarshal(data, &sk); err != nil {
		return nil, fmt.Errorf("identity: parse sealed key: %w", err)
	}

	key := argon2.IDKey([]byte(passphrase), sk.Salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("identity: init aead: %w", err)
	}

	raw, err := aead.Open(nil, sk.Nonce, sk.Ciphertext, nil)
	if err != nil {
		return nil, ErrWrongPassphrase
	}

	priv, err := crypto.UnmarshalPrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("identity: unmarshal key: %w", err)
	}
	return priv, nil
}

// isSealedKey reports whether data looks like a SealPrivateKey
// envelope rather than a raw marshaled libp2p private key, so
// LoadOrCreateIdentitySealed can tell an existing plaintext key file
// apart from a sealed one without a separate marker file.
func isSealedKey(data []byte) bool {
	var sk sealedKey
	return json.Unmarshal(data, &sk) == nil && len(sk.Ciphertext) > 0
}
