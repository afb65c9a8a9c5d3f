// Package identity manages the node's long-lived libp2p key pair: the
// private half generated once and persisted at P2P_SECRET_KEY_PATH, the
// public half (the NodeId) derived from it on every start.
package identity

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/soundtime-fm/p2p/internal/wire"
)

// CheckKeyFilePermissions verifies that a key file is not readable by group or others.
func CheckKeyFilePermissions(path string) error {
	if runtime.GOOS == "windows" {
		return nil // Windows file permissions work differently
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("cannot stat key file %s: %w", path, err)
	}
	mode := info.Mode().Perm()
	if mode&0077 != 0 {
		return fmt.Errorf("key file %s has insecure permissions %04o (expected 0600); fix with: chmod 600 %s", path, mode, path)
	}
	return nil
}

// LoadOrCreateIdentity loads an existing identity from a file or creates
// a new one. A freshly generated key is written atomically (temp file +
// rename) so a crash mid-write never leaves a truncated key on disk —
// the failure mode a plain os.WriteFile of the identity secret cannot
// rule out.
func LoadOrCreateIdentity(path string) (crypto.PrivKey, error) {
	if data, err := os.ReadFile(path); err == nil {
		if err := CheckKeyFilePermissions(path); err != nil {
			return nil, err
		}
		priv, err := crypto.UnmarshalPrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal key from %s: %w", path, err)
		}
		return priv, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read key file %s: %w", path, err)
	}

	priv, _, err := crypto.GenerateKeyPair(crypto.Ed25519, -1)
	if err != nil {
		return nil, fmt.Errorf("failed to generate keypair: %w", err)
	}

	data, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	if err := writeFileAtomic(path, data); err != nil {
		return nil, fmt.Errorf("failed to save key to %s: %w", path, err)
	}

	return priv, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// LoadOrCreateIdentitySealed is LoadOrCreateIdentity with the key file
// encrypted at rest under passphrase (Argon2id + XChaCha20-Poly1305,
// see seal.go). An empty passphrase falls back to LoadOrCreateIdentity
// unchanged, so a host can make sealing opt-in via one config value.
// A freshly generated key is always written sealed when passphrase is
// non-empty; loading an existing plaintext key file with a non-empty
// passphrase is rejected rather than silently leaving it unsealed.
func LoadOrCreateIdentitySealed(path, passphrase string) (crypto.PrivKey, error) {
	if passphrase == "" {
		return LoadOrCreateIdentity(path)
	}

	if data, err := os.ReadFile(path); err == nil {
		if err := CheckKeyFilePermissions(path); err != nil {
			return nil, err
		}
		if !isSealedKey(data) {
			return nil, fmt.Errorf("identity: %s is not a sealed key file but a passphrase was given", path)
		}
		return UnsealPrivateKey(data, passphrase)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read key file %s: %w", path, err)
	}

	priv, _, err := crypto.GenerateKeyPair(crypto.Ed25519, -1)
	if err != nil {
		return nil, fmt.Errorf("failed to generate keypair: %w", err)
	}

	sealed, err := SealPrivateKey(priv, passphrase)
	if err != nil {
		return nil, err
	}
	if err := writeFileAtomic(path, sealed); err != nil {
		return nil, fmt.Errorf("failed to save sealed key to %s: %w", path, err)
	}
	return priv, nil
}

// PeerIDFromKeyFile loads (or creates) a key file and returns the derived peer ID.
func PeerIDFromKeyFile(path string) (peer.ID, error) {
	priv, err := LoadOrCreateIdentity(path)
	if err != nil {
		return "", err
	}
	id, err := peer.IDFromPrivateKey(priv)
	if err != nil {
		return "", fmt.Errorf("failed to derive peer ID: %w", err)
	}
	return id, nil
}

// NodeIDFromKeyFile is PeerIDFromKeyFile with the result in the core's
// own NodeId type, so callers outside pkg/p2pnet never need to import
// libp2p's peer package directly.
func NodeIDFromKeyFile(path string) (wire.NodeId, error) {
	id, err := PeerIDFromKeyFile(path)
	if err != nil {
		return "", err
	}
	return wire.NodeId(id.String()), nil
}
