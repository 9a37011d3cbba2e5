// Package identity manages the anonymous device identity. Users have no
// accounts; a persisted X25519 device key pins a stable pseudonymous user id
// across restarts, and the id itself is an HKDF derivation of the public key
// so the key material never leaves the machine.
package identity

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/hkdf"
)

// hkdfInfo is the context string bound into the derived user id.
var hkdfInfo = []byte("whisperline-anon-id-v1")

const userIDBytes = 16

type Identity struct {
	UserID  string
	private *ecdh.PrivateKey
}

type storedKey struct {
	PrivateKey string `json:"private_key"`
}

// LoadOrCreate returns the device identity, generating and persisting a new
// key pair on first run. A corrupt or unreadable key file is replaced rather
// than surfaced; identity loss only costs queue history, not data.
func LoadOrCreate(dir string) (*Identity, error) {
	path := filepath.Join(dir, "device_key.json")
	if id, err := load(path); err == nil {
		return id, nil
	}

	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate device key: %w", err)
	}
	id := fromPrivate(priv)
	if err := save(path, priv); err != nil {
		return nil, fmt.Errorf("persist device key: %w", err)
	}
	return id, nil
}

func load(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var stored storedKey
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, err
	}
	raw, err := base64.StdEncoding.DecodeString(stored.PrivateKey)
	if err != nil {
		return nil, err
	}
	priv, err := ecdh.X25519().NewPrivateKey(raw)
	if err != nil {
		return nil, err
	}
	return fromPrivate(priv), nil
}

func save(path string, priv *ecdh.PrivateKey) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	stored := storedKey{PrivateKey: base64.StdEncoding.EncodeToString(priv.Bytes())}
	data, err := json.Marshal(stored)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func fromPrivate(priv *ecdh.PrivateKey) *Identity {
	return &Identity{
		UserID:  deriveUserID(priv.PublicKey().Bytes()),
		private: priv,
	}
}

func deriveUserID(pub []byte) string {
	r := hkdf.New(sha256.New, pub, nil, hkdfInfo)
	out := make([]byte, userIDBytes)
	if _, err := io.ReadFull(r, out); err != nil {
		// hkdf only fails after exhausting 255 blocks; unreachable here.
		panic(err)
	}
	return hex.EncodeToString(out)
}

// DefaultDir is where the device key lives, under the platform config dir.
func DefaultDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "whisperline"), nil
}
