// Package auth implements a local, key-file based auth provider: an ed25519
// keypair names the user and approves session capabilities.
package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base32"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"forkwiki/pkg/types"
)

var (
	ErrInvalidKey       = errors.New("invalid key file")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrInvalidAuthURL   = errors.New("invalid auth url")
	ErrNotApproved      = errors.New("auth request not approved")
)

// zbase32 is the human-oriented base32 alphabet used for public key identities.
var zbase32 = base32.NewEncoding("ybndrfg8ejkmcpqxot1uwisza345h769").WithPadding(base32.NoPadding)

// Keypair is a user's signing key.
type Keypair struct {
	private ed25519.PrivateKey
}

func GenerateKeypair() (*Keypair, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return &Keypair{private: priv}, nil
}

// KeypairFromSeed rebuilds a keypair from its 32 byte seed.
func KeypairFromSeed(seed []byte) (*Keypair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: seed is %d bytes, want %d", ErrInvalidKey, len(seed), ed25519.SeedSize)
	}
	return &Keypair{private: ed25519.NewKeyFromSeed(seed)}, nil
}

// Identity is the z-base32 encoding of the public key.
func (k *Keypair) Identity() types.Identity {
	return IdentityFromPublicKey(k.Public())
}

func (k *Keypair) Public() ed25519.PublicKey {
	return k.private.Public().(ed25519.PublicKey)
}

func (k *Keypair) Sign(msg []byte) []byte {
	return ed25519.Sign(k.private, msg)
}

func IdentityFromPublicKey(pub ed25519.PublicKey) types.Identity {
	return types.Identity(zbase32.EncodeToString(pub))
}

// PublicKeyFromIdentity decodes an identity back to its public key.
func PublicKeyFromIdentity(id types.Identity) (ed25519.PublicKey, error) {
	raw, err := zbase32.DecodeString(string(id))
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: %q is not a public key identity", ErrInvalidKey, id)
	}
	return ed25519.PublicKey(raw), nil
}

// LoadKeypair reads a hex encoded seed from path.
func LoadKeypair(path string) (*Keypair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	seed, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return KeypairFromSeed(seed)
}

// Save writes the seed to path with owner-only permissions.
func (k *Keypair) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}
	seed := hex.EncodeToString(k.private.Seed())
	if err := os.WriteFile(path, []byte(seed+"\n"), 0600); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	return nil
}

// LoadOrCreateKeypair loads the key at path, generating and saving a new one
// if the file does not exist. created reports whether a key was generated.
func LoadOrCreateKeypair(path string) (kp *Keypair, created bool, err error) {
	kp, err = LoadKeypair(path)
	if err == nil {
		return kp, false, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, false, err
	}
	if kp, err = GenerateKeypair(); err != nil {
		return nil, false, err
	}
	if err := kp.Save(path); err != nil {
		return nil, false, err
	}
	return kp, true, nil
}
