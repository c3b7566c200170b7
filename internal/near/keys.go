package near

import (
	"crypto/ed25519"
	"io"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
)

// KeyType is the borsh tag of a key or signature.
type KeyType byte

const (
	KeyTypeED25519 KeyType = 0

	ed25519Prefix = "ed25519:"
)

// PublicKey is an ed25519 public key as used by access keys.
type PublicKey struct {
	Type KeyType
	Data [ed25519.PublicKeySize]byte
}

// String renders the key as "ed25519:<base58>".
func (k PublicKey) String() string {
	return ed25519Prefix + base58.Encode(k.Data[:])
}

// ParsePublicKey parses "ed25519:<base58>". The prefix is optional.
func ParsePublicKey(s string) (PublicKey, error) {
	raw, err := decodeKey(s)
	if err != nil {
		return PublicKey{}, err
	}
	if len(raw) != ed25519.PublicKeySize {
		return PublicKey{}, errors.Errorf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	var key PublicKey
	copy(key.Data[:], raw)
	return key, nil
}

// KeyPair holds an ed25519 signing key.
type KeyPair struct {
	Public  PublicKey
	private ed25519.PrivateKey
}

// ParseKeyPair parses a private key in near-cli format ("ed25519:<base58>"),
// accepting either the 64-byte expanded key or a 32-byte seed.
func ParseKeyPair(s string) (KeyPair, error) {
	raw, err := decodeKey(s)
	if err != nil {
		return KeyPair{}, err
	}
	var priv ed25519.PrivateKey
	switch len(raw) {
	case ed25519.PrivateKeySize:
		priv = ed25519.PrivateKey(raw)
		derived := ed25519.NewKeyFromSeed(priv.Seed())
		if !derived.Equal(priv) {
			return KeyPair{}, errors.New("private key does not match its embedded public key")
		}
	case ed25519.SeedSize:
		priv = ed25519.NewKeyFromSeed(raw)
	default:
		return KeyPair{}, errors.Errorf("private key must be %d or %d bytes, got %d", ed25519.SeedSize, ed25519.PrivateKeySize, len(raw))
	}
	return newKeyPair(priv), nil
}

// GenerateKeyPair creates a fresh key from rand.
func GenerateKeyPair(rand io.Reader) (KeyPair, error) {
	_, priv, err := ed25519.GenerateKey(rand)
	if err != nil {
		return KeyPair{}, errors.Wrap(err, "generate ed25519 key")
	}
	return newKeyPair(priv), nil
}

func newKeyPair(priv ed25519.PrivateKey) KeyPair {
	kp := KeyPair{private: priv}
	copy(kp.Public.Data[:], priv.Public().(ed25519.PublicKey))
	return kp
}

// Sign signs msg with the private key.
func (k KeyPair) Sign(msg []byte) []byte {
	return ed25519.Sign(k.private, msg)
}

// Verify checks sig against msg with the public half.
func (k PublicKey) Verify(msg, sig []byte) bool {
	return ed25519.Verify(ed25519.PublicKey(k.Data[:]), msg, sig)
}

// String renders the private key in near-cli format.
func (k KeyPair) String() string {
	return ed25519Prefix + base58.Encode(k.private)
}

func decodeKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, ':'); i >= 0 {
		if s[:i+1] != ed25519Prefix {
			return nil, errors.Errorf("unsupported key type %q", s[:i])
		}
		s = s[i+1:]
	}
	if s == "" {
		return nil, errors.New("empty key")
	}
	raw, err := base58.Decode(s)
	if err != nil {
		return nil, errors.Wrap(err, "decode base58 key")
	}
	return raw, nil
}
