package near

import (
	"bytes"
	"crypto/ed25519"
	"path/filepath"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKeyPair(t *testing.T) KeyPair {
	t.Helper()
	kp, err := GenerateKeyPair(bytes.NewReader(bytes.Repeat([]byte{7}, 64)))
	require.NoError(t, err)
	return kp
}

func TestKeyPairRoundTripsThroughNearCLIFormat(t *testing.T) {
	kp := testKeyPair(t)

	parsed, err := ParseKeyPair(kp.String())
	require.NoError(t, err)
	assert.Equal(t, kp.Public, parsed.Public)

	pub, err := ParsePublicKey(kp.Public.String())
	require.NoError(t, err)
	assert.Equal(t, kp.Public, pub)

	msg := []byte("set_greeting")
	assert.True(t, pub.Verify(msg, parsed.Sign(msg)))
}

func TestParseKeyPairAcceptsSeed(t *testing.T) {
	seed := bytes.Repeat([]byte{1}, ed25519.SeedSize)
	kp, err := ParseKeyPair("ed25519:" + base58.Encode(seed))
	require.NoError(t, err)

	expected := ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey)
	assert.Equal(t, []byte(expected), kp.Public.Data[:])
}

func TestParseKeyRejectsBadInput(t *testing.T) {
	_, err := ParsePublicKey("secp256k1:abc")
	assert.Error(t, err)

	_, err = ParsePublicKey("ed25519:")
	assert.Error(t, err)

	_, err = ParsePublicKey("ed25519:" + base58.Encode([]byte{1, 2, 3}))
	assert.Error(t, err)

	kp := testKeyPair(t)
	tampered := append([]byte(nil), kp.private...)
	tampered[63] ^= 0xff
	_, err = ParseKeyPair("ed25519:" + base58.Encode(tampered))
	assert.Error(t, err)
}

func TestFileKeyStore(t *testing.T) {
	store := FileKeyStore{Dir: t.TempDir()}
	kp := testKeyPair(t)

	require.NoError(t, store.Save("testnet", "alice.testnet", kp))

	loaded, err := store.GetKey("testnet", "alice.testnet")
	require.NoError(t, err)
	assert.Equal(t, kp.Public, loaded.Public)

	accounts, err := store.Accounts("testnet")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice.testnet"}, accounts)

	_, err = store.GetKey("mainnet", "alice.testnet")
	assert.True(t, errors.Is(err, ErrKeyNotFound))

	_, err = store.GetKey("testnet", "../escape")
	assert.True(t, errors.Is(err, ErrInvalidAccountID))

	none, err := FileKeyStore{Dir: filepath.Join(t.TempDir(), "missing")}.Accounts("testnet")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryKeyStore(t *testing.T) {
	store := NewMemoryKeyStore()
	kp := testKeyPair(t)
	store.Add("sandbox", "bob.test", kp)

	loaded, err := store.GetKey("sandbox", "bob.test")
	require.NoError(t, err)
	assert.Equal(t, kp.Public, loaded.Public)

	_, err = store.GetKey("testnet", "bob.test")
	assert.True(t, errors.Is(err, ErrKeyNotFound))

	accounts, err := store.Accounts("sandbox")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob.test"}, accounts)
}
