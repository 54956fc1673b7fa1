package push

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureVAPIDKeysGeneratesWellFormedPair(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vapid.json")

	keys, err := EnsureVAPIDKeys(path)
	require.NoError(t, err)
	require.True(t, keys.Valid())

	// The public key is the share-with-clients half: an uncompressed
	// P-256 point, not the 32-byte private scalar.
	pub, err := base64.RawURLEncoding.DecodeString(keys.PublicKey)
	require.NoError(t, err)
	assert.Len(t, pub, 65)
	assert.EqualValues(t, 4, pub[0])

	priv, err := base64.RawURLEncoding.DecodeString(keys.PrivateKey)
	require.NoError(t, err)
	assert.Len(t, priv, 32)
}

func TestEnsureVAPIDKeysReloadsSavedPair(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vapid.json")

	first, err := EnsureVAPIDKeys(path)
	require.NoError(t, err)
	second, err := EnsureVAPIDKeys(path)
	require.NoError(t, err)

	assert.Equal(t, first.PublicKey, second.PublicKey)
	assert.Equal(t, first.PrivateKey, second.PrivateKey)
}

func TestEnsureVAPIDKeysRegeneratesSwappedPair(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vapid.json")

	good, err := EnsureVAPIDKeys(path)
	require.NoError(t, err)

	// A key file with the halves swapped would serve the private key to
	// clients; it must be replaced, not loaded.
	swapped := &VAPIDKeys{PublicKey: good.PrivateKey, PrivateKey: good.PublicKey}
	require.False(t, swapped.Valid())
	require.NoError(t, saveVAPIDKeys(path, swapped))

	keys, err := EnsureVAPIDKeys(path)
	require.NoError(t, err)
	require.True(t, keys.Valid())
	assert.NotEqual(t, swapped.PublicKey, keys.PublicKey)

	// The regenerated pair was persisted over the bad file.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), keys.PublicKey)
}
