package vault

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/dara-labs/workflow-control-plane/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestNewRejectsEmptyMasterKey(t *testing.T) {
	_, err := New("", newTestStore(t))
	require.Error(t, err)
	var cfgErr *ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestStoreDecryptRoundTrip(t *testing.T) {
	v, err := New("correct horse battery staple", newTestStore(t))
	require.NoError(t, err)

	header, err := v.Store("connector", "token", "s3cr3t-value")
	require.NoError(t, err)
	assert.Equal(t, "connector", header.Scope)
	assert.Equal(t, "token", header.Name)
	assert.NotEmpty(t, header.ID)

	plain, err := v.Decrypt(header.ID)
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t-value", plain)
}

func TestListNeverReturnsPlaintextOrCiphertext(t *testing.T) {
	v, err := New("key", newTestStore(t))
	require.NoError(t, err)
	_, err = v.Store("scope-a", "name-a", "plaintext-value")
	require.NoError(t, err)

	headers, err := v.List("scope-a")
	require.NoError(t, err)
	require.Len(t, headers, 1)
	assert.Equal(t, "name-a", headers[0].Name)
}

func TestDecryptUnknownIDFails(t *testing.T) {
	v, err := New("key", newTestStore(t))
	require.NoError(t, err)
	_, err = v.Decrypt("does-not-exist")
	require.Error(t, err)
	var vaultErr *VaultError
	assert.ErrorAs(t, err, &vaultErr)
}

// TestIterPlaintextSkipsCorruptRows drives the "S6" scenario from spec.md
// §8: three secrets stored, one corrupted directly in the database, and
// IterPlaintext must yield exactly the two intact values without error.
func TestIterPlaintextSkipsCorruptRows(t *testing.T) {
	s := newTestStore(t)
	v, err := New("key", s)
	require.NoError(t, err)

	h1, err := v.Store("s", "one", "alpha")
	require.NoError(t, err)
	_, err = v.Store("s", "two", "beta")
	require.NoError(t, err)
	_, err = v.Store("s", "three", "gamma")
	require.NoError(t, err)

	require.NoError(t, s.Tx(func(tx *gorm.DB) error {
		return tx.Model(&store.Secret{}).Where("id = ?", h1.ID).Update("value", "not-valid-ciphertext").Error
	}))

	plaintexts := v.IterPlaintext()
	assert.Len(t, plaintexts, 2)
	assert.ElementsMatch(t, []string{"beta", "gamma"}, plaintexts)
}
