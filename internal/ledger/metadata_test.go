package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"processing-api/internal/security"
)

func TestMetadata_PlaintextRoundTrip(t *testing.T) {
	metadata := map[string]string{
		"invoice":  "INV-2026-0042",
		"customer": "acme",
	}

	encoded, err := encodeMetadata(nil, metadata)
	require.NoError(t, err)
	assert.Contains(t, encoded, "INV-2026-0042")

	decoded, err := decodeMetadata(nil, encoded)
	require.NoError(t, err)
	assert.Equal(t, metadata, decoded)
}

func TestMetadata_EncryptedRoundTrip(t *testing.T) {
	cipher, err := security.NewCipher([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	metadata := map[string]string{
		"account": "DE89370400440532013000",
	}

	encoded, err := encodeMetadata(cipher, metadata)
	require.NoError(t, err)
	assert.NotContains(t, encoded, "DE89")

	decoded, err := decodeMetadata(cipher, encoded)
	require.NoError(t, err)
	assert.Equal(t, metadata, decoded)
}

func TestMetadata_EmptyIsOmitted(t *testing.T) {
	encoded, err := encodeMetadata(nil, nil)
	require.NoError(t, err)
	assert.Empty(t, encoded)

	decoded, err := decodeMetadata(nil, "")
	require.NoError(t, err)
	assert.Nil(t, decoded)
}

func TestMetadata_DecodeRejectsCorruptCiphertext(t *testing.T) {
	cipher, err := security.NewCipher([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	_, err = decodeMetadata(cipher, "not-a-ciphertext")
	assert.Error(t, err)
}
