package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	plaintext := []byte(`{"base_url":"https://mes.example.com","api_key":"secret-123"}`)
	blob, err := Seal("correct-passphrase", plaintext)
	require.NoError(t, err)

	got, err := Open("correct-passphrase", blob)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestSealProducesDifferentCiphertextEachCall(t *testing.T) {
	plaintext := []byte("same secret")
	a, err := Seal("passphrase", plaintext)
	require.NoError(t, err)
	b, err := Seal("passphrase", plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "random salt and nonce must vary each call")
}

func TestOpenFailsWithWrongPassphrase(t *testing.T) {
	blob, err := Seal("right-passphrase", []byte("secret"))
	require.NoError(t, err)

	_, err = Open("wrong-passphrase", blob)
	assert.Error(t, err)
}

func TestOpenFailsOnTamperedCiphertext(t *testing.T) {
	blob, err := Seal("passphrase", []byte("secret"))
	require.NoError(t, err)
	tampered := append([]byte(nil), blob...)
	tampered[len(tampered)-1] ^= 0xFF

	_, err = Open("passphrase", tampered)
	assert.Error(t, err)
}

func TestOpenRejectsTooShortBlob(t *testing.T) {
	_, err := Open("passphrase", []byte("short"))
	assert.Error(t, err)
}
