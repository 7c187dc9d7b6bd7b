package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	header, err := NewHeader()
	require.NoError(t, err)

	keyMaterial := []byte("0123456789abcdef0123456789abcdef")
	fileKey := FileKey(keyMaterial, header.Salt, 64)
	header.Verifier = Verifier(header.Salt, fileKey)
	header.PayloadLen = 123456

	block := header.Encode()
	require.Len(t, block, HeaderSize)
	require.True(t, IsEncrypted(block))

	decoded, err := DecodeHeader(block)
	require.NoError(t, err)
	require.Equal(t, header.Salt, decoded.Salt)
	require.Equal(t, header.Verifier, decoded.Verifier)
	require.Equal(t, header.PayloadLen, decoded.PayloadLen)

	require.True(t, VerifierMatch(decoded.Verifier, Verifier(decoded.Salt, fileKey)))

	otherKey := FileKey([]byte("another-key-material-entirely!!!"), header.Salt, 64)
	require.False(t, VerifierMatch(decoded.Verifier, Verifier(decoded.Salt, otherKey)))
}

func TestDecodeHeaderNotEncrypted(t *testing.T) {
	plain := make([]byte, HeaderSize)
	copy(plain, "just some ordinary file content")
	_, err := DecodeHeader(plain)
	require.ErrorIs(t, err, ErrNotEncrypted)

	// shorter than a header block
	_, err = DecodeHeader([]byte("short"))
	require.ErrorIs(t, err, ErrNotEncrypted)
}

func TestFileKeyDeterministic(t *testing.T) {
	material := []byte("deterministic-material")
	salt := []byte("0123456789abcdef")
	a := FileKey(material, salt, 64)
	b := FileKey(material, salt, 64)
	require.Equal(t, a, b)

	c := FileKey(material, []byte("fedcba9876543210"), 64)
	require.NotEqual(t, a, c)
}
