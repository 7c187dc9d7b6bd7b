package rekey

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveKey(t *testing.T) {
	key, err := DeriveKey("correct-horse-battery")
	require.NoError(t, err)
	defer key.Destroy()
	require.NotNil(t, key.enclave)
}

func TestDeriveKeyDeterministic(t *testing.T) {
	// the same passphrase must always open the same files
	k1, err := DeriveKey("stable-passphrase")
	require.NoError(t, err)
	defer k1.Destroy()
	k2, err := DeriveKey("stable-passphrase")
	require.NoError(t, err)
	defer k2.Destroy()

	salt := []byte("0123456789abcdef")
	f1, err := k1.fileKey(salt, 64)
	require.NoError(t, err)
	f2, err := k2.fileKey(salt, 64)
	require.NoError(t, err)
	require.Equal(t, f1, f2)
}

func TestDeriveKeyRejectsInvalidPassphrases(t *testing.T) {
	tests := []struct {
		name       string
		passphrase string
	}{
		{"Empty", ""},
		{"EmbeddedSpace", "pass phrase"},
		{"LeadingSpace", " passphrase"},
		{"TrailingSpace", "passphrase "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DeriveKey(tt.passphrase)
			require.ErrorIs(t, err, ErrInvalidPassphrase)
		})
	}
}

func TestKeyMaterialDestroyNil(t *testing.T) {
	var key *KeyMaterial
	key.Destroy() // must not panic
}
