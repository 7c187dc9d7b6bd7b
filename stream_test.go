package rekey

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"southwinds.dev/rekey/internal/crypto"
	"southwinds.dev/rekey/internal/misc"
)

func testSuite(t *testing.T) crypto.Suite {
	t.Helper()
	suite, err := crypto.SuiteFor("AES")
	require.NoError(t, err)
	return suite
}

func deriveTestKey(t *testing.T, passphrase string) *KeyMaterial {
	t.Helper()
	key, err := DeriveKey(passphrase)
	require.NoError(t, err)
	t.Cleanup(key.Destroy)
	return key
}

func TestStreamRoundTrip(t *testing.T) {
	suite := testSuite(t)
	key := deriveTestKey(t, "stream-passphrase")

	// sizes around block boundaries
	for _, size := range []int{0, 1, misc.BlockSize - 1, misc.BlockSize, misc.BlockSize + 1, 100_000} {
		t.Run(fmt.Sprintf("Size_%d", size), func(t *testing.T) {
			plaintext := make([]byte, size)
			_, err := rand.Read(plaintext)
			require.NoError(t, err)

			path := filepath.Join(t.TempDir(), "data.mv.db")
			w, err := OpenWriter(path, suite, key)
			require.NoError(t, err)
			_, err = w.Write(plaintext)
			require.NoError(t, err)
			require.NoError(t, w.Close())

			// on disk: header plus whole padded blocks, never the plaintext
			stored, err := os.ReadFile(path)
			require.NoError(t, err)
			require.Equal(t, crypto.HeaderSize+pad(size), len(stored))
			if size > 0 {
				require.False(t, bytes.Contains(stored, plaintext[:min(size, 64)]))
			}

			r, total, err := OpenReader(path, suite, key)
			require.NoError(t, err)
			require.Equal(t, int64(size), total)
			got, err := io.ReadAll(r)
			require.NoError(t, err)
			require.NoError(t, r.Close())
			require.True(t, bytes.Equal(plaintext, got))
		})
	}
}

func pad(size int) int {
	blocks := (size + misc.BlockSize - 1) / misc.BlockSize
	return blocks * misc.BlockSize
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func TestStreamPlaintextPassthrough(t *testing.T) {
	suite := testSuite(t)
	content := []byte("plain content, no cipher involved")
	path := filepath.Join(t.TempDir(), "plain.mv.db")

	w, err := OpenWriter(path, suite, nil)
	require.NoError(t, err)
	_, err = w.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	stored, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, content, stored)

	r, total, err := OpenReader(path, suite, nil)
	require.NoError(t, err)
	require.Equal(t, int64(len(content)), total)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.Equal(t, content, got)
}

func TestOpenReaderWrongKey(t *testing.T) {
	suite := testSuite(t)
	right := deriveTestKey(t, "right-key")
	wrong := deriveTestKey(t, "wrong-key")

	path := filepath.Join(t.TempDir(), "data.mv.db")
	w, err := OpenWriter(path, suite, right)
	require.NoError(t, err)
	_, err = w.Write([]byte("protected content"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// rejected at open, before any payload is read
	_, _, err = OpenReader(path, suite, wrong)
	require.ErrorIs(t, err, ErrWrongKey)
}

func TestOpenReaderKeyAgainstPlaintext(t *testing.T) {
	suite := testSuite(t)
	key := deriveTestKey(t, "some-key")

	path := filepath.Join(t.TempDir(), "plain.mv.db")
	require.NoError(t, os.WriteFile(path, []byte("unencrypted"), 0600))

	_, _, err := OpenReader(path, suite, key)
	require.ErrorIs(t, err, ErrWrongKey)
}

func TestVerifyKey(t *testing.T) {
	suite := testSuite(t)
	key := deriveTestKey(t, "verify-key")
	other := deriveTestKey(t, "other-key")
	dir := t.TempDir()

	encrypted := filepath.Join(dir, "enc.mv.db")
	w, err := OpenWriter(encrypted, suite, key)
	require.NoError(t, err)
	_, err = w.Write([]byte("payload"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	plain := filepath.Join(dir, "plain.mv.db")
	require.NoError(t, os.WriteFile(plain, []byte("payload"), 0600))

	tests := []struct {
		name string
		path string
		key  *KeyMaterial
		want error
	}{
		{"RightKey", encrypted, key, nil},
		{"WrongKey", encrypted, other, ErrWrongKey},
		{"NoKeyOnEncrypted", encrypted, nil, ErrWrongKey},
		{"NoKeyOnPlain", plain, nil, nil},
		{"KeyOnPlain", plain, key, ErrWrongKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifyKey(tt.path, suite, tt.key)
			if tt.want == nil {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestVerifyKeyEmptyPlainFile(t *testing.T) {
	suite := testSuite(t)
	path := filepath.Join(t.TempDir(), "empty.mv.db")
	require.NoError(t, os.WriteFile(path, nil, 0600))
	require.NoError(t, VerifyKey(path, suite, nil))
}

func TestStreamChaCha20(t *testing.T) {
	suite, err := crypto.SuiteFor("CHACHA20")
	require.NoError(t, err)
	key := deriveTestKey(t, "chacha-passphrase")

	plaintext := make([]byte, misc.BlockSize*2+17)
	_, err = rand.Read(plaintext)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "cc.mv.db")
	w, err := OpenWriter(path, suite, key)
	require.NoError(t, err)
	_, err = w.Write(plaintext)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, total, err := OpenReader(path, suite, key)
	require.NoError(t, err)
	require.Equal(t, int64(len(plaintext)), total)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.True(t, bytes.Equal(plaintext, got))
}
