package crypto

import (
	"crypto/hmac"
	"crypto/sha256"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"

	"southwinds.dev/rekey/internal/misc"
)

// derivationLabel keeps the first derivation stage deterministic: the
// same passphrase always yields the same key material. Uniqueness per
// file comes from the header salt in FileKey, not from this stage.
var derivationLabel = []byte("rekey/v1/key-material")

// DeriveKeyMaterial derives fixed-length key material from a passphrase
// using Argon2id. The caller owns the result and must wipe it.
func DeriveKeyMaterial(passphrase []byte) []byte {
	return argon2.IDKey(
		passphrase,
		derivationLabel,
		misc.ArgonTime,
		misc.ArgonMemory,
		misc.ArgonThreads,
		misc.ArgonKeyLen,
	)
}

// FileKey expands key material into a per-file cipher key of the
// requested size, salted with the file header's salt.
func FileKey(keyMaterial, salt []byte, size int) []byte {
	return pbkdf2.Key(keyMaterial, salt, misc.FileKeyIterations, size, sha256.New)
}

// Verifier computes the validation marker stored in the file header. A
// reader recomputes it from the derived file key to detect a wrong
// decryption key before any payload is touched.
func Verifier(salt, fileKey []byte) []byte {
	h := sha256.New()
	h.Write(salt)
	h.Write(fileKey)
	return h.Sum(nil)
}

// VerifierMatch compares a stored verifier against a recomputed one in
// constant time.
func VerifierMatch(stored, computed []byte) bool {
	return hmac.Equal(stored, computed)
}
