package rekey

import (
	"fmt"
	"strings"

	"github.com/awnumar/memguard"

	"southwinds.dev/rekey/internal/crypto"
)

// KeyMaterial holds derived key bytes sealed in a memguard enclave. The
// plaintext key only exists in locked memory while a closure passed to
// use is running; it is wiped as soon as the closure returns. A nil
// *KeyMaterial means "no cipher" (plaintext).
type KeyMaterial struct {
	enclave *memguard.Enclave
}

// DeriveKey derives fixed-length key material from a passphrase.
//
// The passphrase may not be empty and may not contain spaces: migration
// tooling historically embedded passwords in intermediate file names,
// and the constraint is kept as a validation rule. The passphrase's
// backing bytes are wiped after derivation.
func DeriveKey(passphrase string) (*KeyMaterial, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("%w: passphrase cannot be empty", ErrInvalidPassphrase)
	}
	if strings.ContainsRune(passphrase, ' ') {
		return nil, fmt.Errorf("%w: passphrase may not contain spaces", ErrInvalidPassphrase)
	}

	buf := []byte(passphrase)
	defer memguard.WipeBytes(buf)

	derived := crypto.DeriveKeyMaterial(buf)

	// NewEnclave wipes the source slice after sealing.
	return &KeyMaterial{enclave: memguard.NewEnclave(derived)}, nil
}

// use opens the enclave, hands the plaintext key to fn and destroys the
// unsealed buffer when fn returns.
func (k *KeyMaterial) use(fn func(key []byte) error) error {
	buffer, err := k.enclave.Open()
	if err != nil {
		return fmt.Errorf("failed to open key enclave: %w", err)
	}
	defer buffer.Destroy()
	return fn(buffer.Bytes())
}

// fileKey derives the per-file cipher key for the given header salt.
// The caller owns the result and must wipe it after use.
func (k *KeyMaterial) fileKey(salt []byte, size int) ([]byte, error) {
	var out []byte
	err := k.use(func(key []byte) error {
		out = crypto.FileKey(key, salt, size)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Destroy drops the sealed key material. The KeyMaterial must not be
// used afterwards.
func (k *KeyMaterial) Destroy() {
	if k == nil {
		return
	}
	k.enclave = nil
}
