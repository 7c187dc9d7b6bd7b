package rekey

import (
	"fmt"
	"io"

	"southwinds.dev/rekey/audit"
	"southwinds.dev/rekey/internal/crypto"
)

// Options configures one migration invocation.
//
// Exactly one of the passphrase combinations applies per run:
// decrypt-only (DecryptPassphrase set), encrypt-only (EncryptPassphrase
// set) or re-key (both set). Neither set is rejected before any file is
// touched. A cipher is required whenever a passphrase is given.
type Options struct {
	// Dir is the directory containing the database files ("." if empty).
	Dir string

	// Database restricts the migration to one database's files; empty
	// means every database in Dir.
	Database string

	// Cipher is the cipher algorithm identifier (AES, CHACHA20).
	Cipher string

	// DecryptPassphrase unlocks the current on-disk state; empty means
	// the files are not currently encrypted.
	DecryptPassphrase string `json:"-"`

	// EncryptPassphrase protects the migrated state; empty means the
	// files end up unencrypted.
	EncryptPassphrase string `json:"-"`

	// Quiet suppresses progress and informational output.
	Quiet bool

	// Out receives progress and notices (default os.Stdout).
	Out io.Writer

	// Audit receives migration events (default no-op).
	Audit audit.Logger

	// BackupPath, when set, writes an encrypted archive of every
	// matched file before any mutation. Requires BackupPassphrase.
	BackupPath string

	// BackupPassphrase protects the pre-migration backup container.
	BackupPassphrase string `json:"-"`
}

func validateOptions(options Options) error {
	if options.DecryptPassphrase == "" && options.EncryptPassphrase == "" {
		return fmt.Errorf("%w: encryption or decryption passphrase not set", ErrConfiguration)
	}
	if options.Cipher == "" {
		return fmt.Errorf("%w: cipher not set", ErrConfiguration)
	}
	if _, err := crypto.SuiteFor(options.Cipher); err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if options.BackupPath != "" && options.BackupPassphrase == "" {
		return fmt.Errorf("%w: backup path set without a backup passphrase", ErrConfiguration)
	}
	return nil
}
