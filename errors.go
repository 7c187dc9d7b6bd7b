package rekey

import "errors"

// Every failure mode of a migration wraps one of these sentinels so
// callers can branch on the cause with errors.Is. All of them are fatal
// to the invocation; the operation is safely re-runnable after the
// reported cause is fixed.
var (
	// ErrConfiguration reports an invalid option combination: neither
	// key present, a key present without a cipher, or an unknown cipher.
	// Raised before any filesystem access.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrDatabaseLocked reports that a matched database is open in
	// another process. Raised before any mutation; retry once closed.
	ErrDatabaseLocked = errors.New("database in use")

	// ErrRenameProbe reports that a file could not be moved and moved
	// back in its directory. Raised before any content is touched, so a
	// probe failure leaves every file in the batch unmodified.
	ErrRenameProbe = errors.New("rename probe failed")

	// ErrWrongKey reports that the decryption key does not match a
	// file's validation marker. Raised before that file's temp output
	// is created.
	ErrWrongKey = errors.New("wrong decryption key")

	// ErrInvalidPassphrase reports a passphrase that violates the
	// naming constraints of the migration's intermediate files.
	ErrInvalidPassphrase = errors.New("invalid passphrase")
)
