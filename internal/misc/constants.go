package misc

const (
	// SuffixData is the suffix of a database data file.
	SuffixData = ".mv.db"
	// SuffixLock is the suffix of the lock file a running engine holds.
	SuffixLock = ".lock.db"
	// SuffixLobs is the suffix of a large-object directory. It is part of a
	// database's file set but its contents are never streamed.
	SuffixLobs = ".lobs.db"

	// BlockSize is the cipher block granularity of the storage format.
	// The on-disk header occupies exactly one block.
	BlockSize = 4096

	// CopyChunkSize is the buffer size of the migration copy loop.
	CopyChunkSize = 4 * 1024

	// ArgonTime Key derivation parameters
	ArgonTime    uint32 = 4
	ArgonMemory  uint32 = 128 * 1024
	ArgonThreads uint8  = 4
	ArgonKeyLen  uint32 = 32

	// FileKeyIterations is the PBKDF2 round count used to expand derived
	// key material into a per-file cipher key.
	FileKeyIterations = 4096

	SaltSize = 16

	FilePermissions = 0600 // user read + write
)
