package rekey

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"southwinds.dev/rekey/internal/misc"
)

// tempFileName derives the shared temporary file name for a directory.
// It is stable across runs for the same directory, so a stale temp file
// left by an aborted run is found and deleted on the next one, and it
// cannot collide with temp files of migrations running against other
// directories.
func tempFileName(dir string) string {
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	sum := sha256.Sum256([]byte(abs))
	return fmt.Sprintf(".rekey-%s.tmp.db", hex.EncodeToString(sum[:4]))
}

func generateSessionID() string {
	return uuid.NewString()
}

// removeIfExists deletes path, treating a missing file as success.
func removeIfExists(path string) error {
	err := os.Remove(path)
	if err != nil && !misc.IsNotExistError(err) {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return nil
}

// percentDone computes the progress percentage the way the engine's
// tooling always has: 100 - 100*remaining/total.
func percentDone(remaining, total int64) int64 {
	if total <= 0 {
		return 100
	}
	return 100 - 100*remaining/total
}

// progressInterval is the minimum wall-clock gap between two progress
// notifications for one file. Shortened in tests.
var progressInterval = time.Second
