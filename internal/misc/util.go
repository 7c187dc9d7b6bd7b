package misc

import (
	"errors"
	"io/fs"
	"os"
)

// IsNotExistError reports whether err indicates a missing file or
// directory, unwrapping as needed.
func IsNotExistError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, fs.ErrNotExist) {
		return true
	}
	return os.IsNotExist(err)
}
