package rekey

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"southwinds.dev/rekey/internal/misc"
)

// FileTask is one file to migrate. Directory entries (large-object
// directories) are part of a database's file set but are skipped by the
// streaming copy.
type FileTask struct {
	Name  string // path of the file, joined with the directory
	IsDir bool
}

// lockStaleAfter is how old a lock heartbeat may be before the lock is
// considered abandoned when its owning process cannot be probed.
const lockStaleAfter = 2 * time.Minute

// lockInfo mirrors the JSON the storage engine writes into the lock
// file while a database is open.
type lockInfo struct {
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	Heartbeat time.Time `json:"heartbeat"`
}

// ListFiles enumerates the files belonging to the databases under dir,
// optionally restricted to one database name. Large-object directories
// are returned with IsDir set; lock files are never returned.
//
// With strict set, ListFiles fails with ErrDatabaseLocked if any
// matched database's lock file is held by a live process. The strict
// pass runs before any mutation; a second non-strict pass then yields
// the authoritative task list. The result is sorted so progress
// reporting is reproducible across the two passes.
func ListFiles(dir, database string, strict bool) ([]FileTask, error) {
	if dir == "" {
		dir = "."
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	var tasks []FileTask
	for _, entry := range entries {
		name := entry.Name()
		var base string
		switch {
		case strings.HasSuffix(name, misc.SuffixData):
			base = strings.TrimSuffix(name, misc.SuffixData)
		case strings.HasSuffix(name, misc.SuffixLobs):
			base = strings.TrimSuffix(name, misc.SuffixLobs)
		default:
			continue
		}
		if database != "" && base != database {
			continue
		}
		if strict {
			if err = checkLock(dir, base); err != nil {
				return nil, err
			}
		}
		tasks = append(tasks, FileTask{
			Name:  filepath.Join(dir, name),
			IsDir: entry.IsDir(),
		})
	}

	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Name < tasks[j].Name })
	return tasks, nil
}

// checkLock fails with ErrDatabaseLocked when the database's lock file
// belongs to a live owner. A stale lock (dead process, old heartbeat)
// is ignored: cleaning it up is the engine's business, not this tool's.
func checkLock(dir, database string) error {
	lockPath := filepath.Join(dir, database+misc.SuffixLock)
	data, err := os.ReadFile(lockPath)
	if err != nil {
		if misc.IsNotExistError(err) {
			return nil
		}
		return fmt.Errorf("failed to read lock file %s: %w", lockPath, err)
	}

	var info lockInfo
	if err = json.Unmarshal(data, &info); err != nil {
		// Unreadable lock content: assume held, the safe direction.
		return fmt.Errorf("%w: unreadable lock file %s", ErrDatabaseLocked, lockPath)
	}

	hostname, _ := os.Hostname()
	if info.Hostname != "" && info.Hostname != hostname {
		// A lock from another host cannot be probed; trust the heartbeat.
		if time.Since(info.Heartbeat) < lockStaleAfter {
			return fmt.Errorf("%w: database %s is open on %s", ErrDatabaseLocked, database, info.Hostname)
		}
		return nil
	}

	if info.PID > 0 && processAlive(info.PID) {
		return fmt.Errorf("%w: database %s is open by pid %d", ErrDatabaseLocked, database, info.PID)
	}
	if time.Since(info.Heartbeat) < lockStaleAfter {
		return fmt.Errorf("%w: database %s has a recent lock heartbeat", ErrDatabaseLocked, database)
	}
	return nil
}

func processAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	// EPERM means the process exists but belongs to someone else.
	return errors.Is(err, syscall.EPERM)
}
