// Package rekey changes the encryption passphrase or algorithm of a
// closed storage engine's data files, or encrypts / decrypts them in
// place, without changing their logical content.
//
// The database must be closed before a migration is run; the lock check
// enforces this precondition and fails fast while no file has been
// touched. Each file is migrated independently by streaming it through
// a decrypting reader into an encrypting writer over a temporary file,
// then swapping the temporary file into place with delete-then-rename.
// A crash in the narrow window between delete and rename loses that one
// file's prior content while its migrated replacement is complete on
// disk under the temporary name; this is a known, accepted limitation
// of the per-file sequential protocol.
package rekey

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"southwinds.dev/rekey/audit"
	"southwinds.dev/rekey/internal/crypto"
	"southwinds.dev/rekey/internal/debug"
	"southwinds.dev/rekey/internal/mem"
	"southwinds.dev/rekey/internal/misc"
)

// Session is one migration invocation. It owns the derived key material
// for its lifetime and must be closed so the keys are dropped and
// memory locks released. A Session is single-use and single-threaded.
type Session struct {
	id       string
	dir      string
	database string
	suite    crypto.Suite
	oldKey   *KeyMaterial
	newKey   *KeyMaterial
	quiet    bool
	out      io.Writer
	audit    audit.Logger
	tempName string

	backupPath       string
	backupPassphrase string

	memLocked bool
	closed    bool
}

// New validates options, derives key material from the supplied
// passphrases and prepares a migration session. It performs no
// filesystem access beyond resolving the temp file name.
func New(options Options) (*Session, error) {
	if err := validateOptions(options); err != nil {
		return nil, err
	}

	suite, err := crypto.SuiteFor(options.Cipher)
	if err != nil {
		// validateOptions already vetted the name
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	dir := options.Dir
	if dir == "" {
		dir = "."
	}
	out := options.Out
	if out == nil {
		out = os.Stdout
	}
	auditLogger := options.Audit
	if auditLogger == nil {
		auditLogger = audit.NewNoOpLogger()
	}

	s := &Session{
		id:               generateSessionID(),
		dir:              dir,
		database:         options.Database,
		suite:            suite,
		quiet:            options.Quiet,
		out:              out,
		audit:            auditLogger,
		tempName:         tempFileName(dir),
		backupPath:       options.BackupPath,
		backupPassphrase: options.BackupPassphrase,
	}

	// Best effort: keep key material off swap while the session holds it.
	if level, err := mem.Lock(); err == nil && level != mem.ProtectionNone {
		s.memLocked = true
	}

	if options.EncryptPassphrase != "" {
		if s.newKey, err = DeriveKey(options.EncryptPassphrase); err != nil {
			s.Close()
			return nil, err
		}
	}
	if options.DecryptPassphrase != "" {
		if s.oldKey, err = DeriveKey(options.DecryptPassphrase); err != nil {
			s.Close()
			return nil, err
		}
	}

	return s, nil
}

// Close drops the session's key material and releases memory locks.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.oldKey.Destroy()
	s.newKey.Destroy()
	if s.memLocked {
		return mem.Unlock()
	}
	return nil
}

// Run executes the migration. Any error aborts the remaining batch;
// files already migrated stay migrated. The operation is safely
// re-runnable after the reported cause is fixed: stale temp files are
// deleted on re-entry before each use.
func (s *Session) Run() error {
	if s.closed {
		return fmt.Errorf("session is closed")
	}

	s.logAudit("migration_start", true, map[string]interface{}{
		"dir":      s.dir,
		"database": s.database,
		"cipher":   s.suite.Name(),
		"decrypt":  s.oldKey != nil,
		"encrypt":  s.newKey != nil,
	})

	err := s.run()
	if err != nil {
		s.logAudit("migration_failed", false, map[string]interface{}{"error": err.Error()})
		return err
	}
	s.logAudit("migration_complete", true, nil)
	return nil
}

func (s *Session) run() error {
	// Strict pass: fail on a held lock before any rename work happens.
	if _, err := ListFiles(s.dir, s.database, true); err != nil {
		return err
	}

	// Non-strict pass: the authoritative task list.
	tasks, err := ListFiles(s.dir, s.database, false)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		if !s.quiet {
			fmt.Fprintf(s.out, "no database files found in %s\n", s.dir)
		}
		return nil
	}

	if s.backupPath != "" {
		if err = s.backupFiles(tasks); err != nil {
			return err
		}
	}

	// Probe every file with a non-destructive move round trip to catch
	// permission and lock problems before any content is touched. After
	// this point the batch is committed.
	if err = s.renameProbe(tasks); err != nil {
		return err
	}

	for _, task := range tasks {
		if task.IsDir {
			debug.Print("skipping directory %s\n", task.Name)
			continue
		}
		if err = s.migrateFile(task.Name); err != nil {
			s.logAudit("migrate_file", false, map[string]interface{}{
				"file":  task.Name,
				"error": err.Error(),
			})
			return err
		}
		s.logAudit("migrate_file", true, map[string]interface{}{"file": task.Name})
	}
	return nil
}

func (s *Session) tempPath() string {
	return filepath.Join(s.dir, s.tempName)
}

func (s *Session) renameProbe(tasks []FileTask) error {
	temp := s.tempPath()
	for _, task := range tasks {
		if err := removeIfExists(temp); err != nil {
			return fmt.Errorf("%w: %v", ErrRenameProbe, err)
		}
		if err := os.Rename(task.Name, temp); err != nil {
			return fmt.Errorf("%w: %v", ErrRenameProbe, err)
		}
		if err := os.Rename(temp, task.Name); err != nil {
			return fmt.Errorf("%w: cannot move %s back: %v", ErrRenameProbe, task.Name, err)
		}
	}
	s.logAudit("rename_probe", true, map[string]interface{}{"files": len(tasks)})
	return nil
}

func (s *Session) migrateFile(name string) error {
	// Assert the old key against the storage format's validation marker
	// before the temp destination exists: a bad key never produces
	// partial output.
	if err := VerifyKey(name, s.suite, s.oldKey); err != nil {
		return err
	}

	src, total, err := OpenReader(name, s.suite, s.oldKey)
	if err != nil {
		return err
	}

	temp := s.tempPath()
	if err = removeIfExists(temp); err != nil {
		src.Close()
		return err
	}

	dst, err := OpenWriter(temp, s.suite, s.newKey)
	if err != nil {
		src.Close()
		return err
	}

	err = s.copyWithProgress(name, dst, src, total)

	if cerr := src.Close(); err == nil {
		err = cerr
	}
	// The writer's Close flushes the final cipher block; its error is
	// as fatal as a write error.
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("error encrypting / decrypting file %s: %w", name, err)
	}

	if !s.quiet {
		fmt.Fprintf(s.out, "%s: 100%%\n", name)
	}

	// Delete-then-rename swap. A crash between the two calls is the
	// documented window where name's prior content is gone while the
	// migrated copy still sits under the temp name.
	if err = os.Remove(name); err != nil {
		return fmt.Errorf("failed to delete %s: %w", name, err)
	}
	if err = os.Rename(temp, name); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", temp, err)
	}
	return nil
}

func (s *Session) copyWithProgress(name string, dst io.Writer, src io.Reader, total int64) error {
	buffer := make([]byte, misc.CopyChunkSize)
	remaining := total
	last := time.Now()
	for {
		n, err := src.Read(buffer)
		if n > 0 {
			if _, werr := dst.Write(buffer[:n]); werr != nil {
				return werr
			}
			remaining -= int64(n)
			if !s.quiet && time.Since(last) >= progressInterval {
				fmt.Fprintf(s.out, "%s: %d%%\n", name, percentDone(remaining, total))
				last = time.Now()
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (s *Session) logAudit(action string, success bool, metadata map[string]interface{}) {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	metadata["session_id"] = s.id
	// Audit failures must not abort a half-done migration.
	if err := s.audit.Log(action, success, metadata); err != nil {
		debug.Print("audit log failed: %v\n", err)
	}
}

// Execute runs a complete migration with the given parameters: dir is
// the directory containing the database files, database optionally
// restricts the run to one database, cipher names the algorithm, and
// the passphrases select decrypt-only, encrypt-only or re-key mode.
// It is the programmatic equivalent of the command line tool.
func Execute(dir, database, cipher, decryptPassphrase, encryptPassphrase string, quiet bool) error {
	session, err := New(Options{
		Dir:               dir,
		Database:          database,
		Cipher:            cipher,
		DecryptPassphrase: decryptPassphrase,
		EncryptPassphrase: encryptPassphrase,
		Quiet:             quiet,
	})
	if err != nil {
		return err
	}
	defer session.Close()
	return session.Run()
}
