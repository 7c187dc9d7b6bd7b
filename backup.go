package rekey

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"southwinds.dev/rekey/internal/crypto"
	"southwinds.dev/rekey/internal/misc"
)

// A pre-migration backup is a single self-contained container: the
// matched files are serialized, encrypted with a passphrase that is
// independent of the migration keys, and written to the backup path.
// The container can be restored to any directory, so a failed batch can
// be rolled back by hand even across the per-file crash window.

type backupContainer struct {
	BackupID         string    `json:"backup_id"`
	CreatedAt        time.Time `json:"created_at"`
	Directory        string    `json:"directory"`
	EncryptionMethod string    `json:"encryption_method"`
	EncryptedData    string    `json:"encrypted_data"` // base64
	Checksum         string    `json:"checksum"`       // sha-256 of the encrypted bytes
}

type backupPayload struct {
	Files []backupFile `json:"files"`
}

type backupFile struct {
	Name string `json:"name"`           // base name within the directory
	Data []byte `json:"data,omitempty"` // nil for directories
	Dir  bool   `json:"dir,omitempty"`
}

const backupEncryptionMethod = "pbkdf2-chacha20poly1305"

// backupFiles archives every task into an encrypted container before
// any mutation. Large-object directories are recorded by name only.
func (s *Session) backupFiles(tasks []FileTask) error {
	payload := backupPayload{}
	for _, task := range tasks {
		entry := backupFile{Name: filepath.Base(task.Name), Dir: task.IsDir}
		if !task.IsDir {
			data, err := os.ReadFile(task.Name)
			if err != nil {
				return fmt.Errorf("failed to read %s for backup: %w", task.Name, err)
			}
			entry.Data = data
		}
		payload.Files = append(payload.Files, entry)
	}

	serialized, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to serialize backup data: %w", err)
	}

	encrypted, err := crypto.EncryptWithPassphrase(serialized, s.backupPassphrase)
	if err != nil {
		return fmt.Errorf("failed to encrypt backup: %w", err)
	}

	container := backupContainer{
		BackupID:         generateSessionID(),
		CreatedAt:        time.Now().UTC(),
		Directory:        s.dir,
		EncryptionMethod: backupEncryptionMethod,
		EncryptedData:    base64.StdEncoding.EncodeToString(encrypted),
		Checksum:         crypto.CalculateChecksum(encrypted),
	}

	data, err := json.MarshalIndent(container, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize backup container: %w", err)
	}

	if dir := filepath.Dir(s.backupPath); dir != "." {
		if err = os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create backup directory: %w", err)
		}
	}
	if err = os.WriteFile(s.backupPath, data, misc.FilePermissions); err != nil {
		return fmt.Errorf("failed to write backup: %w", err)
	}

	s.logAudit("backup", true, map[string]interface{}{
		"backup_id": container.BackupID,
		"path":      s.backupPath,
		"files":     len(payload.Files),
	})
	if !s.quiet {
		fmt.Fprintf(s.out, "backup written to %s\n", s.backupPath)
	}
	return nil
}

// RestoreBackup decrypts a backup container and writes its files into
// destDir, overwriting existing files of the same name. It validates
// the container checksum before attempting decryption.
func RestoreBackup(backupPath, passphrase, destDir string) error {
	data, err := os.ReadFile(backupPath)
	if err != nil {
		return fmt.Errorf("failed to read backup %s: %w", backupPath, err)
	}

	var container backupContainer
	if err = json.Unmarshal(data, &container); err != nil {
		return fmt.Errorf("failed to parse backup container: %w", err)
	}

	encrypted, err := base64.StdEncoding.DecodeString(container.EncryptedData)
	if err != nil {
		return fmt.Errorf("failed to decode backup data: %w", err)
	}
	if crypto.CalculateChecksum(encrypted) != container.Checksum {
		return fmt.Errorf("backup checksum mismatch: container is corrupt")
	}

	serialized, err := crypto.DecryptWithPassphrase(encrypted, passphrase)
	if err != nil {
		return fmt.Errorf("failed to decrypt backup: %w", err)
	}

	var payload backupPayload
	if err = json.Unmarshal(serialized, &payload); err != nil {
		return fmt.Errorf("failed to parse backup payload: %w", err)
	}

	if err = os.MkdirAll(destDir, 0700); err != nil {
		return fmt.Errorf("failed to create %s: %w", destDir, err)
	}
	for _, f := range payload.Files {
		target := filepath.Join(destDir, filepath.Base(f.Name))
		if f.Dir {
			if err = os.MkdirAll(target, 0700); err != nil {
				return fmt.Errorf("failed to restore directory %s: %w", target, err)
			}
			continue
		}
		if err = os.WriteFile(target, f.Data, misc.FilePermissions); err != nil {
			return fmt.Errorf("failed to restore %s: %w", target, err)
		}
	}
	return nil
}
