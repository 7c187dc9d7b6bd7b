package rekey

import (
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBackupAndRestore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.mv.db")
	data := make([]byte, 32*1024)
	_, err := rand.Read(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "app.lobs.db"), 0700))

	backupPath := filepath.Join(t.TempDir(), "before.rekey-backup")
	session, err := New(Options{
		Dir:               dir,
		Cipher:            "AES",
		EncryptPassphrase: "new-secret",
		Quiet:             true,
		BackupPath:        backupPath,
		BackupPassphrase:  "backup-secret",
	})
	require.NoError(t, err)
	defer session.Close()
	require.NoError(t, session.Run())

	// the backup holds the pre-migration bytes
	restoreDir := t.TempDir()
	require.NoError(t, RestoreBackup(backupPath, "backup-secret", restoreDir))

	restored, err := os.ReadFile(filepath.Join(restoreDir, "app.mv.db"))
	require.NoError(t, err)
	require.Equal(t, data, restored)

	info, err := os.Stat(filepath.Join(restoreDir, "app.lobs.db"))
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestRestoreBackupWrongPassphrase(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.mv.db"), []byte("content"), 0600))

	backupPath := filepath.Join(t.TempDir(), "b.rekey-backup")
	session, err := New(Options{
		Dir:               dir,
		Cipher:            "AES",
		EncryptPassphrase: "new-secret",
		Quiet:             true,
		BackupPath:        backupPath,
		BackupPassphrase:  "backup-secret",
	})
	require.NoError(t, err)
	defer session.Close()
	require.NoError(t, session.Run())

	err = RestoreBackup(backupPath, "not-the-passphrase", t.TempDir())
	require.Error(t, err)
}

func TestBackupRequiresPassphrase(t *testing.T) {
	_, err := New(Options{
		Dir:               t.TempDir(),
		Cipher:            "AES",
		EncryptPassphrase: "secret",
		BackupPath:        "somewhere.rekey-backup",
	})
	require.ErrorIs(t, err, ErrConfiguration)
}
