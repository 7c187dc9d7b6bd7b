package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"southwinds.dev/rekey"
	"southwinds.dev/rekey/audit"
)

var cfgFile string

// rootCmd runs the migration itself when called without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "rekey",
	Short: "Change the file encryption passphrase or algorithm of a closed database",
	Long: `Changes the encryption passphrase or algorithm of a database's files,
or encrypts / decrypts them in place. The database must be closed before
running this tool; a database held open by another process is detected
and the operation aborts before any file is modified.

Omitting --decrypt means the files are not currently encrypted; omitting
--encrypt means the files end up unencrypted. Passphrases can also be
supplied through the REKEY_DECRYPT_PASSPHRASE and
REKEY_ENCRYPT_PASSPHRASE environment variables so they do not appear in
the process listing.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) > 0 {
			return fmt.Errorf("unknown argument: %s", args[0])
		}
		return runMigration(cmd)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.rekey.yaml)")

	rootCmd.Flags().StringP("dir", "d", ".", "directory containing the database files")
	rootCmd.Flags().StringP("cipher", "c", "", "cipher algorithm (AES, CHACHA20); required with a passphrase")
	rootCmd.Flags().String("db", "", "database name (all databases if not set)")
	rootCmd.Flags().String("decrypt", "", "current passphrase (if not set: not yet encrypted)")
	rootCmd.Flags().String("encrypt", "", "new passphrase (if not set: do not encrypt)")
	rootCmd.Flags().BoolP("quiet", "q", false, "do not print progress information")
	rootCmd.Flags().String("backup", "", "write an encrypted backup of the files to this path before migrating")
	rootCmd.Flags().String("backup-passphrase", "", "passphrase protecting the backup (or REKEY_BACKUP_PASSPHRASE)")

	// Audit flags
	rootCmd.Flags().Bool("audit", false, "enable audit logging")
	rootCmd.Flags().String("audit-type", "file", "audit logger type (file, syslog)")
	rootCmd.Flags().String("audit-file", "rekey-audit.log", "audit log file path")

	bindFlagOrPanic("rekey.dir", rootCmd.Flags(), "dir")
	bindFlagOrPanic("rekey.cipher", rootCmd.Flags(), "cipher")
	bindFlagOrPanic("rekey.db", rootCmd.Flags(), "db")
	bindFlagOrPanic("rekey.decrypt_passphrase", rootCmd.Flags(), "decrypt")
	bindFlagOrPanic("rekey.encrypt_passphrase", rootCmd.Flags(), "encrypt")
	bindFlagOrPanic("rekey.quiet", rootCmd.Flags(), "quiet")
	bindFlagOrPanic("rekey.backup.path", rootCmd.Flags(), "backup")
	bindFlagOrPanic("rekey.backup.passphrase", rootCmd.Flags(), "backup-passphrase")
	bindFlagOrPanic("audit.enabled", rootCmd.Flags(), "audit")
	bindFlagOrPanic("audit.type", rootCmd.Flags(), "audit-type")
	bindFlagOrPanic("audit.options.file_path", rootCmd.Flags(), "audit-file")
}

func bindFlagOrPanic(configKey string, flags *pflag.FlagSet, flagName string) {
	if err := viper.BindPFlag(configKey, flags.Lookup(flagName)); err != nil {
		panic(fmt.Sprintf("failed to bind %s flag: %v", flagName, err))
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".rekey")
	}

	viper.SetEnvPrefix("REKEY")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
		}
		// No config file is fine: flags and env vars cover everything.
	}
}

func runMigration(cmd *cobra.Command) error {
	auditLogger, err := createAuditLogger()
	if err != nil {
		return fmt.Errorf("failed to create audit logger: %w", err)
	}
	defer auditLogger.Close()

	options := rekey.Options{
		Dir:               viper.GetString("rekey.dir"),
		Database:          viper.GetString("rekey.db"),
		Cipher:            viper.GetString("rekey.cipher"),
		DecryptPassphrase: passphraseFrom("rekey.decrypt_passphrase", "REKEY_DECRYPT_PASSPHRASE"),
		EncryptPassphrase: passphraseFrom("rekey.encrypt_passphrase", "REKEY_ENCRYPT_PASSPHRASE"),
		Quiet:             viper.GetBool("rekey.quiet"),
		Out:               os.Stdout,
		Audit:             auditLogger,
		BackupPath:        viper.GetString("rekey.backup.path"),
		BackupPassphrase:  passphraseFrom("rekey.backup.passphrase", "REKEY_BACKUP_PASSPHRASE"),
	}

	session, err := rekey.New(options)
	if err != nil {
		if errors.Is(err, rekey.ErrConfiguration) {
			// Show the grammar alongside a usage mistake.
			fmt.Fprintln(os.Stderr, cmd.UsageString())
		}
		return err
	}
	defer session.Close()

	return session.Run()
}

func passphraseFrom(configKey, envVar string) string {
	if v := viper.GetString(configKey); v != "" {
		return v
	}
	return os.Getenv(envVar)
}

func createAuditLogger() (audit.Logger, error) {
	return audit.NewLogger(&audit.Config{
		Enabled: viper.GetBool("audit.enabled"),
		Type:    audit.ConfigType(viper.GetString("audit.type")),
		Options: map[string]interface{}{
			"file_path": viper.GetString("audit.options.file_path"),
		},
	})
}
