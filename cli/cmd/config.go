package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage tool configuration",
}

// configViewCmd shows current configuration
var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "View current configuration",
	Long:  `Display the effective configuration from all sources (config file, environment variables, flags). Passphrases are redacted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConfigView()
	},
}

func runConfigView() error {
	settings := viper.AllSettings()
	redactPassphrases(settings)

	out, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to render configuration: %w", err)
	}

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(os.Stdout, "# config file: %s\n", viper.ConfigFileUsed())
	}
	fmt.Fprint(os.Stdout, string(out))
	return nil
}

// redactPassphrases blanks any key that carries secret material before
// the settings are printed.
func redactPassphrases(settings map[string]interface{}) {
	for key, value := range settings {
		if nested, ok := value.(map[string]interface{}); ok {
			redactPassphrases(nested)
			continue
		}
		if key == "passphrase" || key == "decrypt_passphrase" || key == "encrypt_passphrase" {
			if s, ok := value.(string); ok && s != "" {
				settings[key] = "********"
			}
		}
	}
}

func init() {
	configCmd.AddCommand(configViewCmd)
	rootCmd.AddCommand(configCmd)
}
