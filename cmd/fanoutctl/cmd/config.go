package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const configFileName = ".fanoutctl.yaml"

var validConfigKeys = []string{"server", "timeout", "json", "pretty", "token"}

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage fanoutctl configuration",
	Long:  `Manage fanoutctl configuration settings.`,
}

// configViewCmd represents the config view command
var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "View current configuration",
	Long:  `Display the current configuration settings.`,
	Run: func(cmd *cobra.Command, args []string) {
		if outputJSON {
			printOutput(map[string]any{
				"server":  viper.GetString("server"),
				"timeout": viper.GetDuration("timeout").String(),
				"json":    viper.GetBool("json"),
				"pretty":  viper.GetBool("pretty"),
				"token":   viper.GetString("token") != "",
			})
			return
		}
		fmt.Fprintln(out, "Current configuration:")
		fmt.Fprintf(out, "  Server: %s\n", viper.GetString("server"))
		fmt.Fprintf(out, "  Timeout: %s\n", viper.GetDuration("timeout"))
		fmt.Fprintf(out, "  JSON Output: %v\n", viper.GetBool("json"))
		fmt.Fprintf(out, "  Pretty JSON: %v\n", viper.GetBool("pretty"))
		fmt.Fprintf(out, "  Token set: %v\n", viper.GetString("token") != "")

		if viper.GetBool("pretty") && !checkJQAvailable() {
			fmt.Fprintln(out, "  ⚠️  Warning: pretty=true but jq not found in PATH")
		}
		if viper.ConfigFileUsed() != "" {
			fmt.Fprintf(out, "  Config file: %s\n", viper.ConfigFileUsed())
		} else {
			fmt.Fprintln(out, "  Config file: none (using defaults)")
		}
	},
}

// configSetCmd represents the config set command
var configSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Set a configuration value",
	Long: `Set a configuration value and save it to the config file.

Examples:
  fanoutctl config set server localhost:8080
  fanoutctl config set timeout 60s
  fanoutctl config set pretty true`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		v, err := configValue(key, value)
		if err != nil {
			return err
		}
		if key == "pretty" && v == true && !checkJQAvailable() {
			fmt.Fprintln(out, "⚠️  Warning: jq not found in PATH. Pretty formatting will fall back to standard formatting.")
		}
		viper.Set(key, v)

		configPath, err := configPath()
		if err != nil {
			return err
		}
		if err := viper.WriteConfigAs(configPath); err != nil {
			return fmt.Errorf("failed to write config file: %w", err)
		}

		fmt.Fprintf(out, "Set %s = %s\n", key, value)
		fmt.Fprintf(out, "Configuration saved to: %s\n", configPath)
		return nil
	},
}

// configValue validates key and converts value to the type viper stores.
func configValue(key, value string) (any, error) {
	switch key {
	case "json", "pretty":
		switch value {
		case "true", "1", "yes", "on":
			return true, nil
		case "false", "0", "no", "off":
			return false, nil
		}
		return nil, fmt.Errorf("invalid boolean value for %s: %s (use true/false)", key, value)
	case "timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return nil, fmt.Errorf("invalid duration for timeout: %w", err)
		}
		return d.String(), nil
	case "server", "token":
		return value, nil
	}
	return nil, fmt.Errorf("invalid configuration key: %s. Valid keys are: %v", key, validConfigKeys)
}

func configPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, configFileName), nil
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configViewCmd)
	configCmd.AddCommand(configSetCmd)
}
