package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/uzarakhq/bpsr-uza-modules/internal/config"
	"github.com/uzarakhq/bpsr-uza-modules/internal/session"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or initialize configuration",
	Long: `View or initialize bpsrmon configuration.

Examples:
  # Print the resolved configuration
  bpsrmon config

  # Print the default config path
  bpsrmon config --path

  # Write a default config file
  bpsrmon config --init

  # Write a default config file to a custom path
  bpsrmon config --init --output ./config.yaml

  # Sanity-check the GA tuning knobs and schema override path
  bpsrmon config --validate

  # List the category/attribute names accepted by --category/--priority
  bpsrmon config --categories
  bpsrmon config --attributes`,
	RunE: runConfig,
}

func init() {
	configCmd.Flags().Bool("init", false, "write a default config file")
	configCmd.Flags().Bool("force", false, "overwrite existing config file when using --init")
	configCmd.Flags().Bool("path", false, "print the default config file path")
	configCmd.Flags().StringP("output", "o", "", "output path for --init (defaults to config path)")
	configCmd.Flags().Bool("validate", false, "validate the optimizer settings and schema override path")
	configCmd.Flags().Bool("categories", false, "list the module categories accepted by --category")
	configCmd.Flags().Bool("attributes", false, "list the attribute names accepted by --attributes/--priority")
}

func runConfig(cmd *cobra.Command, args []string) error {
	showPath, _ := cmd.Flags().GetBool("path")
	initFile, _ := cmd.Flags().GetBool("init")
	force, _ := cmd.Flags().GetBool("force")
	output, _ := cmd.Flags().GetString("output")
	validate, _ := cmd.Flags().GetBool("validate")
	listCategories, _ := cmd.Flags().GetBool("categories")
	listAttributes, _ := cmd.Flags().GetBool("attributes")

	if listCategories {
		for _, c := range session.ListCategories() {
			fmt.Fprintln(cmd.OutOrStdout(), c)
		}
		return nil
	}
	if listAttributes {
		for _, a := range session.ListAttributes() {
			fmt.Fprintln(cmd.OutOrStdout(), a)
		}
		return nil
	}

	configPath := resolveConfigPath(output)
	if showPath {
		fmt.Fprintln(cmd.OutOrStdout(), configPath)
		return nil
	}

	if initFile {
		return writeDefaultConfig(configPath, force, cmd)
	}

	effective := GetConfig()

	if validate {
		if err := effective.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
		return nil
	}

	data, err := yaml.Marshal(effective)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func resolveConfigPath(output string) string {
	if output != "" {
		return output
	}
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultConfigPath()
}

func writeDefaultConfig(path string, force bool, cmd *cobra.Command) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", path)
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to check config file: %w", err)
		}
	}

	data, err := yaml.Marshal(config.DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Wrote config to %s\n", path)
	return nil
}
