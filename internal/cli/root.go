// Package cli provides the command-line interface for bpsrmon.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/uzarakhq/bpsr-uza-modules/internal/config"
)

var cfgFile string
var cfg *config.Config

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "bpsrmon",
	Short: "A passive monitor for in-flight equipment modules",
	Long: `bpsrmon passively observes a game server's TCP traffic and surfaces the
best 4-module equipment combinations it can find, without ever touching
the game's own connection.

Examples:
  # List capture-capable interfaces
  bpsrmon interfaces

  # Start monitoring on an interface
  bpsrmon monitor -i en0 --category Attack

  # Re-run the optimizer against already-captured data
  bpsrmon rescreen --category Guard --priority "Crit Rate,Special Attack"

  # Print the effective configuration
  bpsrmon config`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Add subcommands
	rootCmd.AddCommand(interfacesCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(rescreenCmd)
	rootCmd.AddCommand(configCmd)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/bpsrmon/config.yaml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("schema-overrides", "", "path to a YAML file of new-patch module config-id overrides")
	rootCmd.PersistentFlags().Int("generations", 0, "override the GA's generation count (0 = use config)")
	rootCmd.PersistentFlags().Int("population", 0, "override the GA's population size (0 = use config)")

	// Bind flags to viper
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	var err error
	if cfgFile != "" {
		cfg, err = config.LoadFromFile(cfgFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		// Use defaults if config load fails
		cfg = config.DefaultConfig()
	}

	// Override with viper values
	if viper.IsSet("capture.snaplen") {
		cfg.Capture.Snaplen = int32(viper.GetInt("capture.snaplen"))
	}
	if viper.IsSet("capture.promisc") {
		cfg.Capture.Promiscuous = viper.GetBool("capture.promisc")
	}
	if viper.IsSet("capture.timeout") {
		cfg.Capture.Timeout = viper.GetDuration("capture.timeout")
	}
	if viper.IsSet("log_level") {
		cfg.Logging.Level = viper.GetString("log_level")
	}

	// These three read the raw persistent flags rather than going through
	// viper.IsSet: their zero values (0, 0, "") are valid "leave the config
	// alone" sentinels, which IsSet can't distinguish from "the flag's
	// default was bound."
	if path, _ := rootCmd.PersistentFlags().GetString("schema-overrides"); path != "" {
		cfg.Schema.Path = path
	}
	if generations, _ := rootCmd.PersistentFlags().GetInt("generations"); generations > 0 {
		cfg.Optimizer.Generations = generations
	}
	if population, _ := rootCmd.PersistentFlags().GetInt("population"); population > 0 {
		cfg.Optimizer.PopulationSize = population
	}
}

// GetConfig returns the loaded configuration
func GetConfig() *config.Config {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return cfg
}
