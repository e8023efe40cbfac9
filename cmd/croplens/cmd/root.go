package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/croplens/croplens/internal/config"
	"github.com/croplens/croplens/internal/version"
)

var (
	// Global configuration loader.
	configLoader *config.Loader
	// Global configuration.
	globalConfig *config.Config
	// Configuration file path.
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "croplens",
	Short: "Crop disease detection backed by dual hosted workflows",
	Long: `croplens submits crop images to two independently hosted detection
workflows (rice and wheat), compares their confidences under a configurable
policy and returns the authoritative verdict.

This tool provides:
- Single-image prediction with summary, detailed, json and yaml output
- Parallel batch processing with retry and per-item failure isolation
- An HTTP API with result caching and streamed batch progress

Examples:
  croplens predict leaf.jpg
  croplens batch images/ --workers 8 --format csv --output results.csv
  croplens serve --port 5000`,
	RunE: func(cmd *cobra.Command, args []string) error {
		v, _ := cmd.PersistentFlags().GetBool("version")
		if v {
			ver, commit, date := version.Info()
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "croplens version %s\n", ver)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Commit: %s\n", commit)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Date: %s\n", date)
			return nil
		}
		return cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// GetRootCommand returns the root command for testing purposes.
func GetRootCommand() *cobra.Command {
	return rootCmd
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags that apply to all commands
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is search in ., $HOME, $HOME/.config/croplens, /etc/croplens)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output (equivalent to --log-level=debug)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("api-key", "", "detection provider API key (or CROPLENS_PROVIDERS_API_KEY)")
	rootCmd.PersistentFlags().String("workspace", "", "detection provider workspace")
	rootCmd.PersistentFlags().Float64("min-confidence", 0.4, "minimum confidence threshold for a valid detection")
	rootCmd.PersistentFlags().Float64("confidence-margin", 0.02, "margin within which confidences are not decisively different")
	rootCmd.PersistentFlags().Bool("version", false, "print version information and exit")

	// Bind flags to viper
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("providers.api_key", rootCmd.PersistentFlags().Lookup("api-key"))
	_ = viper.BindPFlag("providers.workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("policy.min_confidence", rootCmd.PersistentFlags().Lookup("min-confidence"))
	_ = viper.BindPFlag("policy.confidence_margin", rootCmd.PersistentFlags().Lookup("confidence-margin"))

	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if globalConfig == nil {
			initConfig()
		}

		var logLevel slog.Level
		if globalConfig.Verbose {
			logLevel = slog.LevelDebug
		} else {
			switch globalConfig.LogLevel {
			case "debug":
				logLevel = slog.LevelDebug
			case "info":
				logLevel = slog.LevelInfo
			case "warn":
				logLevel = slog.LevelWarn
			case "error":
				logLevel = slog.LevelError
			default:
				logLevel = slog.LevelInfo
			}
		}

		logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: logLevel,
		}))
		slog.SetDefault(logger)

		if globalConfig.UsingPlaceholderCredentials() {
			fmt.Fprintln(os.Stderr,
				"Warning: using placeholder provider credentials. Set CROPLENS_PROVIDERS_API_KEY and CROPLENS_PROVIDERS_WORKSPACE.")
		}
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	configLoader = config.NewLoader()

	var err error
	if cfgFile != "" {
		globalConfig, err = configLoader.LoadWithFile(cfgFile)
	} else {
		globalConfig, err = configLoader.Load()
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
}

// GetConfig returns the global configuration.
func GetConfig() *config.Config {
	if globalConfig == nil {
		initConfig()
	}

	// Reload so CLI flag bindings registered after the initial load are
	// reflected in the returned config.
	loader := GetConfigLoader()
	var cfg config.Config
	if err := loader.GetViper().Unmarshal(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error unmarshaling updated configuration: %v\n", err)
		return globalConfig
	}

	return &cfg
}

// GetConfigLoader returns the global configuration loader.
func GetConfigLoader() *config.Loader {
	if configLoader == nil {
		configLoader = config.NewLoader()
	}
	return configLoader
}
