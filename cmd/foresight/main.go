package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/foresight/internal/common"
)

var (
	// Global flags
	configFiles []string
	serverPort  int
	serverHost  string
	serverURL   string

	// Global state
	config *common.Config
	logger arbor.ILogger
)

var rootCmd = &cobra.Command{
	Use:   "foresight",
	Short: "Commodity forecasting pipeline",
	Long: `Foresight collects price, market and news signals for commodity profiles,
refines them into aggregates and fans them into an ensemble forecast.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.PersistentFlags().StringArrayVarP(&configFiles, "config", "c", nil, "configuration file (repeatable, later files override earlier ones)")
	rootCmd.PersistentFlags().IntVarP(&serverPort, "port", "p", 0, "server port (overrides config)")
	rootCmd.PersistentFlags().StringVar(&serverHost, "host", "", "server host (overrides config)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "talk to a running server at this URL instead of opening the store")
}

// loadConfig runs the startup sequence: config files, env, flags, logger
func loadConfig(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "version" {
		return nil
	}

	if len(configFiles) == 0 {
		if _, err := os.Stat("foresight.toml"); err == nil {
			configFiles = append(configFiles, "foresight.toml")
		} else if _, err := os.Stat("deployments/local/foresight.toml"); err == nil {
			configFiles = append(configFiles, "deployments/local/foresight.toml")
		}
	}

	var err error
	config, err = common.LoadFromFiles(configFiles...)
	if err != nil {
		return fmt.Errorf("failed to load configuration %v: %w", configFiles, err)
	}

	common.ApplyFlagOverrides(config, serverPort, serverHost)
	logger = common.InitLogger(config)
	common.InstallCrashHandler(common.LogsDirectory())

	logger.Debug().
		Strs("config_files", configFiles).
		Str("storage_type", config.Storage.Type).
		Str("llm_provider", config.LLM.Provider).
		Msg("Configuration loaded")
	return nil
}

// remote reports whether commands should go through the HTTP API
func remote() bool {
	return strings.TrimSpace(serverURL) != ""
}

func main() {
	defer common.RecoverWithCrashFile()

	if err := rootCmd.Execute(); err != nil {
		// Falls back to a console logger when config never loaded
		common.GetLogger().Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}
