// poolwatch - mining pool wallet monitor
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tos-network/poolwatch/internal/config"
	"github.com/tos-network/poolwatch/internal/util"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "poolwatch",
	Short: "Mining pool wallet monitor",
	Long: `poolwatch polls mining pool APIs for your wallets, normalizes their
stats, prices earnings in USD and raises alerts when workers go offline,
come back, or profit drops.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.SetVersionTemplate(fmt.Sprintf("poolwatch {{.Version}} (built %s)\n", buildTime))

	rootCmd.AddCommand(serveCmd, fetchCmd, pricesCmd, poolsCmd)
}

// loadConfig reads the configuration and initializes the global logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := util.InitLogger(cfg.Log.Level, cfg.Log.Format, cfg.Log.File); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}

func main() {
	err := rootCmd.Execute()
	util.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
