// Package cmd holds the passlog command line.
package cmd

import (
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"passlog/config"
	"passlog/logger"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "passlog",
	Short: "Test-execution reporting backend",
	Long:  "passlog records test suites, cases, log lines and attachments,\nserves them over HTTP and streams suite changes to watchers.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to passlog.yaml")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads the configuration and sets up logging from it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	logger.InitLogger(cfg.Log.Level, cfg.Log.Pretty)
	if cfg.Log.Level != "debug" && cfg.Log.Level != "trace" {
		gin.SetMode(gin.ReleaseMode)
	}
	return cfg, nil
}
