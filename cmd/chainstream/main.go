package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/goran-ethernal/ChainStream/internal/config"
	"github.com/goran-ethernal/ChainStream/internal/logger"
	pkgconfig "github.com/goran-ethernal/ChainStream/pkg/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const (
	version = "1.0.0"
	banner  = `
╔═══════════════════════════════════════════╗
║          ChainStream v%s               ║
║    Reorg-aware Block Streaming Engine     ║
╚═══════════════════════════════════════════╝
`
)

var (
	configPath string
	envFile    string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "chainstream",
	Short: "ChainStream - Reorg-aware block streaming",
	Long: `ChainStream turns raw chain blocks into an ordered sequence of block
applications and reverts, caches blocks in a local chain store and ships
tools to verify and repair that cache against a provider.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: loadEnv,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "file with environment variables used in the configuration")

	rootCmd.AddCommand(runCmd, chainStoreCmd, configSchemaCmd)
}

// loadEnv loads the env file. A missing default file is not an error.
func loadEnv(cmd *cobra.Command, _ []string) error {
	err := godotenv.Load(envFile)
	if err == nil || (errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("env-file")) {
		return nil
	}
	return fmt.Errorf("failed to load env file %s: %w", envFile, err)
}

func loadConfig() (*pkgconfig.Config, error) {
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// componentLogger creates a logger for component honoring the configured levels.
func componentLogger(cfg *pkgconfig.Config, component string) *logger.Logger {
	return logger.NewComponentLoggerFromConfig(component, cfg.Logging)
}

// baseLogger is handed to the packages, which derive their component loggers from it.
func baseLogger(cfg *pkgconfig.Config) (*logger.Logger, error) {
	return logger.NewFromConfig(cfg.Logging)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Println("\n\nShutting down gracefully...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}

