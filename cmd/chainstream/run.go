package main

import (
	"context"
	"fmt"
	"time"

	"github.com/goran-ethernal/ChainStream/internal/common"
	"github.com/goran-ethernal/ChainStream/internal/metrics"
	"github.com/goran-ethernal/ChainStream/internal/rpc"
	"github.com/goran-ethernal/ChainStream/internal/runner"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Stream blocks for every configured subscriber",
	Long: `Run opens the chain store of every configured chain, validates the provider
against it and streams blocks for each subscriber, resuming from the last
saved checkpoint.`,
	RunE: runStreams,
}

func runStreams(cmd *cobra.Command, _ []string) error {
	fmt.Printf(banner, version)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	log := componentLogger(cfg, common.ComponentRunner)
	base, err := baseLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	metricsServer := metrics.NewServer(cfg.Metrics, base.WithComponent(common.ComponentMetrics))
	if err := metricsServer.Start(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}
	defer func() {
		stopCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stop()
		if err := metricsServer.Stop(stopCtx); err != nil {
			log.Warnf("Failed to stop metrics server: %v", err)
		}
	}()

	runners := make([]*runner.Runner, 0, len(cfg.Chains))
	defer func() {
		for _, r := range runners {
			if err := r.Close(); err != nil {
				log.Warnf("Failed to close chain store: %v", err)
			}
		}
	}()

	for _, chainCfg := range cfg.Chains {
		log.Infof("Connecting to provider of chain %s...", chainCfg.Name)
		client, err := rpc.NewClient(ctx, chainCfg.RPCURL, chainCfg.Retry, chainCfg.RateLimit, base)
		if err != nil {
			return fmt.Errorf("failed to create RPC client for chain %s: %w", chainCfg.Name, err)
		}
		defer client.Close()

		r, err := runner.New(ctx, chainCfg, client,
			runner.NewLogHandler(log.WithFields("chain", chainCfg.Name)), base)
		if err != nil {
			return fmt.Errorf("failed to set up chain %s: %w", chainCfg.Name, err)
		}
		runners = append(runners, r)
		log.Infof("Chain %s ready with %d subscriber(s)", chainCfg.Name, len(chainCfg.Subscribers))
	}

	log.Info("Starting ChainStream...")

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range runners {
		g.Go(func() error {
			return r.Run(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("ChainStream stopped successfully")
	return nil
}
