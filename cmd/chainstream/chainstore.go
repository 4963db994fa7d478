package main

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/goran-ethernal/ChainStream/internal/chainstore"
	"github.com/goran-ethernal/ChainStream/internal/checkpoint"
	"github.com/goran-ethernal/ChainStream/internal/common"
	"github.com/goran-ethernal/ChainStream/internal/db"
	"github.com/goran-ethernal/ChainStream/internal/logger"
	"github.com/goran-ethernal/ChainStream/internal/repair"
	"github.com/goran-ethernal/ChainStream/internal/rpc"
	"github.com/goran-ethernal/ChainStream/pkg/blockchain"
	pkgconfig "github.com/goran-ethernal/ChainStream/pkg/config"
	"github.com/spf13/cobra"
)

var (
	chainName        string
	noColor          bool
	skipConfirmation bool
)

var chainStoreCmd = &cobra.Command{
	Use:   "chain-store",
	Short: "Inspect and repair the chain store",
}

var fixBlockCmd = &cobra.Command{
	Use:   "fix-block",
	Short: "Compare cached blocks with the provider and delete the ones that diverge",
}

var byHashCmd = &cobra.Command{
	Use:     "by-hash <hash>",
	Short:   "Check the cached block with the given hash",
	Args:    cobra.ExactArgs(1),
	Example: "  chainstream chain-store fix-block by-hash 0x8f1a...c5d6",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRepairTool(func(ctx context.Context, tool *repair.Tool) error {
			_, err := tool.ByHash(ctx, args[0])
			return err
		})
	},
}

var byNumberCmd = &cobra.Command{
	Use:   "by-number <number>",
	Short: "Check the cached block at the given height",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := strconv.ParseInt(args[0], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid block number %q: %w", args[0], err)
		}
		return withRepairTool(func(ctx context.Context, tool *repair.Tool) error {
			_, err := tool.ByNumber(ctx, blockchain.BlockNumber(n))
			return err
		})
	},
}

var byRangeCmd = &cobra.Command{
	Use:   "by-range <range>",
	Short: "Check every cached block in a range",
	Long: `Check every cached block in a range, one height at a time.

Ranges are written as A..B (B excluded), A..=B (B included), A.. (up to the
chain head), ..B or ..=B (starting at block 1). Genesis can't be repaired.`,
	Args:    cobra.ExactArgs(1),
	Example: "  chainstream chain-store fix-block by-range 100..=200",
	RunE: func(cmd *cobra.Command, args []string) error {
		// reject malformed ranges before touching the database or the provider
		r, err := repair.ParseRange(args[0])
		if err != nil {
			return err
		}
		if _, _, err := r.MinMax(); err != nil {
			return err
		}

		return withRepairTool(func(ctx context.Context, tool *repair.Tool) error {
			_, err := tool.ByRange(ctx, args[0])
			return err
		})
	},
}

var truncateCmd = &cobra.Command{
	Use:   "truncate",
	Short: "Delete every cached block except genesis",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRepairTool(func(ctx context.Context, tool *repair.Tool) error {
			_, err := tool.Truncate(ctx, skipConfirmation)
			return err
		})
	},
}

var headCmd = &cobra.Command{
	Use:   "head",
	Short: "Print the chain head recorded in the chain store",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withChainStore(func(ctx context.Context, chainCfg *pkgconfig.ChainConfig, store *chainstore.Handle, _ *logger.Logger) error {
			head, err := store.ChainHead(ctx)
			if err != nil {
				return err
			}
			if head == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "chain %s has no head\n", chainCfg.Name)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d %s\n", chainCfg.Name, head.Number, head.Hash.Hex())
			return nil
		})
	},
}

var resetCheckpointCmd = &cobra.Command{
	Use:   "reset-checkpoint <subscriber>",
	Short: "Forget the position of a subscriber so its next run starts at its start block",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withChainStore(func(ctx context.Context, chainCfg *pkgconfig.ChainConfig, store *chainstore.Handle, log *logger.Logger) error {
			return resetCheckpoint(ctx, cmd.OutOrStdout(), chainCfg, store, args[0], log)
		})
	},
}

var maintenanceCmd = &cobra.Command{
	Use:   "maintenance",
	Short: "Run a maintenance pass (VACUUM and WAL checkpoint) on the chain store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withChainStore(func(ctx context.Context, chainCfg *pkgconfig.ChainConfig, store *chainstore.Handle, _ *logger.Logger) error {
			return runMaintenance(ctx, cmd.OutOrStdout(), chainCfg, store)
		})
	},
}

func init() {
	chainStoreCmd.PersistentFlags().StringVar(&chainName, "chain", "", "chain to operate on (optional with a single configured chain)")
	fixBlockCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored diff output")
	truncateCmd.Flags().BoolVarP(&skipConfirmation, "yes", "y", false, "skip the confirmation prompt")

	fixBlockCmd.AddCommand(byHashCmd, byNumberCmd, byRangeCmd)
	chainStoreCmd.AddCommand(fixBlockCmd, truncateCmd, headCmd, resetCheckpointCmd, maintenanceCmd)
}

// withChainStore opens the chain store of the selected chain and runs fn.
func withChainStore(
	fn func(ctx context.Context, chainCfg *pkgconfig.ChainConfig, store *chainstore.Handle, log *logger.Logger) error,
) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	chainCfg, err := cfg.Chain(chainName)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	log, err := baseLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	store, err := chainstore.Open(ctx, *chainCfg, nil, log)
	if err != nil {
		return err
	}
	defer store.Close()

	return fn(ctx, chainCfg, store, log)
}

// withRepairTool opens the chain store and the provider of the selected chain and runs fn.
func withRepairTool(fn func(ctx context.Context, tool *repair.Tool) error) error {
	return withChainStore(func(ctx context.Context, chainCfg *pkgconfig.ChainConfig, store *chainstore.Handle, log *logger.Logger) error {
		client, err := rpc.NewClient(ctx, chainCfg.RPCURL, chainCfg.Retry, chainCfg.RateLimit, log)
		if err != nil {
			return fmt.Errorf("failed to create RPC client: %w", err)
		}
		defer client.Close()

		tool := repair.NewTool(store.Store, client, store, repair.StdStreams(!noColor && !color.NoColor), log)
		return fn(ctx, tool)
	})
}

// resetCheckpoint deletes the checkpoint of a configured subscriber.
func resetCheckpoint(
	ctx context.Context,
	out io.Writer,
	chainCfg *pkgconfig.ChainConfig,
	store *chainstore.Handle,
	subscriber string,
	log *logger.Logger,
) error {
	i := slices.IndexFunc(chainCfg.Subscribers, func(s pkgconfig.SubscriberConfig) bool { return s.Name == subscriber })
	if i < 0 {
		return fmt.Errorf("subscriber '%s' is not configured on chain %s", subscriber, chainCfg.Name)
	}

	checkpoints := checkpoint.NewStore(store.DB, chainCfg.Name, store.Maintenance, log)
	cp, err := checkpoints.Get(ctx, subscriber)
	if err != nil {
		return err
	}
	if cp == nil {
		fmt.Fprintf(out, "Subscriber %s has no checkpoint on %s.\n", subscriber, chainCfg.Name)
		return nil
	}

	if err := checkpoints.Reset(ctx, subscriber); err != nil {
		return err
	}
	fmt.Fprintf(out, "Checkpoint of %s on %s at block %d reset. The next run starts at block %d.\n",
		subscriber, chainCfg.Name, cp.BlockNumber, chainCfg.Subscribers[i].StartBlock)
	return nil
}

// runMaintenance runs one maintenance pass and reports the space it reclaimed.
func runMaintenance(ctx context.Context, out io.Writer, chainCfg *pkgconfig.ChainConfig, store *chainstore.Handle) error {
	before, err := db.TotalSize(chainCfg.DB.Path)
	if err != nil {
		return err
	}
	if err := store.Maintenance.RunMaintenance(ctx); err != nil {
		return err
	}
	after, err := db.TotalSize(chainCfg.DB.Path)
	if err != nil {
		return err
	}

	stats := store.Maintenance.Stats()
	fmt.Fprintf(out, "Maintenance of %s done: %s -> %s (passes: %d, last: %s)\n",
		chainCfg.Name,
		common.HumanBytes(uint64(max(before, 0))), //nolint:gosec
		common.HumanBytes(uint64(max(after, 0))),  //nolint:gosec
		stats.Runs, stats.LastRun.Format(time.RFC3339))
	return nil
}
