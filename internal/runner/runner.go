// Package runner drives one block stream per configured subscriber of a chain and keeps
// the subscriber checkpoints up to date.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goran-ethernal/ChainStream/internal/blockstream"
	"github.com/goran-ethernal/ChainStream/internal/chainstore"
	"github.com/goran-ethernal/ChainStream/internal/checkpoint"
	internalcommon "github.com/goran-ethernal/ChainStream/internal/common"
	"github.com/goran-ethernal/ChainStream/internal/ethereum"
	"github.com/goran-ethernal/ChainStream/internal/logger"
	"github.com/goran-ethernal/ChainStream/internal/metrics"
	"github.com/goran-ethernal/ChainStream/pkg/blockchain"
	"github.com/goran-ethernal/ChainStream/pkg/config"
	pkgrpc "github.com/goran-ethernal/ChainStream/pkg/rpc"
	"golang.org/x/sync/errgroup"
)

// APIVersion is the version handed to the triggers adapter selector.
const APIVersion blockchain.APIVersion = "1.0.0"

const rateWindow = 100

// ErrChainMismatch is returned when the provider serves a different chain than configured.
var ErrChainMismatch = errors.New("provider serves a different chain")

// Runner runs the subscribers of one chain.
type Runner struct {
	cfg         config.ChainConfig
	store       *chainstore.Handle
	chain       *ethereum.Chain
	builder     *blockstream.Builder
	checkpoints *checkpoint.Store
	handler     Handler
	log         *logger.Logger
}

// New validates the provider against the configured chain, opens the chain store and
// prepares the block stream builder. The returned runner owns the store.
func New(
	ctx context.Context,
	cfg config.ChainConfig,
	client pkgrpc.EthClient,
	handler Handler,
	log *logger.Logger,
) (*Runner, error) {
	ident, err := ethereum.FetchChainIdentifier(ctx, cfg.Name, client)
	if err != nil {
		return nil, err
	}
	if err := checkIdentifier(cfg, ident); err != nil {
		return nil, err
	}

	store, err := chainstore.Open(ctx, cfg, &ident, log)
	if err != nil {
		return nil, err
	}

	adapter := ethereum.NewTriggersAdapter(client, store.Store, log)

	return &Runner{
		cfg:         cfg,
		store:       store,
		chain:       ethereum.NewChain(cfg.Name, adapter, false),
		builder:     blockstream.NewBuilder(cfg.Name, ethereum.CursorCodec{}, cfg.Stream, log),
		checkpoints: checkpoint.NewStore(store.DB, cfg.Name, store.Maintenance, log),
		handler:     handler,
		log:         log.WithComponent(internalcommon.ComponentRunner).WithFields("chain", cfg.Name),
	}, nil
}

func checkIdentifier(cfg config.ChainConfig, ident blockchain.ChainIdentifier) error {
	if cfg.NetVersion != "" && cfg.NetVersion != ident.NetVersion {
		return fmt.Errorf("%w: chain %s expects net_version %s, provider reports %s",
			ErrChainMismatch, cfg.Name, cfg.NetVersion, ident.NetVersion)
	}
	if cfg.GenesisHash != "" && common.HexToHash(cfg.GenesisHash) != ident.GenesisBlockHash {
		return fmt.Errorf("%w: chain %s expects genesis %s, provider reports %s",
			ErrChainMismatch, cfg.Name, cfg.GenesisHash, ident.GenesisBlockHash.Hex())
	}
	return nil
}

// Store returns the chain store the runner feeds.
func (r *Runner) Store() *chainstore.Handle {
	return r.store
}

// Checkpoints returns the checkpoint store of the chain.
func (r *Runner) Checkpoints() *checkpoint.Store {
	return r.checkpoints
}

// Run streams every subscriber until ctx is done or one of them fails.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.store.Maintenance.Start(ctx); err != nil {
		return fmt.Errorf("failed to start maintenance: %w", err)
	}

	if len(r.cfg.Subscribers) == 0 {
		r.log.Warn("no subscribers configured")
	}

	metrics.SetHealth(internalcommon.ComponentRunner, r.cfg.Name, true)
	defer metrics.SetHealth(internalcommon.ComponentRunner, r.cfg.Name, false)

	g, ctx := errgroup.WithContext(ctx)
	for i, sub := range r.cfg.Subscribers {
		deployment := blockchain.DeploymentLocator{ID: int32(i), Hash: sub.Name} //nolint:gosec
		g.Go(func() error {
			return r.runSubscriber(ctx, deployment, sub)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases the chain store.
func (r *Runner) Close() error {
	return r.store.Close()
}

func (r *Runner) runSubscriber(ctx context.Context, deployment blockchain.DeploymentLocator, sub config.SubscriberConfig) error {
	log := r.log.WithFields("subscriber", sub.Name)

	filter, err := ethereum.NewLogFilter(sub.Contracts)
	if err != nil {
		return fmt.Errorf("subscriber %s: %w", sub.Name, err)
	}
	adapter, err := r.chain.TriggersAdapter(deployment, nil, APIVersion)
	if err != nil {
		return fmt.Errorf("subscriber %s: %w", sub.Name, err)
	}

	s := &subscription{
		runner:     r,
		deployment: deployment,
		sub:        sub,
		filter:     filter,
		adapter:    adapter,
		metrics:    metrics.ForSubscriber(r.cfg.Name, sub.Name),
		log:        log,
	}

	for {
		err := s.run(ctx)
		switch {
		case ctx.Err() != nil:
			log.Info("subscriber stopped")
			return ctx.Err()
		case errors.Is(err, blockstream.ErrRevertPastGenesis):
			return fmt.Errorf("subscriber %s: %w", sub.Name, err)
		case err != nil:
			metrics.ErrorsInc(internalcommon.ComponentRunner, r.cfg.Name, "error")
			log.Errorf("block stream failed, restarting from checkpoint: %v", err)
		}

		if err := sleep(ctx, r.cfg.Stream.PollInterval.Duration); err != nil {
			return err
		}
	}
}

type subscription struct {
	runner     *Runner
	deployment blockchain.DeploymentLocator
	sub        config.SubscriberConfig
	filter     *ethereum.LogFilter
	adapter    blockchain.TriggersAdapter
	metrics    *metrics.Subscriber
	log        *logger.Logger

	applied   int
	rateStart time.Time
}

// run builds a stream from the checkpoint and applies its events until the stream fails.
func (s *subscription) run(ctx context.Context) error {
	r := s.runner

	cp, err := r.checkpoints.Get(ctx, s.sub.Name)
	if err != nil {
		return err
	}

	var current *blockchain.BlockPtr
	cursor := blockchain.NoCursor
	if cp != nil {
		ptr := cp.Ptr()
		current, cursor = &ptr, cp.Cursor
		s.log.Infof("resuming from checkpoint: block=%d hash=%s", ptr.Number, ptr.Hash.Hex())
	}

	stream, err := r.builder.BuildPolling(ctx, s.adapter, s.deployment,
		[]blockchain.BlockNumber{blockchain.BlockNumber(s.sub.StartBlock)}, //nolint:gosec
		current, cursor, s.filter, APIVersion)
	if err != nil {
		return err
	}
	defer stream.Close()

	s.rateStart = time.Now()
	for {
		event, err := stream.Next(ctx)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return ctx.Err()
		case blockstream.IsFatal(err):
			return err
		default:
			metrics.ErrorsInc(internalcommon.ComponentBlockStream, r.cfg.Name, "warning")
			s.log.Warnf("block stream error: %v", err)
			if err := sleep(ctx, r.cfg.Stream.PollInterval.Duration); err != nil {
				return err
			}
			continue
		}

		if err := s.apply(ctx, event); err != nil {
			return err
		}
	}
}

func (s *subscription) apply(ctx context.Context, event blockchain.BlockStreamEvent) error {
	r := s.runner
	name := s.sub.Name
	start := time.Now()

	if err := r.handler.HandleEvent(ctx, name, event); err != nil {
		return fmt.Errorf("subscriber %s failed to apply %s: %w", name, event, err)
	}
	if err := r.checkpoints.Save(ctx, name, event.Ptr(), event.Cursor); err != nil {
		return err
	}

	if event.Kind == blockchain.EventRevert {
		s.metrics.Reverted(event.Ptr().Number, time.Since(start))
		return nil
	}

	s.metrics.Applied(event.Ptr().Number, event.Block.TriggerCount(), time.Since(start))

	s.applied++
	if s.applied%rateWindow == 0 {
		elapsed := time.Since(s.rateStart).Seconds()
		if elapsed > 0 {
			rate := rateWindow / elapsed
			s.metrics.Rate(rate)
			s.log.Infof("applied block %d (%.1f blocks/s)", event.Ptr().Number, rate)
		}
		s.rateStart = time.Now()
	}

	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
