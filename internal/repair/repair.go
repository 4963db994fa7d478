package repair

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	internalcommon "github.com/goran-ethernal/ChainStream/internal/common"
	"github.com/goran-ethernal/ChainStream/internal/ethereum"
	"github.com/goran-ethernal/ChainStream/internal/logger"
	"github.com/goran-ethernal/ChainStream/pkg/blockchain"
	"github.com/goran-ethernal/ChainStream/pkg/chainstore"
	pkgrpc "github.com/goran-ethernal/ChainStream/pkg/rpc"
	"github.com/olekukonko/tablewriter"
)

// Outcome is the result of checking one cached block.
type Outcome int

const (
	OutcomeEqual Outcome = iota
	OutcomeNullOnly
	OutcomeRepaired
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeEqual:
		return "equal"
	case OutcomeNullOnly:
		return "null_only"
	case OutcomeRepaired:
		return "repaired"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

var allOutcomes = []Outcome{OutcomeEqual, OutcomeNullOnly, OutcomeRepaired, OutcomeFailed}

// Compactor reclaims database space after bulk deletions.
type Compactor interface {
	Compact(ctx context.Context) error
}

// Streams holds the operator facing input and output of the tool.
type Streams struct {
	In    io.Reader
	Out   io.Writer
	Err   io.Writer
	Color bool
}

// StdStreams returns the process standard streams.
func StdStreams(color bool) Streams {
	return Streams{In: os.Stdin, Out: os.Stdout, Err: os.Stderr, Color: color}
}

// Report summarizes a range repair.
type Report struct {
	Outcomes map[Outcome]int
	Failed   []blockchain.BlockNumber
}

func newReport() *Report {
	return &Report{Outcomes: make(map[Outcome]int)}
}

// Checked returns the number of heights visited.
func (r *Report) Checked() int {
	total := 0
	for _, n := range r.Outcomes {
		total += n
	}
	return total
}

// Tool compares cached blocks against the provider and removes the ones that diverge.
// It works on point queries only, so it can run next to live block streams: a deleted
// block is a cache miss for them and gets fetched again.
type Tool struct {
	store     chainstore.ChainStore
	client    pkgrpc.EthClient
	compactor Compactor
	io        Streams
	log       *logger.Logger
}

// NewTool creates a repair tool. compactor may be nil.
func NewTool(
	store chainstore.ChainStore,
	client pkgrpc.EthClient,
	compactor Compactor,
	streams Streams,
	log *logger.Logger,
) *Tool {
	return &Tool{
		store:     store,
		client:    client,
		compactor: compactor,
		io:        streams,
		log:       log.WithComponent(internalcommon.ComponentRepair),
	}
}

// ByHash checks the cached block with the given hash.
func (t *Tool) ByHash(ctx context.Context, hash string) (Outcome, error) {
	h, err := ParseBlockHash(hash)
	if err != nil {
		return OutcomeFailed, err
	}
	if h == t.store.ChainIdentifier().GenesisBlockHash {
		return OutcomeFailed, validationErr("Genesis block can't be removed.")
	}
	return t.check(ctx, h)
}

// ByNumber checks the single cached block at number.
func (t *Tool) ByNumber(ctx context.Context, number blockchain.BlockNumber) (Outcome, error) {
	switch {
	case number == blockchain.GenesisBlockNumber:
		return OutcomeFailed, validationErr("Genesis block can't be removed.")
	case number < 0:
		return OutcomeFailed, validationErr("Negative block number")
	}
	return t.byNumber(ctx, number)
}

func (t *Tool) byNumber(ctx context.Context, number blockchain.BlockNumber) (Outcome, error) {
	hashes, err := t.store.BlockHashesByBlockNumber(ctx, number)
	if err != nil {
		return OutcomeFailed, err
	}
	hash, err := singleItem("block hash", hashes)
	if err != nil {
		return OutcomeFailed, err
	}
	return t.check(ctx, hash)
}

// ByRange checks every height in expr, one at a time. Failures at single heights are
// reported and do not stop the run.
func (t *Tool) ByRange(ctx context.Context, expr string) (*Report, error) {
	r, err := ParseRange(expr)
	if err != nil {
		return nil, err
	}
	minBlock, maxBlock, err := r.MinMax()
	if err != nil {
		return nil, err
	}

	if maxBlock == nil {
		head, err := t.store.ChainHeadBlock(ctx)
		if err != nil {
			return nil, err
		}
		if head == nil {
			return nil, fmt.Errorf("Could not find the chain head for %s", t.store.Chain()) //nolint:stylecheck
		}
		maxBlock = head
	}

	report := newReport()
	if *maxBlock < minBlock {
		t.log.Infof("nothing to repair: min=%d max=%d", minBlock, *maxBlock)
		return report, nil
	}

	for n := minBlock; n <= *maxBlock; n++ {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		fmt.Fprintf(t.io.Out, "Fixing block [%d/%d]\n", n, *maxBlock)
		outcome, err := t.byNumber(ctx, n)
		if err != nil {
			fmt.Fprintf(t.io.Err, "%v\n", err)
			report.Failed = append(report.Failed, n)
		}
		report.Outcomes[outcome]++
	}

	t.printSummary(report)
	return report, nil
}

func (t *Tool) printSummary(report *Report) {
	table := tablewriter.NewWriter(t.io.Out)
	table.SetHeader([]string{"Outcome", "Blocks"})
	for _, o := range allOutcomes {
		table.Append([]string{o.String(), strconv.Itoa(report.Outcomes[o])})
	}
	table.SetFooter([]string{"Total", strconv.Itoa(report.Checked())})
	table.Render()
}

// check compares the cached block with hash against the provider's copy and deletes
// the cached one when they diverge.
func (t *Tool) check(ctx context.Context, hash blockchain.BlockHash) (outcome Outcome, err error) {
	chain := t.store.Chain()
	defer func() {
		blocksChecked.WithLabelValues(chain, outcome.String()).Inc()
	}()

	stored, err := t.store.Blocks(ctx, []blockchain.BlockHash{hash})
	if err != nil {
		return OutcomeFailed, err
	}
	if len(stored) == 0 {
		return OutcomeFailed, fmt.Errorf("Could not find a block with hash=%s in cache", hash.Hex()) //nolint:stylecheck
	}
	cached, err := stored[0].Data()
	if err != nil {
		return OutcomeFailed, err
	}

	raw, err := t.client.BlockByHash(ctx, hash)
	if err != nil {
		return OutcomeFailed, blockchain.NewProviderError(chain, "eth_getBlockByHash", err)
	}
	if raw == nil {
		return OutcomeFailed, fmt.Errorf("JRPC provider found no block %s", hash.Hex()) //nolint:stylecheck
	}
	provided, err := ethereum.ParseBlock(raw)
	if err != nil {
		return OutcomeFailed, blockchain.NewProviderError(chain, "eth_getBlockByHash", err)
	}
	if provided.Ptr().Hash != hash {
		t.log.Errorf("Provider responded with a different block hash: requested=%s got=%s",
			hash.Hex(), provided.Ptr().Hash.Hex())
		return OutcomeFailed, &blockchain.IntegrityError{
			Chain:    chain,
			Expected: hash.Hex(),
			Actual:   provided.Ptr().Hash.Hex(),
		}
	}

	kind, changes, err := Diff(cached, raw)
	if err != nil {
		return OutcomeFailed, err
	}

	switch kind {
	case DiffEqual:
		t.log.Debugf("cached block matches provider: hash=%s", hash.Hex())
		fmt.Fprintln(t.io.Out, "Cached block is equal to the same block from provider.")
		return OutcomeEqual, nil
	case DiffNullOnly:
		t.log.Infof("cached block differs from provider in null fields only: hash=%s", hash.Hex())
		fmt.Fprintln(t.io.Out, "Cached block is equal to the same block from provider.")
		return OutcomeNullOnly, nil
	}

	fmt.Fprintf(t.io.Err, "block %s diverges from cache:\n%s", hash.Hex(), FormatChanges(changes, t.io.Color))
	t.log.Warnf("cached block diverges from provider: hash=%s changes=%d", hash.Hex(), len(changes))

	fmt.Fprintf(t.io.Out, "Deleting block %s from cache.\n", hash.Hex())
	if _, err := t.store.DeleteBlocks(ctx, []blockchain.BlockHash{hash}); err != nil {
		if errors.Is(err, chainstore.ErrGenesisDeletion) {
			return OutcomeFailed, validationErr("Genesis block can't be removed.")
		}
		return OutcomeFailed, err
	}
	fmt.Fprintln(t.io.Out, "Done.")

	return OutcomeRepaired, nil
}

// Truncate deletes every cached block except genesis after asking the operator,
// unless skipConfirmation is set. It reports whether the cache was truncated.
func (t *Tool) Truncate(ctx context.Context, skipConfirmation bool) (bool, error) {
	if !skipConfirmation && !t.confirm("This will delete all cached blocks.\nProceed? [y/N] ") {
		fmt.Fprintln(t.io.Out, "Aborting.")
		return false, nil
	}

	deleted, err := t.store.TruncateBlockCache(ctx)
	if err != nil {
		return false, err
	}
	truncations.WithLabelValues(t.store.Chain()).Inc()
	t.log.Infof("block cache truncated: chain=%s deleted=%d", t.store.Chain(), deleted)

	if t.compactor != nil {
		if err := t.compactor.Compact(ctx); err != nil {
			return true, fmt.Errorf("failed to compact chain store: %w", err)
		}
	}

	return true, nil
}

func (t *Tool) confirm(prompt string) bool {
	fmt.Fprint(t.io.Out, prompt)

	line, err := bufio.NewReader(t.io.In).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
