package ethereum

import (
	"context"
	"errors"
	"fmt"

	"github.com/goran-ethernal/ChainStream/pkg/blockchain"
	pkgrpc "github.com/goran-ethernal/ChainStream/pkg/rpc"
)

var _ blockchain.TriggersAdapterSelector = (*Chain)(nil)

// ErrUnsupportedCapabilities is returned when a deployment asks for more than the provider offers.
var ErrUnsupportedCapabilities = errors.New("unsupported node capabilities")

// Capabilities describes what a deployment needs from the provider.
type Capabilities struct {
	Archive bool
	Traces  bool
}

// Chain hands out triggers adapters for one Ethereum chain.
type Chain struct {
	name    string
	adapter *TriggersAdapter
	archive bool
}

// NewChain creates a selector. archive states whether the provider serves historical state.
func NewChain(name string, adapter *TriggersAdapter, archive bool) *Chain {
	return &Chain{name: name, adapter: adapter, archive: archive}
}

// Name returns the chain name.
func (c *Chain) Name() string {
	return c.name
}

// TriggersAdapter implements blockchain.TriggersAdapterSelector.
func (c *Chain) TriggersAdapter(
	deployment blockchain.DeploymentLocator,
	capabilities blockchain.NodeCapabilities,
	_ blockchain.APIVersion,
) (blockchain.TriggersAdapter, error) {
	switch caps := capabilities.(type) {
	case nil:
	case Capabilities:
		if caps.Traces {
			return nil, fmt.Errorf("%w: deployment %s requires traces", ErrUnsupportedCapabilities, deployment)
		}
		if caps.Archive && !c.archive {
			return nil, fmt.Errorf("%w: deployment %s requires an archive node", ErrUnsupportedCapabilities, deployment)
		}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedCapabilities, capabilities)
	}

	return c.adapter, nil
}

// FetchChainIdentifier asks the provider for its network version and genesis hash.
func FetchChainIdentifier(ctx context.Context, chain string, client pkgrpc.EthClient) (blockchain.ChainIdentifier, error) {
	version, err := client.NetVersion(ctx)
	if err != nil {
		return blockchain.ChainIdentifier{}, blockchain.NewProviderError(chain, "fetch net version", err)
	}

	raw, err := client.BlockByNumber(ctx, 0)
	if err != nil {
		return blockchain.ChainIdentifier{}, blockchain.NewProviderError(chain, "fetch genesis block", err)
	}
	if raw == nil {
		return blockchain.ChainIdentifier{}, blockchain.NewProviderError(chain, "fetch genesis block",
			errors.New("provider has no genesis block"))
	}

	genesis, err := ParseBlock(raw)
	if err != nil {
		return blockchain.ChainIdentifier{}, blockchain.NewProviderError(chain, "fetch genesis block", err)
	}

	return blockchain.ChainIdentifier{NetVersion: version, GenesisBlockHash: genesis.ptr.Hash}, nil
}
