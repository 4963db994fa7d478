package common

const (
	ComponentChainStore      = "chain-store"
	ComponentTriggersAdapter = "triggers-adapter"
	ComponentBlockStream     = "block-stream"
	ComponentRepair          = "repair"
	ComponentCheckpoint      = "checkpoint"
	ComponentMaintenance     = "maintenance"
	ComponentRPC             = "rpc"
	ComponentRunner          = "runner"
	ComponentMetrics         = "metrics"
)

var AllComponents = map[string]struct{}{
	ComponentChainStore:      {},
	ComponentTriggersAdapter: {},
	ComponentBlockStream:     {},
	ComponentRepair:          {},
	ComponentCheckpoint:      {},
	ComponentMaintenance:     {},
	ComponentRPC:             {},
	ComponentRunner:          {},
	ComponentMetrics:         {},
}
