package ethereum

import (
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/goran-ethernal/ChainStream/pkg/blockchain"
)

var _ blockchain.Trigger = (*LogTrigger)(nil)

// TriggerKindLog is the kind of an event log trigger.
const TriggerKindLog = "log"

// LogTrigger is an event log emitted by a watched contract.
type LogTrigger struct {
	Log types.Log
}

// Kind implements blockchain.Trigger.
func (t *LogTrigger) Kind() string {
	return TriggerKindLog
}
