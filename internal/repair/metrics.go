package repair

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	blocksChecked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainstream_repair_blocks_total",
			Help: "Blocks checked by the repair tool by outcome",
		},
		[]string{"chain", "outcome"},
	)

	truncations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainstream_repair_truncations_total",
			Help: "Number of block cache truncations",
		},
		[]string{"chain"},
	)
)
