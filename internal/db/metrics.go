package db

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	maintenanceRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainstream_maintenance_runs_total",
			Help: "Total number of maintenance passes by chain, trigger and outcome",
		},
		[]string{"chain", "trigger", "status"},
	)

	maintenanceDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chainstream_maintenance_duration_seconds",
			Help:    "Duration of maintenance passes",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"chain", "trigger"},
	)

	maintenanceLastRun = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainstream_maintenance_last_run_timestamp",
			Help: "Unix timestamp of the last maintenance pass",
		},
		[]string{"chain"},
	)

	maintenanceSpaceReclaimed = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainstream_maintenance_space_reclaimed_bytes",
			Help: "Bytes reclaimed by the last maintenance pass",
		},
		[]string{"chain"},
	)

	walCheckpoints = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainstream_wal_checkpoint_total",
			Help: "Total number of WAL checkpoints by chain and mode",
		},
		[]string{"chain", "mode"},
	)

	dbSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainstream_db_size_bytes",
			Help: "Size of the chain database including WAL and SHM files",
		},
		[]string{"chain"},
	)
)

func maintenanceObserve(chain string, trig trigger, elapsed time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	maintenanceRuns.WithLabelValues(chain, string(trig), status).Inc()
	maintenanceDuration.WithLabelValues(chain, string(trig)).Observe(elapsed.Seconds())
	maintenanceLastRun.WithLabelValues(chain).Set(float64(time.Now().Unix()))
}

func spaceReclaimedSet(chain string, bytes uint64) {
	maintenanceSpaceReclaimed.WithLabelValues(chain).Set(float64(bytes))
}

func walCheckpointInc(chain, mode string) {
	walCheckpoints.WithLabelValues(chain, mode).Inc()
}

func dbSizeSet(chain string, bytes int64) {
	dbSize.WithLabelValues(chain).Set(float64(bytes))
}
