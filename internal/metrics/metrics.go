// Package metrics holds the prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "addonsync"

// Result labels
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultSkipped = "skipped"
)

var (
	// Transfers counts finished transfer attempts by strategy and result
	Transfers = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transfers_total",
		Help:      "Artifact transfer attempts by strategy and result.",
	}, []string{"strategy", "result"})

	// TransferredBytes counts bytes written by successful transfers
	TransferredBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transferred_bytes_total",
		Help:      "Bytes received by successful artifact transfers.",
	}, []string{"strategy"})

	// Installs counts install pipeline outcomes
	Installs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "installs_total",
		Help:      "Artifact installs by result.",
	}, []string{"result"})

	// BackupRuns counts backup cycles by result
	BackupRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "backup_runs_total",
		Help:      "Backup runs by result.",
	}, []string{"result"})

	// EvictedBackups counts archives removed by the eviction sweep
	EvictedBackups = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "evicted_backups_total",
		Help:      "Backup archives deleted to respect the size budget.",
	})

	// BackupsFolderBytes is the size of backup archives after the last sweep
	BackupsFolderBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "backups_folder_bytes",
		Help:      "Aggregate size of backup archives after the last sweep.",
	})
)

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
