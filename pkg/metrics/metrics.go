package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	// ClustersTotal tracks the total number of ArkClusters by state
	ClustersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ark_operator_clusters_total",
			Help: "Total number of ArkCluster resources by status.state",
		},
		[]string{"state", "namespace"},
	)

	// MapsTotal tracks the number of expanded maps per cluster
	MapsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ark_operator_maps_total",
			Help: "Number of expanded maps per ArkCluster",
		},
		[]string{"cluster", "namespace"},
	)

	// Reconciliations tracks reconciliation count and result
	Reconciliations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ark_operator_reconciliations_total",
			Help: "Total number of ArkCluster reconciliations",
		},
		[]string{"namespace", "result"},
	)

	// ReconciliationDuration tracks reconciliation latency
	ReconciliationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ark_operator_reconciliation_duration_seconds",
			Help:    "Duration of ArkCluster reconciliations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"namespace"},
	)

	// BuildCheckResult tracks upstream build-check outcomes
	BuildCheckResult = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ark_operator_build_checks_total",
			Help: "Total number of upstream ARK build-id checks by result",
		},
		[]string{"namespace", "result"},
	)

	// ActiveBuildID tracks the build id currently installed on the active volume
	ActiveBuildID = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ark_operator_active_build_id",
			Help: "Upstream build id currently installed on status.activeVolume",
		},
		[]string{"cluster", "namespace"},
	)

	// RCONCommandsTotal tracks RCON fan-out commands sent
	RCONCommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ark_operator_rcon_commands_total",
			Help: "Total number of RCON commands sent by the connection pool",
		},
		[]string{"namespace", "result"},
	)

	// RCONPoolEvictions tracks connections evicted from the RCON pool
	RCONPoolEvictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ark_operator_rcon_pool_evictions_total",
			Help: "Total number of connections evicted from the RCON pool",
		},
		[]string{"namespace"},
	)

	// RestartsTotal tracks restart coordinator invocations by outcome
	RestartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ark_operator_restarts_total",
			Help: "Total number of restart coordinator runs by outcome",
		},
		[]string{"namespace", "reason", "outcome"},
	)

	// RestartDuration tracks how long a full restart sequence took
	RestartDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ark_operator_restart_duration_seconds",
			Help:    "Duration of restart coordinator runs in seconds",
			Buckets: []float64{5, 30, 60, 300, 900, 3600, 7200}, // 5s .. 2h, covers the warning ladder
		},
		[]string{"namespace"},
	)
)

func init() {
	// Register custom metrics with the controller-runtime prometheus registry.
	metrics.Registry.MustRegister(
		ClustersTotal,
		MapsTotal,
		Reconciliations,
		ReconciliationDuration,
		BuildCheckResult,
		ActiveBuildID,
		RCONCommandsTotal,
		RCONPoolEvictions,
		RestartsTotal,
		RestartDuration,
	)
}

// RecordClusterState records the current state of a cluster.
func RecordClusterState(state, namespace string, count float64) {
	ClustersTotal.WithLabelValues(state, namespace).Set(count)
}

// RecordMapCount records the number of expanded maps for a cluster.
func RecordMapCount(cluster, namespace string, count float64) {
	MapsTotal.WithLabelValues(cluster, namespace).Set(count)
}

// RecordReconciliation records a reconciliation event.
func RecordReconciliation(namespace, result string) {
	Reconciliations.WithLabelValues(namespace, result).Inc()
}

// ObserveReconciliationDuration records reconciliation duration.
func ObserveReconciliationDuration(namespace string, duration float64) {
	ReconciliationDuration.WithLabelValues(namespace).Observe(duration)
}

// RecordBuildCheck records an upstream build-id check outcome.
func RecordBuildCheck(namespace, result string) {
	BuildCheckResult.WithLabelValues(namespace, result).Inc()
}

// RecordActiveBuildID records the build id installed on the active volume.
func RecordActiveBuildID(cluster, namespace string, buildID float64) {
	ActiveBuildID.WithLabelValues(cluster, namespace).Set(buildID)
}

// RecordRCONCommand records one RCON fan-out command outcome.
func RecordRCONCommand(namespace, result string) {
	RCONCommandsTotal.WithLabelValues(namespace, result).Inc()
}

// RecordRCONEviction records a connection evicted from the RCON pool.
func RecordRCONEviction(namespace string) {
	RCONPoolEvictions.WithLabelValues(namespace).Inc()
}

// RecordRestart records a restart coordinator run.
func RecordRestart(namespace, reason, outcome string) {
	RestartsTotal.WithLabelValues(namespace, reason, outcome).Inc()
}

// ObserveRestartDuration records how long a restart sequence took.
func ObserveRestartDuration(namespace string, duration float64) {
	RestartDuration.WithLabelValues(namespace).Observe(duration)
}
