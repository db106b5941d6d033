package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters and gauges for the real-time pipeline, registered on the default
// registry and served by /metrics.
var (
	ScansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classtrack_scans_total",
		Help: "RFID scans processed, labelled by resulting event kind.",
	}, []string{"event"})

	AutoTimeoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classtrack_auto_timeouts_total",
		Help: "Sessions auto-closed, labelled by which scheduler path fired.",
	}, []string{"path"})

	EnergyReadingsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "classtrack_energy_readings_total",
		Help: "Power readings appended to the energy log.",
	})

	BroadcastsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "classtrack_broadcasts_total",
		Help: "Messages published to the dashboard fan-out.",
	})

	DeviceConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "classtrack_device_connections",
		Help: "Currently connected classroom devices.",
	})

	DashboardConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "classtrack_dashboard_connections",
		Help: "Currently connected dashboard observers.",
	})
)
