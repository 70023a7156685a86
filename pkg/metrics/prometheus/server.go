package prometheus

import (
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/vengine/pkg/metrics"
)

// RegisterServerInfo publishes the constant vengine_server_info gauge
// identifying this process. No-op when metrics are disabled.
func RegisterServerInfo(runID, version string) {
	if !metrics.IsEnabled() {
		return
	}
	RegisterServerInfoWith(metrics.GetRegistry(), runID, version)
}

// RegisterServerInfoWith publishes vengine_server_info on reg.
func RegisterServerInfoWith(reg prometheus.Registerer, runID, version string) {
	promauto.With(reg).NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "vengine_server_info",
			Help: "Constant 1, labelled with the identity of the running server",
			ConstLabels: prometheus.Labels{
				"run_id":     runID,
				"version":    version,
				"go_version": runtime.Version(),
			},
		},
		func() float64 { return 1 },
	)
}
