package restore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// PushCompletion records a finished restore on a Prometheus push
// gateway, grouped by instance and restore type.
func PushCompletion(gatewayURL, instanceID, restoreType string) error {
	completionTime := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ec2_restore_last_completion_timestamp_seconds",
		Help: "The timestamp of the last successful restore.",
	})
	completionTime.SetToCurrentTime()

	return push.New(gatewayURL, "ec2_restore").
		Collector(completionTime).
		Grouping("instance", instanceID).
		Grouping("restore_type", restoreType).
		Push()
}
