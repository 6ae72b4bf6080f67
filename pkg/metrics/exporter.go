package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/downfa11-org/logcleaner/util"
)

func init() {
	prometheus.MustRegister(
		PassesTotal, BytesRelocated, SegmentsFreed, SurvivorsProduced,
		TombstonesReleased, WriteCost, MemoryUtilization, DiskUtilization,
		PassDuration, CleanerState,
	)
}

// StartExporter serves /metrics on port until it fails or the process
// exits; failures are logged, not fatal, since a stalled exporter shouldn't
// take down the cleaner itself.
func StartExporter(port int) {
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		addr := fmt.Sprintf(":%d", port)
		util.Info("metrics: prometheus exporter listening on %s", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			util.Error("metrics: exporter failed: %v", err)
		}
	}()
}

// RecordPass updates the counters and histograms describing one completed
// cleaning pass.
func RecordPass(kind string, bytesRelocated int64, inputsFreed, survivorsProduced int, writeCost, durationSeconds float64) {
	PassesTotal.WithLabelValues(kind).Inc()
	BytesRelocated.WithLabelValues(kind).Add(float64(bytesRelocated))
	SegmentsFreed.WithLabelValues(kind).Add(float64(inputsFreed))
	SurvivorsProduced.WithLabelValues(kind).Add(float64(survivorsProduced))
	PassDuration.WithLabelValues(kind).Observe(durationSeconds)
	WriteCost.Set(writeCost)
}
