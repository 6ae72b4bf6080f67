package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	PassesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cleaner_passes_total",
			Help: "Total number of cleaning passes run, by kind (memory/disk)",
		},
		[]string{"kind"},
	)

	BytesRelocated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cleaner_bytes_relocated_total",
			Help: "Total live bytes copied forward into survivor segments, by kind",
		},
		[]string{"kind"},
	)

	SegmentsFreed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cleaner_segments_freed_total",
			Help: "Total input segments freed by completed cleaning passes, by kind",
		},
		[]string{"kind"},
	)

	SurvivorsProduced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cleaner_survivor_segments_total",
			Help: "Total survivor segments produced by completed cleaning passes, by kind",
		},
		[]string{"kind"},
	)

	TombstonesReleased = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cleaner_tombstones_released_total",
		Help: "Total tombstone entries dropped because their target segment was freed",
	})

	WriteCost = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cleaner_write_cost",
		Help: "Write cost of the most recent pass: bytes relocated per byte of memory net reclaimed",
	})

	MemoryUtilization = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cleaner_memory_utilization_percent",
		Help: "Current percent (0-100) of seglets in the pool allocated to segments",
	})

	DiskUtilization = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cleaner_disk_utilization_percent",
		Help: "Current percent (0-100) of backup capacity consumed by durable segment copies",
	})

	PassDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cleaner_pass_duration_seconds",
			Help:    "Wall-clock duration of a cleaning pass, by kind",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	CleanerState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cleaner_state",
		Help: "Current cleaner task state: 0=STOPPED 1=RUNNING 2=STOPPING",
	})
)
