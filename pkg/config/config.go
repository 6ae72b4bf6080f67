// Package config loads the tunables that drive both the cleaner (spec.md
// §6) and the storage/replication domain it operates over, following the
// teacher's flag+YAML+env layering (pkg/config/properties.go).
package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/downfa11-org/logcleaner/util"
	"gopkg.in/yaml.v3"
)

// Config holds every knob named in spec.md plus the sizing of the segment
// and replication domains the cleaner drives.
type Config struct {
	LogLevel util.LogLevel `yaml:"log_level"`

	// Cleaner tunables (spec.md §6).
	PollInterval                   time.Duration `yaml:"poll_interval"`
	MaxCleanableMemoryUtilization  int           `yaml:"max_cleanable_memory_utilization"`
	MaxLiveSegmentsPerDiskPass     int           `yaml:"max_live_segments_per_disk_pass"`
	SurvivorSegmentsToReserve      int           `yaml:"survivor_segments_to_reserve"`
	MinMemoryUtilization           int           `yaml:"min_memory_utilization"`
	MinDiskUtilization             int           `yaml:"min_disk_utilization"`
	WriteCostThreshold             float64       `yaml:"write_cost_threshold"`

	// Storage domain sizing.
	SegmentBytes int `yaml:"segment_bytes"`
	SegletBytes  int `yaml:"seglet_bytes"`
	SegmentCount int `yaml:"segment_count"`

	// Replication domain sizing.
	ReplicaCapacityBytes int64 `yaml:"replica_capacity_bytes"`

	// Metrics
	EnableExporter bool `yaml:"enable_exporter"`
	ExporterPort   int  `yaml:"exporter_port"`

	// Synthetic write traffic: the log-structured store has no external
	// client in this build, so cleanerd can drive its own foreground
	// Put/Delete load against pkg/logstore, giving the cleaner real
	// segments to select and relocate.
	EnableWorkload    bool          `yaml:"enable_workload"`
	WorkloadProducers int           `yaml:"workload_producers"`
	WorkloadKeySpace  int           `yaml:"workload_key_space"`
	WorkloadInterval  time.Duration `yaml:"workload_interval"`
	WorkloadValueSize int           `yaml:"workload_value_size"`
}

// Default values, mirroring spec.md §6's table.
const (
	DefaultPollUsec                          = 10000
	DefaultMaxCleanableMemoryUtilization     = 98
	DefaultMaxLiveSegmentsPerDiskPass        = 10
	DefaultSurvivorSegmentsToReserve         = 15
	DefaultMinMemoryUtilization              = 90
	DefaultMinDiskUtilization                = 95
	DefaultWriteCostThreshold                = 2.0
	DefaultSegmentBytes                      = 8 * 1024 * 1024
	DefaultSegletBytes                       = 64 * 1024
	DefaultSegmentCount                      = 64
	DefaultReplicaCapacityBytes        int64 = 4 * 1024 * 1024 * 1024
	DefaultExporterPort                      = 9100
	DefaultWorkloadProducers                 = 4
	DefaultWorkloadKeySpace                  = 512
	DefaultWorkloadIntervalUsec              = 2000
	DefaultWorkloadValueSize                 = 512
)

func defaults() *Config {
	return &Config{
		LogLevel:                      util.LogLevelInfo,
		PollInterval:                  DefaultPollUsec * time.Microsecond,
		MaxCleanableMemoryUtilization: DefaultMaxCleanableMemoryUtilization,
		MaxLiveSegmentsPerDiskPass:    DefaultMaxLiveSegmentsPerDiskPass,
		SurvivorSegmentsToReserve:     DefaultSurvivorSegmentsToReserve,
		MinMemoryUtilization:          DefaultMinMemoryUtilization,
		MinDiskUtilization:            DefaultMinDiskUtilization,
		WriteCostThreshold:            DefaultWriteCostThreshold,
		SegmentBytes:                  DefaultSegmentBytes,
		SegletBytes:                   DefaultSegletBytes,
		SegmentCount:                  DefaultSegmentCount,
		ReplicaCapacityBytes:          DefaultReplicaCapacityBytes,
		EnableExporter:                false,
		ExporterPort:                  DefaultExporterPort,
		EnableWorkload:                true,
		WorkloadProducers:             DefaultWorkloadProducers,
		WorkloadKeySpace:              DefaultWorkloadKeySpace,
		WorkloadInterval:              DefaultWorkloadIntervalUsec * time.Microsecond,
		WorkloadValueSize:             DefaultWorkloadValueSize,
	}
}

// LoadConfig parses flags, then overlays an optional YAML file (-config or
// $CLEANER_CONFIG_PATH), the way the teacher's LoadConfig does for the
// broker.
func LoadConfig(args []string) (*Config, error) {
	cfg := defaults()

	fs := flag.NewFlagSet("cleanerd", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to YAML config file")
	logLevelStr := fs.String("log-level", "info", "Log level (debug, info, warn, error)")
	pollUsec := fs.Int("poll-usec", DefaultPollUsec, "Idle sleep between empty ticks, in microseconds")
	writeCostThreshold := fs.Float64("write-cost-threshold", DefaultWriteCostThreshold, "Write cost above which memory cleaning yields to disk cleaning")
	segmentBytes := fs.Int("segment-bytes", DefaultSegmentBytes, "Bytes per segment")
	segletBytes := fs.Int("seglet-bytes", DefaultSegletBytes, "Bytes per seglet")
	segmentCount := fs.Int("segment-count", DefaultSegmentCount, "Total segments the pool can hold")
	replicaCapacity := fs.Int64("replica-capacity-bytes", DefaultReplicaCapacityBytes, "Backup capacity in bytes")
	enableExporter := fs.Bool("exporter", false, "Enable the Prometheus exporter")
	exporterPort := fs.Int("exporter-port", DefaultExporterPort, "Prometheus exporter port")
	enableWorkload := fs.Bool("workload", true, "Drive synthetic Put/Delete traffic against the log store")
	workloadProducers := fs.Int("workload-producers", DefaultWorkloadProducers, "Concurrent synthetic producer goroutines")
	workloadKeySpace := fs.Int("workload-key-space", DefaultWorkloadKeySpace, "Distinct keys each synthetic producer cycles through")
	workloadIntervalUsec := fs.Int("workload-interval-usec", DefaultWorkloadIntervalUsec, "Delay between one producer's writes, in microseconds")
	workloadValueSize := fs.Int("workload-value-size", DefaultWorkloadValueSize, "Bytes per synthetic value")

	if envPath := os.Getenv("CLEANER_CONFIG_PATH"); envPath != "" && *configPath == "" {
		*configPath = envPath
	}

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	cfg.LogLevel = parseLogLevel(*logLevelStr)
	cfg.PollInterval = time.Duration(*pollUsec) * time.Microsecond
	cfg.WriteCostThreshold = *writeCostThreshold
	cfg.SegmentBytes = *segmentBytes
	cfg.SegletBytes = *segletBytes
	cfg.SegmentCount = *segmentCount
	cfg.ReplicaCapacityBytes = *replicaCapacity
	cfg.EnableExporter = *enableExporter
	cfg.ExporterPort = *exporterPort
	cfg.EnableWorkload = *enableWorkload
	cfg.WorkloadProducers = *workloadProducers
	cfg.WorkloadKeySpace = *workloadKeySpace
	cfg.WorkloadInterval = time.Duration(*workloadIntervalUsec) * time.Microsecond
	cfg.WorkloadValueSize = *workloadValueSize

	if *configPath != "" {
		data, err := os.ReadFile(*configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects tunable combinations that would violate I1 (conservation)
// before the cleaner ever starts.
func (c *Config) Validate() error {
	if c.MaxCleanableMemoryUtilization <= 0 || c.MaxCleanableMemoryUtilization > 100 {
		return fmt.Errorf("max_cleanable_memory_utilization must be in (0,100], got %d", c.MaxCleanableMemoryUtilization)
	}
	if c.SegletBytes <= 0 || c.SegmentBytes <= 0 || c.SegmentBytes%c.SegletBytes != 0 {
		return fmt.Errorf("segment_bytes must be a positive multiple of seglet_bytes")
	}
	if c.SurvivorSegmentsToReserve <= 0 {
		return fmt.Errorf("survivor_segments_to_reserve must be positive")
	}
	if c.WriteCostThreshold < 1.0 {
		return fmt.Errorf("write_cost_threshold must be >= 1.0, got %f", c.WriteCostThreshold)
	}
	if c.EnableWorkload && (c.WorkloadProducers <= 0 || c.WorkloadKeySpace <= 0) {
		return fmt.Errorf("workload_producers and workload_key_space must be positive when enable_workload is set")
	}
	return nil
}

// SegletsPerSegment returns how many fixed-size seglets make up one segment.
func (c *Config) SegletsPerSegment() int {
	return c.SegmentBytes / c.SegletBytes
}

func parseLogLevel(s string) util.LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return util.LogLevelDebug
	case "warn", "warning":
		return util.LogLevelWarn
	case "error":
		return util.LogLevelError
	default:
		return util.LogLevelInfo
	}
}
