package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/downfa11-org/logcleaner/pkg/cleaner"
	"github.com/downfa11-org/logcleaner/pkg/config"
	"github.com/downfa11-org/logcleaner/pkg/index"
	"github.com/downfa11-org/logcleaner/pkg/logstore"
	"github.com/downfa11-org/logcleaner/pkg/metrics"
	"github.com/downfa11-org/logcleaner/pkg/replication"
	"github.com/downfa11-org/logcleaner/pkg/segment"
	"github.com/downfa11-org/logcleaner/util"
)

// wallClock stamps entries and ages segments against real time, in units of
// whole seconds since the process's own epoch so scores stay small.
type wallClock struct{ start time.Time }

func (c wallClock) Now() uint32 { return uint32(time.Since(c.start).Seconds()) }

func main() {
	cfg, err := config.LoadConfig(os.Args[1:])
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}
	util.SetLevel(cfg.LogLevel)

	fmt.Printf("🚀 Starting cleanerd (segments=%d segmentBytes=%d segletBytes=%d)\n", cfg.SegmentCount, cfg.SegmentBytes, cfg.SegletBytes)
	fmt.Printf("🧹 Poll interval: %s | write cost threshold: %.2f | exporter: %v\n", cfg.PollInterval, cfg.WriteCostThreshold, cfg.EnableExporter)

	replicas, err := replication.NewManager(replication.Config{
		NodeID:        "cleanerd-0",
		CapacityBytes: cfg.ReplicaCapacityBytes,
	})
	if err != nil {
		log.Fatalf("❌ Failed to start replication manager: %v", err)
	}
	defer func() {
		if err := replicas.Shutdown(); err != nil {
			util.Warn("cleanerd: replication shutdown: %v", err)
		}
	}()

	segments := segment.NewManager(cfg.SegmentCount, cfg.SegmentBytes, cfg.SegletBytes, replicas)
	liveIndex := index.NewLiveIndex()
	clock := wallClock{start: time.Now()}

	store, err := logstore.New(segments, liveIndex, clock)
	if err != nil {
		log.Fatalf("❌ Failed to open log store: %v", err)
	}

	var stopWorkload func()
	if cfg.EnableWorkload {
		util.Info("cleanerd: starting %d synthetic write producers (key space %d)", cfg.WorkloadProducers, cfg.WorkloadKeySpace)
		stopWorkload = startWorkload(store, cfg)
	}

	tunables := cleaner.Tunables{
		PollInterval:                  cfg.PollInterval,
		MaxCleanableMemoryUtilization: cfg.MaxCleanableMemoryUtilization,
		MaxLiveSegmentsPerDiskPass:    cfg.MaxLiveSegmentsPerDiskPass,
		SurvivorSegmentsToReserve:     cfg.SurvivorSegmentsToReserve,
		MinMemoryUtilization:          cfg.MinMemoryUtilization,
		MinDiskUtilization:            cfg.MinDiskUtilization,
		WriteCostThreshold:            cfg.WriteCostThreshold,
	}
	c := cleaner.New(segments, replicas, liveIndex, clock, tunables)

	if cfg.EnableExporter {
		metrics.StartExporter(cfg.ExporterPort)
	}

	if err := c.Start(); err != nil {
		log.Fatalf("❌ Failed to start cleaner: %v", err)
	}
	util.Info("cleanerd: cleaner task running")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	util.Info("cleanerd: shutdown signal received, stopping cleaner")
	if stopWorkload != nil {
		stopWorkload()
	}
	if err := c.Stop(); err != nil {
		util.Warn("cleanerd: stop: %v", err)
	}

	stats := c.Statistics()
	fmt.Printf("📊 Final stats: memoryPasses=%d diskPasses=%d bytesRelocated=%d segmentsFreed=%d lastWriteCost=%.3f\n",
		stats.MemoryPasses, stats.DiskPasses, stats.BytesRelocated, stats.SegmentsFreed, stats.LastWriteCost)

	if fatal := c.FatalError(); fatal != nil {
		log.Fatalf("❌ Cleaner terminated on invariant violation: %v", fatal)
	}
}
