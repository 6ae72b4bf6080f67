package main

import (
	"math/rand"
	"time"

	"github.com/downfa11-org/logcleaner/pkg/config"
	"github.com/downfa11-org/logcleaner/pkg/logstore"
	"github.com/downfa11-org/logcleaner/util"
)

// runWorkloadProducer drives one goroutine's worth of foreground Put/Delete
// traffic against store, giving the cleaner real segments to select and
// relocate instead of an empty pool. Grounded on the teacher's
// pkg/bench/runner.go producer-goroutine fan-out, adapted from a TCP
// client hammering a broker to an in-process caller hammering the log
// store directly, since this build carries no network-facing server.
func runWorkloadProducer(id int, store *logstore.Store, cfg *config.Config, stop <-chan struct{}) {
	rng := rand.New(rand.NewSource(int64(id) + 1))
	value := make([]byte, cfg.WorkloadValueSize)
	ticker := time.NewTicker(cfg.WorkloadInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			key := uint64(id*cfg.WorkloadKeySpace + rng.Intn(cfg.WorkloadKeySpace))
			if rng.Intn(10) == 0 {
				if err := store.Delete(key); err != nil {
					util.Warn("cleanerd: workload producer %d delete key %d: %v", id, key, err)
				}
				continue
			}
			rng.Read(value)
			if err := store.Put(key, value); err != nil {
				util.Warn("cleanerd: workload producer %d put key %d: %v", id, key, err)
			}
		}
	}
}

// startWorkload launches cfg.WorkloadProducers producer goroutines and
// returns a function that stops them all and waits for them to exit.
func startWorkload(store *logstore.Store, cfg *config.Config) (stopFn func()) {
	stop := make(chan struct{})
	done := make(chan struct{}, cfg.WorkloadProducers)
	for i := 0; i < cfg.WorkloadProducers; i++ {
		go func(id int) {
			defer func() { done <- struct{}{} }()
			runWorkloadProducer(id, store, cfg, stop)
		}(i)
	}
	return func() {
		close(stop)
		for i := 0; i < cfg.WorkloadProducers; i++ {
			<-done
		}
	}
}
