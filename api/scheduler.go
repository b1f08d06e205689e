/*
scheduler.go - Periodic identifier integrity check

PURPOSE:
  Re-reads every record table on an interval, checks the identifiers for
  duplicates and malformed serials, and keeps the latest report for the
  admin API. Each run refreshes the snapshot cache as a side effect.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on Start
  - Stop cancels the context of an in-flight run
  - Logs only tables that are not clean
  - A failed run keeps the previous report

CONFIGURATION:
  - CheckInterval: How often to check (default: 15 minutes)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewIntegrityScheduler(cache)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - record/integrity.go: Inspection rules
  - handlers.go: IntegrityReport endpoint
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/warp/record-intake/record"
)

// IntegrityRun is the outcome of one scheduled integrity check.
type IntegrityRun struct {
	StartedAt time.Time
	Reports   []record.IntegrityReport
	Err       error
}

// IntegrityScheduler runs record.InspectAll on an interval.
type IntegrityScheduler struct {
	Cache         *record.SnapshotCache
	CheckInterval time.Duration
	Enabled       bool
	Now           func() time.Time
	OnRun         func(IntegrityRun) // optional, called after every run

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	lastMu sync.RWMutex
	last   *IntegrityRun
}

// NewIntegrityScheduler creates a new scheduler.
func NewIntegrityScheduler(cache *record.SnapshotCache) *IntegrityScheduler {
	return &IntegrityScheduler{
		Cache:         cache,
		CheckInterval: 15 * time.Minute,
		Enabled:       true,
		Now:           time.Now,
	}
}

// Start begins the scheduler.
func (as *IntegrityScheduler) Start() {
	as.mu.Lock()
	defer as.mu.Unlock()

	if !as.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}
	if as.ticker != nil {
		return
	}

	as.ticker = time.NewTicker(as.CheckInterval)
	as.stop = make(chan struct{})
	as.wg.Add(1)

	go as.run()

	log.Printf("[Scheduler] Started with check interval: %v", as.CheckInterval)
}

// Stop stops the scheduler and waits for an in-flight run.
func (as *IntegrityScheduler) Stop() {
	as.mu.Lock()
	defer as.mu.Unlock()

	if as.ticker != nil {
		as.ticker.Stop()
		close(as.stop)
		as.wg.Wait()
		as.ticker = nil
		log.Println("[Scheduler] Stopped")
	}
}

func (as *IntegrityScheduler) run() {
	defer as.wg.Done()

	// Cancelled by Stop so an in-flight check does not hold it up
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-as.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	// Run immediately on start
	as.RunNow(ctx)

	for {
		select {
		case <-as.ticker.C:
			as.RunNow(ctx)
		case <-as.stop:
			return
		}
	}
}

// RunNow checks every table immediately and records the run.
func (as *IntegrityScheduler) RunNow(ctx context.Context) IntegrityRun {
	now := as.Now()
	reports, err := record.InspectAll(ctx, as.Cache, now)
	run := IntegrityRun{StartedAt: now, Reports: reports, Err: err}

	if err != nil {
		log.Printf("[Scheduler] Integrity check failed: %v", err)
	} else {
		for _, r := range reports {
			if !r.Clean() {
				log.Printf("[Scheduler] %s: %d duplicate IDs %v, %d malformed %v",
					r.StoreKey, len(r.Duplicates), r.DuplicateIDs(), len(r.Malformed), r.Malformed)
			}
		}
		as.lastMu.Lock()
		as.last = &run
		as.lastMu.Unlock()
	}

	if as.OnRun != nil {
		as.OnRun(run)
	}
	return run
}

// LastRun returns the most recent successful run, if any.
func (as *IntegrityScheduler) LastRun() (IntegrityRun, bool) {
	as.lastMu.RLock()
	defer as.lastMu.RUnlock()
	if as.last == nil {
		return IntegrityRun{}, false
	}
	return *as.last, true
}

// GetNextRunTime returns when the next scheduled check will occur.
func (as *IntegrityScheduler) GetNextRunTime() time.Time {
	return as.Now().Add(as.CheckInterval)
}
