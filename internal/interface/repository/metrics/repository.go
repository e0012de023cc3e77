// Package metrics implements the sliding-window RPM ring and per-domain
// frequency tracker.
package metrics

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"forwardproxy/internal/domain"
)

// Repository is a ring of window_seconds one-second counters plus a
// lifetime domain -> count map. Ring increments are relaxed atomics;
// rotation is exclusive to a single background goroutine.
type Repository struct {
	window int

	slots       []atomic.Uint64
	currentSlot atomic.Int64
	running     atomic.Bool
	stopCh      chan struct{}

	domainMu     sync.Mutex
	domainCounts map[string]uint64
	domainOrder  []string
}

var _ domain.MetricsCollector = (*Repository)(nil)

// New returns a Repository with the given window size in seconds.
func New(windowSeconds int) *Repository {
	return &Repository{
		window:       windowSeconds,
		slots:        make([]atomic.Uint64, windowSeconds),
		domainCounts: make(map[string]uint64),
	}
}

// Start spawns the rotator goroutine; a second call is a no-op.
func (r *Repository) Start() {
	if !r.running.CompareAndSwap(false, true) {
		return
	}
	r.stopCh = make(chan struct{})
	go r.rotate()
}

// Stop joins the rotator; a second call is a no-op.
func (r *Repository) Stop() {
	if !r.running.CompareAndSwap(true, false) {
		return
	}
	// An unbuffered send completes only once the rotator has received it
	// and left its loop, so no rotation happens after Stop returns.
	r.stopCh <- struct{}{}
}

func (r *Repository) rotate() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			next := (r.currentSlot.Load() + 1) % int64(r.window)
			r.slots[next].Store(0)
			r.currentSlot.Store(next)
		}
	}
}

// RecordRequest folds an empty domain to "unknown", lower-cases it,
// bumps the current ring slot, and bumps its lifetime total.
func (r *Repository) RecordRequest(domainName string) {
	d := strings.ToLower(domainName)
	if d == "" {
		d = "unknown"
	}

	r.slots[r.currentSlot.Load()].Add(1)

	r.domainMu.Lock()
	if _, seen := r.domainCounts[d]; !seen {
		r.domainOrder = append(r.domainOrder, d)
	}
	r.domainCounts[d]++
	r.domainMu.Unlock()
}

// RPM sums every ring slot.
func (r *Repository) RPM() uint64 {
	var total uint64
	for i := range r.slots {
		total += r.slots[i].Load()
	}
	return total
}

// TopK snapshots domainCounts in first-seen order, then applies a stable
// sort descending by count so ties keep that insertion order.
func (r *Repository) TopK(k int) []domain.DomainCount {
	r.domainMu.Lock()
	snapshot := make([]domain.DomainCount, 0, len(r.domainOrder))
	for _, d := range r.domainOrder {
		snapshot = append(snapshot, domain.DomainCount{Domain: d, Count: r.domainCounts[d]})
	}
	r.domainMu.Unlock()

	sort.SliceStable(snapshot, func(i, j int) bool {
		return snapshot[i].Count > snapshot[j].Count
	})

	if k < len(snapshot) {
		snapshot = snapshot[:k]
	}
	return snapshot
}
