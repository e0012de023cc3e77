package domain

// DomainCount pairs a domain with its lifetime request count, as
// returned by a top-k query.
type DomainCount struct {
	Domain string
	Count  uint64
}

// MetricsCollector tracks a sliding-window request rate (RPM over the
// last window_seconds) plus lifetime per-domain totals.
type MetricsCollector interface {
	// Start is idempotent and spawns the background rotator.
	Start()
	// Stop is idempotent and joins the rotator.
	Stop()
	RecordRequest(domain string)
	// RPM sums every slot in the ring; it may trail reality by up to 1s.
	RPM() uint64
	// TopK returns at most k domains sorted non-increasing by count,
	// ties broken by first-seen order.
	TopK(k int) []DomainCount
}
