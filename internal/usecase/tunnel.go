package usecase

import (
	"net"
	"sync"
	"time"
)

const shuttleBufferSize = 8 * 1024

// pacer implements the rate-pacing formula: after forwarding cumulative
// total bytes since start, the expected elapsed time is total/limit
// seconds; if the actual elapsed time is less, sleep the difference.
// When resetInterval is non-zero, total and start are reset once that
// much time has passed, bounding drift after idle periods.
type pacer struct {
	limit         uint64
	start         time.Time
	total         uint64
	resetInterval time.Duration
}

func newPacer(limit uint64, resetInterval time.Duration) *pacer {
	return &pacer{limit: limit, start: time.Now(), resetInterval: resetInterval}
}

func (p *pacer) onWrite(n int) {
	if p.limit == 0 {
		return
	}

	p.total += uint64(n)
	elapsed := time.Since(p.start)
	expected := time.Duration(float64(p.total) / float64(p.limit) * float64(time.Second))
	if expected > elapsed {
		time.Sleep(expected - elapsed)
	}

	if p.resetInterval > 0 && time.Since(p.start) >= p.resetInterval {
		p.total = 0
		p.start = time.Now()
	}
}

// shuttle copies from src to dst in 8 KiB chunks, pacing each write,
// until src returns EOF or either side errors. idleTimeout is refreshed
// on src before every read, so it only fires on a genuinely idle
// connection rather than one that has simply lived longer than
// idleTimeout. It shuts down the write half of dst on exit to
// propagate EOF downstream.
func shuttle(dst, src net.Conn, limit uint64, resetInterval, idleTimeout time.Duration) {
	buf := make([]byte, shuttleBufferSize)
	p := newPacer(limit, resetInterval)

	for {
		setIdleReadDeadline(src, idleTimeout)
		n, err := src.Read(buf)
		if n <= 0 || err != nil {
			break
		}
		if _, werr := writeAll(dst, buf[:n]); werr != nil {
			break
		}
		p.onWrite(n)
	}

	if tc, ok := dst.(*net.TCPConn); ok {
		tc.CloseWrite()
	}
}

// runTunnel snapshots the bandwidth cap, runs both shuttles to
// completion, then gracefully closes both sockets. Each direction paces
// independently and resets its drift counters every 5 seconds. Both
// client and upstream reads carry the same idle read timeout — a
// tunnel is only killed for going quiet, never for merely running
// longer than the timeout.
func (uc *ProxyUseCase) runTunnel(client, upstream net.Conn) {
	limit := uc.bandwidthCap.Load()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); shuttle(upstream, client, limit, 5*time.Second, uc.readTimeout) }()
	go func() { defer wg.Done(); shuttle(client, upstream, limit, 5*time.Second, uc.readTimeout) }()
	wg.Wait()

	gracefulClose(client)
	gracefulClose(upstream)
}

// streamResponse relays the upstream response back to client, pacing
// each write but never resetting the drift counters — matching the
// asymmetry between the source's tunnel forward_loop and its plaintext
// response streaming. idleTimeout is refreshed on upstream before every
// read, giving the upstream socket the same idle read timeout the
// client socket gets while its request head is read.
func streamResponse(client, upstream net.Conn, limit uint64, idleTimeout time.Duration) int64 {
	buf := make([]byte, shuttleBufferSize)
	p := newPacer(limit, 0)

	var total int64
	for {
		setIdleReadDeadline(upstream, idleTimeout)
		n, err := upstream.Read(buf)
		if n > 0 {
			if _, werr := writeAll(client, buf[:n]); werr != nil {
				break
			}
			total += int64(n)
			p.onWrite(n)
		}
		if err != nil {
			break
		}
	}
	return total
}
