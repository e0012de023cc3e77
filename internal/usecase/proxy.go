// Package usecase implements the connection-handling pipeline: parse,
// classify, connect, then forward or tunnel.
package usecase

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"forwardproxy/internal/domain"
)

const maxHeadSize = 64 * 1024

// ProxyUseCase wires the filter, metrics, audit log, application log,
// and resolution cache behind the per-connection pipeline.
type ProxyUseCase struct {
	filter       domain.FilterEngine
	metrics      domain.MetricsCollector
	audit        domain.AuditLogger
	logger       domain.Logger
	resolver     domain.ResolutionCache
	bandwidthCap *atomic.Uint64

	readTimeout     time.Duration
	resolutionTTL   time.Duration
}

// NewProxyUseCase assembles the pipeline's dependencies.
func NewProxyUseCase(
	filter domain.FilterEngine,
	metrics domain.MetricsCollector,
	audit domain.AuditLogger,
	logger domain.Logger,
	resolver domain.ResolutionCache,
	bandwidthCap *atomic.Uint64,
	readTimeout time.Duration,
	resolutionTTL time.Duration,
) *ProxyUseCase {
	return &ProxyUseCase{
		filter:        filter,
		metrics:       metrics,
		audit:         audit,
		logger:        logger,
		resolver:      resolver,
		bandwidthCap:  bandwidthCap,
		readTimeout:   readTimeout,
		resolutionTTL: resolutionTTL,
	}
}

// HandleConnection runs the full per-connection pipeline described by
// the component design: resolve peer, set a read deadline, read and
// parse the request head, classify the destination, filter, resolve,
// connect, then forward or tunnel. It always closes conn before
// returning.
func (uc *ProxyUseCase) HandleConnection(conn net.Conn) {
	defer conn.Close()

	clientEndpoint := conn.RemoteAddr().String()

	head, err := readRequestHead(conn, uc.readTimeout)
	if err != nil {
		// Oversize or premature EOF: close silently, no log line,
		// since no request line was ever parsed.
		return
	}

	reqLine, headers := parseRequest(head)
	method, target, version := parseRequestLine(reqLine)

	rec := &domain.RequestRecord{
		ClientEndpoint: clientEndpoint,
		RequestLine:    reqLine,
		Method:         method,
		Target:         target,
		Version:        version,
		Headers:        headers,
		CreatedAt:      time.Now(),
	}

	host, port, ok := extractDestination(method, target, headers)
	if !ok {
		rec.Action = domain.ActionError
		rec.Status = 400
		uc.logger.Debug("rejecting request", map[string]interface{}{
			"client": clientEndpoint,
			"err":    (&domain.ErrMalformedRequest{Reason: "no usable Host header or CONNECT target"}).Error(),
		})
		uc.audit.Log(rec)
		gracefulClose(conn)
		return
	}
	rec.DestHost, rec.DestPort = host, port

	uc.metrics.RecordRequest(host)

	if uc.filter.IsBlocked(host) {
		rec.Action = domain.ActionBlocked
		rec.Status = 403
		conn.Write([]byte("HTTP/1.1 403 Forbidden\r\nContent-Length: 9\r\nConnection: close\r\n\r\nForbidden"))
		uc.audit.Log(rec)
		gracefulClose(conn)
		return
	}

	addrs, err := uc.resolveHost(host)
	if err != nil || len(addrs) == 0 {
		rec.Action = domain.ActionError
		rec.Status = 502
		uc.logger.Error("resolving upstream host", &domain.ErrUpstreamUnavailable{Host: host, Err: err}, nil)
		uc.audit.Log(rec)
		gracefulClose(conn)
		return
	}

	upstream, err := net.DialTimeout("tcp", net.JoinHostPort(addrs[0].String(), port), uc.readTimeout)
	if err != nil {
		rec.Action = domain.ActionError
		rec.Status = 502
		uc.logger.Error("dialing upstream host", &domain.ErrUpstreamUnavailable{Host: host, Err: err}, nil)
		uc.audit.Log(rec)
		gracefulClose(conn)
		return
	}

	if strings.EqualFold(method, "CONNECT") {
		conn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n"))
		rec.Action = domain.ActionForward
		rec.Status = 200
		uc.audit.Log(rec)
		uc.runTunnel(conn, upstream)
		return
	}

	rec.BytesTransferred = uc.forwardRequest(conn, upstream, method, target, version, headers)
	rec.Action = domain.ActionForward
	rec.Status = 200
	uc.audit.Log(rec)
	gracefulClose(conn)
	gracefulClose(upstream)
}

func (uc *ProxyUseCase) resolveHost(host string) ([]net.IP, error) {
	if addrs, ok := uc.resolver.Lookup(host); ok {
		return addrs, nil
	}

	addrs, err := net.DefaultResolver.LookupIP(context.Background(), "ip", host)
	if err != nil {
		return nil, err
	}

	uc.resolver.Store(host, addrs, uc.resolutionTTL)
	return addrs, nil
}

// forwardRequest rebuilds the outbound request line and headers,
// dropping hop-by-hop headers and appending Connection: close, sends it
// upstream, then streams the response back to the client under the
// shared bandwidth cap. It returns the bytes streamed to the client.
func (uc *ProxyUseCase) forwardRequest(
	client, upstream net.Conn, method, target, version string, headers map[string]string,
) int64 {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%s %s %s\r\n", method, target, version)

	keys := make([]string, 0, len(headers))
	for k := range headers {
		if k == "connection" || k == "proxy-connection" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\r\n", k, headers[k])
	}
	b.WriteString("Connection: close\r\n\r\n")

	if _, err := writeAll(upstream, b.Bytes()); err != nil {
		return 0
	}

	return streamResponse(client, upstream, uc.bandwidthCap.Load(), uc.readTimeout)
}

// readRequestHead reads until the blank line that terminates the
// request head, refreshing conn's read deadline before every recv so
// the timeout is an idle timeout — it never fires while bytes keep
// arriving, matching the SO_RCVTIMEO semantics of the original.
func readRequestHead(conn net.Conn, idleTimeout time.Duration) ([]byte, error) {
	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 4096)

	for {
		setIdleReadDeadline(conn, idleTimeout)
		n, err := conn.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
			if len(buf) > maxHeadSize {
				return nil, fmt.Errorf("request head exceeds %d bytes", maxHeadSize)
			}
			if idx := bytes.Index(buf, []byte("\r\n\r\n")); idx >= 0 {
				return buf[:idx+4], nil
			}
		}
		if err != nil {
			return nil, err
		}
	}
}

// parseRequest splits a head into its request line and a map of
// lower-cased header names to values. Header lines lacking ':' are
// ignored.
func parseRequest(head []byte) (string, map[string]string) {
	text := strings.TrimRight(string(head), "\r\n")
	lines := strings.Split(text, "\r\n")

	reqLine := lines[0]
	headers := make(map[string]string)
	for _, line := range lines[1:] {
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(line[:idx]))
		value := strings.TrimSpace(line[idx+1:])
		headers[name] = value
	}
	return reqLine, headers
}

// parseRequestLine extracts as many of METHOD/TARGET/VERSION as the
// line contains. A line with fewer than three fields is not rejected
// here — it falls through to extractDestination, which produces the
// ERROR 400 log line only when no host can be found (a CONNECT without
// a target, or a request without a Host header); a short non-CONNECT
// line that carries a Host header is forwarded as-is.
func parseRequestLine(line string) (method, target, version string) {
	fields := strings.Fields(line)
	if len(fields) > 0 {
		method = fields[0]
	}
	if len(fields) > 1 {
		target = fields[1]
	}
	if len(fields) > 2 {
		version = fields[2]
	}
	return
}

func extractDestination(method, target string, headers map[string]string) (host, port string, ok bool) {
	if strings.EqualFold(method, "CONNECT") {
		h, p, err := net.SplitHostPort(target)
		if err != nil {
			h, p = target, "443"
		}
		if h == "" {
			return "", "", false
		}
		return h, p, true
	}

	hostHeader := headers["host"]
	if hostHeader == "" {
		return "", "", false
	}
	h, p, err := net.SplitHostPort(hostHeader)
	if err != nil {
		h, p = hostHeader, "80"
	}
	if h == "" {
		return "", "", false
	}
	return h, p, true
}

// setIdleReadDeadline refreshes conn's read deadline to now+timeout.
// It is a no-op for non-TCP conns (e.g. the net.Pipe() conns used in
// tests), which have no read deadline to set.
func setIdleReadDeadline(conn net.Conn, timeout time.Duration) {
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetReadDeadline(time.Now().Add(timeout))
	}
}

func gracefulClose(conn net.Conn) {
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetLinger(1)
		tc.CloseWrite()

		buf := make([]byte, 4096)
		for {
			tc.SetReadDeadline(time.Now().Add(time.Second))
			n, err := tc.Read(buf)
			if n <= 0 || err != nil {
				break
			}
		}
	}
	conn.Close()
}

func writeAll(conn net.Conn, data []byte) (int, error) {
	total := 0
	for total < len(data) {
		n, err := conn.Write(data[total:])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}
