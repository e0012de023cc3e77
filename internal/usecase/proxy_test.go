package usecase

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forwardproxy/internal/domain"
)

func readResponse(t *testing.T, conn net.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var b strings.Builder
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			b.Write(buf[:n])
		}
		if err != nil {
			break
		}
	}
	return b.String()
}

func TestHandleConnectionBlockedHostReturns403AndAuditsBlocked(t *testing.T) {
	filter := newFakeFilter("blocked.example")
	audit := &fakeAudit{}
	uc := newTestUseCase(filter, &fakeMetrics{}, audit, newFakeResolver())

	client, server := net.Pipe()
	done := make(chan struct{})
	go func() { uc.HandleConnection(server); close(done) }()

	fmt.Fprint(client, "GET http://blocked.example/ HTTP/1.1\r\nHost: blocked.example\r\n\r\n")
	resp := readResponse(t, client)
	<-done

	assert.Contains(t, resp, "403 Forbidden")

	rec := audit.last()
	require.NotNil(t, rec)
	assert.Equal(t, domain.ActionBlocked, rec.Action)
	assert.Equal(t, 403, rec.Status)
}

func TestHandleConnectionForwardsPlaintextRequestAndStreamsResponse(t *testing.T) {
	upstream, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer upstream.Close()

	upstreamDone := make(chan struct{})
	go func() {
		defer close(upstreamDone)
		conn, err := upstream.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		bufio.NewReader(conn).ReadString('\n')
		fmt.Fprint(conn, "HTTP/1.1 200 OK\r\nContent-Length: 5\r\nConnection: close\r\n\r\nhello")
	}()

	_, port, _ := net.SplitHostPort(upstream.Addr().String())
	resolver := newFakeResolver()
	resolver.Store("upstream.test", []net.IP{net.ParseIP("127.0.0.1")}, time.Minute)

	audit := &fakeAudit{}
	metrics := &fakeMetrics{}
	uc := newTestUseCase(newFakeFilter(), metrics, audit, resolver)

	client, server := net.Pipe()
	done := make(chan struct{})
	go func() { uc.HandleConnection(server); close(done) }()

	fmt.Fprintf(client, "GET / HTTP/1.1\r\nHost: upstream.test:%s\r\nConnection: keep-alive\r\n\r\n", port)
	resp := readResponse(t, client)
	<-done
	<-upstreamDone

	assert.Contains(t, resp, "200 OK")
	assert.Contains(t, resp, "hello")

	assert.Contains(t, metrics.recorded, "upstream.test")

	rec := audit.last()
	require.NotNil(t, rec)
	assert.Equal(t, domain.ActionForward, rec.Action)
	assert.Equal(t, 200, rec.Status)
	assert.EqualValues(t, len(resp), rec.BytesTransferred)
}

func TestHandleConnectionConnectTunnelsBidirectionally(t *testing.T) {
	upstream, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer upstream.Close()

	upstreamDone := make(chan struct{})
	go func() {
		defer close(upstreamDone)
		conn, err := upstream.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 64)
		n, _ := conn.Read(buf)
		conn.Write(buf[:n])
	}()

	_, port, _ := net.SplitHostPort(upstream.Addr().String())
	resolver := newFakeResolver()
	resolver.Store("tunnel.test", []net.IP{net.ParseIP("127.0.0.1")}, time.Minute)

	audit := &fakeAudit{}
	uc := newTestUseCase(newFakeFilter(), &fakeMetrics{}, audit, resolver)

	client, server := net.Pipe()
	done := make(chan struct{})
	go func() { uc.HandleConnection(server); close(done) }()

	fmt.Fprintf(client, "CONNECT tunnel.test:%s HTTP/1.1\r\n\r\n", port)

	established := make([]byte, 128)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := client.Read(established)
	require.NoError(t, err)
	assert.Contains(t, string(established[:n]), "200 Connection Established")

	fmt.Fprint(client, "ping")
	echoed := make([]byte, 16)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err = client.Read(echoed)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(echoed[:n]))

	client.Close()
	<-done
	<-upstreamDone

	rec := audit.last()
	require.NotNil(t, rec)
	assert.Equal(t, domain.ActionForward, rec.Action)
	assert.Equal(t, 200, rec.Status)
}

func TestHandleConnectionResolutionFailureClosesWithoutForwarding(t *testing.T) {
	audit := &fakeAudit{}
	uc := newTestUseCase(newFakeFilter(), &fakeMetrics{}, audit, newFakeResolver())

	client, server := net.Pipe()
	done := make(chan struct{})
	go func() { uc.HandleConnection(server); close(done) }()

	fmt.Fprint(client, "GET / HTTP/1.1\r\nHost: this-host-does-not-exist.invalid\r\n\r\n")
	resp := readResponse(t, client)
	<-done

	assert.Empty(t, resp)

	rec := audit.last()
	require.NotNil(t, rec)
	assert.Equal(t, domain.ActionError, rec.Action)
	assert.Equal(t, 502, rec.Status)
	assert.EqualValues(t, 0, rec.BytesTransferred)
}

func TestHandleConnectionMissingHostHeaderAuditsAsBadRequest(t *testing.T) {
	audit := &fakeAudit{}
	uc := newTestUseCase(newFakeFilter(), &fakeMetrics{}, audit, newFakeResolver())

	client, server := net.Pipe()
	done := make(chan struct{})
	go func() { uc.HandleConnection(server); close(done) }()

	fmt.Fprint(client, "GET / HTTP/1.1\r\n\r\n")
	resp := readResponse(t, client)
	<-done

	assert.Empty(t, resp)

	rec := audit.last()
	require.NotNil(t, rec)
	assert.Equal(t, domain.ActionError, rec.Action)
	assert.Equal(t, 400, rec.Status)
}
