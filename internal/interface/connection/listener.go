package connection

import (
	"errors"
	"net"
)

// Listener runs the accept loop: bind, listen, and hand each accepted
// socket to a worker Pool. Accept errors are non-fatal; the loop only
// stops once the listener itself has been closed.
type Listener struct {
	addr string
	pool *Pool
	ln   net.Listener
}

// NewListener binds nothing yet; Serve performs the actual bind.
func NewListener(addr string, pool *Pool) *Listener {
	return &Listener{addr: addr, pool: pool}
}

// Serve binds addr and accepts connections until Close is called.
func (l *Listener) Serve() error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return err
	}
	l.ln = ln

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			continue
		}
		l.pool.Submit(conn)
	}
}

// Close stops the accept loop.
func (l *Listener) Close() error {
	if l.ln == nil {
		return nil
	}
	return l.ln.Close()
}
