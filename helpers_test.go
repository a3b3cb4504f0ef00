package ftp

import (
	"fmt"
	"net"
	"net/textproto"
	"sync"
	"testing"
	"time"
)

// loggedInClient dials and logs into ms with anonymous credentials,
// leaving USER/PASS handled by mockServer's defaults.
func loggedInClient(t *testing.T, ms *mockServer) *Client {
	t.Helper()
	c, err := Dial(ms.addr, WithTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if err := c.Login("anonymous", "anonymous"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	return c
}

// passiveListener is mockServer's data-side listener. Like a real server it
// opens a fresh listener for every PASV/EPSV reply, so a data connection
// the client opened for a command the server then refused (e.g. an MLSD
// discovery probe) is dropped with its listener instead of being accepted
// in place of the next transfer's connection.
type passiveListener struct {
	mu  sync.Mutex
	cur net.Listener
}

// reopen closes the previous listener, if any, and returns the port of a
// newly opened one.
func (p *passiveListener) reopen(t *testing.T) int {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Errorf("listen: %v", err)
		return 0
	}
	p.mu.Lock()
	if p.cur != nil {
		p.cur.Close()
	}
	p.cur = l
	p.mu.Unlock()
	return l.Addr().(*net.TCPAddr).Port
}

func (p *passiveListener) current() net.Listener {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cur
}

func (p *passiveListener) Accept() (net.Conn, error) {
	l := p.current()
	if l == nil {
		return nil, net.ErrClosed
	}
	return l.Accept()
}

func (p *passiveListener) Close() error {
	if l := p.current(); l != nil {
		return l.Close()
	}
	return nil
}

func (p *passiveListener) Addr() net.Addr {
	if l := p.current(); l != nil {
		return l.Addr()
	}
	return nil
}

// wirePassiveData scripts ms to refuse EPSV and to answer every PASV with
// a freshly opened data listener, so tests can drive a data connection
// without also exercising the EPSV probe. The returned listener accepts on
// whichever listener the latest PASV reported.
func wirePassiveData(t *testing.T, ms *mockServer) net.Listener {
	t.Helper()
	l := &passiveListener{}
	ms.dataListener = l

	ms.handlers["EPSV"] = func(c *textproto.Conn, args string) {
		_ = c.PrintfLine("502 Command not implemented.")
	}
	ms.handlers["PASV"] = func(c *textproto.Conn, args string) {
		port := l.reopen(t)
		_ = c.PrintfLine("227 Entering Passive Mode (127,0,0,1,%d,%d).", port/256, port%256)
	}
	return l
}

// serveListingOnce accepts one data connection on l, writes lines (each
// already CRLF-free) and closes it, then sends reply on the control
// connection.
func serveListingOnce(t *testing.T, l net.Listener, c *textproto.Conn, lines []string, reply string) {
	t.Helper()
	_ = c.PrintfLine("150 About to send listing.")
	dconn, err := l.Accept()
	if err != nil {
		t.Errorf("accept data conn: %v", err)
		return
	}
	for _, line := range lines {
		fmt.Fprintf(dconn, "%s\r\n", line)
	}
	dconn.Close()
	_ = c.PrintfLine("%s", reply)
}
