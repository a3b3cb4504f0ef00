package ftp

import (
	"fmt"
	"net"
	"net/textproto"
	"strings"
	"testing"
)

// TestParseFeatureLines_RFC2389 checks a multi-line FEAT reply, with the
// space-prefixed continuation lines RFC 2389 mandates, splits into a
// command/parameter map.
func TestParseFeatureLines_RFC2389(t *testing.T) {
	t.Parallel()
	lines := []string{
		"211-Extensions supported:",
		" MLST size*;create;modify*;perm;media-type",
		" SIZE",
		" COMPRESSION",
		" MDTM",
		"211 END",
	}

	got := parseFeatureLines(lines)

	want := map[string]string{
		"MLST":        "size*;create;modify*;perm;media-type",
		"SIZE":        "",
		"COMPRESSION": "",
		"MDTM":        "",
	}

	if len(got) != len(want) {
		t.Fatalf("parseFeatureLines() returned %d entries, want %d: %v", len(got), len(want), got)
	}
	for name, params := range want {
		gotParams, ok := got[name]
		if !ok {
			t.Errorf("parseFeatureLines() missing feature %s", name)
			continue
		}
		if gotParams != params {
			t.Errorf("parseFeatureLines()[%s] = %q, want %q", name, gotParams, params)
		}
	}
}

// mockServer is a single-connection scripted FTP server: a handler
// registered under a command's name fully decides that command's reply,
// and everything else falls back to a minimal anonymous-login script. It
// backs every facade-level test in this package.
type mockServer struct {
	listener         net.Listener
	addr             string
	handlers         map[string]func(conn *textproto.Conn, args string)
	dataListener     net.Listener
	receivedCommands []string
	done             chan struct{}
}

func newMockServer(t *testing.T) *mockServer {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return &mockServer{
		listener: l,
		addr:     l.Addr().String(),
		handlers: make(map[string]func(*textproto.Conn, string)),
		done:     make(chan struct{}),
	}
}

var defaultReplies = map[string]string{
	"USER": "331 User name okay, need password.",
	"PASS": "230 User logged in, proceed.",
	"TYPE": "200 Command okay.",
}

func (s *mockServer) start() {
	go func() {
		defer close(s.done)
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		fmt.Fprintf(conn, "220 Service ready\r\n")

		tc := textproto.NewConn(conn)
		defer tc.Close()

		for {
			line, err := tc.ReadLine()
			if err != nil {
				return
			}

			cmd, args, _ := strings.Cut(line, " ")
			cmd = strings.ToUpper(cmd)
			s.receivedCommands = append(s.receivedCommands, cmd)

			if handler, ok := s.handlers[cmd]; ok {
				handler(tc, args)
				continue
			}
			if cmd == "QUIT" {
				_ = tc.PrintfLine("221 Service closing control connection.")
				return
			}
			if reply, ok := defaultReplies[cmd]; ok {
				_ = tc.PrintfLine("%s", reply)
				continue
			}
			_ = tc.PrintfLine("502 Command not implemented.")
		}
	}()
}

func (s *mockServer) stop() {
	s.listener.Close()
	if s.dataListener != nil {
		s.dataListener.Close()
	}
	<-s.done
}

// countCommand returns how many times cmd appears in ms.receivedCommands.
func countCommand(ms *mockServer, cmd string) int {
	n := 0
	for _, c := range ms.receivedCommands {
		if c == cmd {
			n++
		}
	}
	return n
}

// epsvListener registers an EPSV handler on ms that reports the port of a
// data listener freshly opened for each EPSV, returning a listener that
// accepts on the latest one for the caller's LIST/RETR/STOR handler.
func epsvListener(t *testing.T, ms *mockServer) net.Listener {
	t.Helper()
	l := &passiveListener{}
	ms.dataListener = l
	ms.handlers["EPSV"] = func(c *textproto.Conn, args string) {
		_ = c.PrintfLine("229 Entering Extended Passive Mode (|||%d|)", l.reopen(t))
	}
	return l
}

// acceptAndClose accepts one data connection on l and closes it right
// away, simulating a zero-byte LIST/RETR reply.
func acceptAndClose(t *testing.T, l net.Listener) {
	t.Helper()
	dconn, err := l.Accept()
	if err != nil {
		t.Errorf("accept data conn: %v", err)
		return
	}
	dconn.Close()
}

// TestClient_EPSV_Success checks that a server accepting EPSV is used for
// every List call, without ever falling back to PASV.
func TestClient_EPSV_Success(t *testing.T) {
	t.Parallel()
	ms := newMockServer(t)
	l := epsvListener(t, ms)
	ms.handlers["LIST"] = func(c *textproto.Conn, args string) {
		_ = c.PrintfLine("150 File status okay.")
		acceptAndClose(t, l)
		_ = c.PrintfLine("226 Closing data connection.")
	}
	ms.start()
	defer ms.stop()

	c := loggedInClient(t, ms)
	defer func() { _ = c.Quit() }()

	if _, err := c.List("."); err != nil {
		t.Fatalf("first List: %v", err)
	}
	if _, err := c.List("."); err != nil {
		t.Fatalf("second List: %v", err)
	}

	// One EPSV per data connection: the refused MLSD discovery probe, then
	// "LIST -a" for each of the two List calls.
	if got := countCommand(ms, "EPSV"); got != 3 {
		t.Errorf("EPSV sent %d times, want 3 (every data connection, never cached away): %v", got, ms.receivedCommands)
	}
	if got := countCommand(ms, "PASV"); got != 0 {
		t.Errorf("PASV sent %d times, want 0", got)
	}
}

// TestClient_EPSV_FallsBackAndCachesPASV drives the exact exchange in the
// spec's passive-probe scenario: EPSV is refused, PASV succeeds, and the
// session remembers PASV so the next data connection skips EPSV entirely.
func TestClient_EPSV_FallsBackAndCachesPASV(t *testing.T) {
	t.Parallel()
	ms := newMockServer(t)
	l := wirePassiveData(t, ms)
	ms.handlers["LIST"] = func(c *textproto.Conn, args string) {
		_ = c.PrintfLine("150 File status okay; about to open data connection.")
		acceptAndClose(t, l)
		_ = c.PrintfLine("226 Closing data connection.")
	}
	ms.start()
	defer ms.stop()

	c := loggedInClient(t, ms)
	defer func() { _ = c.Quit() }()

	if _, err := c.List("."); err != nil {
		t.Fatalf("first List (EPSV refused, falls back to PASV): %v", err)
	}
	if _, err := c.List("."); err != nil {
		t.Fatalf("second List (should go straight to PASV): %v", err)
	}

	if got := countCommand(ms, "EPSV"); got != 1 {
		t.Errorf("EPSV sent %d times, want exactly 1 (probed once, then PASV cached): %v", got, ms.receivedCommands)
	}
	if got := countCommand(ms, "PASV"); got != 3 {
		t.Errorf("PASV sent %d times, want 3 (the MLSD discovery probe, then both List calls)", got)
	}
}

// TestClient_EPSV_CachingIgnoresSpecificFailureCode asserts the caching
// rule is driven purely by which strategy first succeeds, not by whether
// EPSV happened to fail with 502 specifically. A "500 unrecognized" EPSV
// refusal must latch PASV exactly the same way a "502 not implemented"
// refusal would.
func TestClient_EPSV_CachingIgnoresSpecificFailureCode(t *testing.T) {
	t.Parallel()
	ms := newMockServer(t)
	l := wirePassiveData(t, ms)
	// wirePassiveData's default EPSV handler replies 502; override with a
	// different negative code to prove the latch doesn't care which one.
	ms.handlers["EPSV"] = func(c *textproto.Conn, args string) {
		_ = c.PrintfLine("500 Syntax error, command unrecognized.")
	}
	ms.handlers["LIST"] = func(c *textproto.Conn, args string) {
		_ = c.PrintfLine("150 File status okay.")
		acceptAndClose(t, l)
		_ = c.PrintfLine("226 Closing data connection.")
	}
	ms.start()
	defer ms.stop()

	c := loggedInClient(t, ms)
	defer func() { _ = c.Quit() }()

	if _, err := c.List("."); err != nil {
		t.Fatalf("first List: %v", err)
	}
	if _, err := c.List("."); err != nil {
		t.Fatalf("second List: %v", err)
	}

	if got := countCommand(ms, "EPSV"); got != 1 {
		t.Errorf("EPSV sent %d times, want exactly 1: a 500 refusal caches PASV on the first success just like a 502 would (got commands %v)", got, ms.receivedCommands)
	}
}
