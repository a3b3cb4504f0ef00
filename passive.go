package ftp

import (
	"crypto/tls"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"time"
)

var (
	// pasvRegex matches the PASV reply format: 227 ... (h1,h2,h3,h4,p1,p2)
	pasvRegex = regexp.MustCompile(`\((\d+),(\d+),(\d+),(\d+),(\d+),(\d+)\)`)

	// epsvRegex matches the EPSV reply format: 229 ... (|||port|)
	epsvRegex = regexp.MustCompile(`\(\|\|\|(\d+)\|\)`)
)

// passiveStrategy names which command opened the session's first
// successful data connection, so later transfers can skip straight to it
// instead of re-probing EPSV every time.
type passiveStrategy int

const (
	stratUnknown passiveStrategy = iota
	stratEPSV
	stratPASV
)

// parsePASV parses a PASV reply and returns "host:port".
// Example: "227 Entering Passive Mode (192,168,1,1,195,149)" -> "192.168.1.1:50069"
func parsePASV(reply string) (string, error) {
	matches := pasvRegex.FindStringSubmatch(reply)
	if len(matches) != 7 {
		return "", &ParseError{Context: "PASV reply", Input: reply, Err: fmt.Errorf("no address tuple found")}
	}

	var h [4]int
	for i := range 4 {
		val, err := strconv.Atoi(matches[i+1])
		if err != nil || val < 0 || val > 255 {
			return "", &ParseError{Context: "PASV reply", Input: reply, Err: fmt.Errorf("invalid IP octet %s", matches[i+1])}
		}
		h[i] = val
	}
	host := fmt.Sprintf("%d.%d.%d.%d", h[0], h[1], h[2], h[3])
	if ip := net.ParseIP(host); ip == nil || ip.To4() == nil {
		return "", &ParseError{Context: "PASV reply", Input: reply, Err: fmt.Errorf("invalid IPv4 address %s", host)}
	}

	p1, err1 := strconv.Atoi(matches[5])
	p2, err2 := strconv.Atoi(matches[6])
	if err1 != nil || err2 != nil || p1 < 0 || p1 > 255 || p2 < 0 || p2 > 255 {
		return "", &ParseError{Context: "PASV reply", Input: reply, Err: fmt.Errorf("invalid port octets %s,%s", matches[5], matches[6])}
	}
	port := p1*256 + p2

	return net.JoinHostPort(host, strconv.Itoa(port)), nil
}

// parseEPSV parses an EPSV reply and returns the port as a string.
// Example: "229 Entering Extended Passive Mode (|||6446|)" -> "6446"
func parseEPSV(reply string) (string, error) {
	matches := epsvRegex.FindStringSubmatch(reply)
	if len(matches) != 2 {
		return "", &ParseError{Context: "EPSV reply", Input: reply, Err: fmt.Errorf("no port token found")}
	}

	port, err := strconv.Atoi(matches[1])
	if err != nil || port < 0 || port > 65535 {
		return "", &ParseError{Context: "EPSV reply", Input: reply, Err: fmt.Errorf("invalid port %s", matches[1])}
	}

	return matches[1], nil
}

// resolveDataAddr substitutes the control host for a 0.0.0.0 PASV address,
// which some servers behind NAT report literally.
func resolveDataAddr(pasvAddr, controlHost string) string {
	host, port, err := net.SplitHostPort(pasvAddr)
	if err != nil {
		return pasvAddr
	}
	if host == "0.0.0.0" {
		return net.JoinHostPort(controlHost, port)
	}
	return pasvAddr
}

// openDataConn opens a data connection for the next transfer command,
// trying EPSV before PASV the first time and thereafter going straight to
// whichever one first succeeded. Only a genuine success latches the
// choice — a negative EPSV reply (of any code) just falls through to PASV
// for this call; if PASV then succeeds it is latched and EPSV is not sent
// again, and if PASV fails too the next call probes EPSV again.
func (c *Client) openDataConn() (net.Conn, error) {
	strategy := c.passiveMode

	if strategy == stratUnknown && !c.disableEPSV {
		conn, ok, _, err := c.tryEPSV()
		if err != nil {
			return nil, err
		}
		if ok {
			c.passiveMode = stratEPSV
			return conn, nil
		}
		// Any negative reply, 502 or otherwise, is just "try PASV this
		// time": caching only ever latches on a success, never on a
		// specific failure code, so PASV is latched below if it succeeds.
	} else if strategy == stratEPSV {
		conn, ok, _, err := c.tryEPSV()
		if err != nil {
			return nil, err
		}
		if ok {
			return conn, nil
		}
		// The previously-working strategy stopped working; re-probe PASV
		// for this call but keep the cached preference untouched, since a
		// single hiccup shouldn't flap the selector.
	}

	conn, err := c.dialPASV()
	if err != nil {
		return nil, err
	}
	if strategy == stratUnknown {
		c.passiveMode = stratPASV
	}
	return conn, nil
}

// tryEPSV attempts to open a data connection via EPSV. ok is false (with a
// nil error) when the server replied negatively, signalling "try PASV
// instead" rather than a hard failure. code carries the reply code of a
// negative response so the caller can distinguish "not implemented" from a
// transient refusal.
func (c *Client) tryEPSV() (conn net.Conn, ok bool, code int, err error) {
	reply, err := c.sendCommand("EPSV")
	if err != nil {
		return nil, false, 0, err
	}
	if !reply.Is2xx() {
		c.logger.Debug("EPSV declined, falling back to PASV", "code", reply.Code)
		return nil, false, reply.Code, nil
	}

	port, perr := parseEPSV(reply.String())
	if perr != nil {
		return nil, false, 0, perr
	}
	addr := net.JoinHostPort(c.host, port)

	dataConn, derr := c.dialData(addr)
	if derr != nil {
		return nil, false, 0, derr
	}
	return dataConn, true, 0, nil
}

// dialPASV opens a data connection via PASV.
func (c *Client) dialPASV() (net.Conn, error) {
	reply, err := c.sendCommand("PASV")
	if err != nil {
		return nil, err
	}
	if !reply.Is2xx() {
		return nil, &ProtocolError{Command: "PASV", Response: reply.Message, Code: reply.Code}
	}

	addr, err := parsePASV(reply.String())
	if err != nil {
		return nil, err
	}
	addr = resolveDataAddr(addr, c.host)

	return c.dialData(addr)
}

// dialData connects to a data-channel address, mirroring the control
// channel's TLS options and deadline policy: the data socket's
// TLS configuration is copied from whatever upgraded the control channel,
// never independently configured.
func (c *Client) dialData(addr string) (net.Conn, error) {
	conn, err := c.dialer.Dial("tcp", addr)
	if err != nil {
		return nil, &TransportError{Op: "dial data connection", Err: err}
	}

	if c.tlsConfig != nil {
		tlsConn := tls.Client(conn, c.tlsConfig)
		if c.timeout > 0 {
			_ = conn.SetDeadline(time.Now().Add(c.timeout))
		}
		if err := tlsConn.Handshake(); err != nil {
			conn.Close()
			return nil, &TransportError{Op: "data connection TLS handshake", Err: err}
		}
		conn = tlsConn
	}

	if c.timeout > 0 {
		return &deadlineConn{Conn: conn, timeout: c.timeout}, nil
	}
	return conn, nil
}

// cmdDataConnFrom opens a data connection and then sends cmd, returning the
// open connection for the caller to stream through and finish with
// finishDataConn. A negative reply (including one that arrives before the
// data connection is even usable) closes the connection and surfaces a
// ProtocolError instead of a conn.
func (c *Client) cmdDataConnFrom(cmd string, args ...string) (net.Conn, error) {
	dataConn, err := c.openDataConn()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.activeDataConn = dataConn
	c.mu.Unlock()

	reply, err := c.sendCommand(cmd, args...)
	if err != nil {
		dataConn.Close()
		c.clearActiveDataConn()
		return nil, err
	}

	// 1xx (preliminary, transfer starting) and 2xx (already done, e.g. an
	// empty listing some servers complete immediately) are both fine here;
	// anything else means the data connection never got used.
	if !reply.Is1xx() && !reply.Is2xx() {
		dataConn.Close()
		c.clearActiveDataConn()
		return nil, &ProtocolError{Command: cmd, Response: reply.Message, Code: reply.Code}
	}

	return dataConn, nil
}

// finishDataConn closes the data connection and reads the control
// channel's completion reply, per the transfer-engine ordering guarantee
// that a transfer isn't done until both have happened (see Store in
// transfer.go for why this fixed order needs no separate rendezvous
// between the two events).
func (c *Client) finishDataConn(dataConn net.Conn) error {
	closeErr := dataConn.Close()

	c.mu.Lock()
	if c.timeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	}
	reply, err := readReply(c.reader)
	c.activeDataConn = nil
	c.mu.Unlock()

	if err != nil {
		return classifyIOError("read completion reply", err)
	}

	c.logger.Debug("ftp transfer complete", "code", reply.Code, "message", reply.Message)

	if !reply.Is2xx() {
		return &ProtocolError{Command: "transfer", Response: reply.Message, Code: reply.Code}
	}
	if closeErr != nil {
		return &TransportError{Op: "close data connection", Err: closeErr}
	}
	return nil
}

func (c *Client) clearActiveDataConn() {
	c.mu.Lock()
	c.activeDataConn = nil
	c.mu.Unlock()
}
