package ftp

import (
	"fmt"
	"strings"
	"time"
)

// sendCommand submits one command to the control channel and waits for its
// reply. Only one command may be in flight at a time: c.mu enforces that
// invariant, so a command submitted while another is outstanding simply
// blocks until the channel is free, which is the queued/active/resolved
// task lifecycle collapsed onto a single blocking call — there is no
// separate task object because this client never pipelines commands.
func (c *Client) sendCommand(command string, args ...string) (*Reply, error) {
	var cmd string
	if len(args) > 0 {
		cmd = fmt.Sprintf("%s %s", command, strings.Join(args, " "))
	} else {
		cmd = command
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, ErrClosed
	}

	c.logger.Debug("ftp command", "cmd", redactCommand(command, cmd))
	c.lastCommand = time.Now()

	if c.timeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return nil, &TransportError{Op: "set write deadline", Err: err}
		}
	}

	if _, err := fmt.Fprintf(c.conn, "%s\r\n", cmd); err != nil {
		return nil, classifyIOError("write", err)
	}

	if c.timeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return nil, &TransportError{Op: "set read deadline", Err: err}
		}
	}

	reply, err := readReply(c.reader)
	if err != nil {
		return nil, classifyIOError("read reply", err)
	}

	c.logger.Debug("ftp reply", "code", reply.Code, "message", reply.Message)

	return reply, nil
}

// sendIgnoringError submits a command for which a negative reply is
// informational rather than fatal (e.g. STRU F on a server that doesn't
// implement it, or QUIT during teardown). sendCommand itself never turns
// a negative completion into an error — only expectCode/expect2xx do —
// so the error returned here is always a transport or timeout failure, or
// ErrClosed once the session is closed, which must still propagate rather
// than be swallowed.
func (c *Client) sendIgnoringError(command string, args ...string) error {
	_, err := c.sendCommand(command, args...)
	return err
}

// expectCode sends a command and requires an exact reply code.
func (c *Client) expectCode(expectedCode int, command string, args ...string) (*Reply, error) {
	reply, err := c.sendCommand(command, args...)
	if err != nil {
		return nil, err
	}
	if reply.Code != expectedCode {
		return reply, &ProtocolError{Command: command, Response: reply.Message, Code: reply.Code}
	}
	return reply, nil
}

// expect2xx sends a command and requires a positive completion reply.
func (c *Client) expect2xx(command string, args ...string) (*Reply, error) {
	reply, err := c.sendCommand(command, args...)
	if err != nil {
		return nil, err
	}
	if !reply.Is2xx() {
		return reply, &ProtocolError{Command: command, Response: reply.Message, Code: reply.Code}
	}
	return reply, nil
}

// redactCommand hides the password argument of PASS from logs.
func redactCommand(command, full string) string {
	if strings.EqualFold(command, "PASS") {
		return "PASS ****"
	}
	return full
}

// classifyIOError turns a raw I/O error from the control connection into a
// TimeoutError when it was a deadline expiry, or a TransportError otherwise.
func classifyIOError(op string, err error) error {
	type timeouter interface{ Timeout() bool }
	if te, ok := err.(timeouter); ok && te.Timeout() {
		return &TimeoutError{Op: op, Err: err}
	}
	return &TransportError{Op: op, Err: err}
}
