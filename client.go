package ftp

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/gonzalop/ftpclient/internal/ratelimit"
)

// Client is a single FTP (optionally FTPS) session. A Client owns exactly
// one control connection and, for the duration of one transfer or
// listing, one data connection; it is not safe for concurrent use by
// multiple goroutines, matching the single-threaded, strictly-serialized
// task model every operation is built on (see sendCommand).
type Client struct {
	// conn is the underlying network connection (control channel).
	conn net.Conn

	// reader is a buffered reader for the control channel.
	reader *bufio.Reader

	// tlsConfig is non-nil once UseTLS (WithExplicitTLS) has upgraded the
	// control channel; the same config is reused to upgrade every
	// subsequent data connection.
	tlsConfig *tls.Config

	// timeout bounds every control-channel read/write and dial.
	timeout time.Duration

	// idleTimeout is the maximum time to wait before sending NOOP to keep
	// the connection alive. Zero disables the keep-alive goroutine.
	idleTimeout time.Duration

	// logger receives debug traces of the command/reply exchange and an
	// error trace when a keep-alive NOOP fails; other transport/timeout
	// failures are returned to the caller without being logged.
	logger Logger

	// dialer is used to establish the control and data connections.
	dialer *net.Dialer

	// host and port identify the control connection's remote endpoint;
	// host is reused for the data connection per the passive-mode
	// coordinator.
	host string
	port string

	// features caches the FEAT probe; nil until first queried.
	features map[string]string

	// disableEPSV forces PASV directly, skipping the EPSV probe.
	disableEPSV bool

	// passiveMode remembers which passive strategy first succeeded, so a
	// session stops probing EPSV once a strategy has worked.
	passiveMode passiveStrategy

	// parsers holds the LIST line parsers tried in order; empty means
	// the built-in Unix/DOS/EPLF chain.
	parsers []ListingParser

	// listCmd caches the first listing command (MLSD, "LIST -a", or
	// LIST) that succeeded, so later List calls skip the discovery probe.
	listCmd string

	// currentType tracks the current transfer type (TYPE) to avoid
	// redundant TYPE commands.
	currentType string

	// fs is the local filesystem used by UploadDir/DownloadDir.
	fs afero.Fs

	// progress is notified of transfer start/update/stop events.
	progress ProgressSink

	// limiter throttles upload/download throughput when configured via
	// WithBandwidthLimit; nil means unlimited.
	limiter *ratelimit.Limiter

	// mu protects every field touched after Dial returns: the control
	// connection, the single active data connection, and the bookkeeping
	// the idle-keepalive goroutine reads.
	mu sync.Mutex

	// lastCommand tracks when the last command was sent, for the idle
	// keep-alive goroutine.
	lastCommand time.Time

	// quitChan signals the keep-alive goroutine to stop.
	quitChan chan struct{}

	// activeDataConn tracks the data connection belonging to the
	// in-flight transfer or listing, so the idle keep-alive goroutine can
	// suppress NOOP while one is open and Quit/Abort can close it.
	activeDataConn net.Conn
}

// Dial connects to an FTP server at addr ("host:port") and reads its 220
// welcome reply. It does not log in; call Login afterwards.
//
// Example:
//
//	client, err := ftp.Dial("ftp.example.com:21")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Quit()
//
// Example with explicit TLS:
//
//	client, err := ftp.Dial("ftp.example.com:21",
//	    ftp.WithExplicitTLS(&tls.Config{ServerName: "ftp.example.com"}),
//	)
func Dial(addr string, options ...Option) (*Client, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("ftp: invalid address %q: %w", addr, err)
	}

	c := &Client{
		host:     host,
		port:     port,
		timeout:  30 * time.Second,
		dialer:   &net.Dialer{},
		logger:   defaultLogger,
		fs:       afero.NewOsFs(),
		progress: noopProgressSink{},
		parsers: []ListingParser{
			&EPLFParser{},
			&DOSParser{},
			&UnixParser{},
		},
	}

	for _, opt := range options {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("ftp: applying option: %w", err)
		}
	}

	c.dialer.Timeout = c.timeout

	if err := c.connect(); err != nil {
		return nil, err
	}

	if c.tlsConfig != nil {
		if err := c.UseTLS(c.tlsConfig); err != nil {
			c.conn.Close()
			return nil, err
		}
	}

	c.lastCommand = time.Now()
	c.startKeepAlive()

	return c, nil
}

// connect establishes the control connection and reads the 220 greeting.
// It is also used by reset semantics (a fresh Dial always calls it once;
// there is no re-connect operation on an existing Client beyond Dial).
func (c *Client) connect() error {
	addr := net.JoinHostPort(c.host, c.port)
	c.logger.Debug("connecting", "addr", addr)

	conn, err := c.dialer.Dial("tcp", addr)
	if err != nil {
		return &TransportError{Op: "dial", Err: err}
	}
	c.conn = conn
	c.reader = bufio.NewReader(c.conn)

	if c.timeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			c.conn.Close()
			return &TransportError{Op: "set read deadline", Err: err}
		}
	}

	reply, err := readReply(c.reader)
	if err != nil {
		c.conn.Close()
		return classifyIOError("read greeting", err)
	}
	c.logger.Debug("ftp greeting", "code", reply.Code, "message", reply.Message)

	if reply.Code != 220 {
		c.conn.Close()
		return &ProtocolError{Command: "CONNECT", Response: reply.Message, Code: reply.Code}
	}

	return nil
}

// startKeepAlive starts a goroutine that sends NOOP once the control
// channel has been idle for idleTimeout, suppressing it while a data
// connection is open: a NOOP racing an in-flight transfer's completion
// reply is a protocol violation on some servers.
func (c *Client) startKeepAlive() {
	if c.idleTimeout == 0 {
		return
	}

	c.quitChan = make(chan struct{})
	ticker := time.NewTicker(c.idleTimeout / 2)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.mu.Lock()
				transferring := c.activeDataConn != nil
				last := c.lastCommand
				closed := c.conn == nil
				c.mu.Unlock()

				if transferring || closed || time.Since(last) < c.idleTimeout {
					continue
				}

				c.logger.Debug("sending keep-alive NOOP")
				if err := c.Noop(); err != nil {
					c.logger.Error("keep-alive NOOP failed", "err", err)
				}
			case <-c.quitChan:
				return
			}
		}
	}()
}

// UseTLS upgrades the control channel to TLS, sending authCommand (default
// "AUTH TLS") and, on a positive reply, performing the handshake and then
// PBSZ 0 / PROT P so the data channel is protected too. The tls.Config is
// captured on the Client and reused, unmodified, to upgrade every
// subsequent data connection (see passive.go). Dial performs this
// automatically when WithExplicitTLS was supplied; call UseTLS directly
// only when the tls.Config wasn't known until after Dial returned.
func (c *Client) UseTLS(config *tls.Config, authCommand ...string) error {
	if config == nil {
		config = &tls.Config{}
	}
	if config.ClientSessionCache == nil {
		config.ClientSessionCache = tls.NewLRUClientSessionCache(0)
	}

	cmd := "AUTH TLS"
	if len(authCommand) > 0 && authCommand[0] != "" {
		cmd = authCommand[0]
	}
	parts := strings.SplitN(cmd, " ", 2)
	var args []string
	if len(parts) > 1 {
		args = []string{parts[1]}
	}

	reply, err := c.sendCommand(parts[0], args...)
	if err != nil {
		return err
	}
	if !reply.Is2xx() {
		return &ProtocolError{Command: cmd, Response: reply.Message, Code: reply.Code}
	}

	c.logger.Debug("starting TLS handshake")
	tlsConn := tls.Client(c.conn, config)
	if c.timeout > 0 {
		if err := c.conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
			return &TransportError{Op: "set TLS deadline", Err: err}
		}
	}
	if err := tlsConn.Handshake(); err != nil {
		return &TransportError{Op: "control TLS handshake", Err: err}
	}
	c.logger.Debug("TLS handshake complete")

	c.conn = tlsConn
	c.reader = bufio.NewReader(c.conn)
	c.tlsConfig = config

	if _, err := c.expectCode(200, "PBSZ", "0"); err != nil {
		return fmt.Errorf("ftp: PBSZ after TLS upgrade: %w", err)
	}
	if _, err := c.expectCode(200, "PROT", "P"); err != nil {
		return fmt.Errorf("ftp: PROT after TLS upgrade: %w", err)
	}
	return nil
}

// Login authenticates using USER/PASS. A 230 to USER (no password
// required) is handled directly; ACCT-required flows are out of scope.
func (c *Client) Login(username, password string) error {
	reply, err := c.sendCommand("USER", username)
	if err != nil {
		return err
	}

	if reply.Is2xx() {
		return nil
	}
	if reply.Code != 331 {
		return &ProtocolError{Command: "USER", Response: reply.Message, Code: reply.Code}
	}

	if _, err := c.expectCode(230, "PASS", password); err != nil {
		return err
	}
	return nil
}

// UseDefaultSettings applies the session defaults most servers expect:
// binary type, file structure, UTF8 opt-in, and (if TLS is active) a
// protected data channel. Negative replies to the best-effort commands are
// ignored (sendIgnoringError) since many servers don't implement them and
// the session remains perfectly usable without them, while a transport or
// timeout failure still ends the call with an error; it may be called
// repeatedly with the same observable effect.
func (c *Client) UseDefaultSettings() error {
	if err := c.Type("I"); err != nil {
		return fmt.Errorf("ftp: set binary type: %w", err)
	}
	if err := c.fatalOnly(c.sendIgnoringError("STRU", "F")); err != nil {
		return err
	}
	if err := c.fatalOnly(c.sendIgnoringError("OPTS", "UTF8", "ON")); err != nil {
		return err
	}
	if err := c.fatalOnly(c.sendIgnoringError("OPTS", "MLST", "type;size;modify;perm;unix.mode;")); err != nil {
		return err
	}
	if c.tlsConfig != nil {
		if err := c.fatalOnly(c.sendIgnoringError("PBSZ", "0")); err != nil {
			return err
		}
		if err := c.fatalOnly(c.sendIgnoringError("PROT", "P")); err != nil {
			return err
		}
	}
	return nil
}

// fatalOnly lets a fatal error from sendIgnoringError (a transport or
// timeout failure, or ErrClosed once the session is closed) propagate
// while treating anything else as already handled.
func (c *Client) fatalOnly(err error) error {
	if err == ErrClosed {
		return err
	}
	switch err.(type) {
	case *TransportError, *TimeoutError:
		return err
	default:
		return nil
	}
}

// AccessOptions bundles the parameters of the Access convenience helper,
// mirroring a typical client's access-options record: a host/port/
// credentials pair plus whether (and how) to upgrade to TLS. Zero values
// fall back to the conventional FTP defaults (anonymous@localhost:21).
type AccessOptions struct {
	Host string // default "localhost"
	Port int    // default 21

	User     string // default "anonymous"
	Password string // default "guest"

	Secure        bool
	SecureOptions *tls.Config // passed to UseTLS when Secure is true
}

// Access is a convenience one-shot session-establishment helper: Dial,
// optionally upgrade to TLS, log in, and apply the default settings. If
// opts.Secure is true and options already included WithExplicitTLS, Dial
// has already performed the upgrade and Access does not repeat it.
func Access(opts AccessOptions, options ...Option) (*Client, error) {
	host := opts.Host
	if host == "" {
		host = "localhost"
	}
	port := opts.Port
	if port == 0 {
		port = 21
	}
	user := opts.User
	if user == "" {
		user = "anonymous"
	}
	password := opts.Password
	if password == "" {
		password = "guest"
	}

	c, err := Dial(net.JoinHostPort(host, fmt.Sprintf("%d", port)), options...)
	if err != nil {
		return nil, err
	}
	if opts.Secure && c.tlsConfig == nil {
		if err := c.UseTLS(opts.SecureOptions); err != nil {
			c.conn.Close()
			return nil, err
		}
	}
	if err := c.Login(user, password); err != nil {
		_ = c.Quit()
		return nil, err
	}
	if err := c.UseDefaultSettings(); err != nil {
		_ = c.Quit()
		return nil, err
	}
	return c, nil
}

// Quit closes the session by sending QUIT and closing the control
// connection. Any in-flight data connection is closed first. After Quit,
// every operation on c fails with ErrClosed.
func (c *Client) Quit() error {
	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return nil
	}
	if c.activeDataConn != nil {
		c.activeDataConn.Close()
		c.activeDataConn = nil
	}
	c.mu.Unlock()

	if c.quitChan != nil {
		close(c.quitChan)
		c.quitChan = nil
	}

	_ = c.sendIgnoringError("QUIT")

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	return conn.Close()
}

// Host sends the HOST command (RFC 7151), selecting a virtual host before
// login. It must be sent before USER.
func (c *Client) Host(host string) error {
	_, err := c.expect2xx("HOST", host)
	return err
}

// Type sets the transfer type (e.g. "I" for binary). Redundant calls with
// the same type are skipped.
func (c *Client) Type(transferType string) error {
	if c.currentType == transferType {
		return nil
	}
	if _, err := c.expectCode(200, "TYPE", transferType); err != nil {
		return err
	}
	c.currentType = transferType
	return nil
}

// Features queries and caches the server's FEAT advertisement, returning
// a map of command name to parameter hint (empty string if the feature
// takes none).
func (c *Client) Features() (map[string]string, error) {
	if c.features != nil {
		return c.features, nil
	}

	reply, err := c.sendCommand("FEAT")
	if err != nil {
		return nil, err
	}
	if reply.Code != 211 {
		return nil, &ProtocolError{Command: "FEAT", Response: reply.Message, Code: reply.Code}
	}

	c.features = parseFeatureLines(reply.Lines)
	return c.features, nil
}

// HasFeature reports whether the server advertised feature in its FEAT
// response, querying FEAT (and caching it) on first use.
func (c *Client) HasFeature(feature string) bool {
	feats, err := c.Features()
	if err != nil {
		return false
	}
	_, ok := feats[strings.ToUpper(feature)]
	return ok
}

// parseFeatureLines extracts the body lines (2..n-1) of a FEAT reply,
// splitting each on its first token. Both the RFC 2389 space-prefixed
// convention and a traditional repeated-code convention are accepted.
func parseFeatureLines(lines []string) map[string]string {
	features := make(map[string]string)
	for i, line := range lines {
		var body string
		switch {
		case i == 0 || i == len(lines)-1:
			continue // status line, e.g. "211-Features:" or "211 End"
		case len(line) > 0 && line[0] == ' ':
			body = strings.TrimSpace(line)
		case len(line) >= 4 && line[3] == '-':
			body = strings.TrimSpace(line[4:]) // repeated-code form, e.g. "211-MDTM"
		default:
			continue
		}
		if body == "" {
			continue
		}

		name, params, _ := strings.Cut(body, " ")
		features[strings.ToUpper(name)] = params
	}
	return features
}

// Syst returns the server's system type via SYST.
func (c *Client) Syst() (string, error) {
	reply, err := c.expect2xx("SYST")
	if err != nil {
		return "", err
	}
	return reply.Message, nil
}

// SetOption sets a feature option via OPTS (e.g. SetOption("UTF8", "ON")).
func (c *Client) SetOption(option, value string) error {
	_, err := c.expect2xx("OPTS", option, value)
	return err
}

// Noop sends NOOP, used as a manual keep-alive or by the automatic
// idle-timeout goroutine (see WithIdleTimeout).
func (c *Client) Noop() error {
	_, err := c.expect2xx("NOOP")
	return err
}

// Quote sends a raw command the client doesn't otherwise expose and
// returns the reply verbatim.
func (c *Client) Quote(command string, args ...string) (*Reply, error) {
	return c.sendCommand(command, args...)
}

// Abort cancels the in-flight transfer by closing its data connection and
// sending ABOR.
func (c *Client) Abort() error {
	c.mu.Lock()
	hasTransfer := c.activeDataConn != nil
	if hasTransfer {
		c.activeDataConn.Close()
		c.activeDataConn = nil
	}
	c.mu.Unlock()

	if !hasTransfer {
		return fmt.Errorf("ftp: Abort: no transfer in progress")
	}

	_, err := c.expect2xx("ABOR")
	return err
}

// Hash returns the server-computed hash of path via the HASH command
// (draft-bryan-ftp-hash). The algorithm is the server default unless
// changed with SetHashAlgo.
func (c *Client) Hash(path string) (string, error) {
	reply, err := c.sendCommand("HASH", c.protectWhitespace(path))
	if err != nil {
		return "", err
	}
	if reply.Code != 213 {
		return "", &ProtocolError{Command: "HASH", Response: reply.Message, Code: reply.Code}
	}

	parts := strings.Fields(reply.Message)
	if len(parts) < 2 {
		return "", &ParseError{Context: "HASH reply", Input: reply.Message, Err: fmt.Errorf("expected at least 2 fields")}
	}
	return parts[1], nil
}

// SetHashAlgo selects the hash algorithm HASH should use (e.g. "SHA-256").
func (c *Client) SetHashAlgo(algo string) error {
	_, err := c.expect2xx("OPTS", "HASH", algo)
	return err
}

// protectWhitespace guards against servers that mis-tokenize a leading
// space in a path argument (FTP commands are space-delimited): if path
// begins with a space it is made into an absolute path by prepending the
// current working directory; otherwise it is returned unchanged.
func (c *Client) protectWhitespace(path string) string {
	if path == "" || path[0] != ' ' {
		return path
	}
	cwd, err := c.CurrentDir()
	if err != nil {
		return path
	}
	if !strings.HasSuffix(cwd, "/") {
		cwd += "/"
	}
	return cwd + path
}

// UploadFile opens the local file at localPath and streams it to
// remotePath via Store. Unlike UploadDir, this single-file helper talks to
// the local disk directly rather than through the configurable afero.Fs,
// which stays scoped to the directory-mirror helpers.
func (c *Client) UploadFile(localPath, remotePath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("ftp: open local file: %w", err)
	}
	defer f.Close()

	if err := c.Store(remotePath, f); err != nil {
		return fmt.Errorf("ftp: upload %s: %w", remotePath, err)
	}
	return nil
}

// DownloadFile creates (or truncates) localPath and streams remotePath
// into it via Retrieve, removing the partial file on failure.
func (c *Client) DownloadFile(remotePath, localPath string) error {
	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("ftp: create local file: %w", err)
	}
	defer f.Close()

	if err := c.Retrieve(remotePath, f); err != nil {
		_ = os.Remove(localPath)
		return fmt.Errorf("ftp: download %s: %w", remotePath, err)
	}
	return nil
}
