package ftp

import (
	"crypto/tls"
	"net"
	"time"

	"github.com/spf13/afero"

	"github.com/gonzalop/ftpclient/internal/ratelimit"
)

// Option is a functional option for configuring an FTP client.
type Option func(*Client) error

// WithTimeout sets the timeout for connection and operations.
// This applies to both the initial connection and subsequent read/write operations.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) error {
		c.timeout = timeout
		return nil
	}
}

// WithIdleTimeout sets the maximum idle time before sending NOOP keep-alive.
// If the connection is idle for longer than this duration, a NOOP command
// will be sent automatically to prevent the server from closing the connection.
//
// This is useful for long-running operations or when keeping a connection
// open for extended periods. Set to 0 to disable automatic keep-alive.
//
// Example:
//
//	client, _ := ftp.Dial("ftp.example.com:21",
//	    ftp.WithIdleTimeout(5*time.Minute),
//	)
func WithIdleTimeout(timeout time.Duration) Option {
	return func(c *Client) error {
		c.idleTimeout = timeout
		return nil
	}
}

// WithExplicitTLS enables explicit TLS mode (AUTH TLS). The client connects
// on the standard FTP port (21) and upgrades to TLS after the greeting.
// This package does not support implicit FTPS (TLS from the first byte on
// a dedicated port like 990); only the explicit AUTH TLS upgrade is
// implemented.
//
// The provided tls.Config should include the ServerName for certificate
// validation. A ClientSessionCache is added if not already present so the
// data channel can resume the control channel's TLS session, which
// vsftpd/ProFTPD require when NO_SESSION_REUSE_REQUIRED is enforced.
func WithExplicitTLS(config *tls.Config) Option {
	return func(c *Client) error {
		if config == nil {
			config = &tls.Config{}
		}
		if config.ClientSessionCache == nil {
			config.ClientSessionCache = tls.NewLRUClientSessionCache(0)
		}
		c.tlsConfig = config
		return nil
	}
}

// WithLogger installs a Logger that receives Debug-level traces of every
// command/reply exchange plus the TLS upgrade and EPSV refusals, and an
// Error-level trace when a keep-alive NOOP fails. Other transport/timeout
// failures are returned to the caller and not logged. The default is a
// no-op logger.
func WithLogger(logger Logger) Option {
	return func(c *Client) error {
		if logger == nil {
			logger = noopLogger{}
		}
		c.logger = logger
		return nil
	}
}

// WithDialer sets a custom net.Dialer for establishing connections.
// This can be used to configure source addresses, keep-alive settings, etc.
func WithDialer(dialer *net.Dialer) Option {
	return func(c *Client) error {
		c.dialer = dialer
		return nil
	}
}

// WithDisableEPSV forces PASV directly instead of trying EPSV first. By
// default the client tries EPSV before falling back to PASV, which can be
// useful for servers that don't support EPSV correctly or are behind
// firewalls that block it.
func WithDisableEPSV() Option {
	return func(c *Client) error {
		c.disableEPSV = true
		return nil
	}
}

// WithListingParser prepends a custom directory-listing line parser ahead
// of the built-in Unix/DOS/EPLF chain: a line it declines to parse still
// falls through to the built-ins, it just gets first look at every line.
// Chain multiple calls to layer several custom formats ahead of the
// built-ins, each one taking precedence over the calls before it. Use this
// to support a non-standard LIST format.
func WithListingParser(parser ListingParser) Option {
	return func(c *Client) error {
		c.parsers = append([]ListingParser{parser}, c.parsers...)
		return nil
	}
}

// WithFilesystem sets the afero.Fs used by the directory-mirror helpers
// (UploadDir/DownloadDir). The default is afero.NewOsFs().
func WithFilesystem(fs afero.Fs) Option {
	return func(c *Client) error {
		c.fs = fs
		return nil
	}
}

// WithProgressSink installs a ProgressSink notified of every upload,
// append, and download: Start before the first byte moves, Update after
// each chunk, Stop once the transfer ends. The default is a no-op sink.
func WithProgressSink(sink ProgressSink) Option {
	return func(c *Client) error {
		if sink == nil {
			sink = noopProgressSink{}
		}
		c.progress = sink
		return nil
	}
}

// WithBandwidthLimit caps upload/download throughput to bytesPerSecond,
// applied to both the local-stream side of Store/Append and the
// local-stream side of Retrieve. A non-positive value disables throttling
// (the default).
func WithBandwidthLimit(bytesPerSecond int64) Option {
	return func(c *Client) error {
		c.limiter = ratelimit.New(bytesPerSecond)
		return nil
	}
}
