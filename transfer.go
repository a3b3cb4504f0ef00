package ftp

import (
	"fmt"
	"io"
	"os"

	"github.com/gonzalop/ftpclient/internal/ratelimit"
)

// Store uploads data from r to remotePath in binary mode (TYPE I). The
// call does not return until both the data connection has been fully
// flushed and closed and the control channel's completion reply (226) has
// been read — io.Copy draining r into the data connection before
// finishDataConn closes it and reads the reply is what gives that
// ordering guarantee here, rather than a separate rendezvous, since
// nothing about this client pipelines the two events to begin with.
func (c *Client) Store(remotePath string, r io.Reader) error {
	return c.upload("STOR", remotePath, r)
}

// StoreFrom uploads the local file at localPath to remotePath.
func (c *Client) StoreFrom(remotePath, localPath string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open local file: %w", err)
	}
	defer file.Close()
	return c.Store(remotePath, file)
}

// Append appends data from r to remotePath, creating it if it doesn't
// exist, in binary mode.
func (c *Client) Append(remotePath string, r io.Reader) error {
	return c.upload("APPE", remotePath, r)
}

func (c *Client) upload(cmd, remotePath string, r io.Reader) error {
	remotePath = c.protectWhitespace(remotePath)

	if err := c.Type("I"); err != nil {
		return fmt.Errorf("set binary mode: %w", err)
	}

	dataConn, err := c.cmdDataConnFrom(cmd, remotePath)
	if err != nil {
		return err
	}

	sink := c.progress
	sink.Start(TransferInfo{RemotePath: remotePath, Total: -1})

	src := io.Reader(r)
	if c.limiter != nil {
		src = ratelimit.NewReader(src, c.limiter)
	}
	src = newProgressReader(src, sink)

	_, copyErr := io.Copy(dataConn, src)
	finishErr := c.finishDataConn(dataConn)
	sink.Stop(firstErr(copyErr, finishErr))

	if copyErr != nil {
		return &TransportError{Op: cmd + " upload", Err: copyErr}
	}
	return finishErr
}

// Retrieve downloads remotePath into w in binary mode.
func (c *Client) Retrieve(remotePath string, w io.Writer) error {
	return c.RetrieveFrom(remotePath, w, 0)
}

// RetrieveTo downloads remotePath to the local file at localPath, removing
// the partial file if the transfer fails.
func (c *Client) RetrieveTo(remotePath, localPath string) error {
	file, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create local file: %w", err)
	}
	defer file.Close()

	if err := c.Retrieve(remotePath, file); err != nil {
		_ = os.Remove(localPath)
		return err
	}
	return nil
}

// RestartAt sets the restart marker (REST) for the next RETR, resuming a
// download from a byte offset. Only download resume is supported: the
// server-side semantics of REST followed by STOR are inconsistent enough
// across servers that this client doesn't expose upload resume.
func (c *Client) RestartAt(offset int64) error {
	_, err := c.expectCode(350, "REST", fmt.Sprintf("%d", offset))
	return err
}

// RetrieveFrom downloads remotePath into w starting at byte offset,
// useful for resuming an interrupted download. offset of 0 behaves like a
// plain Retrieve.
func (c *Client) RetrieveFrom(remotePath string, w io.Writer, offset int64) error {
	remotePath = c.protectWhitespace(remotePath)

	if err := c.Type("I"); err != nil {
		return fmt.Errorf("set binary mode: %w", err)
	}

	if offset > 0 {
		if err := c.RestartAt(offset); err != nil {
			return fmt.Errorf("set restart marker: %w", err)
		}
	}

	dataConn, err := c.cmdDataConnFrom("RETR", remotePath)
	if err != nil {
		return err
	}

	sink := c.progress
	sink.Start(TransferInfo{RemotePath: remotePath, Total: -1})

	dst := io.Writer(w)
	if c.limiter != nil {
		dst = ratelimit.NewWriter(dst, c.limiter)
	}
	dst = newProgressWriter(dst, sink)

	_, copyErr := io.Copy(dst, dataConn)
	finishErr := c.finishDataConn(dataConn)
	sink.Stop(firstErr(copyErr, finishErr))

	if copyErr != nil {
		return &TransportError{Op: "RETR download", Err: copyErr}
	}
	return finishErr
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
