package ftp

import "io"

// TransferInfo describes a single upload/append/download for a ProgressSink.
type TransferInfo struct {
	// RemotePath is the path passed to the transfer operation.
	RemotePath string
	// Total is the expected transfer size in bytes, or -1 if unknown.
	Total int64
}

// ProgressSink receives transfer progress notifications. It replaces the
// teacher's plain callback with a small interface so a caller who needs no
// progress reporting can rely on the default no-op sink instead of nil
// checks scattered through the transfer engine.
type ProgressSink interface {
	// Start is called once, before any bytes move.
	Start(info TransferInfo)
	// Update is called after each chunk, with the cumulative byte count.
	Update(bytesTransferred int64)
	// Stop is called once the transfer finishes, successfully or not.
	Stop(err error)
}

// noopProgressSink implements ProgressSink with no behavior. It is the
// default when no sink is configured.
type noopProgressSink struct{}

func (noopProgressSink) Start(TransferInfo) {}
func (noopProgressSink) Update(int64)       {}
func (noopProgressSink) Stop(error)         {}

// progressReader wraps an io.Reader, reporting cumulative bytes read to a
// ProgressSink as the underlying transfer engine pumps data.
type progressReader struct {
	r     io.Reader
	sink  ProgressSink
	total int64
}

func newProgressReader(r io.Reader, sink ProgressSink) *progressReader {
	return &progressReader{r: r, sink: sink}
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.r.Read(p)
	if n > 0 {
		pr.total += int64(n)
		pr.sink.Update(pr.total)
	}
	return n, err
}

// progressWriter wraps an io.Writer, reporting cumulative bytes written to
// a ProgressSink.
type progressWriter struct {
	w     io.Writer
	sink  ProgressSink
	total int64
}

func newProgressWriter(w io.Writer, sink ProgressSink) *progressWriter {
	return &progressWriter{w: w, sink: sink}
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n, err := pw.w.Write(p)
	if n > 0 {
		pw.total += int64(n)
		pw.sink.Update(pw.total)
	}
	return n, err
}
