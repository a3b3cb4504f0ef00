// Package ratelimit throttles FTP transfer streams to a configured
// bytes-per-second ceiling, built on golang.org/x/time/rate's token bucket
// rather than a hand-rolled one.
package ratelimit

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// Limiter caps the rate at which bytes may pass through a wrapped
// io.Reader or io.Writer.
type Limiter struct {
	rl *rate.Limiter
}

// New creates a Limiter allowing bytesPerSecond bytes/sec on average, with
// burst capacity equal to one second of traffic. A non-positive value
// yields a nil *Limiter, which NewReader/NewWriter treat as "unlimited".
func New(bytesPerSecond int64) *Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}
	burst := int(bytesPerSecond)
	if int64(burst) != bytesPerSecond {
		burst = int(^uint(0) >> 1) // clamp on 32-bit platforms
	}
	return &Limiter{rl: rate.NewLimiter(rate.Limit(bytesPerSecond), burst)}
}

// take blocks until n bytes' worth of tokens are available, in chunks no
// larger than the burst size.
func (l *Limiter) take(ctx context.Context, n int) error {
	if l == nil || n <= 0 {
		return nil
	}
	burst := l.rl.Burst()
	for n > 0 {
		chunk := n
		if chunk > burst {
			chunk = burst
		}
		if err := l.rl.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

type reader struct {
	r       io.Reader
	limiter *Limiter
}

// NewReader wraps r so reads are throttled by limiter. A nil limiter
// returns r unchanged.
func NewReader(r io.Reader, limiter *Limiter) io.Reader {
	if limiter == nil {
		return r
	}
	return &reader{r: r, limiter: limiter}
}

func (r *reader) Read(p []byte) (int, error) {
	const maxChunk = 32 * 1024
	if len(p) > maxChunk {
		p = p[:maxChunk]
	}
	n, err := r.r.Read(p)
	if n > 0 {
		if waitErr := r.limiter.take(context.Background(), n); waitErr != nil {
			return n, waitErr
		}
	}
	return n, err
}

type writer struct {
	w       io.Writer
	limiter *Limiter
}

// NewWriter wraps w so writes are throttled by limiter. A nil limiter
// returns w unchanged.
func NewWriter(w io.Writer, limiter *Limiter) io.Writer {
	if limiter == nil {
		return w
	}
	return &writer{w: w, limiter: limiter}
}

func (w *writer) Write(p []byte) (int, error) {
	const maxChunk = 32 * 1024

	total := 0
	for total < len(p) {
		end := total + maxChunk
		if end > len(p) {
			end = len(p)
		}
		if err := w.limiter.take(context.Background(), end-total); err != nil {
			return total, err
		}
		n, err := w.w.Write(p[total:end])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
