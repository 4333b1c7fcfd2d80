package ratelimit

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

const bytesPerKilobit = 1000 / 8

// Reader throttles reads from an underlying reader to a byte rate.
type Reader struct {
	ctx     context.Context
	r       io.Reader
	limiter *rate.Limiter
}

// NewLimiter returns a byte-rate limiter for kbps kilobits per second, or nil when kbps is not positive.
func NewLimiter(kbps int) *rate.Limiter {
	if kbps <= 0 {
		return nil
	}
	bytesPerSecond := kbps * bytesPerKilobit
	return rate.NewLimiter(rate.Limit(bytesPerSecond), bytesPerSecond)
}

// NewReader wraps r. A nil limiter returns r unchanged.
func NewReader(ctx context.Context, r io.Reader, limiter *rate.Limiter) io.Reader {
	if limiter == nil {
		return r
	}
	return &Reader{ctx: ctx, r: r, limiter: limiter}
}

func (lr *Reader) Read(p []byte) (int, error) {
	// Never ask the limiter for more than its burst.
	if burst := lr.limiter.Burst(); len(p) > burst {
		p = p[:burst]
	}
	n, err := lr.r.Read(p)
	if n > 0 {
		if waitErr := lr.limiter.WaitN(lr.ctx, n); waitErr != nil {
			return n, waitErr
		}
	}
	return n, err
}
