package coalescer

import (
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type opt struct {
	Window       time.Duration
	FetchTimeout time.Duration
	Limit        rate.Limit
	Burst        int
	Logger       *zap.Logger
}

type Option func(*opt)

func defaultOpt() *opt {
	return &opt{
		Window: DefaultWindow,
		Logger: zap.NewNop(),
	}
}

func newOpt(opts []Option) *opt {
	o := defaultOpt()
	for _, oo := range opts {
		oo(o)
	}

	return o
}

// Window setup quiescence window: time between the first enqueue of a batch
// and its flush. Later enqueues join the batch and do not move the flush.
//
// Default: 50ms
func Window(d time.Duration) Option {
	return func(o *opt) {
		if d > 0 {
			o.Window = d
		}
	}
}

// FetchTimeout maximum execution time for one fetch call.
// Zero means no deadline: a hung fetcher hangs its whole batch.
func FetchTimeout(d time.Duration) Option {
	return func(o *opt) {
		o.FetchTimeout = d
	}
}

// FetchLimit limits how often the group calls its fetcher
func FetchLimit(r rate.Limit, burst int) Option {
	return func(o *opt) {
		if r > 0 {
			o.Limit = r
			o.Burst = max(burst, 1)
		}
	}
}

// Logger for batch diagnostics. Per-request errors are never logged, they
// are returned to the caller.
func Logger(l *zap.Logger) Option {
	return func(o *opt) {
		if l != nil {
			o.Logger = l
		}
	}
}
