package dump

import (
	"log/slog"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"firestige.xyz/cjdnsniff/internal/frame"
	cjdlog "firestige.xyz/cjdnsniff/internal/log"
)

// Printer writes capture lines to a pattern logger and reports decode errors
// through slog, rate limited so a flood of bad frames cannot drown the output.
type Printer struct {
	out        *logrus.Logger
	logger     *slog.Logger
	limiter    *rate.Limiter
	suppressed atomic.Uint64
}

// NewPrinter creates a printer. errRate is errors logged per second with
// bursts of up to burst.
func NewPrinter(out *logrus.Logger, errRate float64, burst int) *Printer {
	return &Printer{
		out:     out,
		logger:  cjdlog.Component("dump"),
		limiter: rate.NewLimiter(rate.Limit(errRate), burst),
	}
}

// Message prints one line for m.
func (p *Printer) Message(m *frame.Message) {
	entry := p.out.WithField("ct", m.ContentType().String())
	entry.Info(Line(m))
}

// Error logs a per-frame error unless the rate limit is exhausted.
func (p *Printer) Error(err error) {
	if !p.limiter.Allow() {
		p.suppressed.Add(1)
		return
	}
	if n := p.suppressed.Swap(0); n > 0 {
		p.logger.Warn("frame error", "error", err, "suppressed", n)
		return
	}
	p.logger.Warn("frame error", "error", err)
}

// Suppressed is the number of errors dropped since the last logged one.
func (p *Printer) Suppressed() uint64 {
	return p.suppressed.Load()
}
