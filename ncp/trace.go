package ncp

import (
	"log/slog"
	"strconv"
)

// clipped renders raw link bytes for a log record, quoted and cut to max
// bytes. Formatting is deferred until the record is actually emitted.
type clipped struct {
	p   []byte
	max int
}

func (c clipped) LogValue() slog.Value {
	if len(c.p) > c.max {
		return slog.StringValue(strconv.Quote(string(c.p[:c.max])) + "...")
	}
	return slog.StringValue(strconv.Quote(string(c.p)))
}

func (d *Driver) clip(p []byte) slog.LogValuer {
	return clipped{p: p, max: d.config.MaxATLogLength}
}

// trace logs link traffic at debug level when AT tracing is enabled.
func (d *Driver) trace(dir string, p []byte) {
	if !d.config.TraceAT {
		return
	}
	d.logger.Debug("at", "dir", dir, "len", len(p), "data", d.clip(p))
}
