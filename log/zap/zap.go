// Package zap adapts a *zap.Logger to regioncache.Logger.
package zap

import (
	"go.uber.org/zap"

	"github.com/unkn0wn-root/regioncache"
)

var _ regioncache.Logger = Logger{}

type Logger struct{ L *zap.Logger }

// Wrap names the logger after the cache so its lines are easy to filter.
func Wrap(l *zap.Logger) Logger { return Logger{L: l.Named("regioncache")} }

func (z Logger) Debug(msg string, f regioncache.Fields) { z.L.Debug(msg, zf(f)...) }
func (z Logger) Info(msg string, f regioncache.Fields)  { z.L.Info(msg, zf(f)...) }
func (z Logger) Warn(msg string, f regioncache.Fields)  { z.L.Warn(msg, zf(f)...) }
func (z Logger) Error(msg string, f regioncache.Fields) { z.L.Error(msg, zf(f)...) }

func zf(f regioncache.Fields) []zap.Field {
	if len(f) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(f))
	for k, v := range f {
		if err, ok := v.(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, v))
	}
	return out
}
