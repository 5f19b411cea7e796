package logger

import (
	"github.com/celer-network/oracle-updater/types"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type ZapLogger struct {
	*zap.SugaredLogger
	sinks []*sinkWriter
}

var _ types.Logger = (*ZapLogger)(nil)

// NewZapLogger wraps a sugared logger without remote sinks. Tests use it with
// zap's development config.
func NewZapLogger(logger *zap.SugaredLogger) *ZapLogger {
	return &ZapLogger{
		SugaredLogger: logger,
	}
}

// With returns a child logger carrying the given fields. Remote sinks are
// shared with the parent.
func (zl *ZapLogger) With(args ...interface{}) *ZapLogger {
	return &ZapLogger{
		SugaredLogger: zl.SugaredLogger.With(args...),
		sinks:         zl.sinks,
	}
}

// Tracew logs at debug level with a TRACE marker, zap has no lower level.
func (zl *ZapLogger) Tracew(msg string, keysAndValues ...interface{}) {
	zl.Debugw("TRACE: "+msg, keysAndValues...)
}

// Close flushes the console core and drains every remote sink.
func (zl *ZapLogger) Close() error {
	var err error
	for _, s := range zl.sinks {
		err = multierr.Append(err, s.Close())
	}
	// Syncing stderr fails on some terminals, ignore it.
	_ = zl.Sync()
	return err
}
