package sunset

import (
	"strconv"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/k2io/sunset/internal/detour"
)

var logger atomic.Pointer[zap.Logger]

func init() {
	logger.Store(zap.NewNop())
}

// SetDebug switches debug logging to stderr on or off.
func SetDebug(x bool) {
	if !x {
		SetLogger(nil)
		return
	}
	l, err := newDevelopment()
	if err != nil {
		l = zap.NewExample()
		l.Warn("development logger unavailable, using example logger", zap.Error(err))
	}
	SetLogger(l)
}

// replaced in tests
var newDevelopment = func() (*zap.Logger, error) {
	return zap.NewDevelopment()
}

// SetLogger routes the package logs to l. A nil l silences them.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	l = l.Named("sunset")
	logger.Store(l)
	detour.Default.SetLogger(l.Named("detour"))
}

func log() *zap.Logger {
	return logger.Load()
}

func hexField(key string, v uintptr) zap.Field {
	return zap.String(key, "0x"+strconv.FormatUint(uint64(v), 16))
}
