package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/keithlinneman/diary/internal/log"
)

const slowQuery = 200 * time.Millisecond

// gormLogger routes gorm's own logging through our logger. Only failed and
// slow statements are reported, not-found lookups are expected and skipped.
type gormLogger struct {
	L     log.Logger
	level gormlogger.LogLevel
}

func newGormLogger(L log.Logger) gormlogger.Interface {
	return &gormLogger{L: L, level: gormlogger.Warn}
}

func (g *gormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	cp := *g
	cp.level = level
	return &cp
}

func (g *gormLogger) Info(ctx context.Context, msg string, args ...any) {
	if g.level >= gormlogger.Info {
		g.L.Info(ctx, fmt.Sprintf(msg, args...))
	}
}

func (g *gormLogger) Warn(ctx context.Context, msg string, args ...any) {
	if g.level >= gormlogger.Warn {
		g.L.Warn(ctx, fmt.Sprintf(msg, args...))
	}
}

func (g *gormLogger) Error(ctx context.Context, msg string, args ...any) {
	if g.level >= gormlogger.Error {
		g.L.Error(ctx, fmt.Errorf(msg, args...), "gorm error")
	}
}

func (g *gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if g.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	switch {
	case err != nil && g.level >= gormlogger.Error && !errors.Is(err, gorm.ErrRecordNotFound):
		sql, rows := fc()
		g.L.Error(ctx, err, "sql statement failed", "sql", sql, "rows", rows, "elapsed_ms", elapsed.Milliseconds())
	case elapsed > slowQuery && g.level >= gormlogger.Warn:
		sql, rows := fc()
		g.L.Warn(ctx, "slow sql statement", "sql", sql, "rows", rows, "elapsed_ms", elapsed.Milliseconds())
	case g.level >= gormlogger.Info:
		sql, rows := fc()
		g.L.Debug(ctx, "sql statement", "sql", sql, "rows", rows, "elapsed_ms", elapsed.Milliseconds())
	}
}
