package storage

import (
	"context"
	"errors"
	"time"

	"cdpkeeper/internal/ctxkeys"
	"cdpkeeper/internal/logger"

	"gorm.io/gorm"
	glogger "gorm.io/gorm/logger"
)

// DefaultSlowThreshold 超过该耗时的语句按慢查询告警
const DefaultSlowThreshold = 200 * time.Millisecond

// GormLogger 把 GORM 日志转发到项目日志，并附带当前会话与追踪ID
type GormLogger struct {
	log           logger.Logger
	level         glogger.LogLevel
	slowThreshold time.Duration
}

// NewGormLogger 默认只输出警告及以上
func NewGormLogger(l logger.Logger) *GormLogger {
	return &GormLogger{log: l, level: glogger.Warn, slowThreshold: DefaultSlowThreshold}
}

// LogMode 实现 glogger.Interface
func (g *GormLogger) LogMode(level glogger.LogLevel) glogger.Interface {
	c := *g
	c.level = level
	return &c
}

// scoped 取出上下文中的会话字段
func (g *GormLogger) scoped(ctx context.Context) logger.Logger {
	var kv []any
	if v, ok := ctx.Value(ctxkeys.SessionIDKey{}).(string); ok {
		kv = append(kv, "sessionID", v)
	}
	if v, ok := ctx.Value(ctxkeys.TraceIDKey{}).(string); ok {
		kv = append(kv, "traceId", v)
	}
	if len(kv) == 0 {
		return g.log
	}
	return g.log.With(kv...)
}

func (g *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	if g.level >= glogger.Info {
		g.scoped(ctx).Info(msg, "data", data)
	}
}

func (g *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if g.level >= glogger.Warn {
		g.scoped(ctx).Warn(msg, "data", data)
	}
}

func (g *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	if g.level >= glogger.Error {
		g.scoped(ctx).Error(msg, "data", data)
	}
}

// Trace 记录语句执行结果；未找到记录属于正常分支，不记错误
func (g *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if g.level <= glogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	notFound := errors.Is(err, gorm.ErrRecordNotFound)
	slow := g.slowThreshold > 0 && elapsed > g.slowThreshold

	switch {
	case err != nil && !notFound && g.level >= glogger.Error:
	case slow && g.level >= glogger.Warn:
	case g.level >= glogger.Info:
	default:
		return
	}

	sql, rows := fc()
	l := g.scoped(ctx).With("sql", sql, "rows", rows, "elapsed", elapsed)
	switch {
	case err != nil && !notFound:
		l.Err(err, "SQL执行错误")
	case slow:
		l.Warn("慢SQL", "threshold", g.slowThreshold)
	default:
		l.Debug("SQL执行")
	}
}
