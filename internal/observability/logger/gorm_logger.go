package logger

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	gormlogger "gorm.io/gorm/logger"
)

// GormLogger writes ledger queries to zap. Statements are logged without their
// bound values since those hold amounts and processor ids.
type GormLogger struct {
	level gormlogger.LogLevel
	slow  time.Duration
}

func NewGormLogger(level gormlogger.LogLevel, slow time.Duration) *GormLogger {
	return &GormLogger{level: level, slow: slow}
}

func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	return &GormLogger{level: level, slow: l.slow}
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	l.message(ctx, gormlogger.Info, zapcore.InfoLevel, msg, data)
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	l.message(ctx, gormlogger.Warn, zapcore.WarnLevel, msg, data)
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	l.message(ctx, gormlogger.Error, zapcore.ErrorLevel, msg, data)
}

func (l *GormLogger) message(ctx context.Context, min gormlogger.LogLevel, lvl zapcore.Level, msg string, data []interface{}) {
	if l.level < min {
		return
	}
	if ce := FromContext(ctx).Check(lvl, msg); ce != nil {
		ce.Write(zap.String("component", "ledger.db"), zap.Int("args", len(data)))
	}
}

func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level == gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)

	var lvl zapcore.Level
	msg := "ledger.query"
	switch {
	case err != nil && !errors.Is(err, gormlogger.ErrRecordNotFound) && l.level >= gormlogger.Error:
		lvl = zapcore.ErrorLevel
	case l.slow > 0 && elapsed > l.slow && l.level >= gormlogger.Warn:
		lvl, msg = zapcore.WarnLevel, "ledger.slow_query"
	case l.level >= gormlogger.Info:
		lvl = zapcore.DebugLevel
	default:
		return
	}

	ce := FromContext(ctx).Check(lvl, msg)
	if ce == nil {
		return
	}
	sql, rows := fc()
	verb, table := describeSQL(sql)
	fields := []zap.Field{
		zap.String("component", "ledger.db"),
		zap.String("verb", verb),
		zap.String("table", table),
		zap.Duration("elapsed", elapsed),
		zap.Int64("rows", rows),
	}
	if lvl == zapcore.ErrorLevel {
		fields = append(fields, zap.String("sql", strings.TrimSpace(sql)), zap.Error(err))
	}
	ce.Write(fields...)
}

// ParamsFilter keeps placeholders in the rendered statement.
func (l *GormLogger) ParamsFilter(_ context.Context, sql string, _ ...interface{}) (string, []interface{}) {
	return sql, nil
}

// describeSQL returns the statement verb and the table it targets.
func describeSQL(sql string) (verb, table string) {
	verb = "OTHER"
	tokens := strings.Fields(sql)
	for i, tok := range tokens {
		next := ""
		if i+1 < len(tokens) {
			next = strings.Trim(tokens[i+1], "\"`(;")
		}
		switch up := strings.ToUpper(tok); up {
		case "SELECT":
			if verb == "OTHER" {
				verb = up
			}
		case "INSERT", "DELETE":
			verb = up
		case "UPDATE":
			return up, next
		case "FROM", "INTO":
			return verb, next
		}
	}
	return verb, ""
}

var _ gormlogger.Interface = (*GormLogger)(nil)
