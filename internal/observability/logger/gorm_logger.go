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

const gormQueryMessage = "gorm.query"

// GormLogger routes GORM output through the request-scoped zap logger. Bind
// values are never logged since report rows carry patient data.
type GormLogger struct {
	level         gormlogger.LogLevel
	slowThreshold time.Duration
	logNotFound   bool
}

// NewGormLogger logs errors and queries slower than slowThreshold. A zero
// threshold disables slow query logging. Record-not-found is treated as a
// normal outcome.
func NewGormLogger(slowThreshold time.Duration) *GormLogger {
	return &GormLogger{
		level:         gormlogger.Warn,
		slowThreshold: slowThreshold,
	}
}

func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	next := *l
	next.level = level
	return &next
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	l.emit(ctx, gormlogger.Info, zapcore.InfoLevel, msg, data)
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	l.emit(ctx, gormlogger.Warn, zapcore.WarnLevel, msg, data)
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	l.emit(ctx, gormlogger.Error, zapcore.ErrorLevel, msg, data)
}

func (l *GormLogger) emit(ctx context.Context, min gormlogger.LogLevel, level zapcore.Level, msg string, data []interface{}) {
	if l.level < min {
		return
	}
	fields := []zap.Field{zap.String("component", "gorm")}
	if len(data) > 0 {
		fields = append(fields, zap.Any("data", data))
	}
	if entry := FromContext(ctx).Check(level, msg); entry != nil {
		entry.Write(fields...)
	}
}

func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	notFound := errors.Is(err, gormlogger.ErrRecordNotFound)
	switch {
	case err != nil && l.level >= gormlogger.Error && (!notFound || l.logNotFound):
		l.traceQuery(ctx, zapcore.ErrorLevel, fc, elapsed, err)
	case l.slowThreshold > 0 && elapsed > l.slowThreshold && l.level >= gormlogger.Warn:
		l.traceQuery(ctx, zapcore.WarnLevel, fc, elapsed, nil, zap.Bool("slow", true))
	case l.level >= gormlogger.Info:
		l.traceQuery(ctx, zapcore.DebugLevel, fc, elapsed, nil)
	}
}

// ParamsFilter drops bound values from the rendered statement.
func (l *GormLogger) ParamsFilter(_ context.Context, sql string, _ ...interface{}) (string, []interface{}) {
	return sql, nil
}

func (l *GormLogger) traceQuery(ctx context.Context, level zapcore.Level, fc func() (string, int64), elapsed time.Duration, err error, extra ...zap.Field) {
	entry := FromContext(ctx).Check(level, gormQueryMessage)
	if entry == nil {
		return
	}

	sql, rows := fc()
	operation, table := classifySQL(sql)
	fields := append([]zap.Field{
		zap.String("component", "gorm"),
		zap.String("db.operation", operation),
		zap.String("db.table", table),
		zap.String("sql", strings.TrimSpace(sql)),
		zap.Int64("duration_ms", elapsed.Milliseconds()),
	}, extra...)
	if rows >= 0 {
		fields = append(fields, zap.Int64("rows_affected", rows))
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	entry.Write(fields...)
}

// classifySQL returns the statement verb and the first table it touches.
// Leading CTEs are skipped so a WITH ... SELECT reports SELECT.
func classifySQL(sql string) (operation, table string) {
	operation, table = "UNKNOWN", ""
	tokens := strings.Fields(strings.TrimSpace(sql))

	tableAfter := ""
	for i, raw := range tokens {
		token := strings.ToUpper(strings.Trim(raw, "();,"))
		if tableAfter != "" && token == tableAfter && i+1 < len(tokens) {
			table = strings.Trim(tokens[i+1], "\"`();,")
			return operation, table
		}
		if operation != "UNKNOWN" {
			continue
		}
		switch token {
		case "SELECT", "DELETE":
			operation, tableAfter = token, "FROM"
		case "INSERT", "MERGE":
			operation, tableAfter = token, "INTO"
		case "UPDATE":
			operation = token
			if i+1 < len(tokens) {
				table = strings.Trim(tokens[i+1], "\"`();,")
			}
			return operation, table
		}
	}
	return operation, table
}

var _ gormlogger.Interface = (*GormLogger)(nil)
