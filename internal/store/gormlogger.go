package store

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	gormlogger "gorm.io/gorm/logger"
)

// zerologGormLogger adapts zerolog to gorm's logger.Interface so SQL tracing
// follows the same sink as the rest of the hub, instead of gorm's default
// stdlib-log writer.
type zerologGormLogger struct {
	log zerolog.Logger
}

func newZerologGormLogger(log zerolog.Logger) gormlogger.Interface {
	return &zerologGormLogger{log: log.With().Str("component", "gorm").Logger()}
}

func (l *zerologGormLogger) LogMode(gormlogger.LogLevel) gormlogger.Interface {
	return l
}

func (l *zerologGormLogger) Info(_ context.Context, msg string, args ...any) {
	l.log.Info().Msgf(msg, args...)
}

func (l *zerologGormLogger) Warn(_ context.Context, msg string, args ...any) {
	l.log.Warn().Msgf(msg, args...)
}

func (l *zerologGormLogger) Error(_ context.Context, msg string, args ...any) {
	l.log.Error().Msgf(msg, args...)
}

func (l *zerologGormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	sql, rows := fc()
	ev := l.log.Debug()
	if err != nil && !errors.Is(err, gormlogger.ErrRecordNotFound) {
		ev = l.log.Error().Err(err)
	}
	ev.Str("sql", sql).Int64("rows", rows).Dur("elapsed", elapsed).Msg("query")
}
