package pubsub

import (
	"github.com/ThreeDotsLabs/watermill"

	"github.com/meterline/meterline/internal/logger"
)

// watermillLogger adapts our logger to watermill's LoggerAdapter.
type watermillLogger struct {
	log *logger.Logger
}

func NewWatermillLogger(log *logger.Logger) watermill.LoggerAdapter {
	return &watermillLogger{log: log}
}

func fieldsToKVs(fields watermill.LogFields) []interface{} {
	kvs := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		kvs = append(kvs, k, v)
	}
	return kvs
}

func (l *watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.log.Errorw(msg, append(fieldsToKVs(fields), "error", err)...)
}

func (l *watermillLogger) Info(msg string, fields watermill.LogFields) {
	l.log.Infow(msg, fieldsToKVs(fields)...)
}

func (l *watermillLogger) Debug(msg string, fields watermill.LogFields) {
	l.log.Debugw(msg, fieldsToKVs(fields)...)
}

func (l *watermillLogger) Trace(msg string, fields watermill.LogFields) {
	l.log.Debugw(msg, fieldsToKVs(fields)...)
}

func (l *watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &watermillLogger{log: &logger.Logger{SugaredLogger: l.log.SugaredLogger.With(fieldsToKVs(fields)...)}}
}
