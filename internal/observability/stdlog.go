package observability

import (
	"fmt"
	"log"
	"strings"
)

// StdLogger adapts the standard library logger to the Logger interface.
// Debug output is dropped unless enabled.
type StdLogger struct {
	logger *log.Logger
	debug  bool
}

// NewStdLogger wraps a *log.Logger. A nil logger uses the library default.
func NewStdLogger(logger *log.Logger, debug bool) *StdLogger {
	if logger == nil {
		logger = log.Default()
	}
	return &StdLogger{logger: logger, debug: debug}
}

// Debug implements Logger.
func (l *StdLogger) Debug(msg string, fields ...Field) {
	if !l.debug {
		return
	}
	l.print("DEBUG", msg, fields)
}

// Info implements Logger.
func (l *StdLogger) Info(msg string, fields ...Field) {
	l.print("INFO", msg, fields)
}

// Error implements Logger.
func (l *StdLogger) Error(msg string, fields ...Field) {
	l.print("ERROR", msg, fields)
}

func (l *StdLogger) print(level, msg string, fields []Field) {
	if len(fields) == 0 {
		l.logger.Printf("%s %s", level, msg)
		return
	}
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, fmt.Sprintf("%s=%v", f.Key, f.Value))
	}
	l.logger.Printf("%s %s %s", level, msg, strings.Join(parts, " "))
}
