// Package logging provides the application logger.
package logging

import (
	"fmt"
	"log"
	"os"
	"strings"
)

// Logger writes leveled log lines with optional key/value context.
type Logger struct {
	l *log.Logger
}

// NewLogger creates a new Logger writing to stdout.
func NewLogger() *Logger {
	return &Logger{l: log.New(os.Stdout, "", log.LstdFlags)}
}

func (l *Logger) write(level, msg string, args []any) {
	var b strings.Builder
	b.WriteString(level)
	b.WriteString(": ")
	b.WriteString(msg)
	for i := 0; i+1 < len(args); i += 2 {
		fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
	}
	l.l.Print(b.String())
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, args ...any) { l.write("DEBUG", msg, args) }

// Info logs an informational message.
func (l *Logger) Info(msg string, args ...any) { l.write("INFO", msg, args) }

// Warn logs a warning message.
func (l *Logger) Warn(msg string, args ...any) { l.write("WARN", msg, args) }

// Error logs an error message.
func (l *Logger) Error(msg string, args ...any) { l.write("ERROR", msg, args) }
