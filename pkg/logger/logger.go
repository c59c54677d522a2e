package logger

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
)

// LogLevel defines the severity of a log message
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

// Color codes for console output
const (
	reset  = "\033[0m"
	red    = "\033[31m"
	green  = "\033[32m"
	yellow = "\033[33m"
	blue   = "\033[34m"
	purple = "\033[35m"
)

// Logger is a custom logging structure
type Logger struct {
	mu       sync.Mutex
	level    LogLevel
	output   io.Writer
	tracking bool
}

// New creates a new Logger instance
func New(level LogLevel) *Logger {
	return &Logger{
		level:    level,
		output:   os.Stdout,
		tracking: true,
	}
}

// getCallerInfo retrieves file and line of the caller
func getCallerInfo(skip int) (string, int) {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "???", 0
	}

	// Trim the full path to just the last few path components
	parts := strings.Split(file, "/")
	if len(parts) > 3 {
		file = strings.Join(parts[len(parts)-3:], "/")
	}

	return file, line
}

// colorForLevel returns the color based on log level
func colorForLevel(level LogLevel) string {
	switch level {
	case DEBUG:
		return blue
	case INFO:
		return green
	case WARN:
		return yellow
	case ERROR:
		return red
	case FATAL:
		return purple
	default:
		return reset
	}
}

// log writes a formatted log message
func (l *Logger) log(level LogLevel, callerSkip int, format string, v ...interface{}) {
	if level < l.level {
		return
	}

	file, line := getCallerInfo(callerSkip)

	// Prepare log message
	msg := fmt.Sprintf(format, v...)

	// Get color for level
	color := colorForLevel(level)

	// Construct log entry
	logEntry := fmt.Sprintf("%s[%s]%s %s:%d - %s\n",
		color,
		strings.ToUpper([]string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}[level]),
		reset,
		file,
		line,
		msg,
	)

	l.mu.Lock()
	defer l.mu.Unlock()

	fmt.Fprint(l.output, logEntry)

	// Handle fatal level
	if level == FATAL {
		os.Exit(1)
	}
}

// logw writes a log message with structured key-value pairs
func (l *Logger) logw(level LogLevel, msg string, keysAndValues ...interface{}) {
	if len(keysAndValues) == 0 {
		l.log(level, 4, "%s", msg)
		return
	}

	var sb strings.Builder
	sb.WriteString(msg)
	for i := 0; i < len(keysAndValues); i += 2 {
		key := fmt.Sprintf("%v", keysAndValues[i])
		value := "MISSING"
		if i+1 < len(keysAndValues) {
			value = fmt.Sprintf("%v", keysAndValues[i+1])
		}
		sb.WriteString(fmt.Sprintf(" %s=%s", key, value))
	}

	l.log(level, 4, "%s", sb.String())
}

// Debug logs a debug message
func (l *Logger) Debug(format string, v ...interface{}) {
	l.log(DEBUG, 3, format, v...)
}

// Info logs an info message
func (l *Logger) Info(format string, v ...interface{}) {
	l.log(INFO, 3, format, v...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, v ...interface{}) {
	l.log(WARN, 3, format, v...)
}

// Error logs an error message
func (l *Logger) Error(format string, v ...interface{}) {
	l.log(ERROR, 3, format, v...)
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(format string, v ...interface{}) {
	l.log(FATAL, 3, format, v...)
}

// Debugw logs a debug message with structured key-value pairs
func (l *Logger) Debugw(msg string, keysAndValues ...interface{}) {
	l.logw(DEBUG, msg, keysAndValues...)
}

// Infow logs an info message with structured key-value pairs
func (l *Logger) Infow(msg string, keysAndValues ...interface{}) {
	l.logw(INFO, msg, keysAndValues...)
}

// Warnw logs a warning message with structured key-value pairs
func (l *Logger) Warnw(msg string, keysAndValues ...interface{}) {
	l.logw(WARN, msg, keysAndValues...)
}

// Errorw logs an error message with structured key-value pairs
func (l *Logger) Errorw(msg string, keysAndValues ...interface{}) {
	l.logw(ERROR, msg, keysAndValues...)
}

// Fatalw logs a fatal message with structured key-value pairs and exits
func (l *Logger) Fatalw(msg string, keysAndValues ...interface{}) {
	l.logw(FATAL, msg, keysAndValues...)
}

// SetOutput переопределяет назначение вывода логов (используется в тестах)
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output = w
}
