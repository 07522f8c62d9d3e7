// Package logging provides leveled logging utilities for the application
package logging

import (
	"fmt"
	"log"
	"os"
	"strings"
)

// --------------------------------------------------------------------------
// Log Levels
// --------------------------------------------------------------------------

type LogLevel int

const (
	CRITICAL LogLevel = iota
	ERROR
	WARNING
	INFO
	DEBUG
)

// ParseLevel converts a level name to a LogLevel.
// Unknown names default to INFO.
func ParseLevel(level string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "CRITICAL":
		return CRITICAL
	case "ERROR":
		return ERROR
	case "WARN", "WARNING":
		return WARNING
	case "INFO":
		return INFO
	case "DEBUG":
		return DEBUG
	default:
		return INFO
	}
}

// --------------------------------------------------------------------------
// Logger Interface
// --------------------------------------------------------------------------

// ILogger is the interface used by all packages of this module for logging.
type ILogger interface {
	SetLevel(level LogLevel)
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warningf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Panicf(format string, args ...interface{})
}

// --------------------------------------------------------------------------
// Default Implementation
// --------------------------------------------------------------------------

// namedLogger implements the ILogger interface with custom formatting
type namedLogger struct {
	name   string
	level  LogLevel
	logger *log.Logger
}

func (l *namedLogger) SetLevel(level LogLevel) {
	l.level = level
}

func (l *namedLogger) Debugf(format string, args ...interface{}) {
	if l.level >= DEBUG {
		l.log("DEBUG", format, args...)
	}
}

func (l *namedLogger) Infof(format string, args ...interface{}) {
	if l.level >= INFO {
		l.log("INFO", format, args...)
	}
}

func (l *namedLogger) Warningf(format string, args ...interface{}) {
	if l.level >= WARNING {
		l.log("WARN", format, args...)
	}
}

func (l *namedLogger) Errorf(format string, args ...interface{}) {
	if l.level >= ERROR {
		l.log("ERROR", format, args...)
	}
}

func (l *namedLogger) Panicf(format string, args ...interface{}) {
	if l.level >= CRITICAL {
		panic(fmt.Sprintf(format, args...))
	}
}

// log formats and writes a log message. this internal helper is used by the public methods
func (l *namedLogger) log(levelStr string, format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	l.logger.Printf("%-5s | %-15s | %s", levelStr, l.name, message)
}

// --------------------------------------------------------------------------
// Logger Factory
// --------------------------------------------------------------------------

// GetLogger returns a named logger writing to stdout with the default INFO level.
func GetLogger(pkgName string) ILogger {
	stdLogger := log.New(os.Stdout, "", log.Ldate|log.Ltime)

	return &namedLogger{
		name:   pkgName,
		level:  INFO,
		logger: stdLogger,
	}
}
