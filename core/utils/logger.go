package utils

import (
	"io"
	"log"
	"os"
	"time"
)

type Logger struct {
	info *log.Logger
	err  *log.Logger
}

func NewLogger() *Logger {
	return NewLoggerTo(os.Stdout, os.Stderr)
}

func NewLoggerTo(out, errOut io.Writer) *Logger {
	flags := log.LstdFlags | log.Lmicroseconds | log.LUTC
	return &Logger{
		info: log.New(out, "INFO ", flags),
		err:  log.New(errOut, "ERROR ", flags),
	}
}

func (l *Logger) Printf(format string, v ...any) {
	if l == nil || l.info == nil {
		return
	}
	l.info.Printf(format, v...)
}

func (l *Logger) Errorf(format string, v ...any) {
	if l == nil || l.err == nil {
		return
	}
	l.err.Printf(format, v...)
}

func NowUTC() time.Time {
	return time.Now().UTC()
}
