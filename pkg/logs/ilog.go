package logs

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

func GetLevel(level string) Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return LevelDebug
	case "INFO":
		return LevelInfo
	case "WARN":
		return LevelWarn
	case "ERROR":
		return LevelError
	case "FATAL":
		return LevelFatal
	default:
		return LevelInfo
	}
}

var strs = []string{
	"[DEBUG] ",
	"[INFO] ",
	"[WARN] ",
	"[ERROR] ",
	"[FATAL] ",
}

func (lv Level) toString() string {
	if lv >= LevelDebug && lv <= LevelFatal {
		return strs[lv]
	}
	return fmt.Sprintf("[?%d] ", lv)
}

type FormatLogger interface {
	Debugf(format string, v ...interface{})
	Infof(format string, v ...interface{})
	Warnf(format string, v ...interface{})
	Errorf(format string, v ...interface{})
	Fatalf(format string, v ...interface{})
}

type Control interface {
	SetLevel(Level)
	SetOutput(io.Writer)
}

type FullLogger interface {
	FormatLogger
	Control
}

// ILog 默认日志实现，基于标准库 log
type ILog struct {
	stdLog *log.Logger
	level  Level
}

func (l *ILog) SetOutput(w io.Writer) {
	l.stdLog.SetOutput(w)
}

func (l *ILog) SetLevel(lv Level) {
	l.level = lv
}

func (l *ILog) logf(lv Level, format string, v ...interface{}) {
	if l.level > lv {
		return
	}
	msg := lv.toString() + fmt.Sprintf(format, v...)
	l.stdLog.Output(4, msg)
	if lv == LevelFatal {
		os.Exit(1)
	}
}

func (l *ILog) Debugf(format string, v ...interface{}) {
	l.logf(LevelDebug, format, v...)
}

func (l *ILog) Infof(format string, v ...interface{}) {
	l.logf(LevelInfo, format, v...)
}

func (l *ILog) Warnf(format string, v ...interface{}) {
	l.logf(LevelWarn, format, v...)
}

func (l *ILog) Errorf(format string, v ...interface{}) {
	l.logf(LevelError, format, v...)
}

func (l *ILog) Fatalf(format string, v ...interface{}) {
	l.logf(LevelFatal, format, v...)
}
