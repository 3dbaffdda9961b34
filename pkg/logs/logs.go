package logs

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
)

type Output string

const (
	Stdout Output = "stdout"
	Stderr Output = "stderr"
	File   Output = "file"
)

type LogConfig struct {
	Level  string `json:"level" yaml:"level" mapstructure:"level"`
	Output Output `json:"output" yaml:"output" mapstructure:"output"`
	Path   string `json:"path" yaml:"path" mapstructure:"path"`
	File   string `json:"file" yaml:"file" mapstructure:"file"`
}

func (cfg *LogConfig) Prepare() {
	if cfg.Output == "" {
		cfg.Output = Stdout
	}
	if cfg.Path == "" {
		cfg.Path = "logs"
	}
}

// CreateFileWriter 构建日志文件写入器
func CreateFileWriter(path, name string) (io.Writer, error) {
	os.MkdirAll(path, 0755)
	file := filepath.Join(path, name)
	f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, fmt.Errorf("打开日志文件错误, err: %v", err)
	}
	return f, nil
}

// InitLogger 初始化日志
func InitLogger(cfg LogConfig, defaultLogFile string) error {
	cfg.Prepare()
	if cfg.File == "" {
		cfg.File = defaultLogFile
	}
	SetLevel(GetLevel(cfg.Level))
	switch cfg.Output {
	case Stdout:
		SetOutput(os.Stdout)
	case Stderr:
		SetOutput(os.Stderr)
	case File:
		writer, err := CreateFileWriter(cfg.Path, cfg.File)
		if err != nil {
			return err
		}
		SetOutput(writer)
	}
	return nil
}

var logger FullLogger = &ILog{
	level:  LevelInfo,
	stdLog: log.New(os.Stderr, "", log.LstdFlags|log.Lshortfile|log.Lmicroseconds),
}

// SetOutput sets the output of default logs. By default, it is stderr.
func SetOutput(w io.Writer) {
	logger.SetOutput(w)
}

// SetLevel sets the level of logs below which logs will not be output.
func SetLevel(lv Level) {
	logger.SetLevel(lv)
}

// SetLogger sets the default logs.
// Note that this method is not concurrent-safe and must not be called
// after the use of global functions in this package.
func SetLogger(v FullLogger) {
	logger = v
}

// Fatalf calls the default logs's Fatalf method and then os.Exit(1).
func Fatalf(format string, v ...interface{}) {
	logger.Fatalf(format, v...)
}

// Errorf calls the default logs's Errorf method.
func Errorf(format string, v ...interface{}) {
	logger.Errorf(format, v...)
}

// Warnf calls the default logs's Warnf method.
func Warnf(format string, v ...interface{}) {
	logger.Warnf(format, v...)
}

// Infof calls the default logs's Infof method.
func Infof(format string, v ...interface{}) {
	logger.Infof(format, v...)
}

// Debugf calls the default logs's Debugf method.
func Debugf(format string, v ...interface{}) {
	logger.Debugf(format, v...)
}
