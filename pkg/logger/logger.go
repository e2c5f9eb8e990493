package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-gost/core/logger"
	"github.com/sirupsen/logrus"
)

// Options 日志选项
type Options struct {
	Level  string // trace, debug, info, warn, error, fatal
	Format string // text, json
	Output string // stdout, stderr 或文件路径
}

// Adapter gost Logger 接口适配 logrus
type Adapter struct {
	entry *logrus.Entry
	level logger.LogLevel
}

// New 创建日志适配器
func New(opts Options) (*Adapter, error) {
	l := logrus.New()

	level := parseLevel(opts.Level)
	lv, err := logrus.ParseLevel(string(level))
	if err != nil {
		return nil, fmt.Errorf("无效的日志级别 %q: %w", opts.Level, err)
	}
	l.SetLevel(lv)

	switch strings.ToLower(opts.Format) {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	out, err := openOutput(opts.Output)
	if err != nil {
		return nil, err
	}
	l.SetOutput(out)

	return &Adapter{entry: logrus.NewEntry(l), level: level}, nil
}

// NewWithWriter 创建写入指定 Writer 的日志适配器
func NewWithWriter(w io.Writer, level string) *Adapter {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true, DisableColors: true})
	lv := parseLevel(level)
	if parsed, err := logrus.ParseLevel(string(lv)); err == nil {
		l.SetLevel(parsed)
	}
	return &Adapter{entry: logrus.NewEntry(l), level: lv}
}

// Nop 丢弃所有输出的日志
func Nop() logger.Logger {
	return NewWithWriter(io.Discard, "fatal")
}

func openOutput(output string) (io.Writer, error) {
	switch output {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("打开日志文件失败: %w", err)
		}
		return f, nil
	}
}

func parseLevel(s string) logger.LogLevel {
	switch logger.LogLevel(strings.ToLower(s)) {
	case logger.TraceLevel:
		return logger.TraceLevel
	case logger.DebugLevel:
		return logger.DebugLevel
	case logger.WarnLevel:
		return logger.WarnLevel
	case logger.ErrorLevel:
		return logger.ErrorLevel
	case logger.FatalLevel:
		return logger.FatalLevel
	default:
		return logger.InfoLevel
	}
}

// levelIndex 将 LogLevel 转换为索引
func levelIndex(level logger.LogLevel) int {
	switch level {
	case logger.TraceLevel:
		return 0
	case logger.DebugLevel:
		return 1
	case logger.InfoLevel:
		return 2
	case logger.WarnLevel:
		return 3
	case logger.ErrorLevel:
		return 4
	case logger.FatalLevel:
		return 5
	default:
		return 2
	}
}

// WithFields 实现 logger.Logger 接口
func (a *Adapter) WithFields(fields map[string]any) logger.Logger {
	return &Adapter{
		entry: a.entry.WithFields(logrus.Fields(fields)),
		level: a.level,
	}
}

// Trace 实现 logger.Logger 接口
func (a *Adapter) Trace(args ...any) { a.entry.Trace(args...) }

// Tracef 实现 logger.Logger 接口
func (a *Adapter) Tracef(format string, args ...any) { a.entry.Tracef(format, args...) }

// Debug 实现 logger.Logger 接口
func (a *Adapter) Debug(args ...any) { a.entry.Debug(args...) }

// Debugf 实现 logger.Logger 接口
func (a *Adapter) Debugf(format string, args ...any) { a.entry.Debugf(format, args...) }

// Info 实现 logger.Logger 接口
func (a *Adapter) Info(args ...any) { a.entry.Info(args...) }

// Infof 实现 logger.Logger 接口
func (a *Adapter) Infof(format string, args ...any) { a.entry.Infof(format, args...) }

// Warn 实现 logger.Logger 接口
func (a *Adapter) Warn(args ...any) { a.entry.Warn(args...) }

// Warnf 实现 logger.Logger 接口
func (a *Adapter) Warnf(format string, args ...any) { a.entry.Warnf(format, args...) }

// Error 实现 logger.Logger 接口
func (a *Adapter) Error(args ...any) { a.entry.Error(args...) }

// Errorf 实现 logger.Logger 接口
func (a *Adapter) Errorf(format string, args ...any) { a.entry.Errorf(format, args...) }

// Fatal 实现 logger.Logger 接口
func (a *Adapter) Fatal(args ...any) { a.entry.Fatal(args...) }

// Fatalf 实现 logger.Logger 接口
func (a *Adapter) Fatalf(format string, args ...any) { a.entry.Fatalf(format, args...) }

// GetLevel 实现 logger.Logger 接口
func (a *Adapter) GetLevel() logger.LogLevel {
	return a.level
}

// IsLevelEnabled 实现 logger.Logger 接口
func (a *Adapter) IsLevelEnabled(level logger.LogLevel) bool {
	return levelIndex(level) >= levelIndex(a.level)
}
