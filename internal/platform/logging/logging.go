// Package logging 负责构建进程级的logrus日志器。
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// New 创建一个JSON格式的日志器，并带上服务名字段。
// 无法识别的级别按 info 处理。
func New(service, level string) *logrus.Entry {
	return NewWithOutput(service, level, os.Stdout)
}

// NewWithOutput 与 New 相同，但允许指定输出目标
func NewWithOutput(service, level string, out io.Writer) *logrus.Entry {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})
	log.SetOutput(out)

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	log.SetLevel(parsed)

	return log.WithField("service", service)
}

// Component 为某个组件派生子日志器
func Component(base *logrus.Entry, name string) *logrus.Entry {
	if base == nil {
		base = logrus.NewEntry(logrus.StandardLogger())
	}
	return base.WithField("component", name)
}

// Discard 返回一个丢弃所有输出的日志器，主要供测试使用
func Discard() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}
