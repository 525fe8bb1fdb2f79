package main

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

var logFile *os.File

// SetupLogger 日志输出到文件，未配置文件时输出到stderr
// stdio模式下stdout用于传输dap消息，日志不能写到stdout
func SetupLogger(path string, level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q", level)
	}
	logrus.SetLevel(lvl)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})

	var out io.Writer = os.Stderr
	if path != "" {
		logFile, err = os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		out = logFile
	}
	logrus.SetOutput(out)
	return nil
}

func CloseLogger() {
	if logFile != nil {
		_ = logFile.Close()
	}
}
