package common

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arbor/models"
)

const defaultTimeFormat = "15:04:05"

var (
	loggerMu  sync.RWMutex
	logger    arbor.ILogger
	logsDirMu sync.RWMutex
	logsDir   string
)

// GetLogger returns the process logger, creating a console logger if
// InitLogger has not run yet.
func GetLogger() arbor.ILogger {
	loggerMu.RLock()
	l := logger
	loggerMu.RUnlock()
	if l != nil {
		return l
	}

	loggerMu.Lock()
	defer loggerMu.Unlock()
	if logger == nil {
		logger = arbor.NewLogger().WithConsoleWriter(consoleWriter(defaultTimeFormat))
	}
	return logger
}

// InitLogger builds the process logger from [logging] and installs it as
// the value GetLogger returns.
func InitLogger(config *Config) arbor.ILogger {
	cfg := config.Logging
	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = defaultTimeFormat
	}
	if cfg.Dir != "" {
		logsDirMu.Lock()
		logsDir = cfg.Dir
		logsDirMu.Unlock()
	}

	toFile := slices.Contains(cfg.Output, "file")
	toConsole := slices.Contains(cfg.Output, "stdout") || slices.Contains(cfg.Output, "console")

	l := arbor.NewLogger()
	if toFile {
		dir := LogsDirectory()
		if err := os.MkdirAll(dir, 0755); err != nil {
			fmt.Fprintf(os.Stderr, "logging: cannot create %s, file output disabled: %v\n", dir, err)
			toFile = false
		} else {
			l = l.WithFileWriter(models.WriterConfiguration{
				Type:       models.LogWriterTypeFile,
				FileName:   filepath.Join(dir, "foresight.log"),
				TimeFormat: timeFormat,
				MaxSize:    100 * 1024 * 1024,
				MaxBackups: 3,
				TextOutput: cfg.Format != "json",
			})
		}
	}
	if toConsole || !toFile {
		l = l.WithConsoleWriter(consoleWriter(timeFormat))
	}
	l = l.WithLevelFromString(cfg.Level)

	loggerMu.Lock()
	logger = l
	loggerMu.Unlock()

	return l
}

func consoleWriter(timeFormat string) models.WriterConfiguration {
	return models.WriterConfiguration{
		Type:       models.LogWriterTypeConsole,
		TimeFormat: timeFormat,
		TextOutput: true,
	}
}

// LogsDirectory is logging.dir when set, otherwise logs/ beside the
// executable, otherwise ./logs.
func LogsDirectory() string {
	logsDirMu.RLock()
	dir := logsDir
	logsDirMu.RUnlock()
	if dir != "" {
		return dir
	}

	execPath, err := os.Executable()
	if err != nil {
		return "logs"
	}
	return filepath.Join(filepath.Dir(execPath), "logs")
}
