package common

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arbor/models"
)

var (
	globalLogger arbor.ILogger
	loggerMutex  sync.RWMutex
)

// GetLogger returns the process-wide logger. If SetupLogger hasn't run yet
// (e.g. in a unit test) it falls back to a console logger.
func GetLogger() arbor.ILogger {
	loggerMutex.RLock()
	if globalLogger != nil {
		loggerMutex.RUnlock()
		return globalLogger
	}
	loggerMutex.RUnlock()

	loggerMutex.Lock()
	defer loggerMutex.Unlock()
	if globalLogger == nil {
		globalLogger = arbor.NewLogger().WithConsoleWriter(consoleWriterConfig(nil))
		globalLogger.Warn().Msg("using fallback console logger - SetupLogger was not called")
	}
	return globalLogger
}

// InitLogger installs logger as the process-wide singleton.
func InitLogger(logger arbor.ILogger) {
	loggerMutex.Lock()
	defer loggerMutex.Unlock()
	globalLogger = logger
}

// SetupLogger builds the process logger from config: console always on,
// file output added when config.Logging.Output contains "file".
func SetupLogger(config *Config) arbor.ILogger {
	logger := arbor.NewLogger().WithConsoleWriter(consoleWriterConfig(config))

	wantsFile := false
	for _, out := range config.Logging.Output {
		if out == "file" {
			wantsFile = true
		}
	}

	if wantsFile {
		logsDir := "logs"
		if err := os.MkdirAll(logsDir, 0755); err != nil {
			logger.Warn().Err(err).Str("dir", logsDir).Msg("failed to create logs directory, console-only logging")
		} else {
			logFile := filepath.Join(logsDir, "ledgersync.log")
			logger = logger.WithFileWriter(fileWriterConfig(config, logFile))
		}
	}

	InitLogger(logger)
	return logger
}

func consoleWriterConfig(config *Config) models.WriterConfiguration {
	cfg := models.WriterConfiguration{
		Type:  models.LogWriterTypeConsole,
		Level: models.LogLevelInfo,
	}
	if config != nil && config.Logging.Level != "" {
		cfg.Level = parseLevel(config.Logging.Level)
	}
	return cfg
}

func fileWriterConfig(config *Config, path string) models.WriterConfiguration {
	cfg := models.WriterConfiguration{
		Type:     models.LogWriterTypeFile,
		Level:    models.LogLevelDebug,
		FileName: path,
	}
	if config != nil && config.Logging.Level != "" {
		cfg.Level = parseLevel(config.Logging.Level)
	}
	return cfg
}

func parseLevel(level string) models.LogLevel {
	switch level {
	case "debug":
		return models.LogLevelDebug
	case "warn":
		return models.LogLevelWarn
	case "error":
		return models.LogLevelError
	default:
		return models.LogLevelInfo
	}
}
