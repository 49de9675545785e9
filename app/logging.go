package app

import (
	"io"
	"log/slog"

	"m365cli/config"

	"github.com/charmbracelet/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// newLogger returns the diagnostic logger and the writer it logs to. With a log file
// configured, logs go to the rotating file instead of stderr. The closer is nil
// when there is no file.
func newLogger(cfg config.LogConfig, debug bool, stderr io.Writer) (*slog.Logger, io.Writer, io.Closer) {
	var (
		w      = stderr
		closer io.Closer
		level  = log.WarnLevel
	)
	if cfg.File != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		}
		w, closer = lj, lj
		level = log.InfoLevel
	}
	if debug {
		level = log.DebugLevel
	}

	handler := log.NewWithOptions(w, log.Options{
		Level:           level,
		Prefix:          "m365cli",
		ReportTimestamp: true,
	})
	return slog.New(handler), w, closer
}
