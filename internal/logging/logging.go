// Package logging configures the process-wide slog logger for both binaries.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/go-logr/logr"
	"gopkg.in/natefinch/lumberjack.v2"
	"k8s.io/klog/v2"
)

// ParseLevel maps debug, warn and error to their slog levels. Anything else
// is info.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup installs a text handler writing to console and, when filename is set,
// to a rotating log file. client-go's klog output is routed through the same
// handler. The returned closer releases the log file.
func Setup(level, filename string, console io.Writer) (io.Closer, error) {
	out := console
	var closer io.Closer = nopCloser{}
	if filename != "" {
		if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
			return nil, err
		}
		logWriter := &lumberjack.Logger{
			Filename:   filename,
			MaxSize:    25,
			MaxBackups: 10,
			MaxAge:     14,
			Compress:   true,
		}
		out = io.MultiWriter(console, logWriter)
		closer = logWriter
	}

	h := slog.NewTextHandler(out, &slog.HandlerOptions{Level: ParseLevel(level)})
	slog.SetDefault(slog.New(h))
	klog.SetLogger(logr.FromSlogHandler(h.WithAttrs([]slog.Attr{slog.String("source", "client-go")})))
	return closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
