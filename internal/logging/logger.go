package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"seisarchive/internal/config"
)

// LogFileName is the file written under paths.log_dir.
const LogFileName = "seisarchive.log"

// Options describes logger construction parameters.
type Options struct {
	Level  string
	Format string
	// Outputs lists "stdout", "stderr" or file paths. Empty means stdout.
	Outputs []string
	// AddSource records the caller. Debug level always does.
	AddSource bool
}

// New constructs a slog logger writing to every output in opts.
func New(opts Options) (*slog.Logger, error) {
	levelVar := new(slog.LevelVar)
	levelVar.Set(parseLevel(opts.Level))
	addSource := opts.AddSource || levelVar.Level() <= slog.LevelDebug

	var build func(io.Writer, *slog.LevelVar, bool) slog.Handler
	switch format := strings.ToLower(strings.TrimSpace(opts.Format)); format {
	case "", "console":
		build = newPrettyHandler
	case "json":
		build = newJSONHandler
	default:
		return nil, fmt.Errorf("log format: unsupported value %q", opts.Format)
	}

	w, err := openOutputs(opts.Outputs)
	if err != nil {
		return nil, err
	}
	return slog.New(build(w, levelVar, addSource)), nil
}

// NewFromConfig logs to stdout and, when paths.log_dir is set, to
// LogFileName inside it.
func NewFromConfig(cfg *config.Config) (*slog.Logger, error) {
	if cfg == nil {
		return New(Options{Level: "info"})
	}
	outputs := []string{"stdout"}
	if cfg.Paths.LogDir != "" {
		outputs = append(outputs, filepath.Join(cfg.Paths.LogDir, LogFileName))
	}
	return New(Options{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Outputs: outputs,
	})
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func openOutputs(outputs []string) (io.Writer, error) {
	var writers []io.Writer
	var seen []string
	for _, out := range outputs {
		out = strings.TrimSpace(out)
		if out == "" || slices.Contains(seen, out) {
			continue
		}
		seen = append(seen, out)
		switch out {
		case "stdout":
			writers = append(writers, os.Stdout)
		case "stderr":
			writers = append(writers, os.Stderr)
		default:
			if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
				return nil, fmt.Errorf("ensure log directory: %w", err)
			}
			file, err := os.OpenFile(out, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o664)
			if err != nil {
				return nil, fmt.Errorf("open log file %s: %w", out, err)
			}
			writers = append(writers, file)
		}
	}
	switch len(writers) {
	case 0:
		return os.Stdout, nil
	case 1:
		return writers[0], nil
	default:
		return io.MultiWriter(writers...), nil
	}
}
