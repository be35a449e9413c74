// Package observability builds the process logger and tracing pipeline.
package observability

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// LogOptions select level, format and destination of the root logger.
type LogOptions struct {
	Level  string
	Format string // "text" or "json"
	File   string // empty means Output
	Output io.Writer
}

// NewLogger creates the root logger. The returned closer releases the log
// file, if one was opened.
func NewLogger(opts LogOptions) (hclog.Logger, io.Closer, error) {
	var out io.Writer = os.Stderr
	if opts.Output != nil {
		out = opts.Output
	}
	var closer io.Closer = io.NopCloser(nil)

	if path := strings.TrimSpace(opts.File); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file (%s): %w", path, err)
		}
		out, closer = f, f
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:       "toolgraph",
		Level:      hclog.LevelFromString(normalizeLevel(opts.Level)),
		Output:     out,
		JSONFormat: strings.EqualFold(opts.Format, "json"),
	})
	return logger, closer, nil
}

func normalizeLevel(lvl string) string {
	lvl = strings.ToLower(strings.TrimSpace(lvl))
	switch lvl {
	case "trace", "debug", "info", "warn", "error", "off":
		return lvl
	default:
		return "info"
	}
}
