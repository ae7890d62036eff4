// Package logging builds the diagnostic logger. Diagnostics go to stderr and
// optionally to a file; the protocol's console lines never pass through here.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/encodeous/tint"
	"github.com/pkg/errors"
	slogmulti "github.com/samber/slog-multi"
)

type Options struct {
	RouterId uint16
	Level    slog.Level
	LogPath  string // if not empty, diagnostics are also appended here
}

// New returns a logger writing to w and, when configured, to a log file. The
// returned close function releases the file.
func New(w io.Writer, opts Options) (*slog.Logger, func() error, error) {
	handlers := []slog.Handler{
		tint.NewHandler(w, &tint.Options{
			Level:        opts.Level,
			AddSource:    false,
			CustomPrefix: fmt.Sprintf("R%d", opts.RouterId),
			ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
				if attr.Key == slog.TimeKey && len(groups) == 0 {
					return slog.Attr{}
				}
				return attr
			},
		}),
	}

	closer := func() error { return nil }
	if opts.LogPath != "" {
		if err := os.MkdirAll(filepath.Dir(opts.LogPath), 0o700); err != nil {
			return nil, nil, errors.Wrap(err, "create log dir")
		}
		f, err := os.OpenFile(opts.LogPath, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o600)
		if err != nil {
			return nil, nil, errors.Wrap(err, "open log file")
		}
		handlers = append(handlers, slog.NewTextHandler(f, &slog.HandlerOptions{Level: opts.Level}))
		closer = f.Close
	}

	logger := slog.New(slogmulti.Fanout(handlers...)).With("router", opts.RouterId)
	return logger, closer, nil
}
