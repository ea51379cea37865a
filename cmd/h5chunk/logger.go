package main

import (
	"io"
	"log/slog"
)

// logger is the command's logger. It discards everything until initLogger
// is called.
var logger = slog.New(slog.DiscardHandler)

// initLogger selects the handler from the verbosity flags. Logs go to w,
// which is stderr outside tests.
func initLogger(w io.Writer, verbose, quiet bool) {
	switch {
	case quiet:
		logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelError}))
	case verbose:
		logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
	default:
		logger = slog.New(slog.DiscardHandler)
	}
}
