package main

import (
	"io"
	"os"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

// progress is a spinner counting visited objects across all files.
type progress struct {
	bar *progressbar.ProgressBar
}

// newProgress returns nil unless enabled and stderr is a terminal.
func newProgress(w io.Writer, enabled bool) *progress {
	if !enabled || !term.IsTerminal(int(os.Stderr.Fd())) { //nolint:gosec // G115: file descriptors fit in int
		return nil
	}
	return &progress{bar: progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("objects"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)}
}

func (p *progress) tick(int) {
	_ = p.bar.Add(1)
}

func (p *progress) finish() {
	if p == nil {
		return
	}
	_ = p.bar.Finish()
}
