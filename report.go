package h5chunk

import (
	"fmt"
	"strings"
)

// Report counts what a run has seen.
type Report struct {
	Objects  int
	Groups   int
	Datasets int
	// Chunked counts datasets that printed a nominal line.
	Chunked        int
	Chunks         int
	AllocatedBytes uint64
	Verified       int
	Skipped        int

	// Errors holds the per-dataset errors recorded in keep-going mode.
	Errors []error
}

// Add accumulates o into r, for multi-file summaries.
func (r *Report) Add(o Report) {
	r.Objects += o.Objects
	r.Groups += o.Groups
	r.Datasets += o.Datasets
	r.Chunked += o.Chunked
	r.Chunks += o.Chunks
	r.AllocatedBytes += o.AllocatedBytes
	r.Verified += o.Verified
	r.Skipped += o.Skipped
	r.Errors = append(r.Errors, o.Errors...)
}

// String formats the report as "key: value" lines.
func (r Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "objects: %d\n", r.Objects)
	fmt.Fprintf(&b, "groups: %d\n", r.Groups)
	fmt.Fprintf(&b, "datasets: %d (chunked: %d)\n", r.Datasets, r.Chunked)
	fmt.Fprintf(&b, "chunks: %d\n", r.Chunks)
	fmt.Fprintf(&b, "allocated bytes: %d\n", r.AllocatedBytes)
	if r.Verified > 0 || r.Skipped > 0 {
		fmt.Fprintf(&b, "verified chunks: %d (skipped: %d)\n", r.Verified, r.Skipped)
	}
	if len(r.Errors) > 0 {
		fmt.Fprintf(&b, "errors: %d\n", len(r.Errors))
	}
	return b.String()
}
