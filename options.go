// Copyright (c) 2025 SciGo HDF5 Library Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

package h5chunk

import (
	"log/slog"
)

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithKeepGoing records per-dataset metadata and enumeration errors and
// continues the traversal instead of aborting. Run then returns the joined
// errors at the end.
//
// Open and traversal failures and cancellation always abort.
func WithKeepGoing(keepGoing bool) Option {
	return func(a *Analyzer) {
		a.keepGoing = keepGoing
	}
}

// WithDetails adds the filter pipeline to nominal lines and the chunk
// offset, filter mask and address to chunk lines.
func WithDetails(details bool) Option {
	return func(a *Analyzer) {
		a.details = details
	}
}

// WithVerify reads every chunk and checks it against the filter pipeline.
// Chunks whose pipeline contains a filter without a decoder are counted as
// skipped.
func WithVerify(verify bool) Option {
	return func(a *Analyzer) {
		a.verify = verify
	}
}

// WithDigests appends the sha256 digest of each chunk's stored bytes to
// chunk lines in details mode.
func WithDigests(digests bool) Option {
	return func(a *Analyzer) {
		a.digests = digests
	}
}

// WithProgress registers fn to be called after each visited object with
// the number of objects seen so far.
func WithProgress(fn func(objectsSeen int)) Option {
	return func(a *Analyzer) {
		a.progress = fn
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Analyzer) {
		if logger != nil {
			a.log = logger
		}
	}
}

// WithBasePath sets the prefix printed before dataset paths. The default
// is "/".
func WithBasePath(base string) Option {
	return func(a *Analyzer) {
		a.basePath = base
	}
}
