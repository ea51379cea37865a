package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/scigolib/h5chunk"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// errReported is returned once the failures have been printed.
var errReported = errors.New("analysis failed")

type rootOptions struct {
	verbose   bool
	quiet     bool
	details   bool
	verify    bool
	digest    bool
	keepGoing bool
	progress  bool
	summary   bool
	jobs      int
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "h5chunk [flags] <file.h5> [file.h5...]",
		Short: "Report the chunk storage of HDF5 datasets",
		Long: `h5chunk walks every object of an HDF5 file. For each chunked dataset it
prints the nominal chunk size implied by the element size and chunk shape,
followed by the allocated size of every chunk:

  /grp/temperature : nominal chunk size 40000 [B]
  12873
  13001

Datasets with contiguous or compact storage produce no output. With several
files, dataset paths are prefixed with the file name.`,
		Version:       "0.1.0",
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, opts, args)
		},
	}

	pf := cmd.PersistentFlags()
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging on stderr")
	pf.BoolVarP(&opts.quiet, "quiet", "q", false, "Log errors only")

	f := cmd.Flags()
	f.BoolVar(&opts.details, "details", false, "Show filters, chunk offsets, filter masks and addresses")
	f.BoolVar(&opts.verify, "verify", false, "Decode every chunk through its filter pipeline and check it")
	f.BoolVar(&opts.digest, "digest", false, "Append the sha256 digest of each stored chunk (implies --details)")
	f.BoolVarP(&opts.keepGoing, "keep-going", "k", false, "Report dataset errors and continue instead of aborting")
	f.BoolVar(&opts.progress, "progress", false, "Show a progress spinner on stderr when it is a terminal")
	f.BoolVar(&opts.summary, "summary", false, "Print run totals to stderr")
	f.IntVarP(&opts.jobs, "jobs", "j", 1, "Number of files analysed in parallel")

	cmd.AddCommand(newDumpCmd())
	return cmd
}

// fileResult is the buffered outcome of one file.
type fileResult struct {
	out    bytes.Buffer
	report h5chunk.Report
	err    error
	ran    bool
}

func runAnalyze(cmd *cobra.Command, opts *rootOptions, paths []string) error {
	if opts.jobs < 1 {
		return fmt.Errorf("--jobs must be at least 1, got %d", opts.jobs)
	}
	stderr := cmd.ErrOrStderr()
	initLogger(stderr, opts.verbose, opts.quiet)

	base := []h5chunk.Option{
		h5chunk.WithKeepGoing(opts.keepGoing),
		h5chunk.WithDetails(opts.details || opts.digest),
		h5chunk.WithVerify(opts.verify),
		h5chunk.WithDigests(opts.digest),
		h5chunk.WithLogger(logger),
	}
	bar := newProgress(stderr, opts.progress && !opts.quiet)
	if bar != nil {
		base = append(base, h5chunk.WithProgress(bar.tick))
	}

	// firstFailed is the lowest index of a failed file; later files are
	// skipped unless keep-going is set.
	var firstFailed atomic.Int64
	firstFailed.Store(int64(len(paths)))

	results := make([]*fileResult, len(paths))
	var g errgroup.Group
	g.SetLimit(opts.jobs)
	for i, path := range paths {
		res := &fileResult{}
		results[i] = res
		g.Go(func() error {
			if !opts.keepGoing && firstFailed.Load() < int64(i) {
				return nil
			}
			fileOpts := base
			if len(paths) > 1 {
				fileOpts = append(fileOpts[:len(fileOpts):len(fileOpts)], h5chunk.WithBasePath(path+":/"))
			}
			an := h5chunk.New(&res.out, fileOpts...)
			logger.Debug("analysing", "path", path)
			res.err = an.Run(cmd.Context(), path)
			res.report = an.Report()
			res.ran = true
			if res.err != nil {
				for {
					cur := firstFailed.Load()
					if cur <= int64(i) || firstFailed.CompareAndSwap(cur, int64(i)) {
						break
					}
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	bar.finish()

	return flush(cmd.OutOrStdout(), stderr, opts, results)
}

// flush writes the buffered results in argument order. Without keep-going
// it stops at the first failed file; every file before it has run.
func flush(stdout, stderr io.Writer, opts *rootOptions, results []*fileResult) error {
	var total h5chunk.Report
	failed := false
	for _, res := range results {
		if !res.ran {
			break
		}
		if _, err := res.out.WriteTo(stdout); err != nil {
			return err
		}
		total.Add(res.report)
		if res.err != nil {
			failed = true
			printErrors(stderr, res.err)
			if !opts.keepGoing {
				break
			}
		}
	}

	if opts.summary && !opts.quiet {
		fmt.Fprint(stderr, total.String())
	}
	if failed {
		return errReported
	}
	return nil
}

// printErrors prints one "Error:" line per joined error.
func printErrors(w io.Writer, err error) {
	if joined, ok := err.(interface{ Unwrap() []error }); ok && !isAnalysisError(err) {
		for _, e := range joined.Unwrap() {
			printErrors(w, e)
		}
		return
	}
	fmt.Fprintf(w, "Error: %v\n", err)
}

func isAnalysisError(err error) bool {
	_, ok := err.(*h5chunk.Error) //nolint:errorlint // distinguishes *Error from errors.Join
	return ok
}
