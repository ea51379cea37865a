// Package h5chunk reports how HDF5 datasets are stored in chunks.
//
// For every chunked dataset in a file it prints the nominal chunk size
// implied by the element type and chunk shape, followed by the number of
// bytes actually allocated for each chunk:
//
//	/grp/temperature : nominal chunk size 40000 [B]
//	12873
//	13001
//
// Allocated sizes differ from the nominal size when chunks are compressed.
// Datasets with other layouts produce no output.
package h5chunk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/scigolib/h5chunk/hdf5"
	"github.com/scigolib/h5chunk/internal/utils"
)

// Analyzer walks HDF5 files and writes their chunk report to an io.Writer.
// Each Run starts a fresh Report. An Analyzer is not safe for concurrent
// use.
type Analyzer struct {
	w        io.Writer
	log      *slog.Logger
	basePath string

	keepGoing bool
	details   bool
	verify    bool
	digests   bool
	progress  func(int)

	// Set for the duration of Run.
	ctx  context.Context
	file *hdf5.File

	report Report
}

// New returns an Analyzer writing to w.
func New(w io.Writer, opts ...Option) *Analyzer {
	a := &Analyzer{
		w:        w,
		log:      slog.New(slog.DiscardHandler),
		basePath: "/",
		ctx:      context.Background(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run analyses the file at path and writes the report to w.
func Run(ctx context.Context, w io.Writer, path string, opts ...Option) error {
	return New(w, opts...).Run(ctx, path)
}

// Run opens path, visits every object from the root group and closes the
// file again. Output written before a failure stays in the writer.
func (a *Analyzer) Run(ctx context.Context, path string) (err error) {
	a.report = Report{}
	f, err := hdf5.Open(path)
	if err != nil {
		return newError(ErrOpen, path, "open", err)
	}
	a.ctx, a.file = ctx, f
	a.log.Debug("opened file", "path", path, "superblock", f.Superblock().Version)

	defer func() {
		cerr := f.Close()
		a.file = nil
		if err == nil && cerr != nil {
			err = newError(ErrOpen, path, "close", cerr)
		}
	}()

	if verr := f.Visit("/", a.Visit); verr != nil {
		var e *Error
		if !errors.As(verr, &e) {
			verr = newError(ErrVisit, path, "visit", verr)
		}
		if len(a.report.Errors) == 0 {
			return verr
		}
		return errors.Join(append(a.Report().Errors, verr)...)
	}

	if len(a.report.Errors) > 0 {
		return errors.Join(a.report.Errors...)
	}
	return nil
}

// Report returns the counters of the current or last Run.
func (a *Analyzer) Report() Report {
	r := a.report
	r.Errors = append([]error(nil), a.report.Errors...)
	return r
}

// Visit handles one object of the traversal. Only datasets are analysed.
// A non-nil return aborts the traversal.
func (a *Analyzer) Visit(obj hdf5.ObjectInfo) error {
	if err := a.ctx.Err(); err != nil {
		return newError(ErrVisit, obj.Path, "visit", err)
	}

	a.report.Objects++
	if a.progress != nil {
		defer a.progress(a.report.Objects)
	}

	switch obj.Kind {
	case hdf5.ObjectGroup:
		a.report.Groups++
		return nil
	case hdf5.ObjectDataset:
		a.report.Datasets++
	default:
		a.log.Debug("skipping object", "path", obj.Path, "kind", obj.Kind)
		return nil
	}

	err := a.analyzeDataset(obj)
	if err == nil {
		return nil
	}
	if a.keepGoing && recoverable(err) && a.ctx.Err() == nil {
		a.log.Warn("dataset failed", "path", obj.Path, "error", err)
		a.report.Errors = append(a.report.Errors, err)
		return nil
	}
	return err
}

// analyzeDataset prints the nominal chunk size and the allocated size of
// every chunk of one dataset. Handles are released in reverse order of
// acquisition on every path.
func (a *Analyzer) analyzeDataset(obj hdf5.ObjectInfo) error {
	name := a.displayName(obj.Path)
	metadataErr := func(op string, err error) error {
		return newError(ErrMetadata, name, op, err)
	}

	ds, err := a.file.OpenDatasetAt(obj.Path, obj.Address)
	if err != nil {
		return metadataErr("open dataset", err)
	}
	defer func() { _ = ds.Close() }()

	plist, err := ds.CreatePlist()
	if err != nil {
		return metadataErr("creation properties", err)
	}
	defer func() { _ = plist.Close() }()

	dtype, err := ds.Type()
	if err != nil {
		return metadataErr("datatype", err)
	}
	defer func() { _ = dtype.Close() }()

	space, err := ds.Space()
	if err != nil {
		return metadataErr("dataspace", err)
	}
	defer func() { _ = space.Close() }()

	if plist.Layout() != hdf5.LayoutChunked {
		a.log.Debug("not chunked", "path", name, "layout", plist.Layout())
		return nil
	}

	elemSize := dtype.Size()
	if elemSize == 0 {
		return metadataErr("datatype", errors.New("element size is zero"))
	}
	rank := space.Rank()
	if rank > hdf5.MaxRank {
		return metadataErr("dataspace", fmt.Errorf("%w: rank %d > %d", hdf5.ErrRankTooLarge, rank, hdf5.MaxRank))
	}
	dims, err := plist.Chunk(hdf5.MaxRank)
	if err != nil {
		return metadataErr("chunk shape", err)
	}
	if len(dims) != rank {
		return metadataErr("chunk shape", fmt.Errorf("chunk rank %d does not match dataspace rank %d", len(dims), rank))
	}
	nominal, err := utils.CalculateChunkSize64(dims, elemSize)
	if err != nil {
		return metadataErr("nominal size", err)
	}

	line := fmt.Sprintf("%s : nominal chunk size %d [B]", name, nominal)
	if a.details && len(plist.Filters()) > 0 {
		line += " filters=" + plist.FilterNames()
	}
	if err := a.println(name, line); err != nil {
		return err
	}
	a.report.Chunked++

	var check *chunkChecker
	if a.verify {
		check = newChunkChecker(plist.Filters(), elemSize, nominal)
	}

	chunks := 0
	err = ds.ChunkIter(func(c hdf5.ChunkInfo) error {
		if err := a.ctx.Err(); err != nil {
			return newError(ErrVisit, name, "chunk iteration", err)
		}
		chunks++
		a.report.Chunks++
		a.report.AllocatedBytes += c.Size
		return a.chunk(ds, name, c, check)
	})
	if err != nil {
		var e *Error
		if errors.As(err, &e) {
			return err
		}
		return newError(ErrEnumeration, name, "chunk iteration", err)
	}
	a.log.Debug("dataset done", "path", name, "nominal", nominal, "chunks", chunks)
	return nil
}

// chunk prints one chunk line, verifying and hashing the chunk first when
// asked to.
func (a *Analyzer) chunk(ds *hdf5.Dataset, name string, c hdf5.ChunkInfo, check *chunkChecker) error {
	var raw []byte
	if check != nil || (a.details && a.digests) {
		var err error
		if raw, err = ds.ReadChunk(c); err != nil {
			return newError(ErrEnumeration, name, fmt.Sprintf("read chunk %s", formatOffset(c.Offset)), err)
		}
	}

	if check != nil {
		verified, err := check.verify(raw, c.FilterMask)
		if err != nil {
			return newError(ErrEnumeration, name, fmt.Sprintf("verify chunk %s", formatOffset(c.Offset)), err)
		}
		if verified {
			a.report.Verified++
		} else {
			a.report.Skipped++
		}
	}

	if !a.details {
		return a.println(name, fmt.Sprint(c.Size))
	}
	line := fmt.Sprintf("%d offset=%s mask=0x%x addr=0x%x", c.Size, formatOffset(c.Offset), c.FilterMask, c.Address)
	if a.digests {
		line += " digest=" + chunkDigest(raw).String()
	}
	return a.println(name, line)
}

func (a *Analyzer) println(name, line string) error {
	if _, err := io.WriteString(a.w, line+"\n"); err != nil {
		return newError(ErrVisit, name, "write", err)
	}
	return nil
}

// displayName joins the base path and the visit-relative path.
func (a *Analyzer) displayName(rel string) string {
	return a.basePath + strings.TrimPrefix(rel, "./")
}

func formatOffset(off []uint64) string {
	parts := make([]string, len(off))
	for i, v := range off {
		parts[i] = fmt.Sprint(v)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
