package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	mocktesting "github.com/scigolib/h5chunk/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the command with args and returns what it wrote.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// testFile writes a file with one dataset "d" of 4-byte elements, 10x10
// chunks and the given number of allocated chunks.
func testFile(t *testing.T, name string, chunks int) string {
	t.Helper()
	b := mocktesting.NewFileBuilder()
	spec := mocktesting.DatasetSpec{
		ElemSize:  4,
		Dims:      []uint64{20, 30},
		ChunkDims: []uint64{10, 10},
		Index:     mocktesting.IndexBTreeV1,
	}
	for i := 0; i < chunks; i++ {
		spec.Chunks = append(spec.Chunks, mocktesting.Chunk{Scaled: []uint64{0, uint64(i)}})
	}
	ds := b.Dataset(spec)
	b.SetRoot(b.CompactGroup(mocktesting.Hard("d", ds)))
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, b.WriteFile(path))
	return path
}

func notHDF5(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plain.txt")
	require.NoError(t, os.WriteFile(path, []byte("definitely not an HDF5 file"), 0o600))
	return path
}

func TestRoot_NoArgs(t *testing.T) {
	stdout, _, err := execute(t)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires at least 1 arg")
	assert.Empty(t, stdout)
}

func TestRoot_SingleFile(t *testing.T) {
	stdout, stderr, err := execute(t, testFile(t, "a.h5", 2))
	require.NoError(t, err)
	assert.Equal(t, "/d : nominal chunk size 400 [B]\n400\n400\n", stdout)
	assert.Empty(t, stderr)
}

func TestRoot_MultipleFilesKeepArgumentOrder(t *testing.T) {
	a := testFile(t, "a.h5", 1)
	b := testFile(t, "b.h5", 3)
	c := testFile(t, "c.h5", 0)

	stdout, _, err := execute(t, "-j", "3", a, b, c)
	require.NoError(t, err)
	assert.Equal(t, strings.Join([]string{
		a + ":/d : nominal chunk size 400 [B]", "400",
		b + ":/d : nominal chunk size 400 [B]", "400", "400", "400",
		c + ":/d : nominal chunk size 400 [B]",
	}, "\n")+"\n", stdout)
}

func TestRoot_FailureStopsOutput(t *testing.T) {
	good := testFile(t, "good.h5", 1)
	bad := notHDF5(t)
	later := testFile(t, "later.h5", 1)

	stdout, stderr, err := execute(t, good, bad, later)
	require.ErrorIs(t, err, errReported)
	assert.Equal(t, good+":/d : nominal chunk size 400 [B]\n400\n", stdout)
	assert.True(t, strings.HasPrefix(stderr, "Error: open failed: "+bad), stderr)
	assert.Equal(t, 1, strings.Count(stderr, "Error:"))
}

func TestRoot_KeepGoing(t *testing.T) {
	good := testFile(t, "good.h5", 1)
	bad := notHDF5(t)
	later := testFile(t, "later.h5", 2)

	stdout, stderr, err := execute(t, "-k", "--summary", good, bad, later)
	require.ErrorIs(t, err, errReported)
	assert.Contains(t, stdout, good+":/d : nominal chunk size 400 [B]\n400\n")
	assert.Contains(t, stdout, later+":/d : nominal chunk size 400 [B]\n400\n400\n")
	assert.Contains(t, stderr, "Error: open failed: "+bad)
	assert.Contains(t, stderr, "chunks: 3\n")
}

func TestRoot_Summary(t *testing.T) {
	_, stderr, err := execute(t, "--summary", testFile(t, "a.h5", 3))
	require.NoError(t, err)
	assert.Contains(t, stderr, "objects: 2\n")
	assert.Contains(t, stderr, "datasets: 1 (chunked: 1)\n")
	assert.Contains(t, stderr, "allocated bytes: 1200\n")

	_, stderr, err = execute(t, "-q", "--summary", testFile(t, "a.h5", 3))
	require.NoError(t, err)
	assert.Empty(t, stderr)
}

func TestRoot_DigestImpliesDetails(t *testing.T) {
	stdout, _, err := execute(t, "--digest", testFile(t, "a.h5", 1))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 2)
	assert.Regexp(t, `^400 offset=\[0,0\] mask=0x0 addr=0x[0-9a-f]+ digest=sha256:[0-9a-f]{64}$`, lines[1])
}

func TestRoot_Verbose(t *testing.T) {
	_, stderr, err := execute(t, "-v", testFile(t, "a.h5", 1))
	require.NoError(t, err)
	assert.Contains(t, stderr, "level=DEBUG")
	assert.Contains(t, stderr, "analysing")
}

func TestRoot_InvalidJobs(t *testing.T) {
	_, _, err := execute(t, "-j", "0", testFile(t, "a.h5", 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--jobs")
}

func TestDump(t *testing.T) {
	path := testFile(t, "a.h5", 1)

	stdout, _, err := execute(t, "dump", path)
	require.NoError(t, err)
	assert.Contains(t, stdout, "superblock v2")
	assert.Contains(t, stdout, "/: group, object header v2")
	assert.Contains(t, stdout, "link info")

	stdout, _, err = execute(t, "dump", "--path", "/d", path)
	require.NoError(t, err)
	assert.Contains(t, stdout, "/d: dataset")
	assert.Contains(t, stdout, "layout")

	stdout, _, err = execute(t, "dump", "--offset", "0", "--length", "8", path)
	require.NoError(t, err)
	assert.Contains(t, stdout, "00000000: 89 48 44 46 0d 0a 1a 0a")
	assert.Contains(t, stdout, "|.HDF....|")

	_, _, err = execute(t, "dump", "--offset=-1", path)
	require.Error(t, err)
}
