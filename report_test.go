package h5chunk

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReport_String(t *testing.T) {
	r := Report{Objects: 5, Groups: 2, Datasets: 3, Chunked: 2, Chunks: 7, AllocatedBytes: 1234}
	assert.Equal(t, "objects: 5\ngroups: 2\ndatasets: 3 (chunked: 2)\nchunks: 7\nallocated bytes: 1234\n", r.String())

	r.Verified, r.Skipped = 6, 1
	r.Errors = []error{errors.New("x")}
	assert.Contains(t, r.String(), "verified chunks: 6 (skipped: 1)\n")
	assert.Contains(t, r.String(), "errors: 1\n")
}

func TestReport_Add(t *testing.T) {
	var total Report
	total.Add(Report{Objects: 2, Datasets: 1, Chunked: 1, Chunks: 3, AllocatedBytes: 30})
	total.Add(Report{Objects: 4, Groups: 1, Chunks: 1, AllocatedBytes: 5, Errors: []error{errors.New("bad")}})

	assert.Equal(t, 6, total.Objects)
	assert.Equal(t, 1, total.Groups)
	assert.Equal(t, 4, total.Chunks)
	assert.Equal(t, uint64(35), total.AllocatedBytes)
	assert.Len(t, total.Errors, 1)
}
