package h5chunk

import (
	_ "crypto/sha256" // registers the canonical digest algorithm

	"github.com/opencontainers/go-digest"
)

// chunkDigest returns the sha256 digest of a chunk's stored bytes.
func chunkDigest(raw []byte) digest.Digest {
	return digest.FromBytes(raw)
}
