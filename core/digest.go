package core

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
)

// DigestSize is the length of a hex-encoded digest.
const DigestSize = sha256.Size * 2

func Digest(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Verify reports whether payload hashes to expected, a lowercase hex digest.
func Verify(payload []byte, expected string) bool {
	return Digest(payload) == expected
}

// runningDigest hashes an append-only byte sequence. Sum does not reset the
// underlying state, so the digest of every prefix costs only the newly
// appended bytes.
type runningDigest struct {
	h hash.Hash
}

func newRunningDigest() *runningDigest {
	return &runningDigest{h: sha256.New()}
}

func (d *runningDigest) Write(p []byte) {
	d.h.Write(p)
}

func (d *runningDigest) Matches(expected string) bool {
	return hex.EncodeToString(d.h.Sum(nil)) == expected
}
