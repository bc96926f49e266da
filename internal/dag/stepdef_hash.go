package dag

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"sort"

	"trainpipe/internal/core"
)

// writeField writes a length-prefixed field so adjacent fields cannot alias.
func writeField(h hash.Hash, data []byte) {
	var lengthBytes [8]byte
	binary.BigEndian.PutUint64(lengthBytes[:], uint64(len(data)))
	h.Write(lengthBytes[:])
	h.Write(data)
}

func writeCount(h hash.Hash, n int) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(n))
	writeField(h, b[:])
}

// computeStepDefHash hashes the fields that determine what a step does:
// program, args (ordered), env (sorted by key) and working directory.
// Name and WatchDir are not part of the identity.
func computeStepDefHash(s core.Step) StepDefHash {
	h := sha256.New()

	writeField(h, []byte(s.Program))

	writeCount(h, len(s.Args))
	for _, a := range s.Args {
		writeField(h, []byte(a))
	}

	keys := make([]string, 0, len(s.Env))
	for k := range s.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	writeCount(h, len(keys))
	for _, k := range keys {
		writeField(h, []byte(k))
		writeField(h, []byte(s.Env[k]))
	}

	writeField(h, []byte(s.Dir))

	return StepDefHash(hex.EncodeToString(h.Sum(nil)))
}
