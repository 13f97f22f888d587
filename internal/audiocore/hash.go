package audiocore

import (
	"fmt"
	"sync/atomic"
)

// Hash identifies an Audio value and the slot binding created from it.
type Hash uint64

// EmptyHash is carried by unbound slots.
const EmptyHash Hash = 0

var hashSeq atomic.Uint64

// NewHash returns a process-unique, non-empty hash.
func NewHash() Hash {
	return Hash(hashSeq.Add(1))
}

// IsEmpty reports whether h is EmptyHash.
func (h Hash) IsEmpty() bool {
	return h == EmptyHash
}

func (h Hash) String() string {
	return fmt.Sprintf("%016x", uint64(h))
}
