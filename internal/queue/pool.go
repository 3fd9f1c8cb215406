package queue

import (
	"sync"

	"github.com/behrlich/go-nvme-queue/internal/constants"
)

// BufferPool provides pooled payload byte slices for submit_read/submit_write
// callers so a benchmark or driver loop issuing many commands doesn't pay a
// fresh allocation per command. Bucket sizes are derived from
// constants.PageSize rather than picked arbitrarily, topping out at
// constants.MaxTransferBytes: the largest payload submit_read/submit_write
// will ever hand to the PRP mapper for a single command (spec §4.3, one PRP
// list page's worth of 4 KiB entries).
//
// Uses *[]byte pattern to avoid sync.Pool interface allocation overhead.

const (
	bucketSmall  = 32 * constants.PageSize  // 128 KiB
	bucketMedium = 64 * constants.PageSize  // 256 KiB
	bucketLarge  = 128 * constants.PageSize // 512 KiB
	bucketMax    = constants.MaxTransferBytes
)

// globalPool is the shared buffer pool for all queue pairs in the process.
var globalPool = struct {
	small  sync.Pool
	medium sync.Pool
	large  sync.Pool
	max    sync.Pool
}{
	small:  sync.Pool{New: func() any { b := make([]byte, bucketSmall); return &b }},
	medium: sync.Pool{New: func() any { b := make([]byte, bucketMedium); return &b }},
	large:  sync.Pool{New: func() any { b := make([]byte, bucketLarge); return &b }},
	max:    sync.Pool{New: func() any { b := make([]byte, bucketMax); return &b }},
}

// GetBuffer returns a pooled buffer of at least the requested size, rounded
// up to the smallest bucket that fits. Caller must call PutBuffer when done.
// size must not exceed constants.MaxTransferBytes; submit_read/submit_write
// would reject a larger payload anyway (spec §6 StatusTooLarge).
func GetBuffer(size uint32) []byte {
	switch {
	case size <= bucketSmall:
		return (*globalPool.small.Get().(*[]byte))[:size]
	case size <= bucketMedium:
		return (*globalPool.medium.Get().(*[]byte))[:size]
	case size <= bucketLarge:
		return (*globalPool.large.Get().(*[]byte))[:size]
	default:
		return (*globalPool.max.Get().(*[]byte))[:size]
	}
}

// PutBuffer returns a buffer to the pool. The buffer's capacity determines
// which bucket it goes back to; a buffer with non-bucket capacity (e.g. one
// the caller sliced) is dropped rather than pooled.
func PutBuffer(buf []byte) {
	c := cap(buf)
	buf = buf[:c]
	switch c {
	case bucketSmall:
		globalPool.small.Put(&buf)
	case bucketMedium:
		globalPool.medium.Put(&buf)
	case bucketLarge:
		globalPool.large.Put(&buf)
	case bucketMax:
		globalPool.max.Put(&buf)
	}
}
