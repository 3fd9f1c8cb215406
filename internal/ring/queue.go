// Package ring implements the low-level NVMe submission/completion ring
// pair: SQ/CQ memory, head/tail/phase-tag state, and the doorbell writes
// that notify the device of new work or consumed completions.
package ring

import (
	"sync/atomic"

	"github.com/behrlich/go-nvme-queue/internal/hostio"
	"github.com/behrlich/go-nvme-queue/internal/uapi"
)

// QueuePair owns one submission queue and its paired completion queue.
// It exposes only the low-level ring primitives from spec §4.1; CID
// allocation, PRP mapping, and callback dispatch live above it in
// internal/queue.
type QueuePair struct {
	qsize uint32

	sq []byte // qsize * uapi.SQESize bytes, DMA memory
	cq []byte // qsize * uapi.CQESize bytes, DMA memory

	sqDoorbell uintptr
	cqDoorbell uintptr
	mmio       hostio.MMIO
	mem        hostio.AddressSpace

	tail       uint32 // producer-owned
	headCached uint32 // producer's cached view of the device-reported SQ head
	sqFull     uint32 // 0/1, atomic

	head  uint32 // consumer-owned, atomic per the "always atomic" decision
	phase uint32 // 0/1, atomic
}

// barrierDummy backs the fence trick below: it is never read for its
// value, only atomically added to with a delta of 0.
var barrierDummy int64

// sfence orders the SQ entry write in SubmitCmd before the doorbell
// store that follows it (spec §5 "SQ entry store precedes the SQ
// doorbell store"). atomic.AddInt64 with a zero delta compiles to a
// LOCK XADD on x86-64, which carries full fence semantics for
// negligible cost against an operation that is about to cross into
// device-visible MMIO space anyway.
func sfence() {
	atomic.AddInt64(&barrierDummy, 0)
}

// mfence orders the CQE payload read in PeekCQ after the phase-tag
// check that gates it, so a caller never observes a completion's SQHD
// or status word before the phase bit that promises they're valid.
func mfence() {
	atomic.AddInt64(&barrierDummy, 0)
}

// New allocates SQ and CQ DMA buffers via mem and constructs a QueuePair
// of qsize entries each, doorbells at the given MMIO addresses. The
// phase tag starts at 1 per spec §3.
func New(qsize uint32, sqDoorbell, cqDoorbell uintptr, mmio hostio.MMIO, mem hostio.AddressSpace) (*QueuePair, error) {
	sq, err := mem.AllocPhysContiguousAligned(int(qsize)*uapi.SQESize, 4096)
	if err != nil {
		return nil, err
	}
	cq, err := mem.AllocPhysContiguousAligned(int(qsize)*uapi.CQESize, 4096)
	if err != nil {
		mem.FreePhys(sq)
		return nil, err
	}

	return &QueuePair{
		qsize:      qsize,
		sq:         sq,
		cq:         cq,
		sqDoorbell: sqDoorbell,
		cqDoorbell: cqDoorbell,
		mmio:       mmio,
		mem:        mem,
		phase:      1,
	}, nil
}

// Close returns the SQ and CQ DMA buffers to the allocator. The caller
// must have already quiesced the queue (spec §3 "Lifecycles").
func (q *QueuePair) Close() {
	q.mem.FreePhys(q.sq)
	q.mem.FreePhys(q.cq)
}

// QSize returns the number of entries in the ring.
func (q *QueuePair) QSize() uint32 { return q.qsize }

// IsFull reports the SQ-full flag (spec §3 "SQ-full flag").
func (q *QueuePair) IsFull() bool {
	return atomic.LoadUint32(&q.sqFull) != 0
}

// SubmitCmd copies entry into sq[tail], advances tail, updates the
// SQ-full flag, and rings the SQ doorbell. Returns the SQ column used
// (spec §4.1 submit_cmd). The store to sq[tail] is fenced before the
// doorbell write.
func (q *QueuePair) SubmitCmd(entry *uapi.SubmissionEntry) uint32 {
	col := q.tail
	uapi.EncodeSQE(q.sq[col*uapi.SQESize:(col+1)*uapi.SQESize], entry)

	newTail := (col + 1) % q.qsize
	q.tail = newTail

	full := newTail == atomic.LoadUint32(&q.headCached)
	if full {
		atomic.StoreUint32(&q.sqFull, 1)
	}

	sfence()
	q.mmio.Store32(q.sqDoorbell, newTail)

	return col
}

// SubmitFlush builds a zeroed SQ entry with opcode FLUSH and submits it.
func (q *QueuePair) SubmitFlush(cid uint16, nsid uint32) uint32 {
	entry := uapi.SubmissionEntry{Opcode: uapi.OpFlush, CID: cid, NSID: nsid}
	return q.SubmitCmd(&entry)
}

// PeekCQ reads the phase bit of cq[head]; if it matches the current
// phase tag it decodes and returns the full entry. Does not modify
// state (spec §4.1 peek_cq).
func (q *QueuePair) PeekCQ() (uapi.CompletionEntry, bool) {
	head := atomic.LoadUint32(&q.head)
	slot := q.cq[head*uapi.CQESize : (head+1)*uapi.CQESize]

	phase := uint16(atomic.LoadUint32(&q.phase))
	if uapi.PeekPhase(slot) != phase {
		return uapi.CompletionEntry{}, false
	}

	mfence()
	return uapi.DecodeCQE(slot), true
}

// AdvanceCQHead increments the consumer head, wrapping and flipping the
// phase tag at qsize. Does not write the doorbell.
func (q *QueuePair) AdvanceCQHead() {
	head := atomic.LoadUint32(&q.head) + 1
	if head == q.qsize {
		head = 0
		atomic.StoreUint32(&q.phase, atomic.LoadUint32(&q.phase)^1)
	}
	atomic.StoreUint32(&q.head, head)
}

// RingCQDoorbell writes the current CQ head to the CQ doorbell register.
// Called by the façade after the CQE payload has been consumed.
func (q *QueuePair) RingCQDoorbell() {
	q.mmio.Store32(q.cqDoorbell, atomic.LoadUint32(&q.head))
}

// CQHead returns the current consumer head index.
func (q *QueuePair) CQHead() uint32 {
	return atomic.LoadUint32(&q.head)
}

// UpdateSQHead folds a device-reported SQ head (from a CQE's sqhd field)
// into the producer's cached head, clearing the SQ-full flag if it
// changed (spec §4.4 process_completions step 5).
func (q *QueuePair) UpdateSQHead(reportedHead uint32) {
	if atomic.SwapUint32(&q.headCached, reportedHead) != reportedHead {
		atomic.StoreUint32(&q.sqFull, 0)
	}
}

// NextCol returns the SQ column the next SubmitCmd call will consume,
// i.e. the current tail. Valid only when called from the producer role
// (spec §4.2: "col = sq.tail, the SQ slot that submit_cmd will consume").
func (q *QueuePair) NextCol() uint32 {
	return q.tail
}

// Tail returns the current producer tail index.
func (q *QueuePair) Tail() uint32 {
	return q.tail
}

// CachedSQHead returns the producer's cached view of the device-reported
// SQ head, used by the façade's state-machine query.
func (q *QueuePair) CachedSQHead() uint32 {
	return atomic.LoadUint32(&q.headCached)
}

// SQSlot returns the raw bytes of SQ column col, for use by test doubles
// and the loopback device simulator that must decode submitted commands.
func (q *QueuePair) SQSlot(col uint32) []byte {
	return q.sq[col*uapi.SQESize : (col+1)*uapi.SQESize]
}

// CQSlot returns the raw bytes of CQ index idx, for use by test doubles
// and the loopback device simulator that must post synthetic completions.
func (q *QueuePair) CQSlot(idx uint32) []byte {
	return q.cq[idx*uapi.CQESize : (idx+1)*uapi.CQESize]
}
