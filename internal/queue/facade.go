package queue

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/behrlich/go-nvme-queue/internal/cidtable"
	"github.com/behrlich/go-nvme-queue/internal/constants"
	"github.com/behrlich/go-nvme-queue/internal/hostio"
	"github.com/behrlich/go-nvme-queue/internal/prp"
	"github.com/behrlich/go-nvme-queue/internal/ring"
	"github.com/behrlich/go-nvme-queue/internal/uapi"
)

// CmdKind enumerates the command kinds the façade accepts (spec §4.4;
// DISCARD is a supplemented fourth kind beyond spec.md's READ/WRITE/FLUSH).
type CmdKind int

const (
	CmdRead CmdKind = iota
	CmdWrite
	CmdFlush
	CmdDiscard
)

func (k CmdKind) String() string {
	switch k {
	case CmdRead:
		return "read"
	case CmdWrite:
		return "write"
	case CmdFlush:
		return "flush"
	case CmdDiscard:
		return "discard"
	default:
		return "unknown"
	}
}

// Callback is invoked exactly once per accepted submission, from within a
// ProcessCompletions call.
type Callback = cidtable.Callback

// Logger is the logging capability the façade consumes, matching the
// shape internal/logging.Logger already implements so callers can pass
// one straight through without an adapter. IOStart/IOComplete/IOError
// are called once per submission and once per completion; Printf/Debugf
// cover everything else (queue lifecycle, unexpected completions).
type Logger interface {
	Printf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
	IOStart(op string, cid uint16, offset, length int64)
	IOComplete(op string, cid uint16, offset, length, latencyUs int64)
	IOError(op string, cid uint16, offset, length int64, err error)
}

// Observer receives submission and completion events for metrics
// recording. Retargeted at NVMe command kinds; see the root package's
// MetricsObserver for the concrete implementation.
type Observer interface {
	ObserveSubmit(kind CmdKind)
	ObserveCompletion(kind CmdKind, bytes int, latency time.Duration, err error)
}

// NoOpObserver discards every event.
type NoOpObserver struct{}

func (NoOpObserver) ObserveSubmit(CmdKind)                                {}
func (NoOpObserver) ObserveCompletion(CmdKind, int, time.Duration, error) {}

// CompletionError reports a non-zero NVMe completion status (spec §7,
// Open Question 1: surfaced to the callback rather than treated as fatal).
type CompletionError struct {
	SC  uint16
	SCT uint16
}

func (e *CompletionError) Error() string {
	return fmt.Sprintf("nvme: device status sct=%#x sc=%#x", e.SCT, e.SC)
}

// State is the per-queue-pair state machine from spec §4.4.
type State int

const (
	StateEmpty State = iota
	StateBusy
	StateFull
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateBusy:
		return "busy"
	case StateFull:
		return "full"
	default:
		return "unknown"
	}
}

// Config wires an IoQueuePair's collaborators together (spec §6).
type Config struct {
	QSize      uint32
	SQDoorbell uintptr
	CQDoorbell uintptr
	MMIO       hostio.MMIO
	Mem        hostio.AddressSpace
	Namespaces hostio.NamespaceTable
	Logger     Logger
	Observer   Observer
}

// submission is the closure state captured for one in-flight command: the
// caller's callback plus bookkeeping the façade needs at completion time.
// This is the "closure value with stable identity" design note (spec §9)
// applied to Go: cbArg for the CID table is always a *submission, never
// the caller's cbArg directly.
type submission struct {
	kind        CmdKind
	cid         uint16
	offset      int64
	bytes       int
	submittedAt time.Time
	userCb      Callback
	userArg     any
	dsmBuf      []byte // non-nil only for CmdDiscard
}

// IoQueuePair is the public entry point gluing the ring, CID table, and
// PRP mapper (spec §4.4).
type IoQueuePair struct {
	ring       *ring.QueuePair
	cids       *cidtable.Table
	prpMapper  *prp.Mapper
	mem        hostio.AddressSpace
	namespaces hostio.NamespaceTable
	logger     Logger
	observer   Observer
}

// New constructs an IoQueuePair (spec §6 create_io_queue). The queue's
// pending slots are allocated up front and reused for the queue's
// lifetime.
func New(cfg Config) (*IoQueuePair, error) {
	if cfg.Observer == nil {
		cfg.Observer = NoOpObserver{}
	}

	r, err := ring.New(cfg.QSize, cfg.SQDoorbell, cfg.CQDoorbell, cfg.MMIO, cfg.Mem)
	if err != nil {
		return nil, fmt.Errorf("queue: create ring: %w", err)
	}

	q := &IoQueuePair{
		ring:       r,
		cids:       cidtable.New(cfg.QSize),
		prpMapper:  prp.New(cfg.Mem),
		mem:        cfg.Mem,
		namespaces: cfg.Namespaces,
		logger:     cfg.Logger,
		observer:   cfg.Observer,
	}

	if q.logger != nil {
		q.logger.Debugf("queue: created io queue pair qsize=%d", cfg.QSize)
	}

	return q, nil
}

// Close tears the queue pair down (spec §6 destroy_io_queue), returning
// the SQ/CQ buffers and any cached PRP pages to the allocator.
func (q *IoQueuePair) Close() {
	q.prpMapper.Close()
	q.ring.Close()
}

// Ring exposes the queue pair's underlying ring, for use by an in-process
// device simulator (internal/loopdev) driving the far side of the ring
// pair in place of real hardware. Not meant for a driver that has a real
// device on the other end.
func (q *IoQueuePair) Ring() *ring.QueuePair { return q.ring }

// State reports the queue pair's current state (spec §4.4 state machine).
func (q *IoQueuePair) State() State {
	if q.ring.IsFull() {
		return StateFull
	}
	if q.ring.Tail() == q.ring.CachedSQHead() {
		return StateEmpty
	}
	return StateBusy
}

// SubmitRead issues a READ command (spec §6 submit_read).
func (q *IoQueuePair) SubmitRead(nsid uint32, payload []byte, byteOffset uint64, cb Callback, cbArg any, flags uint32) int {
	return q.submit(CmdRead, nsid, payload, byteOffset, cb, cbArg)
}

// SubmitWrite issues a WRITE command (spec §6 submit_write).
func (q *IoQueuePair) SubmitWrite(nsid uint32, payload []byte, byteOffset uint64, cb Callback, cbArg any, flags uint32) int {
	return q.submit(CmdWrite, nsid, payload, byteOffset, cb, cbArg)
}

// SubmitFlush issues a FLUSH command (spec §6 submit_flush): prp1/prp2
// stay zero and no namespace geometry is consulted for length.
func (q *IoQueuePair) SubmitFlush(nsid uint32, cb Callback, cbArg any) int {
	if q.ring.IsFull() {
		return constants.StatusBusy
	}

	col := q.ring.NextCol()
	wrapped := &submission{kind: CmdFlush, submittedAt: time.Now(), userCb: cb, userArg: cbArg}
	cid, ok := q.cids.Allocate(col, q.completeSubmission, wrapped)
	if !ok {
		return constants.StatusBusy
	}
	wrapped.cid = cid

	q.ring.SubmitFlush(cid, nsid)
	q.observer.ObserveSubmit(CmdFlush)
	if q.logger != nil {
		q.logger.IOStart(CmdFlush.String(), cid, 0, 0)
	}
	return constants.StatusAccepted
}

// submit implements the shared READ/WRITE path (spec §4.4 submit).
func (q *IoQueuePair) submit(kind CmdKind, nsid uint32, payload []byte, byteOffset uint64, cb Callback, cbArg any) int {
	if q.ring.IsFull() {
		return constants.StatusBusy
	}

	geometry, ok := q.namespaces.Namespace(nsid)
	if !ok {
		return constants.StatusUnsupported
	}

	blockSize := uint64(geometry.BlockSize)
	length := uint64(len(payload))
	if length == 0 || byteOffset%blockSize != 0 || length%blockSize != 0 {
		return constants.StatusUnsupported
	}

	blocks := length >> geometry.BlockShift
	startBlock := byteOffset >> geometry.BlockShift
	if startBlock+blocks > geometry.BlockCount {
		return constants.StatusUnsupported
	}

	col := q.ring.NextCol()
	wrapped := &submission{kind: kind, offset: int64(byteOffset), bytes: int(length), submittedAt: time.Now(), userCb: cb, userArg: cbArg}
	cid, ok := q.cids.Allocate(col, q.completeSubmission, wrapped)
	if !ok {
		return constants.StatusBusy
	}
	wrapped.cid = cid

	mapping, err := q.prpMapper.Map(payload)
	if err != nil {
		q.cids.Release(cid)
		if _, tooLarge := err.(*prp.ErrTooLarge); tooLarge {
			return constants.StatusTooLarge
		}
		return constants.StatusTooLarge
	}
	if mapping.List != nil {
		q.cids.SetPRPList(cid, mapping.List)
	}

	opcode := uint8(uapi.OpRead)
	if kind == CmdWrite {
		opcode = uapi.OpWrite
	}

	entry := uapi.SubmissionEntry{
		Opcode: opcode,
		CID:    cid,
		NSID:   nsid,
		PRP1:   mapping.PRP1,
		PRP2:   mapping.PRP2,
		SLBA:   startBlock,
	}
	entry.SetNLB(uint16(blocks - 1))

	q.ring.SubmitCmd(&entry)
	q.observer.ObserveSubmit(kind)
	if q.logger != nil {
		q.logger.IOStart(kind.String(), cid, wrapped.offset, int64(length))
	}
	return constants.StatusAccepted
}

// dsmAttrDeallocate is the Dataset Management command attribute bit
// (CDW11.AD) requesting deallocate semantics; the range descriptor's own
// context attributes are left zero.
const dsmAttrDeallocate = 0x4

// SubmitDiscard issues a Dataset Management (deallocate) command over a
// single LBA range, the NVMe analogue of ublk's DISCARD op (supplemented
// feature, see SPEC_FULL.md §13). Refused with StatusUnsupported if the
// namespace does not implement hostio.DiscardCapable.
func (q *IoQueuePair) SubmitDiscard(nsid uint32, byteOffset, length uint64, cb Callback, cbArg any) int {
	if q.ring.IsFull() {
		return constants.StatusBusy
	}

	geometry, ok := q.namespaces.Namespace(nsid)
	if !ok {
		return constants.StatusUnsupported
	}
	if dc, ok := q.namespaces.(hostio.DiscardCapable); !ok || !dc.SupportsDiscard(nsid) {
		return constants.StatusUnsupported
	}

	blockSize := uint64(geometry.BlockSize)
	if length == 0 || byteOffset%blockSize != 0 || length%blockSize != 0 {
		return constants.StatusUnsupported
	}
	nlb := length >> geometry.BlockShift
	if nlb == 0 || nlb > 0xffffffff {
		return constants.StatusUnsupported
	}

	dsmBuf, err := q.mem.AllocPhysContiguousAligned(16, 16)
	if err != nil {
		return constants.StatusBusy
	}
	rng := uapi.DsmRange{CAttr: 0, NLB: uint32(nlb), SLBA: byteOffset >> geometry.BlockShift}
	binary.LittleEndian.PutUint32(dsmBuf[0:4], rng.CAttr)
	binary.LittleEndian.PutUint32(dsmBuf[4:8], rng.NLB)
	binary.LittleEndian.PutUint64(dsmBuf[8:16], rng.SLBA)

	col := q.ring.NextCol()
	wrapped := &submission{kind: CmdDiscard, offset: int64(byteOffset), bytes: int(length), submittedAt: time.Now(), userCb: cb, userArg: cbArg, dsmBuf: dsmBuf}
	cid, ok := q.cids.Allocate(col, q.completeSubmission, wrapped)
	if !ok {
		q.mem.FreePhys(dsmBuf)
		return constants.StatusBusy
	}
	wrapped.cid = cid

	mapping, err := q.prpMapper.Map(dsmBuf)
	if err != nil {
		q.cids.Release(cid)
		q.mem.FreePhys(dsmBuf)
		return constants.StatusTooLarge
	}
	if mapping.List != nil {
		q.cids.SetPRPList(cid, mapping.List)
	}

	entry := uapi.SubmissionEntry{
		Opcode: uapi.OpDsm,
		CID:    cid,
		NSID:   nsid,
		PRP1:   mapping.PRP1,
		PRP2:   mapping.PRP2,
		// One range (NR is zero-based, so 0 means one range), attribute
		// Deallocate. CDW10 in the low 32 bits, CDW11 in the high 32.
		SLBA: uint64(dsmAttrDeallocate) << 32,
	}

	q.ring.SubmitCmd(&entry)
	q.observer.ObserveSubmit(CmdDiscard)
	if q.logger != nil {
		q.logger.IOStart(CmdDiscard.String(), cid, wrapped.offset, int64(length))
	}
	return constants.StatusAccepted
}

// ProcessCompletions drains up to max ready CQEs (max <= 0 means up to
// qsize), dispatching each callback exactly once (spec §4.4
// process_completions).
func (q *IoQueuePair) ProcessCompletions(max int) int {
	limit := max
	if limit <= 0 {
		limit = int(q.ring.QSize())
	}

	count := 0
	for count < limit {
		cqe, ok := q.ring.PeekCQ()
		if !ok {
			break
		}

		q.ring.AdvanceCQHead()
		q.ring.RingCQDoorbell()
		q.ring.UpdateSQHead(uint32(cqe.SQHD))

		var completionErr error
		if sc, sct := cqe.StatusCode(), cqe.StatusCodeType(); sc != 0 || sct != 0 {
			completionErr = &CompletionError{SC: sc, SCT: sct}
		}

		if cbFn, cbArg, prpList, ok := q.cids.Release(cqe.CID); ok {
			if cbFn != nil {
				cbFn(cbArg, completionErr)
			}
			if prpList != nil {
				q.prpMapper.Recycle(prpList)
			}
		} else if q.logger != nil {
			q.logger.Printf("queue: completion for unknown cid %d", cqe.CID)
		}

		count++
	}

	return count
}

// completeSubmission is the closure every Allocate call registers; it
// records metrics, frees any DSM scratch buffer, then forwards to the
// caller's own callback.
func (q *IoQueuePair) completeSubmission(arg any, err error) {
	s := arg.(*submission)
	latency := time.Since(s.submittedAt)
	q.observer.ObserveCompletion(s.kind, s.bytes, latency, err)
	if q.logger != nil {
		if err != nil {
			q.logger.IOError(s.kind.String(), s.cid, s.offset, int64(s.bytes), err)
		} else {
			q.logger.IOComplete(s.kind.String(), s.cid, s.offset, int64(s.bytes), latency.Microseconds())
		}
	}
	if s.dsmBuf != nil {
		q.mem.FreePhys(s.dsmBuf)
	}
	if s.userCb != nil {
		s.userCb(s.userArg, err)
	}
}
