// Package nvme implements the core of a user-space NVMe I/O path: a
// submission/completion ring pair, command-identifier allocation, PRP
// mapping, and polled completion dispatch for a single I/O queue pair.
package nvme

import (
	"fmt"

	"github.com/behrlich/go-nvme-queue/internal/constants"
	"github.com/behrlich/go-nvme-queue/internal/hostio"
	"github.com/behrlich/go-nvme-queue/internal/queue"
	"github.com/behrlich/go-nvme-queue/internal/ring"
)

// Logger is the logging capability the queue pair consumes; satisfied by
// *internal/logging.Logger or any compatible adapter.
type Logger = queue.Logger

// Callback is invoked exactly once per accepted submission, from within
// a ProcessCompletions call. err is nil on success and an *Error with
// code ErrCodeDeviceStatus when the device reported a non-zero
// completion status.
type Callback = queue.Callback

// Config wires a QueuePair's external collaborators (spec §6). QID is the
// queue identifier the controller assigned when this I/O queue pair was
// created (an NVMe admin-queue concept out of this core's scope); it is
// carried only so errors and log lines can name which queue they came from.
type Config struct {
	QID        uint16
	QSize      uint32
	SQDoorbell uintptr
	CQDoorbell uintptr
	MMIO       hostio.MMIO
	Mem        hostio.AddressSpace
	Namespaces hostio.NamespaceTable
	Logger     Logger
}

// DefaultParams returns a Config with the default queue depth, plugging
// in the given collaborators.
func DefaultParams(sqDoorbell, cqDoorbell uintptr, mmio hostio.MMIO, mem hostio.AddressSpace, namespaces hostio.NamespaceTable) Config {
	return Config{
		QSize:      constants.DefaultQueueDepth,
		SQDoorbell: sqDoorbell,
		CQDoorbell: cqDoorbell,
		MMIO:       mmio,
		Mem:        mem,
		Namespaces: namespaces,
	}
}

// QueuePair is the public handle returned by CreateIOQueue (spec §6
// QueueHandle).
type QueuePair struct {
	inner   *queue.IoQueuePair
	qid     uint16
	qsize   uint32
	metrics *Metrics
}

// CreateIOQueue allocates SQ/CQ DMA memory and constructs a queue pair
// ready to accept submissions (spec §6 create_io_queue).
func CreateIOQueue(cfg Config) (*QueuePair, error) {
	if cfg.QSize == 0 {
		cfg.QSize = constants.DefaultQueueDepth
	}

	metrics := NewMetrics()
	inner, err := queue.New(queue.Config{
		QSize:      cfg.QSize,
		SQDoorbell: cfg.SQDoorbell,
		CQDoorbell: cfg.CQDoorbell,
		MMIO:       cfg.MMIO,
		Mem:        cfg.Mem,
		Namespaces: cfg.Namespaces,
		Logger:     cfg.Logger,
		Observer:   NewMetricsObserver(metrics),
	})
	if err != nil {
		return nil, fmt.Errorf("nvme: create_io_queue: %w", err)
	}

	return &QueuePair{inner: inner, qid: cfg.QID, qsize: cfg.QSize, metrics: metrics}, nil
}

// DestroyIOQueue tears the queue pair down, returning all DMA memory to
// the allocator (spec §6 destroy_io_queue).
func DestroyIOQueue(qp *QueuePair) {
	if qp == nil {
		return
	}
	qp.metrics.Stop()
	qp.inner.Close()
}

// QSize returns the number of entries in the ring.
func (q *QueuePair) QSize() uint32 { return q.qsize }

// QID returns the queue identifier this pair was created with.
func (q *QueuePair) QID() uint16 { return q.qid }

// StatusError converts a submit_read/submit_write/submit_flush/
// submit_discard return status into a queue-scoped *Error, or nil for
// StatusAccepted. Callers that want a structured error instead of a bare
// int (spec §6 "Return codes") call this on the value those methods
// return.
func (q *QueuePair) StatusError(op string, status int) *Error {
	return statusToError(op, int(q.qid), status)
}

// State reports the queue pair's Empty/Busy/Full state (spec §4.4).
func (q *QueuePair) State() queue.State { return q.inner.State() }

// DeviceRing exposes the queue pair's underlying ring for an in-process
// device simulator (internal/loopdev) to drive, such as the demo
// command's loopback controller. A caller wired to real hardware never
// needs this; the ring's other end is the device itself.
func (q *QueuePair) DeviceRing() *ring.QueuePair { return q.inner.Ring() }

// Metrics returns the queue pair's live metrics.
func (q *QueuePair) Metrics() *Metrics { return q.metrics }

// MetricsSnapshot returns a point-in-time snapshot of the queue pair's
// metrics.
func (q *QueuePair) MetricsSnapshot() MetricsSnapshot { return q.metrics.Snapshot() }

// SubmitRead issues a READ command (spec §6 submit_read). Returns
// StatusAccepted, StatusBusy, StatusUnsupported, or StatusTooLarge.
func (q *QueuePair) SubmitRead(nsid uint32, payload []byte, byteOffset uint64, cb Callback, cbArg any, flags uint32) int {
	return q.inner.SubmitRead(nsid, payload, byteOffset, q.wrap(cb), cbArg, flags)
}

// SubmitWrite issues a WRITE command (spec §6 submit_write).
func (q *QueuePair) SubmitWrite(nsid uint32, payload []byte, byteOffset uint64, cb Callback, cbArg any, flags uint32) int {
	return q.inner.SubmitWrite(nsid, payload, byteOffset, q.wrap(cb), cbArg, flags)
}

// SubmitFlush issues a FLUSH command (spec §6 submit_flush).
func (q *QueuePair) SubmitFlush(nsid uint32, cb Callback, cbArg any) int {
	return q.inner.SubmitFlush(nsid, q.wrap(cb), cbArg)
}

// SubmitDiscard issues a Dataset Management deallocate over one LBA
// range (supplemented feature, SPEC_FULL.md §13).
func (q *QueuePair) SubmitDiscard(nsid uint32, byteOffset, length uint64, cb Callback, cbArg any) int {
	return q.inner.SubmitDiscard(nsid, byteOffset, length, q.wrap(cb), cbArg)
}

// ProcessCompletions drains up to max ready completions, dispatching
// each accepted submission's callback exactly once (spec §6
// process_completions). max <= 0 means up to QSize().
func (q *QueuePair) ProcessCompletions(max int) int {
	return q.inner.ProcessCompletions(max)
}

// wrap adapts a caller callback to translate a raw queue.CompletionError
// into an *Error, preserving a true nil error on success (a nil *Error
// boxed into the error interface would compare non-nil, so this must be
// done explicitly rather than via a bare type conversion).
func (q *QueuePair) wrap(cb Callback) Callback {
	if cb == nil {
		return nil
	}
	return func(cbArg any, err error) {
		if err == nil {
			cb(cbArg, nil)
			return
		}
		cb(cbArg, WrapCompletionStatus("process_completions", int(q.qid), err))
	}
}
