// Package loopdev implements an in-process NVMe device simulator sitting
// on the far side of a ring.QueuePair, standing in for the PCI/MMIO/
// interrupt hardware this core's spec places out of scope (§1). It is a
// test and demo fixture only: a real driver has a real device on the
// other end of the ring and never imports this package.
package loopdev

import (
	"encoding/binary"
	"sync"
	"unsafe"

	"github.com/behrlich/go-nvme-queue/internal/hostio"
	"github.com/behrlich/go-nvme-queue/internal/ring"
	"github.com/behrlich/go-nvme-queue/internal/uapi"
)

// Device executes submitted commands synchronously against a namespace
// table and posts their completions, playing the device role a real NVMe
// controller plays for the ring pair internal/ring implements.
type Device struct {
	r          *ring.QueuePair
	namespaces *hostio.StaticNamespaceTable

	mu      sync.Mutex
	sqHead  uint32 // device's own view of consumed SQ entries
	cqTail  uint32
	cqPhase uint16
}

// New wraps r, executing commands against namespaces.
func New(r *ring.QueuePair, namespaces *hostio.StaticNamespaceTable) *Device {
	return &Device{r: r, namespaces: namespaces, cqPhase: 1}
}

// Poll drains every SQ entry submitted since the last call, executing
// each synchronously and posting its completion before moving to the
// next. A real device would do this asynchronously over PCIe; the
// loopback simulator does it in-line to keep the demo single-threaded.
// Returns the number of commands executed.
func (d *Device) Poll() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	tail := d.r.Tail()
	qsize := d.r.QSize()
	pending := (tail + qsize - d.sqHead) % qsize
	// A completely filled SQ leaves tail back at the device's head. The
	// producer's SQ-full flag, with no completion waiting in the CQ, tells
	// that case apart from an empty SQ.
	if pending == 0 && d.r.IsFull() {
		if _, ready := d.r.PeekCQ(); !ready {
			pending = qsize
		}
	}
	count := 0
	for ; pending > 0; pending-- {
		col := d.sqHead
		entry := uapi.DecodeSQE(d.r.SQSlot(col))
		d.sqHead = (d.sqHead + 1) % qsize

		cqe := d.execute(&entry)
		cqe.SQHD = uint16(d.sqHead)
		d.post(cqe)
		count++
	}
	return count
}

// execute interprets one decoded submission entry. The loopback's
// AddressSpace maps "physical" addresses identically to virtual ones and
// every payload the façade maps is one contiguous Go allocation, so PRP1
// alone (plus the length derived from NLB/geometry) recovers the whole
// buffer; PRP2 and any PRP list page only matter to a real scatter-gather
// DMA engine and are not walked here.
func (d *Device) execute(entry *uapi.SubmissionEntry) uapi.CompletionEntry {
	cqe := uapi.CompletionEntry{CID: entry.CID}

	if entry.Opcode == uapi.OpFlush {
		return cqe
	}

	geometry, ok := d.namespaces.Namespace(entry.NSID)
	if !ok {
		cqe.Status = uapi.SetStatus(0, uapi.SCInvalidField, 0)
		return cqe
	}
	ns, _ := d.namespaces.Get(entry.NSID)

	var err error
	switch entry.Opcode {
	case uapi.OpRead, uapi.OpWrite:
		blocks := uint64(entry.NLB()) + 1
		length := blocks * uint64(geometry.BlockSize)
		offset := int64(entry.SLBA) * int64(geometry.BlockSize)
		data := physToBytes(entry.PRP1, int(length))
		if entry.Opcode == uapi.OpRead {
			_, err = ns.ReadAt(data, offset)
		} else {
			_, err = ns.WriteAt(data, offset)
		}

	case uapi.OpDsm:
		raw := physToBytes(entry.PRP1, 16)
		nlb := binary.LittleEndian.Uint32(raw[4:8])
		slba := binary.LittleEndian.Uint64(raw[8:16])
		offset := int64(slba) * int64(geometry.BlockSize)
		length := int64(nlb) * int64(geometry.BlockSize)
		err = ns.Discard(offset, length)

	default:
		cqe.Status = uapi.SetStatus(0, uapi.SCInvalidField, 0)
		return cqe
	}

	if err != nil {
		cqe.Status = uapi.SetStatus(0, uapi.SCLBAOutOfRange, 0)
		return cqe
	}
	cqe.Status = uapi.SetStatus(0, uapi.SCSuccess, 0)
	return cqe
}

// post writes cqe into the device's next CQ slot, folding in the
// device's current phase tag, and advances the device's CQ tail.
func (d *Device) post(cqe uapi.CompletionEntry) {
	cqe.Status |= d.cqPhase
	uapi.EncodeCQE(d.r.CQSlot(d.cqTail), &cqe)

	d.cqTail++
	if d.cqTail == d.r.QSize() {
		d.cqTail = 0
		d.cqPhase ^= 1
	}
}

func physToBytes(phys uint64, length int) []byte {
	if length == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(phys))), length)
}
