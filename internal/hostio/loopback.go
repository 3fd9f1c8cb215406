package hostio

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Loopback is an in-process AddressSpace + MMIO implementation used by
// tests and the demo command in place of real PCI/IOMMU hardware. It
// satisfies spec §6's collaborator contract without talking to a device:
// pages come from anonymous mmap (grounded on the teacher's own use of
// raw mmap in internal/queue/runner.go), and "physical" addresses are
// modeled as the virtual address itself. That identity mapping is not
// DMA-safe on real hardware, but it is sufficient to drive the ring
// protocol this core implements, and it lets AllocPhysContiguousAligned's
// counterpart, FreePhys, be verified 1:1 for the no-leak testable
// property.
type Loopback struct {
	mu          sync.Mutex
	outstanding map[uintptr]int // virt addr -> byte length, for leak accounting
}

// NewLoopback creates an empty loopback address space.
func NewLoopback() *Loopback {
	return &Loopback{outstanding: make(map[uintptr]int)}
}

// VirtToPhys returns virt unchanged: the loopback's "physical" address
// space is identical to its virtual one.
func (l *Loopback) VirtToPhys(virt uintptr) (uint64, error) {
	if virt == 0 {
		return 0, errors.New("hostio: virt_to_phys of nil pointer")
	}
	return uint64(virt), nil
}

// AllocPhysContiguousAligned allocates bytes of anonymous memory aligned
// to alignment via mmap. Go's runtime already page-aligns large mmap
// regions; alignment beyond the page size is rejected since the loopback
// has no sub-page control over mmap placement.
func (l *Loopback) AllocPhysContiguousAligned(bytes, alignment int) ([]byte, error) {
	if bytes <= 0 {
		return nil, errors.New("hostio: allocation size must be positive")
	}
	pageSize := unix.Getpagesize()
	if alignment > pageSize {
		return nil, errors.Errorf("hostio: alignment %d exceeds page size %d", alignment, pageSize)
	}

	size := bytes
	if rem := size % pageSize; rem != 0 {
		size += pageSize - rem
	}

	buf, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, errors.Wrap(err, "hostio: mmap failed")
	}

	l.mu.Lock()
	l.outstanding[uintptr(unsafe.Pointer(&buf[0]))] = size
	l.mu.Unlock()

	return buf[:bytes], nil
}

// FreePhys unmaps memory obtained from AllocPhysContiguousAligned.
func (l *Loopback) FreePhys(buf []byte) {
	if len(buf) == 0 {
		return
	}
	addr := uintptr(unsafe.Pointer(&buf[0]))

	l.mu.Lock()
	size, ok := l.outstanding[addr]
	if ok {
		delete(l.outstanding, addr)
	}
	l.mu.Unlock()

	if !ok {
		return
	}

	full := unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
	_ = unix.Munmap(full)
}

// Outstanding returns the number of allocations not yet freed, used by
// the no-leak-on-destroy test.
func (l *Loopback) Outstanding() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.outstanding)
}

// Store32 implements MMIO as a no-op: the loopback has no real register,
// so writes are observable only through RecordingMMIO below when
// doorbell-ordering needs to be asserted.
func (l *Loopback) Store32(addr uintptr, value uint32) {}

// RecordingMMIO wraps an MMIO and records every store in arrival order,
// tagged with a monotonically increasing sequence number. Used by the
// doorbell-ordering test (spec §8 property 6) to verify that every SQ
// entry write precedes its doorbell write.
type RecordingMMIO struct {
	mu      sync.Mutex
	next    MMIO
	entries []MMIOStore
	seq     uint64
}

// MMIOStore is one recorded register write.
type MMIOStore struct {
	Seq   uint64
	Addr  uintptr
	Value uint32
}

// NewRecordingMMIO wraps next (which may be a no-op Loopback) so writes
// are both applied and recorded.
func NewRecordingMMIO(next MMIO) *RecordingMMIO {
	return &RecordingMMIO{next: next}
}

func (r *RecordingMMIO) Store32(addr uintptr, value uint32) {
	r.mu.Lock()
	r.seq++
	seq := r.seq
	r.entries = append(r.entries, MMIOStore{Seq: seq, Addr: addr, Value: value})
	r.mu.Unlock()

	if r.next != nil {
		r.next.Store32(addr, value)
	}
}

// Stores returns a copy of the recorded stores in arrival order.
func (r *RecordingMMIO) Stores() []MMIOStore {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]MMIOStore, len(r.entries))
	copy(out, r.entries)
	return out
}

// MemoryNamespace is a byte-slice-backed namespace, the NVMe analogue of
// the teacher's backend.Memory RAM disk (backend/mem.go).
type MemoryNamespace struct {
	mu         sync.RWMutex
	data       []byte
	blockSize  uint32
	blockShift uint8
	discard    bool
}

// NewMemoryNamespace creates a RAM-backed namespace of the given size in
// bytes with the given logical block size (must be a power of two).
func NewMemoryNamespace(sizeBytes int64, blockSize uint32) *MemoryNamespace {
	shift := uint8(0)
	for bs := blockSize; bs > 1; bs >>= 1 {
		shift++
	}
	return &MemoryNamespace{
		data:       make([]byte, sizeBytes),
		blockSize:  blockSize,
		blockShift: shift,
		discard:    true,
	}
}

// Geometry returns the namespace's block geometry.
func (m *MemoryNamespace) Geometry() NamespaceGeometry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return NamespaceGeometry{
		BlockSize:  m.blockSize,
		BlockShift: m.blockShift,
		BlockCount: uint64(len(m.data)) / uint64(m.blockSize),
	}
}

// ReadAt copies len(p) bytes from the namespace at byte offset off.
func (m *MemoryNamespace) ReadAt(p []byte, off int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if off < 0 || off+int64(len(p)) > int64(len(m.data)) {
		return 0, fmt.Errorf("hostio: read [%d,%d) out of range (size %d)", off, off+int64(len(p)), len(m.data))
	}
	return copy(p, m.data[off:off+int64(len(p))]), nil
}

// WriteAt copies len(p) bytes into the namespace at byte offset off.
func (m *MemoryNamespace) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if off < 0 || off+int64(len(p)) > int64(len(m.data)) {
		return 0, fmt.Errorf("hostio: write [%d,%d) out of range (size %d)", off, off+int64(len(p)), len(m.data))
	}
	return copy(m.data[off:off+int64(len(p))], p), nil
}

// Discard zeroes the given byte range, standing in for a real deallocate.
func (m *MemoryNamespace) Discard(off, length int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if off < 0 || off+length > int64(len(m.data)) {
		return fmt.Errorf("hostio: discard [%d,%d) out of range (size %d)", off, off+length, len(m.data))
	}
	clear(m.data[off : off+length])
	return nil
}

// SupportsDiscard implements DiscardCapable.
func (m *MemoryNamespace) SupportsDiscard(uint32) bool { return m.discard }

// StaticNamespaceTable is a NamespaceTable backed by a fixed map from
// nsid to namespace, the loopback stand-in for a controller's identify
// namespace list.
type StaticNamespaceTable struct {
	namespaces map[uint32]*MemoryNamespace
}

// NewStaticNamespaceTable builds a table from the given nsid assignment.
func NewStaticNamespaceTable(namespaces map[uint32]*MemoryNamespace) *StaticNamespaceTable {
	return &StaticNamespaceTable{namespaces: namespaces}
}

// Namespace implements NamespaceTable.
func (t *StaticNamespaceTable) Namespace(nsid uint32) (NamespaceGeometry, bool) {
	ns, ok := t.namespaces[nsid]
	if !ok {
		return NamespaceGeometry{}, false
	}
	return ns.Geometry(), true
}

// SupportsDiscard implements DiscardCapable by delegating to the
// namespace, if present.
func (t *StaticNamespaceTable) SupportsDiscard(nsid uint32) bool {
	ns, ok := t.namespaces[nsid]
	return ok && ns.SupportsDiscard(nsid)
}

// Get returns the underlying namespace for I/O execution (used by the
// loopback controller and the demo command; not part of NamespaceTable
// since real controllers don't expose raw namespace objects to the
// queue-pair core).
func (t *StaticNamespaceTable) Get(nsid uint32) (*MemoryNamespace, bool) {
	ns, ok := t.namespaces[nsid]
	return ns, ok
}

var (
	_ NamespaceTable = (*StaticNamespaceTable)(nil)
	_ DiscardCapable = (*StaticNamespaceTable)(nil)
	_ AddressSpace   = (*Loopback)(nil)
	_ MMIO           = (*Loopback)(nil)
	_ MMIO           = (*RecordingMMIO)(nil)
)
