// Package hostio defines the narrow collaborator interfaces this core
// consumes but does not implement itself (spec §6): physical memory
// allocation and translation, MMIO doorbell stores, and namespace
// geometry lookup. Controller bring-up, PCI enumeration, and the real
// IOMMU/allocator live outside this module; hostio also ships a loopback
// implementation used by tests and the demo command in place of real
// hardware.
package hostio

// AddressSpace is the physical-memory collaborator: virtual-to-physical
// translation plus page-aligned, physically-contiguous allocation. A real
// implementation talks to an IOMMU or a pinned-hugepage allocator.
type AddressSpace interface {
	// VirtToPhys returns the physical address backing the byte at virt.
	VirtToPhys(virt uintptr) (uint64, error)

	// AllocPhysContiguousAligned returns bytes of physically contiguous
	// memory aligned to alignment, exposed as a Go byte slice for safe
	// CPU access. The slice's address is stable for the allocation's
	// lifetime.
	AllocPhysContiguousAligned(bytes, alignment int) ([]byte, error)

	// FreePhys returns memory obtained from AllocPhysContiguousAligned.
	FreePhys(buf []byte)
}

// MMIO models a single 32-bit memory-mapped register store, ordered by
// the platform's device-memory semantics.
type MMIO interface {
	Store32(addr uintptr, value uint32)
}

// NamespaceGeometry captures the per-namespace block geometry consulted
// by the façade to validate and translate byte offsets into logical
// blocks.
type NamespaceGeometry struct {
	BlockSize  uint32
	BlockShift uint8
	BlockCount uint64
}

// NamespaceTable resolves a namespace id to its geometry.
type NamespaceTable interface {
	Namespace(nsid uint32) (NamespaceGeometry, bool)
}

// DiscardCapable is an optional capability a NamespaceTable may implement
// per-namespace to support the DISCARD command kind. Namespaces that
// don't implement it simply never receive DISCARD commands from the
// façade, the same optional-interface pattern the teacher ublk driver
// uses for its DiscardBackend/WriteZeroesBackend/SyncBackend split.
type DiscardCapable interface {
	SupportsDiscard(nsid uint32) bool
}
