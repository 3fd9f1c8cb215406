// Package prp implements the Physical Region Page mapper (spec §4.3):
// translating a contiguous virtual buffer into prp1/prp2/an optional PRP
// list page, and recycling freed list pages through a small bounded
// cache to keep the submission hot path allocation-free.
package prp

import (
	"encoding/binary"
	"unsafe"

	"github.com/behrlich/go-nvme-queue/internal/constants"
	"github.com/behrlich/go-nvme-queue/internal/hostio"
)

// ErrTooLarge is returned when a transfer spans more than
// constants.PRPListEntries pages (roughly 2 MiB with 4 KiB pages).
type ErrTooLarge struct {
	Pages int
}

func (e *ErrTooLarge) Error() string {
	return "prp: transfer spans too many pages for a single PRP list"
}

// Mapping is the result of mapping one payload buffer.
type Mapping struct {
	PRP1 uint64
	PRP2 uint64
	// List is the PRP list page backing PRP2 when the transfer spans more
	// than two pages, or nil otherwise. The façade stores this in the
	// pending slot so Mapper.Recycle can reclaim it on completion.
	List []byte
}

// Mapper builds PRP mappings against an AddressSpace and recycles freed
// list pages through a bounded single-producer/single-consumer cache
// (spec §3 "PRP cache").
type Mapper struct {
	mem   hostio.AddressSpace
	cache chan []byte
}

// New builds a Mapper backed by mem, with the standard cache capacity.
func New(mem hostio.AddressSpace) *Mapper {
	return &Mapper{
		mem:   mem,
		cache: make(chan []byte, constants.PRPCacheCapacity),
	}
}

// Map computes the PRP fields for payload, a contiguous virtual buffer
// of datasize bytes (spec §4.3 steps 1-5).
func (m *Mapper) Map(payload []byte) (Mapping, error) {
	datasize := len(payload)
	virt := uintptr(unsafe.Pointer(&payload[0]))

	addr, err := m.mem.VirtToPhys(virt)
	if err != nil {
		return Mapping{}, err
	}

	firstPage := alignDown(addr, constants.PageSize)
	lastPage := alignUp(addr+uint64(datasize), constants.PageSize)
	n := int((lastPage - firstPage) / constants.PageSize)

	mapping := Mapping{PRP1: addr}

	switch {
	case n == 1:
		return mapping, nil

	case n == 2:
		secondPhys, err := m.mem.VirtToPhys(virt + constants.PageSize)
		if err != nil {
			return Mapping{}, err
		}
		mapping.PRP2 = alignDown(secondPhys, constants.PageSize)
		return mapping, nil

	default:
		if n > constants.PRPListEntries {
			return Mapping{}, &ErrTooLarge{Pages: n}
		}

		page, err := m.acquirePage()
		if err != nil {
			return Mapping{}, err
		}

		listPhys, err := m.mem.VirtToPhys(uintptr(unsafe.Pointer(&page[0])))
		if err != nil {
			m.Recycle(page)
			return Mapping{}, err
		}

		for i := 0; i < n-1; i++ {
			entry := firstPage + uint64(i+1)*constants.PageSize
			binary.LittleEndian.PutUint64(page[i*8:i*8+8], entry)
		}

		mapping.PRP2 = listPhys
		mapping.List = page
		return mapping, nil
	}
}

// Recycle returns a PRP list page obtained from Map to the bounded
// cache, falling back to the physical allocator on overflow (spec §4.3
// "Recycling"). No-op if page is nil.
func (m *Mapper) Recycle(page []byte) {
	if page == nil {
		return
	}
	select {
	case m.cache <- page:
	default:
		m.mem.FreePhys(page)
	}
}

// Close drains the cache back to the allocator, used on queue teardown
// so no-leak accounting (spec §8 property 7) sees every page returned.
func (m *Mapper) Close() {
	for {
		select {
		case page := <-m.cache:
			m.mem.FreePhys(page)
		default:
			return
		}
	}
}

func (m *Mapper) acquirePage() ([]byte, error) {
	select {
	case page := <-m.cache:
		return page, nil
	default:
		return m.mem.AllocPhysContiguousAligned(constants.PageSize, constants.PageSize)
	}
}

func alignDown(v uint64, align uint64) uint64 {
	return v &^ (align - 1)
}

func alignUp(v uint64, align uint64) uint64 {
	return alignDown(v+align-1, align)
}
