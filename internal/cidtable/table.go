// Package cidtable implements the command-identifier slot table (spec
// §3 "Pending slot", §4.2): a MAX_ROWS x qsize grid of per-command slots
// guarded by atomic occupancy flags, allowing CID reuse across
// completions without blocking submission.
package cidtable

import (
	"fmt"
	"sync/atomic"

	"github.com/behrlich/go-nvme-queue/internal/constants"
)

// Callback is invoked exactly once per accepted submission, from within
// a process_completions call. err is nil on success and non-nil when the
// device reported a non-zero completion status (spec §7, Open Question 1).
type Callback func(cbArg any, err error)

// Slot holds the state associated with one in-flight command.
type Slot struct {
	cbFn    Callback
	cbArg   any
	prpList []byte // non-nil if this command attached a PRP list page
}

// Table is the MAX_ROWS x qsize grid of pending slots for one queue
// pair. All occupancy flags start false.
type Table struct {
	qsize    uint32
	occupied []uint32 // atomic 0/1, length MaxRows*qsize, indexed row*qsize+col
	slots    []Slot   // payload, guarded by the occupancy flag as sync point
}

// New builds an empty table sized for a queue of qsize entries.
func New(qsize uint32) *Table {
	n := int(qsize) * constants.MaxRows
	return &Table{
		qsize:    qsize,
		occupied: make([]uint32, n),
		slots:    make([]Slot, n),
	}
}

// Allocate finds the first free row for the given SQ column (the column
// submit_cmd is about to use) and marks it occupied. Returns the
// resulting CID and true on success; false if every row is occupied,
// which the caller must treat as busy (spec §4.2).
func (t *Table) Allocate(col uint32, cbFn Callback, cbArg any) (cid uint16, ok bool) {
	for row := uint32(0); row < constants.MaxRows; row++ {
		idx := row*t.qsize + col
		if atomic.CompareAndSwapUint32(&t.occupied[idx], 0, 1) {
			// Payload writes below happen-after the successful CAS and
			// happen-before the release CAS in Release, so a consumer
			// observing the slot occupied always sees these writes.
			t.slots[idx] = Slot{cbFn: cbFn, cbArg: cbArg}
			return uint16(row)*uint16(t.qsize) + uint16(col), true
		}
	}
	return 0, false
}

// SetPRPList attaches a PRP list page to the pending slot for cid, for
// recycling on completion. Must be called after a successful Allocate
// and before the CQE for that cid can arrive.
func (t *Table) SetPRPList(cid uint16, page []byte) {
	idx := t.index(cid)
	t.slots[idx].prpList = page
}

// Release looks up the slot for cid, clears its occupancy flag, and
// returns the slot's payload for the façade to invoke and recycle. ok is
// false if the slot was not occupied, which indicates a protocol
// violation (a CQE for a CID with no matching pending submission).
func (t *Table) Release(cid uint16) (cbFn Callback, cbArg any, prpList []byte, ok bool) {
	idx := t.index(cid)
	slot := t.slots[idx]

	if !atomic.CompareAndSwapUint32(&t.occupied[idx], 1, 0) {
		return nil, nil, nil, false
	}
	return slot.cbFn, slot.cbArg, slot.prpList, true
}

// Occupied reports whether the slot for (row, col) is currently in use,
// exposed for CID-uniqueness tests (spec §8 property 2).
func (t *Table) Occupied(row, col uint32) bool {
	return atomic.LoadUint32(&t.occupied[row*t.qsize+col]) != 0
}

// OutstandingCount returns the number of currently occupied slots.
func (t *Table) OutstandingCount() int {
	n := 0
	for i := range t.occupied {
		if atomic.LoadUint32(&t.occupied[i]) != 0 {
			n++
		}
	}
	return n
}

func (t *Table) index(cid uint16) uint32 {
	row := uint32(cid) / t.qsize
	col := uint32(cid) % t.qsize
	if row >= constants.MaxRows {
		panic(fmt.Sprintf("cidtable: cid %d decodes to row %d >= MaxRows %d", cid, row, constants.MaxRows))
	}
	return row*t.qsize + col
}
