package uapi

import "encoding/binary"

// SQESize and CQESize are the on-the-wire sizes of the two entry types.
const (
	SQESize = 64
	CQESize = 16
)

// EncodeSQE writes e into a 64-byte slot in submission-queue memory using
// the native little-endian wire layout. buf must be at least SQESize
// bytes; the caller (internal/ring) supplies a slice into the queue's
// backing array so no allocation happens on the submit hot path.
func EncodeSQE(buf []byte, e *SubmissionEntry) {
	_ = buf[:SQESize] // bounds check hint, mirrors the teacher's marshal helpers

	buf[0] = e.Opcode
	buf[1] = e.Flags
	binary.LittleEndian.PutUint16(buf[2:4], e.CID)
	binary.LittleEndian.PutUint32(buf[4:8], e.NSID)
	binary.LittleEndian.PutUint32(buf[8:12], e.CDW2)
	binary.LittleEndian.PutUint32(buf[12:16], e.CDW3)
	binary.LittleEndian.PutUint64(buf[16:24], e.MPTR)
	binary.LittleEndian.PutUint64(buf[24:32], e.PRP1)
	binary.LittleEndian.PutUint64(buf[32:40], e.PRP2)
	binary.LittleEndian.PutUint64(buf[40:48], e.SLBA)
	binary.LittleEndian.PutUint32(buf[48:52], e.CDW12)
	binary.LittleEndian.PutUint32(buf[52:56], e.CDW13)
	binary.LittleEndian.PutUint32(buf[56:60], e.CDW14)
	binary.LittleEndian.PutUint32(buf[60:64], e.CDW15)
}

// DecodeCQE reads a 16-byte completion slot from completion-queue memory.
func DecodeCQE(buf []byte) CompletionEntry {
	_ = buf[:CQESize]

	return CompletionEntry{
		Result:   binary.LittleEndian.Uint32(buf[0:4]),
		Reserved: binary.LittleEndian.Uint32(buf[4:8]),
		SQHD:     binary.LittleEndian.Uint16(buf[8:10]),
		SQID:     binary.LittleEndian.Uint16(buf[10:12]),
		CID:      binary.LittleEndian.Uint16(buf[12:14]),
		Status:   binary.LittleEndian.Uint16(buf[14:16]),
	}
}

// DecodeSQE reads a 64-byte submission slot from submission-queue memory.
// Used by test doubles and the loopback device simulator, which sits on
// the opposite side of the ring from this core and must decode what the
// driver submitted.
func DecodeSQE(buf []byte) SubmissionEntry {
	_ = buf[:SQESize]

	return SubmissionEntry{
		Opcode: buf[0],
		Flags:  buf[1],
		CID:    binary.LittleEndian.Uint16(buf[2:4]),
		NSID:   binary.LittleEndian.Uint32(buf[4:8]),
		CDW2:   binary.LittleEndian.Uint32(buf[8:12]),
		CDW3:   binary.LittleEndian.Uint32(buf[12:16]),
		MPTR:   binary.LittleEndian.Uint64(buf[16:24]),
		PRP1:   binary.LittleEndian.Uint64(buf[24:32]),
		PRP2:   binary.LittleEndian.Uint64(buf[32:40]),
		SLBA:   binary.LittleEndian.Uint64(buf[40:48]),
		CDW12:  binary.LittleEndian.Uint32(buf[48:52]),
		CDW13:  binary.LittleEndian.Uint32(buf[52:56]),
		CDW14:  binary.LittleEndian.Uint32(buf[56:60]),
		CDW15:  binary.LittleEndian.Uint32(buf[60:64]),
	}
}

// EncodeCQE writes a completion entry into a 16-byte slot. Used by test
// doubles and the loopback simulator to synthesize device completions.
func EncodeCQE(buf []byte, c *CompletionEntry) {
	_ = buf[:CQESize]

	binary.LittleEndian.PutUint32(buf[0:4], c.Result)
	binary.LittleEndian.PutUint32(buf[4:8], c.Reserved)
	binary.LittleEndian.PutUint16(buf[8:10], c.SQHD)
	binary.LittleEndian.PutUint16(buf[10:12], c.SQID)
	binary.LittleEndian.PutUint16(buf[12:14], c.CID)
	binary.LittleEndian.PutUint16(buf[14:16], c.Status)
}

// PeekPhase reads only the phase-tag bit of a completion slot without
// decoding the rest of the entry, mirroring how a real driver's polling
// loop avoids materializing a full CQE until it knows one is ready.
func PeekPhase(buf []byte) uint16 {
	status := binary.LittleEndian.Uint16(buf[14:16])
	return status & 0x1
}
