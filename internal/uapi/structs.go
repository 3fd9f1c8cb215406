// Package uapi provides the wire-level NVMe submission/completion queue
// entry layouts consumed verbatim by this core (NVMe 1.x SQE/CQE, per
// spec §3 and §6).
package uapi

import "unsafe"

// SubmissionEntry is the 64-byte NVMe command descriptor. Only the fields
// this core populates are named individually; the remaining reserved
// dwords are zeroed by construction and never read.
//
//	struct nvme_command {
//	  __u8  opcode;
//	  __u8  flags;      // fused/PRP-or-SGL selector, unused here
//	  __u16 cid;
//	  __u32 nsid;
//	  __u32 cdw2, cdw3; // reserved
//	  __u64 mptr;       // metadata pointer, unused here
//	  __u64 prp1;
//	  __u64 prp2;
//	  __u64 slba;       // cdw10/cdw11 combined (NVM read/write)
//	  __u32 cdw12;      // nlb in bits 0-15
//	  __u32 cdw13, cdw14, cdw15; // reserved
//	};
type SubmissionEntry struct {
	Opcode uint8
	Flags  uint8
	CID    uint16
	NSID   uint32
	CDW2   uint32
	CDW3   uint32
	MPTR   uint64
	PRP1   uint64
	PRP2   uint64
	SLBA   uint64
	CDW12  uint32
	CDW13  uint32
	CDW14  uint32
	CDW15  uint32
}

// Compile-time size check: the SQE must be exactly 64 bytes to match the
// NVMe specification's fixed command size.
var _ [64]byte = [unsafe.Sizeof(SubmissionEntry{})]byte{}

// NLB returns the zero-based number-of-logical-blocks field packed into
// the low 16 bits of CDW12.
func (e *SubmissionEntry) NLB() uint16 {
	return uint16(e.CDW12 & 0xffff)
}

// SetNLB packs the zero-based number-of-logical-blocks field into CDW12,
// preserving the high bits (I/O flags such as FUA/LR, unused by this core
// but left available).
func (e *SubmissionEntry) SetNLB(nlb uint16) {
	e.CDW12 = (e.CDW12 &^ 0xffff) | uint32(nlb)
}

// CompletionEntry is the 16-byte NVMe completion queue entry.
//
//	struct nvme_completion {
//	  __u32 result;   // command-specific, unused here
//	  __u32 reserved;
//	  __u16 sqhd;     // SQ head pointer as observed by the device
//	  __u16 sqid;     // originating SQ id, unused (single queue pair)
//	  __u16 cid;      // echoed command identifier
//	  __u16 status;   // bit 0: phase tag; bits 1-8: status code
//	};
type CompletionEntry struct {
	Result   uint32
	Reserved uint32
	SQHD     uint16
	SQID     uint16
	CID      uint16
	Status   uint16
}

// Compile-time size check: the CQE must be exactly 16 bytes.
var _ [16]byte = [unsafe.Sizeof(CompletionEntry{})]byte{}

// Phase returns the completion's phase tag bit (status bit 0).
func (c *CompletionEntry) Phase() uint16 {
	return c.Status & 0x1
}

// StatusCode returns the 8-bit status code (SC, status bits 1-8).
func (c *CompletionEntry) StatusCode() uint16 {
	return (c.Status >> 1) & 0xff
}

// StatusCodeType returns the 3-bit status code type (SCT, status bits 9-11).
func (c *CompletionEntry) StatusCodeType() uint16 {
	return (c.Status >> 9) & 0x7
}

// SetStatus packs a phase bit, status code, and status code type into the
// completion's status word. Used by test doubles that synthesize CQEs.
func SetStatus(phase, sc, sct uint16) uint16 {
	return (phase & 0x1) | ((sc & 0xff) << 1) | ((sct & 0x7) << 9)
}
