package uapi

// Opcodes for the NVM command set operations this core issues. Values
// match the NVMe base specification.
const (
	OpFlush = 0x00
	OpWrite = 0x01
	OpRead  = 0x02
	OpDsm   = 0x09 // Dataset Management (used for deallocate/discard)
)

// Generic status codes (status code type 0, "Generic Command Status").
const (
	SCSuccess           = 0x00
	SCInvalidField      = 0x02
	SCDataTransferError = 0x04
	SCInternal          = 0x06
	SCLBAOutOfRange     = 0x80
)

// DSM range descriptor used for a single-range deallocate (discard),
// matching the NVMe Dataset Management command's data buffer layout.
//
//	struct nvme_dsm_range {
//	  __u32 cattr;
//	  __u32 nlb;
//	  __u64 slba;
//	};
type DsmRange struct {
	CAttr uint32
	NLB   uint32
	SLBA  uint64
}
