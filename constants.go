package nvme

import "github.com/behrlich/go-nvme-queue/internal/constants"

// Re-export sizing constants for the public API.
const (
	DefaultQueueDepth      = constants.DefaultQueueDepth
	MaxRows                = constants.MaxRows
	PageSize               = constants.PageSize
	PRPListEntries         = constants.PRPListEntries
	MaxTransferBytes       = constants.MaxTransferBytes
	PRPCacheCapacity       = constants.PRPCacheCapacity
	DefaultLogicalBlockSize = constants.DefaultLogicalBlockSize
)

// Return codes from submit/process entry points (spec §6 "Return codes").
const (
	StatusBusy        = constants.StatusBusy
	StatusAccepted    = constants.StatusAccepted
	StatusUnsupported = constants.StatusUnsupported
	StatusTooLarge    = constants.StatusTooLarge
)
