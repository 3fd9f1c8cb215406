package nvme

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/behrlich/go-nvme-queue/internal/hostio"
	"github.com/behrlich/go-nvme-queue/internal/loopdev"
)

func newTestQueuePair(t *testing.T, qsize uint32) (*QueuePair, *loopdev.Device) {
	t.Helper()
	loop := hostio.NewLoopback()
	mmio := hostio.NewRecordingMMIO(loop)
	ns := hostio.NewMemoryNamespace(1<<20, 512)
	table := hostio.NewStaticNamespaceTable(map[uint32]*hostio.MemoryNamespace{1: ns})

	cfg := DefaultParams(0x10, 0x14, mmio, loop, table)
	cfg.QSize = qsize
	qp, err := CreateIOQueue(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { DestroyIOQueue(qp) })

	return qp, loopdev.New(qp.DeviceRing(), table)
}

func TestDefaultParams_UsesDefaultQueueDepth(t *testing.T) {
	loop := hostio.NewLoopback()
	mmio := hostio.NewRecordingMMIO(loop)
	table := hostio.NewStaticNamespaceTable(nil)

	cfg := DefaultParams(0x10, 0x14, mmio, loop, table)
	require.Equal(t, uint32(DefaultQueueDepth), cfg.QSize)
}

func TestCreateAndDestroyIOQueue(t *testing.T) {
	qp, _ := newTestQueuePair(t, 8)
	require.Equal(t, uint32(8), qp.QSize())
	require.Equal(t, "empty", qp.State().String())
}

func TestQueuePair_SubmitReadRoundTrip(t *testing.T) {
	qp, dev := newTestQueuePair(t, 8)

	written := make(chan error, 1)
	writeBuf := []byte("public API round trip test payload, one block!")
	buf := make([]byte, 512)
	copy(buf, writeBuf)
	status := qp.SubmitWrite(1, buf, 0, func(cbArg any, err error) { written <- err }, nil, 0)
	require.Equal(t, StatusAccepted, status)
	dev.Poll()
	qp.ProcessCompletions(0)
	require.NoError(t, <-written)

	readback := make([]byte, 512)
	readDone := make(chan error, 1)
	status = qp.SubmitRead(1, readback, 0, func(cbArg any, err error) { readDone <- err }, nil, 0)
	require.Equal(t, StatusAccepted, status)
	dev.Poll()
	qp.ProcessCompletions(0)
	require.NoError(t, <-readDone)

	require.Equal(t, writeBuf, readback[:len(writeBuf)])
}

func TestQueuePair_MetricsSnapshotTracksOps(t *testing.T) {
	qp, dev := newTestQueuePair(t, 8)

	done := make(chan error, 1)
	status := qp.SubmitRead(1, make([]byte, 512), 0, func(cbArg any, err error) { done <- err }, nil, 0)
	require.Equal(t, StatusAccepted, status)
	dev.Poll()
	qp.ProcessCompletions(0)
	require.NoError(t, <-done)

	snap := qp.MetricsSnapshot()
	require.EqualValues(t, 1, snap.ReadOps)
	require.EqualValues(t, 512, snap.ReadBytes)
}

func TestQueuePair_UnsupportedNamespaceSurfacesError(t *testing.T) {
	qp, _ := newTestQueuePair(t, 8)
	status := qp.SubmitRead(42, make([]byte, 512), 0, nil, nil, 0)
	require.Equal(t, StatusUnsupported, status)
}

func TestError_WrapCompletionStatus(t *testing.T) {
	require.Nil(t, WrapCompletionStatus("op", 0, nil))
}

func TestIsCode(t *testing.T) {
	err := NewError("submit_read", ErrCodeBusy, "retry")
	require.True(t, IsCode(err, ErrCodeBusy))
	require.False(t, IsCode(err, ErrCodeTooLarge))
}

func TestQueuePair_StatusError(t *testing.T) {
	qp, _ := newTestQueuePair(t, 8)
	require.Nil(t, qp.StatusError("submit_read", StatusAccepted))

	err := qp.StatusError("submit_read", StatusUnsupported)
	require.Error(t, err)
	require.True(t, IsCode(err, ErrCodeUnsupported))
	require.Equal(t, int(qp.QID()), err.Queue)
}
