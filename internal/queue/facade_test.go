package queue

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/behrlich/go-nvme-queue/internal/hostio"
	"github.com/behrlich/go-nvme-queue/internal/logging"
	"github.com/behrlich/go-nvme-queue/internal/loopdev"
)

const testNSID = 1

// *logging.Logger must satisfy Logger without an adapter; New's
// cfg.Logger.Debugf call and ProcessCompletions's cfg.Logger.Printf call
// both assume this.
var _ Logger = (*logging.Logger)(nil)

func newTestQueuePair(t *testing.T, qsize uint32) (*IoQueuePair, *loopdev.Device, *hostio.MemoryNamespace) {
	t.Helper()
	loop := hostio.NewLoopback()
	mmio := hostio.NewRecordingMMIO(loop)
	ns := hostio.NewMemoryNamespace(1<<20, 512)
	table := hostio.NewStaticNamespaceTable(map[uint32]*hostio.MemoryNamespace{testNSID: ns})

	q, err := New(Config{QSize: qsize, SQDoorbell: 0x10, CQDoorbell: 0x14, MMIO: mmio, Mem: loop, Namespaces: table})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	dev := loopdev.New(q.Ring(), table)
	t.Cleanup(q.Close)
	return q, dev, ns
}

// S1 — single read.
func TestSubmitRead_SingleReadRoundTrip(t *testing.T) {
	q, dev, ns := newTestQueuePair(t, 8)

	want := []byte("hello, nvme queue pair, this is a full block!!!")
	buf := make([]byte, 512)
	copy(buf, want)
	if _, err := ns.WriteAt(buf, 0); err != nil {
		t.Fatalf("seed write: %v", err)
	}

	payload := make([]byte, 512)
	var gotErr error
	var calls int
	status := q.SubmitRead(testNSID, payload, 0, func(cbArg any, err error) {
		calls++
		gotErr = err
	}, nil, 0)
	if status != 1 {
		t.Fatalf("SubmitRead status = %d, want 1", status)
	}

	dev.Poll()
	n := q.ProcessCompletions(1)
	if n != 1 {
		t.Fatalf("ProcessCompletions = %d, want 1", n)
	}
	if calls != 1 {
		t.Fatalf("callback invoked %d times, want 1", calls)
	}
	if gotErr != nil {
		t.Fatalf("unexpected completion error: %v", gotErr)
	}
	if string(payload[:len(want)]) != string(want) {
		t.Fatalf("read payload mismatch: got %q", payload[:len(want)])
	}
	if q.cids.OutstandingCount() != 0 {
		t.Fatal("slot not released after completion")
	}
}

// S6 — flush.
func TestSubmitFlush_NoBufferSideEffects(t *testing.T) {
	q, dev, _ := newTestQueuePair(t, 8)

	done := make(chan error, 1)
	status := q.SubmitFlush(testNSID, func(cbArg any, err error) { done <- err }, nil)
	if status != 1 {
		t.Fatalf("SubmitFlush status = %d, want 1", status)
	}

	dev.Poll()
	q.ProcessCompletions(1)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("flush completion error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("flush callback never fired")
	}
}

func TestSubmitWrite_ThenRead(t *testing.T) {
	q, dev, _ := newTestQueuePair(t, 8)

	payload := make([]byte, 512)
	for i := range payload {
		payload[i] = byte(i)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	status := q.SubmitWrite(testNSID, payload, 1024, func(cbArg any, err error) {
		defer wg.Done()
		if err != nil {
			t.Errorf("write completion error: %v", err)
		}
	}, nil, 0)
	if status != 1 {
		t.Fatalf("SubmitWrite status = %d, want 1", status)
	}
	dev.Poll()
	q.ProcessCompletions(1)
	wg.Wait()

	readback := make([]byte, 512)
	wg.Add(1)
	status = q.SubmitRead(testNSID, readback, 1024, func(cbArg any, err error) {
		defer wg.Done()
		if err != nil {
			t.Errorf("read completion error: %v", err)
		}
	}, nil, 0)
	if status != 1 {
		t.Fatalf("SubmitRead status = %d, want 1", status)
	}
	dev.Poll()
	q.ProcessCompletions(1)
	wg.Wait()

	for i := range payload {
		if readback[i] != payload[i] {
			t.Fatalf("byte %d: got %d, want %d", i, readback[i], payload[i])
		}
	}
}

func TestSubmitDiscard_ZeroesRange(t *testing.T) {
	q, dev, ns := newTestQueuePair(t, 8)

	buf := make([]byte, 512)
	for i := range buf {
		buf[i] = 0xff
	}
	if _, err := ns.WriteAt(buf, 0); err != nil {
		t.Fatalf("seed write: %v", err)
	}

	done := make(chan error, 1)
	status := q.SubmitDiscard(testNSID, 0, 512, func(cbArg any, err error) { done <- err }, nil)
	if status != 1 {
		t.Fatalf("SubmitDiscard status = %d, want 1", status)
	}
	dev.Poll()
	q.ProcessCompletions(1)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("discard completion error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("discard callback never fired")
	}

	readback := make([]byte, 512)
	if _, err := ns.ReadAt(readback, 0); err != nil {
		t.Fatalf("verify read: %v", err)
	}
	for i, b := range readback {
		if b != 0 {
			t.Fatalf("byte %d not zeroed after discard: %#x", i, b)
		}
	}
}

func TestSubmitRead_UnknownNamespaceIsUnsupported(t *testing.T) {
	q, _, _ := newTestQueuePair(t, 8)
	status := q.SubmitRead(99, make([]byte, 512), 0, nil, nil, 0)
	if status != -1 {
		t.Fatalf("status = %d, want -1 (unsupported)", status)
	}
}

func TestSubmitRead_MisalignedOffsetIsUnsupported(t *testing.T) {
	q, _, _ := newTestQueuePair(t, 8)
	status := q.SubmitRead(testNSID, make([]byte, 512), 100, nil, nil, 0)
	if status != -1 {
		t.Fatalf("status = %d, want -1 (unsupported)", status)
	}
}

func TestNew_LogsCreationThroughConfiguredLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewLogger(&logging.Config{Level: logging.LevelDebug, Format: "text", Output: &buf, Sync: true})

	loop := hostio.NewLoopback()
	mmio := hostio.NewRecordingMMIO(loop)
	table := hostio.NewStaticNamespaceTable(nil)

	q, err := New(Config{QSize: 4, SQDoorbell: 0x10, CQDoorbell: 0x14, MMIO: mmio, Mem: loop, Namespaces: table, Logger: logger})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer q.Close()

	if !strings.Contains(buf.String(), "created io queue pair") {
		t.Fatalf("expected creation message logged through the configured Logger, got: %s", buf.String())
	}
}

func TestSubmitRead_LogsIOStartAndIOComplete(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewLogger(&logging.Config{Level: logging.LevelDebug, Format: "text", Output: &buf, Sync: true})

	loop := hostio.NewLoopback()
	mmio := hostio.NewRecordingMMIO(loop)
	ns := hostio.NewMemoryNamespace(1<<20, 512)
	table := hostio.NewStaticNamespaceTable(map[uint32]*hostio.MemoryNamespace{testNSID: ns})

	q, err := New(Config{QSize: 4, SQDoorbell: 0x10, CQDoorbell: 0x14, MMIO: mmio, Mem: loop, Namespaces: table, Logger: logger})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer q.Close()
	dev := loopdev.New(q.Ring(), table)

	done := make(chan error, 1)
	status := q.SubmitRead(testNSID, make([]byte, 512), 0, func(cbArg any, err error) { done <- err }, nil, 0)
	if status != 1 {
		t.Fatalf("SubmitRead status = %d, want 1", status)
	}
	if !strings.Contains(buf.String(), "command submitted") {
		t.Fatalf("expected IOStart log line, got: %s", buf.String())
	}

	dev.Poll()
	q.ProcessCompletions(1)
	if err := <-done; err != nil {
		t.Fatalf("unexpected completion error: %v", err)
	}
	if !strings.Contains(buf.String(), "command completed") {
		t.Fatalf("expected IOComplete log line, got: %s", buf.String())
	}
}

// Property 3 — SQ-full monotonicity.
func TestSubmit_BusyUntilCompletionProcessed(t *testing.T) {
	q, dev, _ := newTestQueuePair(t, 2)

	payload := make([]byte, 512)
	for i := 0; i < 2; i++ {
		if status := q.SubmitRead(testNSID, payload, 0, nil, nil, 0); status != 1 {
			t.Fatalf("submit %d: status = %d, want 1", i, status)
		}
	}
	if status := q.SubmitRead(testNSID, payload, 0, nil, nil, 0); status != 0 {
		t.Fatalf("third submit on a full queue: status = %d, want 0 (busy)", status)
	}

	dev.Poll()
	if n := q.ProcessCompletions(1); n != 1 {
		t.Fatalf("ProcessCompletions = %d, want 1", n)
	}

	if status := q.SubmitRead(testNSID, payload, 0, nil, nil, 0); status != 1 {
		t.Fatalf("submit after drain: status = %d, want 1 (accepted)", status)
	}
}
