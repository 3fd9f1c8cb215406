package uapi

import (
	"testing"
	"unsafe"
)

func TestStructSizes(t *testing.T) {
	tests := []struct {
		name     string
		size     uintptr
		expected int
	}{
		{"SubmissionEntry", unsafe.Sizeof(SubmissionEntry{}), 64},
		{"CompletionEntry", unsafe.Sizeof(CompletionEntry{}), 16},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if int(tt.size) != tt.expected {
				t.Errorf("%s size = %d, want %d", tt.name, tt.size, tt.expected)
			}
		})
	}
}

func TestSubmissionEntryNLB(t *testing.T) {
	e := &SubmissionEntry{}
	e.SetNLB(7)
	if got := e.NLB(); got != 7 {
		t.Errorf("NLB() = %d, want 7", got)
	}
	// High bits of CDW12 (I/O flags) must survive SetNLB.
	e.CDW12 |= 1 << 30
	e.SetNLB(3)
	if got := e.NLB(); got != 3 {
		t.Errorf("NLB() = %d, want 3", got)
	}
	if e.CDW12&(1<<30) == 0 {
		t.Error("SetNLB clobbered high bits of CDW12")
	}
}

func TestCompletionEntryStatusFields(t *testing.T) {
	c := &CompletionEntry{Status: SetStatus(1, 0x02, 0x1)}
	if c.Phase() != 1 {
		t.Errorf("Phase() = %d, want 1", c.Phase())
	}
	if c.StatusCode() != 0x02 {
		t.Errorf("StatusCode() = %#x, want 0x02", c.StatusCode())
	}
	if c.StatusCodeType() != 0x1 {
		t.Errorf("StatusCodeType() = %#x, want 0x1", c.StatusCodeType())
	}
}

func TestEncodeDecodeSQERoundTrip(t *testing.T) {
	want := SubmissionEntry{
		Opcode: OpRead,
		CID:    42,
		NSID:   1,
		PRP1:   0x1000,
		PRP2:   0x2000,
		SLBA:   128,
	}
	want.SetNLB(7)

	buf := make([]byte, SQESize)
	EncodeSQE(buf, &want)

	if buf[0] != OpRead {
		t.Fatalf("opcode byte = %#x, want %#x", buf[0], OpRead)
	}

	// DecodeSQE is the loopback device simulator's side of the wire; it
	// must recover exactly what EncodeSQE wrote.
	got := DecodeSQE(buf)
	if got != want {
		t.Errorf("round trip mismatch: got %+v want %+v", got, want)
	}
}

func TestEncodeDecodeCQERoundTrip(t *testing.T) {
	want := CompletionEntry{
		SQHD:   3,
		CID:    9,
		Status: SetStatus(1, SCSuccess, 0),
	}
	buf := make([]byte, CQESize)
	EncodeCQE(buf, &want)

	got := DecodeCQE(buf)
	if got != want {
		t.Errorf("round trip mismatch: got %+v want %+v", got, want)
	}

	if PeekPhase(buf) != want.Phase() {
		t.Errorf("PeekPhase() = %d, want %d", PeekPhase(buf), want.Phase())
	}
}
