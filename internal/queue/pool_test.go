package queue

import (
	"testing"

	"github.com/behrlich/go-nvme-queue/internal/constants"
)

func TestGetBuffer_Buckets(t *testing.T) {
	tests := []struct {
		name        string
		requestSize uint32
		expectCap   int
	}{
		{"small bucket - exact", bucketSmall, bucketSmall},
		{"small bucket - under", bucketSmall - 4096, bucketSmall},
		{"medium bucket - exact", bucketMedium, bucketMedium},
		{"medium bucket - under", bucketMedium - 4096, bucketMedium},
		{"large bucket - exact", bucketLarge, bucketLarge},
		{"large bucket - under", bucketLarge - 4096, bucketLarge},
		{"max bucket - a full transfer", constants.MaxTransferBytes, bucketMax},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := GetBuffer(tt.requestSize)
			if len(buf) != int(tt.requestSize) {
				t.Errorf("GetBuffer(%d) returned len=%d, want %d", tt.requestSize, len(buf), tt.requestSize)
			}
			if cap(buf) != tt.expectCap {
				t.Errorf("GetBuffer(%d) returned cap=%d, want %d", tt.requestSize, cap(buf), tt.expectCap)
			}
			PutBuffer(buf)
		})
	}
}

func TestBufferPool_Reuse(t *testing.T) {
	buf1 := GetBuffer(bucketSmall)
	ptr1 := &buf1[0]
	PutBuffer(buf1)

	buf2 := GetBuffer(bucketSmall)
	ptr2 := &buf2[0]
	PutBuffer(buf2)

	if ptr1 == ptr2 {
		t.Log("buffer was reused from pool")
	} else {
		t.Log("buffer was not reused (sync.Pool GC behavior)")
	}
}

func TestPutBuffer_NonBucketCap(t *testing.T) {
	buf := make([]byte, 100*1024) // not one of the bucket sizes
	PutBuffer(buf)                // must not panic
}

func BenchmarkGetBuffer_Small(b *testing.B) {
	for i := 0; i < b.N; i++ {
		buf := GetBuffer(bucketSmall)
		PutBuffer(buf)
	}
}

func BenchmarkGetBuffer_Medium(b *testing.B) {
	for i := 0; i < b.N; i++ {
		buf := GetBuffer(bucketMedium)
		PutBuffer(buf)
	}
}

func BenchmarkGetBuffer_Large(b *testing.B) {
	for i := 0; i < b.N; i++ {
		buf := GetBuffer(bucketLarge)
		PutBuffer(buf)
	}
}

func BenchmarkGetBuffer_Max(b *testing.B) {
	for i := 0; i < b.N; i++ {
		buf := GetBuffer(bucketMax)
		PutBuffer(buf)
	}
}

func BenchmarkMakeBuffer_Small(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = make([]byte, bucketSmall)
	}
}

func BenchmarkMakeBuffer_Max(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = make([]byte, bucketMax)
	}
}
