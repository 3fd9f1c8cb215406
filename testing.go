package nvme

import (
	"sync"

	"github.com/behrlich/go-nvme-queue/internal/hostio"
)

// MockNamespaceTable is a single-namespace hostio.NamespaceTable/
// DiscardCapable double for unit tests of code built on this module,
// mirroring the teacher's MockBackend call-count-tracking style.
type MockNamespaceTable struct {
	mu sync.RWMutex

	geometry      hostio.NamespaceGeometry
	present       bool
	discardOK     bool
	namespaceHits int
	discardHits   int

	// InjectNamespaceErr, when true, makes Namespace report the id as
	// absent regardless of geometry, for exercising the façade's
	// StatusUnsupported path.
	InjectNamespaceErr bool
}

// NewMockNamespaceTable returns a table exposing a single namespace with
// the given geometry.
func NewMockNamespaceTable(geometry hostio.NamespaceGeometry) *MockNamespaceTable {
	return &MockNamespaceTable{geometry: geometry, present: true}
}

// Namespace implements hostio.NamespaceTable.
func (m *MockNamespaceTable) Namespace(nsid uint32) (hostio.NamespaceGeometry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.namespaceHits++
	if m.InjectNamespaceErr || !m.present {
		return hostio.NamespaceGeometry{}, false
	}
	return m.geometry, true
}

// SupportsDiscard implements hostio.DiscardCapable.
func (m *MockNamespaceTable) SupportsDiscard(nsid uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.discardHits++
	return m.discardOK
}

// SetDiscardCapable toggles whether SupportsDiscard reports true.
func (m *MockNamespaceTable) SetDiscardCapable(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.discardOK = ok
}

// SetPresent toggles whether Namespace reports the namespace as present.
func (m *MockNamespaceTable) SetPresent(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.present = ok
}

// CallCounts returns the number of times each method has been called.
func (m *MockNamespaceTable) CallCounts() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]int{
		"namespace":       m.namespaceHits,
		"supportsDiscard": m.discardHits,
	}
}

// Reset zeroes all call counters.
func (m *MockNamespaceTable) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.namespaceHits = 0
	m.discardHits = 0
}

var (
	_ hostio.NamespaceTable = (*MockNamespaceTable)(nil)
	_ hostio.DiscardCapable = (*MockNamespaceTable)(nil)
)

// FailingMMIO is an hostio.MMIO double whose Store32 always panics unless
// armed, for exercising code paths that must never touch the doorbell
// (e.g. a refused submission).
type FailingMMIO struct {
	mu      sync.Mutex
	armed   bool
	stores  int
}

// Arm allows Store32 calls to succeed and be counted instead of panicking.
func (f *FailingMMIO) Arm() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.armed = true
}

// Store32 implements hostio.MMIO.
func (f *FailingMMIO) Store32(addr uintptr, value uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.armed {
		panic("nvme: unexpected doorbell store on unarmed FailingMMIO")
	}
	f.stores++
}

// Stores returns the number of Store32 calls observed while armed.
func (f *FailingMMIO) Stores() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stores
}

var _ hostio.MMIO = (*FailingMMIO)(nil)
