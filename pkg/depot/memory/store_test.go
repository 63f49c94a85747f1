package memory

import (
	"testing"

	"github.com/marmos91/dittovault/pkg/depot"
	"github.com/marmos91/dittovault/pkg/depot/depottest"
)

func TestStoreConformance(t *testing.T) {
	depottest.RunSuite(t, func(t *testing.T) depot.Storable {
		return New("")
	})
}

func TestBlockCount(t *testing.T) {
	s := New("")
	if s.BlockCount() != 0 {
		t.Fatalf("BlockCount() on fresh store = %d, want 0", s.BlockCount())
	}
}
