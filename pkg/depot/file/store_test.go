package file

import (
	"testing"

	"github.com/marmos91/dittovault/pkg/depot"
	"github.com/marmos91/dittovault/pkg/depot/depottest"
)

func TestStoreConformance(t *testing.T) {
	depottest.RunSuite(t, func(t *testing.T) depot.Storable {
		return New(t.TempDir())
	})
}

func TestSectorFilesSpanMultipleSectors(t *testing.T) {
	s := New(t.TempDir())
	ctx := t.Context()

	if err := s.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.Init(ctx); err != nil {
		t.Fatal(err)
	}
	defer s.Close(ctx)

	f, off, err := s.sectorFor(BlocksPerSector + 1)
	if err != nil {
		t.Fatal(err)
	}
	if off != 1 {
		t.Errorf("offsetInSector = %d, want 1", off)
	}
	if f == nil {
		t.Fatal("expected non-nil sector file")
	}
}
