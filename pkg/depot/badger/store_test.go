package badger

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

func TestExistsFalseBeforeConnect(t *testing.T) {
	s := New(t.TempDir())
	ctx := t.Context()

	exists, err := s.Exists(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Fatal("Exists() on an unconnected store should be false")
	}
}
