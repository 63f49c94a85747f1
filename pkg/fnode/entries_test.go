package fnode

import (
	"testing"

	"github.com/marmos91/dittovault/pkg/eid"
)

func TestEntriesPreservesInsertionOrder(t *testing.T) {
	e := newEntries()
	names := []string{"c", "a", "b"}
	for _, n := range names {
		if !e.Add(n, eid.MustNew()) {
			t.Fatalf("Add(%q) = false", n)
		}
	}

	got := e.List()
	if len(got) != len(names) {
		t.Fatalf("List() len = %d, want %d", len(got), len(names))
	}
	for i, want := range names {
		if got[i].Name != want {
			t.Fatalf("List()[%d].Name = %q, want %q", i, got[i].Name, want)
		}
	}
}

func TestEntriesAddRejectsDuplicateName(t *testing.T) {
	e := newEntries()
	id := eid.MustNew()
	if !e.Add("f", id) {
		t.Fatal("first Add() = false")
	}
	if e.Add("f", eid.MustNew()) {
		t.Fatal("second Add() with the same name = true, want false")
	}
	got, ok := e.Lookup("f")
	if !ok || got != id {
		t.Fatal("Lookup() after rejected duplicate add changed the existing entry")
	}
}

func TestEntriesRenamePreservesPosition(t *testing.T) {
	e := newEntries()
	e.Add("a", eid.MustNew())
	e.Add("b", eid.MustNew())
	e.Add("c", eid.MustNew())

	if !e.Rename("b", "z") {
		t.Fatal("Rename() = false")
	}

	got := e.List()
	if got[1].Name != "z" {
		t.Fatalf("List()[1].Name = %q, want %q (rename should preserve position)", got[1].Name, "z")
	}
	if _, ok := e.Lookup("b"); ok {
		t.Fatal("old name still resolves after rename")
	}
}

func TestEntriesRemove(t *testing.T) {
	e := newEntries()
	e.Add("a", eid.MustNew())
	e.Add("b", eid.MustNew())

	if !e.Remove("a") {
		t.Fatal("Remove() = false")
	}
	if e.Remove("a") {
		t.Fatal("second Remove() of the same name = true, want false")
	}
	if e.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", e.Len())
	}
}
