package fnode

import (
	"github.com/marmos91/dittovault/pkg/eid"
)

// Entries is a directory's name -> child mapping, preserving insertion
// order so listings are deterministic across opens. A plain Go map
// can't offer that, so order is tracked alongside it explicitly -
// the same two-structure shape spec.md's "ordered map" data model
// implies without naming a concrete representation.
type Entries struct {
	order []string
	byName map[string]eid.Eid
}

func newEntries() Entries {
	return Entries{byName: make(map[string]eid.Eid)}
}

// Lookup returns the child id registered under name.
func (e *Entries) Lookup(name string) (eid.Eid, bool) {
	id, ok := e.byName[name]
	return id, ok
}

// Add registers name -> id. Returns false without modifying e if name
// is already taken.
func (e *Entries) Add(name string, id eid.Eid) bool {
	if e.byName == nil {
		e.byName = make(map[string]eid.Eid)
	}
	if _, exists := e.byName[name]; exists {
		return false
	}
	e.byName[name] = id
	e.order = append(e.order, name)
	return true
}

// Remove unregisters name. Returns false if name wasn't present.
func (e *Entries) Remove(name string) bool {
	if _, ok := e.byName[name]; !ok {
		return false
	}
	delete(e.byName, name)
	for i, n := range e.order {
		if n == name {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	return true
}

// Rename moves the entry at oldName to newName, preserving its
// position in listing order. Returns false if oldName doesn't exist or
// newName is already taken by a different child.
func (e *Entries) Rename(oldName, newName string) bool {
	id, ok := e.byName[oldName]
	if !ok {
		return false
	}
	if existing, taken := e.byName[newName]; taken && existing != id {
		return false
	}
	delete(e.byName, oldName)
	e.byName[newName] = id
	for i, n := range e.order {
		if n == oldName {
			e.order[i] = newName
			break
		}
	}
	return true
}

// Len returns the number of entries.
func (e *Entries) Len() int {
	return len(e.order)
}

// List returns the entries in insertion order. The returned slice is a
// copy; mutating it does not affect e.
func (e *Entries) List() []DirEntry {
	out := make([]DirEntry, 0, len(e.order))
	for _, name := range e.order {
		out = append(out, DirEntry{Name: name, Child: e.byName[name]})
	}
	return out
}

// DirEntry is one name/child pair as returned by Entries.List.
type DirEntry struct {
	Name  string
	Child eid.Eid
}
