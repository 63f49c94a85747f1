// Package fnode implements the file node state machine sitting above
// pkg/content and pkg/txn: multi-version immutable file history with
// structural sharing between versions, and directory entries ordered
// by insertion for deterministic listing.
//
// A file's body is never mutated in place. Writing, overwriting a
// middle range, or truncating all produce a new Version referencing a
// chunk list derived from the content store; the previous version
// stays readable until it's evicted by the version limit.
package fnode

import (
	"time"

	"github.com/marmos91/dittovault/pkg/content"
	"github.com/marmos91/dittovault/pkg/eid"
)

// Kind distinguishes a regular file from a directory. Every other
// combination spec.md excludes (symlinks, hard links) has no Kind.
type Kind uint8

const (
	File Kind = iota
	Dir
)

func (k Kind) String() string {
	switch k {
	case File:
		return "file"
	case Dir:
		return "dir"
	default:
		return "unknown"
	}
}

// Version is one immutable snapshot of a file's body: the ordered list
// of content-store chunks that reconstruct it, its total length, and
// the time it was created. Versions never change after being appended;
// a write produces a new Version rather than editing this one.
type Version struct {
	Ctime  time.Time
	Len    uint64
	Chunks []content.Hash
}

// Opts are the per-fnode knobs spec.md ties to a file rather than the
// whole vault.
type Opts struct {
	// VersionLimit caps len(Versions); pushing past it evicts the
	// oldest. Must be in [1, 255].
	VersionLimit int
}

// Fnode is the in-memory and on-disk representation of one file or
// directory. Directory entries reference children by Eid only, never
// by pointer, so the filesystem graph can't form a reference cycle
// even though the in-memory cache holds every open Fnode.
type Fnode struct {
	ID    eid.Eid
	Kind  Kind
	Ctime time.Time
	Mtime time.Time
	Opts  Opts

	// Versions is a bounded deque, newest last. Only meaningful for
	// Kind == File.
	Versions []Version

	// Entries holds this directory's children in insertion order.
	// Only meaningful for Kind == Dir.
	Entries Entries
}

// NewFile returns a freshly allocated, empty regular file: one version
// with zero length and no chunks.
func NewFile(id eid.Eid, opts Opts, now time.Time) *Fnode {
	return &Fnode{
		ID:    id,
		Kind:  File,
		Ctime: now,
		Mtime: now,
		Opts:  opts,
		Versions: []Version{
			{Ctime: now, Len: 0},
		},
	}
}

// NewDir returns a freshly allocated, empty directory.
func NewDir(id eid.Eid, opts Opts, now time.Time) *Fnode {
	return &Fnode{
		ID:      id,
		Kind:    Dir,
		Ctime:   now,
		Mtime:   now,
		Opts:    opts,
		Entries: newEntries(),
	}
}

// CurrLen returns the file's current length: the back of Versions.
// Zero for a directory or a file with no versions yet.
func (f *Fnode) CurrLen() uint64 {
	if len(f.Versions) == 0 {
		return 0
	}
	return f.Versions[len(f.Versions)-1].Len
}

// Current returns the newest version, or the zero Version if there is
// none yet.
func (f *Fnode) Current() Version {
	if len(f.Versions) == 0 {
		return Version{}
	}
	return f.Versions[len(f.Versions)-1]
}
