package fnode

import (
	"context"
	"fmt"
	"time"

	"github.com/marmos91/dittovault/internal/vaultlog"
	"github.com/marmos91/dittovault/pkg/txn"
	"github.com/marmos91/dittovault/pkg/vaulterr"
)

// ReadDir returns dir's children in insertion order. dir must be a
// directory.
func (m *Manager) ReadDir(dir *Fnode) ([]DirEntry, error) {
	if dir.Kind != Dir {
		return nil, vaulterr.New(vaulterr.NotFile, "fnode.ReadDir", dir.ID.String())
	}
	return dir.Entries.List(), nil
}

// Remove unlinks name from parent. A directory target must be empty;
// a file target has its versions' chunk refcounts dropped once the
// transaction commits.
func (m *Manager) Remove(ctx context.Context, tx *txn.Transaction, parent *Fnode, name string) error {
	if parent.Kind != Dir {
		return vaulterr.New(vaulterr.NotFile, "fnode.Remove", name)
	}
	childID, ok := parent.Entries.Lookup(name)
	if !ok {
		return vaulterr.New(vaulterr.NotFound, "fnode.Remove", name)
	}
	child, err := m.Get(ctx, childID)
	if err != nil {
		return err
	}
	if child.Kind == Dir && child.Entries.Len() > 0 {
		return vaulterr.New(vaulterr.NotEmpty, "fnode.Remove", name)
	}

	newParent := *parent
	newParent.Entries = cloneEntries(parent.Entries)
	newParent.Entries.Remove(name)
	newParent.Mtime = time.Now()

	if err := tx.Delete(ctx, child.ID); err != nil {
		return fmt.Errorf("fnode: stage delete of %s: %w", name, err)
	}
	if err := m.persist(ctx, tx, &newParent); err != nil {
		return err
	}

	tx.OnCommit(func() {
		if child.Kind == File {
			for _, v := range child.Versions {
				if err := m.content.Release(ctx, v.Chunks); err != nil {
					vaultlog.Warn("fnode: release removed file's chunks failed", "name", name, "error", err.Error())
				}
			}
		}
		m.evict(child.ID)
		m.publish(&newParent)
	})

	return nil
}

// Rename moves name from srcParent to dstName in dstParent, atomically
// within tx. If dstName already names a regular file, that file is
// replaced and its content dereferenced; if it names a non-empty
// directory, Rename fails with NotEmpty. Renaming a directory into
// itself or one of its own descendants is not validated here - callers
// above Manager (which alone knows the full path from root) enforce
// acyclicity.
func (m *Manager) Rename(ctx context.Context, tx *txn.Transaction, srcParent *Fnode, srcName string, dstParent *Fnode, dstName string) error {
	if srcParent.Kind != Dir || dstParent.Kind != Dir {
		return vaulterr.New(vaulterr.NotFile, "fnode.Rename", srcName)
	}
	srcID, ok := srcParent.Entries.Lookup(srcName)
	if !ok {
		return vaulterr.New(vaulterr.NotFound, "fnode.Rename", srcName)
	}

	var replaced *Fnode
	if dstID, exists := dstParent.Entries.Lookup(dstName); exists && dstID != srcID {
		existing, err := m.Get(ctx, dstID)
		if err != nil {
			return err
		}
		if existing.Kind == Dir && existing.Entries.Len() > 0 {
			return vaulterr.New(vaulterr.NotEmpty, "fnode.Rename", dstName)
		}
		replaced = existing
	}

	now := time.Now()
	newSrcParent := *srcParent
	newSrcParent.Entries = cloneEntries(srcParent.Entries)
	newSrcParent.Entries.Remove(srcName)
	newSrcParent.Mtime = now

	if sameParent(srcParent, dstParent) {
		newSrcParent.Entries.Remove(dstName)
		newSrcParent.Entries.Add(dstName, srcID)
		if err := m.persist(ctx, tx, &newSrcParent); err != nil {
			return err
		}
		if replaced != nil {
			if err := tx.Delete(ctx, replaced.ID); err != nil {
				return fmt.Errorf("fnode: stage delete of replaced %s: %w", dstName, err)
			}
		}
		tx.OnCommit(func() {
			releaseReplaced(ctx, m, replaced)
			m.publish(&newSrcParent)
		})
		return nil
	}

	newDstParent := *dstParent
	newDstParent.Entries = cloneEntries(dstParent.Entries)
	newDstParent.Entries.Remove(dstName)
	newDstParent.Entries.Add(dstName, srcID)
	newDstParent.Mtime = now

	if err := m.persist(ctx, tx, &newSrcParent); err != nil {
		return err
	}
	if err := m.persist(ctx, tx, &newDstParent); err != nil {
		return err
	}
	if replaced != nil {
		if err := tx.Delete(ctx, replaced.ID); err != nil {
			return fmt.Errorf("fnode: stage delete of replaced %s: %w", dstName, err)
		}
	}

	tx.OnCommit(func() {
		releaseReplaced(ctx, m, replaced)
		m.publish(&newSrcParent)
		m.publish(&newDstParent)
	})
	return nil
}

func sameParent(a, b *Fnode) bool {
	return a.ID == b.ID
}

func releaseReplaced(ctx context.Context, m *Manager, replaced *Fnode) {
	if replaced == nil {
		return
	}
	if replaced.Kind == File {
		for _, v := range replaced.Versions {
			if err := m.content.Release(ctx, v.Chunks); err != nil {
				vaultlog.Warn("fnode: release replaced file's chunks failed", "id", replaced.ID.String(), "error", err.Error())
			}
		}
	}
	m.evict(replaced.ID)
}
