package vault

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/marmos91/dittovault/pkg/fnode"
	"github.com/marmos91/dittovault/pkg/vaulterr"
)

// DirEntry is one name/kind pair as returned by ReadDir.
type DirEntry struct {
	Name string
	Kind fnode.Kind
}

// Info is the metadata Stat returns for a path.
type Info struct {
	Kind     fnode.Kind
	Len      uint64
	Ctime    time.Time
	Mtime    time.Time
	Versions int
}

// CreateFile creates an empty regular file at path. Fails with
// AlreadyExists if path already names something.
func (v *Vault) CreateFile(ctx context.Context, path string) error {
	const op = "vault.CreateFile"
	v.mu.RLock()
	defer v.mu.RUnlock()
	if err := v.requireOpen(op); err != nil {
		return err
	}
	if err := v.requireWritable(op, path); err != nil {
		return err
	}

	parent, name, err := v.resolveParent(ctx, op, path)
	if err != nil {
		return err
	}

	tx := v.txns.Begin()
	opts := fnode.Opts{VersionLimit: v.cfg.VersionLimit}
	if _, err := v.fnodes.CreateFile(ctx, tx, parent, name, opts, time.Now()); err != nil {
		_ = tx.Abort(ctx)
		return err
	}
	if err := v.commit(ctx, tx, op); err != nil {
		return fmt.Errorf("vault: commit create of %s: %w", path, err)
	}
	return nil
}

// Mkdir creates an empty directory at path. Fails with AlreadyExists if
// path already names something; does not create missing ancestors.
func (v *Vault) Mkdir(ctx context.Context, path string) error {
	const op = "vault.Mkdir"
	v.mu.RLock()
	defer v.mu.RUnlock()
	if err := v.requireOpen(op); err != nil {
		return err
	}
	if err := v.requireWritable(op, path); err != nil {
		return err
	}

	parent, name, err := v.resolveParent(ctx, op, path)
	if err != nil {
		return err
	}

	tx := v.txns.Begin()
	opts := fnode.Opts{VersionLimit: v.cfg.VersionLimit}
	if _, err := v.fnodes.Mkdir(ctx, tx, parent, name, opts, time.Now()); err != nil {
		_ = tx.Abort(ctx)
		return err
	}
	if err := v.commit(ctx, tx, op); err != nil {
		return fmt.Errorf("vault: commit mkdir of %s: %w", path, err)
	}
	return nil
}

// MkdirAll creates path and every missing ancestor directory. Succeeds
// whether or not any of them already exist, so long as none of the
// existing ones is a regular file.
func (v *Vault) MkdirAll(ctx context.Context, path string) error {
	const op = "vault.MkdirAll"
	parts, err := splitPath(op, path)
	if err != nil {
		return err
	}

	built := ""
	for _, part := range parts {
		built += "/" + part
		if err := v.Mkdir(ctx, built); err != nil {
			if vaulterr.Is(err, vaulterr.AlreadyExists) {
				continue
			}
			return err
		}
	}
	return nil
}

// ReadDir returns dir's children in insertion order.
func (v *Vault) ReadDir(ctx context.Context, path string) ([]DirEntry, error) {
	const op = "vault.ReadDir"
	v.mu.RLock()
	defer v.mu.RUnlock()
	if err := v.requireOpen(op); err != nil {
		return nil, err
	}

	dir, err := v.resolve(ctx, op, path)
	if err != nil {
		return nil, err
	}
	entries, err := v.fnodes.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	out := make([]DirEntry, 0, len(entries))
	for _, e := range entries {
		child, err := v.fnodes.Get(ctx, e.Child)
		if err != nil {
			return nil, err
		}
		out = append(out, DirEntry{Name: e.Name, Kind: child.Kind})
	}
	return out, nil
}

// Remove unlinks path. A directory target must be empty.
func (v *Vault) Remove(ctx context.Context, path string) error {
	const op = "vault.Remove"
	v.mu.RLock()
	defer v.mu.RUnlock()
	if err := v.requireOpen(op); err != nil {
		return err
	}
	if err := v.requireWritable(op, path); err != nil {
		return err
	}

	parent, name, err := v.resolveParent(ctx, op, path)
	if err != nil {
		return err
	}

	childID, ok := parent.Entries.Lookup(name)
	var wasInUse bool
	if ok {
		wasInUse = v.shut.IsOpenForWrite(childID)
	}
	if wasInUse {
		return vaulterr.New(vaulterr.InUse, op, path)
	}

	tx := v.txns.Begin()
	if err := v.fnodes.Remove(ctx, tx, parent, name); err != nil {
		_ = tx.Abort(ctx)
		return err
	}
	if err := v.commit(ctx, tx, op); err != nil {
		return fmt.Errorf("vault: commit remove of %s: %w", path, err)
	}
	if ok {
		v.shut.Forget(childID)
	}
	return nil
}

// Rename moves srcPath to dstPath atomically. If dstPath already names a
// regular file, it is replaced and its content dereferenced; if it
// names a non-empty directory, Rename fails with NotEmpty. Renaming a
// directory into itself or one of its own descendants fails with
// InvalidArgument.
func (v *Vault) Rename(ctx context.Context, srcPath, dstPath string) error {
	const op = "vault.Rename"
	v.mu.RLock()
	defer v.mu.RUnlock()
	if err := v.requireOpen(op); err != nil {
		return err
	}
	if err := v.requireWritable(op, srcPath); err != nil {
		return err
	}

	if dstPath == srcPath || strings.HasPrefix(dstPath, strings.TrimSuffix(srcPath, "/")+"/") {
		return vaulterr.New(vaulterr.InvalidArgument, op, dstPath)
	}

	srcParent, srcName, err := v.resolveParent(ctx, op, srcPath)
	if err != nil {
		return err
	}
	dstParent, dstName, err := v.resolveParent(ctx, op, dstPath)
	if err != nil {
		return err
	}

	tx := v.txns.Begin()
	if err := v.fnodes.Rename(ctx, tx, srcParent, srcName, dstParent, dstName); err != nil {
		_ = tx.Abort(ctx)
		return err
	}
	if err := v.commit(ctx, tx, op); err != nil {
		return fmt.Errorf("vault: commit rename %s -> %s: %w", srcPath, dstPath, err)
	}
	return nil
}

// Stat returns path's metadata.
func (v *Vault) Stat(ctx context.Context, path string) (Info, error) {
	const op = "vault.Stat"
	v.mu.RLock()
	defer v.mu.RUnlock()
	if err := v.requireOpen(op); err != nil {
		return Info{}, err
	}

	f, err := v.resolve(ctx, op, path)
	if err != nil {
		return Info{}, err
	}
	return Info{
		Kind:     f.Kind,
		Len:      f.CurrLen(),
		Ctime:    f.Ctime,
		Mtime:    f.Mtime,
		Versions: len(f.Versions),
	}, nil
}
