// Package vault is the super-block, bootstrap and public file-tree API
// sitting above every other layer: it owns the depot connection for one
// repository, wires volume/txn/content/fnode/shutter together, and
// exposes the path-addressed operations callers actually use
// (CreateFile, OpenFile, Mkdir, ReadDir, Rename, Remove, Stat).
package vault

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/dittovault/internal/vaultlog"
	"github.com/marmos91/dittovault/pkg/armor"
	"github.com/marmos91/dittovault/pkg/content"
	"github.com/marmos91/dittovault/pkg/cryptoprovider"
	"github.com/marmos91/dittovault/pkg/depot"
	"github.com/marmos91/dittovault/pkg/eid"
	"github.com/marmos91/dittovault/pkg/fnode"
	"github.com/marmos91/dittovault/pkg/shutter"
	"github.com/marmos91/dittovault/pkg/txn"
	"github.com/marmos91/dittovault/pkg/vaultconfig"
	"github.com/marmos91/dittovault/pkg/vaulterr"
	"github.com/marmos91/dittovault/pkg/vaultmetrics"
	"github.com/marmos91/dittovault/pkg/volume"
	"github.com/marmos91/dittovault/pkg/wal"
)

// Vault is one open repository: the depot connection, the crypto/volume/
// txn/content/fnode stack layered over it, and the root fnode every path
// resolves from.
type Vault struct {
	uri string
	cfg *vaultconfig.Config

	depot    depot.Storable
	provider *cryptoprovider.Provider
	masterKey cryptoprovider.Key
	walLog   wal.Log

	vol     *volume.Volume
	txns    *txn.Manager
	content *content.Store
	fnodes  *fnode.Manager
	shut    *shutter.Registry
	metrics *vaultmetrics.Metrics

	sbArmor *sbArmorHandle

	// handleSeq hands out the tokens OpenFile(ReadWriteMode) registers
	// with shut: a monotone counter, not a txn id, since one open
	// handle outlives every individual Write/Truncate transaction it
	// issues.
	handleSeq atomic.Uint64

	mu     sync.RWMutex
	rootID eid.Eid
	closed bool
}

// sbArmorHandle serializes access to the super-block's dual-arm record
// across Close/checkpoint calls, which may run concurrently with an
// in-flight transaction's own commit.
type sbArmorHandle struct {
	mu  sync.Mutex
	arm *armor.Armor[uint64]
}

// Create formats a brand-new, empty repository at uri under password,
// and returns it open.
func Create(ctx context.Context, uri, password string, cfg *vaultconfig.Config) (*Vault, error) {
	const op = "vault.Create"
	if cfg == nil {
		cfg = vaultconfig.Default()
	}
	if err := vaultconfig.Validate(cfg); err != nil {
		return nil, vaulterr.Wrap(vaulterr.InvalidArgument, op, uri, err)
	}
	if cfg.ReadOnly {
		return nil, vaulterr.New(vaulterr.ReadOnly, op, uri)
	}
	if err := cryptoprovider.InitEnv(); err != nil {
		return nil, fmt.Errorf("vault: crypto self-check: %w", err)
	}

	d, err := depot.Open(uri)
	if err != nil {
		return nil, err
	}
	if err := d.Connect(ctx); err != nil {
		return nil, fmt.Errorf("vault: connect: %w", err)
	}
	exists, err := d.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("vault: exists check: %w", err)
	}
	if exists {
		return nil, vaulterr.New(vaulterr.AlreadyExists, op, uri)
	}
	if err := d.Init(ctx); err != nil {
		return nil, fmt.Errorf("vault: init: %w", err)
	}
	if err := d.Open(ctx); err != nil {
		return nil, fmt.Errorf("vault: open: %w", err)
	}

	cipher := cryptoprovider.Aes
	if cfg.Cipher != "" {
		cipher, err = cryptoprovider.ParseCipher(cfg.Cipher)
		if err != nil {
			return nil, vaulterr.Wrap(vaulterr.InvalidArgument, op, uri, err)
		}
	}
	provider, err := cryptoprovider.New(cfg.Cost(), cipher)
	if err != nil {
		return nil, fmt.Errorf("vault: new provider: %w", err)
	}

	masterKey, err := provider.GenMasterKey()
	if err != nil {
		return nil, fmt.Errorf("vault: generate master key: %w", err)
	}

	salt, err := cryptoprovider.GenSalt()
	if err != nil {
		return nil, fmt.Errorf("vault: generate salt: %w", err)
	}
	wrapped, err := provider.WrapMasterKey(masterKey, []byte(password), salt)
	if err != nil {
		return nil, fmt.Errorf("vault: wrap master key: %w", err)
	}

	volumeID := eid.MustNew()
	rootID := eid.MustNew()

	vol := volume.New(d, provider, masterKey, cfg.Compress, 0)
	walLog, err := openWAL(uri, cfg)
	if err != nil {
		return nil, err
	}
	txns := txn.New(vol, walLog, 0)
	store := content.New(d, provider, masterKey, vol.Allocator())
	fnodes := fnode.New(txns, store)

	now := time.Now()
	root := fnode.NewDir(rootID, fnode.Opts{VersionLimit: cfg.VersionLimit}, now)
	fnodes.Seed(root)

	tx := txns.Begin()
	if err := tx.Put(ctx, rootID, root.Marshal()); err != nil {
		_ = tx.Abort(ctx)
		return nil, fmt.Errorf("vault: stage root: %w", err)
	}
	if err := store.Checkpoint(ctx, tx); err != nil {
		_ = tx.Abort(ctx)
		return nil, fmt.Errorf("vault: checkpoint content manifest: %w", err)
	}
	commitStart := time.Now()
	commitErr := tx.Commit(ctx)
	cfg.Metrics.ObserveCommit("vault.Create", time.Since(commitStart), commitErr)
	if commitErr != nil {
		return nil, fmt.Errorf("vault: commit root: %w", commitErr)
	}

	sb := &superBlock{
		volumeID:         volumeID,
		ctimeMillis:      now.UnixMilli(),
		cost:             cfg.Cost(),
		cipher:           cipher,
		compress:         cfg.Compress,
		salt:             salt,
		wrappedMasterKey: wrapped,
		rootPtr:          rootID,
		watermark:        vol.Allocator().Watermark(),
		lastTxID:         tx.ID(),
	}
	arm := newSuperBlockArmor(d)
	if err := arm.Write(ctx, sb.marshal()); err != nil {
		return nil, fmt.Errorf("vault: write super-block: %w", err)
	}

	vaultlog.Info("vault: created", "uri", uri, "volume_id", volumeID.String())

	v := &Vault{
		uri:       uri,
		cfg:       cfg,
		depot:     d,
		provider:  provider,
		masterKey: masterKey,
		walLog:    walLog,
		vol:       vol,
		txns:      txns,
		content:   store,
		fnodes:    fnodes,
		shut:      shutter.New(),
		metrics:   cfg.Metrics,
		sbArmor:   &sbArmorHandle{arm: arm},
		rootID:    rootID,
	}
	return v, nil
}

// Open unlocks and opens an existing repository at uri with password.
func Open(ctx context.Context, uri, password string, cfg *vaultconfig.Config) (*Vault, error) {
	const op = "vault.Open"
	if cfg == nil {
		cfg = vaultconfig.Default()
	}
	if err := vaultconfig.Validate(cfg); err != nil {
		return nil, vaulterr.Wrap(vaulterr.InvalidArgument, op, uri, err)
	}
	if err := cryptoprovider.InitEnv(); err != nil {
		return nil, fmt.Errorf("vault: crypto self-check: %w", err)
	}

	d, err := depot.Open(uri)
	if err != nil {
		return nil, err
	}
	if err := d.Connect(ctx); err != nil {
		return nil, fmt.Errorf("vault: connect: %w", err)
	}
	exists, err := d.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("vault: exists check: %w", err)
	}
	if !exists {
		return nil, vaulterr.New(vaulterr.NotFound, op, uri)
	}
	if err := d.Open(ctx); err != nil {
		return nil, fmt.Errorf("vault: open: %w", err)
	}

	arm := newSuperBlockArmor(d)
	payload, err := arm.Load(ctx)
	if err != nil {
		return nil, err
	}
	sb, err := unmarshalSuperBlock(payload)
	if err != nil {
		return nil, err
	}

	provider, err := cryptoprovider.New(sb.cost, sb.cipher)
	if err != nil {
		return nil, fmt.Errorf("vault: new provider: %w", err)
	}
	masterKey, err := provider.UnwrapMasterKey(sb.wrappedMasterKey, []byte(password), sb.salt)
	if err != nil {
		if err == cryptoprovider.ErrWrongPassword {
			return nil, vaulterr.New(vaulterr.WrongPassword, op, uri)
		}
		return nil, fmt.Errorf("vault: unwrap master key: %w", err)
	}

	vol := volume.New(d, provider, masterKey, cfg.Compress, sb.watermark)

	var walLog wal.Log
	if cfg.ReadOnly {
		walLog = wal.NullLog{}
	} else {
		walLog, err = openWAL(uri, cfg)
		if err != nil {
			return nil, err
		}
	}

	txns := txn.New(vol, walLog, sb.lastTxID)
	if !cfg.ReadOnly {
		if err := txns.Recover(ctx); err != nil {
			return nil, fmt.Errorf("vault: recover: %w", err)
		}
	}

	store := content.New(d, provider, masterKey, vol.Allocator())
	if err := store.Restore(ctx, txns); err != nil {
		return nil, fmt.Errorf("vault: restore content manifest: %w", err)
	}

	fnodes := fnode.New(txns, store)
	root, err := fnodes.Get(ctx, sb.rootPtr)
	if err != nil {
		return nil, fmt.Errorf("vault: load root: %w", err)
	}

	vaultlog.Info("vault: opened", "uri", uri, "volume_id", sb.volumeID.String(), "read_only", cfg.ReadOnly)

	v := &Vault{
		uri:       uri,
		cfg:       cfg,
		depot:     d,
		provider:  provider,
		masterKey: masterKey,
		walLog:    walLog,
		vol:       vol,
		txns:      txns,
		content:   store,
		fnodes:    fnodes,
		shut:      shutter.New(),
		metrics:   cfg.Metrics,
		sbArmor:   &sbArmorHandle{arm: arm},
		rootID:    root.ID,
	}
	return v, nil
}

// openWAL derives a durable redo-log location for uri. Only the file://
// backend names a real directory the mmap-backed log can live next to;
// every other scheme gets a log under the process's temp directory,
// keyed off the URI itself so repeated opens of the same repository
// reuse (and can recover from) the same file.
func openWAL(uri string, cfg *vaultconfig.Config) (wal.Log, error) {
	if cfg.ReadOnly {
		return wal.NullLog{}, nil
	}

	var dir string
	if strings.HasPrefix(uri, "file://") {
		dir = strings.TrimPrefix(uri, "file://")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("vault: create wal dir: %w", err)
		}
	} else {
		sum := cryptoprovider.Hash([]byte(uri))
		dir = filepath.Join(os.TempDir(), "dittovault-wal-"+eid.Eid(sum).String()[:16])
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("vault: create wal dir: %w", err)
		}
	}

	log, err := wal.Open(filepath.Join(dir, "wal.log"))
	if err != nil {
		return nil, fmt.Errorf("vault: open wal: %w", err)
	}
	return log, nil
}

// Close flushes a final super-block if anything changed since the last
// one, releases the depot connection, and marks v closed. Safe to call
// more than once; later calls are no-ops.
func (v *Vault) Close(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil
	}

	if !v.cfg.ReadOnly {
		if err := v.checkpoint(ctx); err != nil {
			return err
		}
	}
	if err := v.walLog.Close(); err != nil {
		vaultlog.Warn("vault: close wal failed", "error", err.Error())
	}
	if err := v.depot.Close(ctx); err != nil {
		return fmt.Errorf("vault: close depot: %w", err)
	}

	v.closed = true
	vaultlog.Info("vault: closed", "uri", v.uri)
	return nil
}

// checkpoint persists the content manifest and a fresh super-block
// reflecting the current root, watermark and txid. Called from Close
// and may be called periodically by a caller wanting bounded WAL replay
// on an unclean shutdown.
func (v *Vault) checkpoint(ctx context.Context) error {
	tx := v.txns.Begin()
	if err := v.content.Checkpoint(ctx, tx); err != nil {
		_ = tx.Abort(ctx)
		return fmt.Errorf("vault: checkpoint content manifest: %w", err)
	}
	if err := v.commit(ctx, tx, "vault.checkpoint"); err != nil {
		return fmt.Errorf("vault: commit checkpoint: %w", err)
	}

	root, err := v.fnodes.Get(ctx, v.rootID)
	if err != nil {
		return fmt.Errorf("vault: load root for checkpoint: %w", err)
	}

	v.sbArmor.mu.Lock()
	defer v.sbArmor.mu.Unlock()

	payload, err := v.sbArmor.arm.Load(ctx)
	if err != nil {
		return fmt.Errorf("vault: reload super-block: %w", err)
	}
	sb, err := unmarshalSuperBlock(payload)
	if err != nil {
		return err
	}
	sb.rootPtr = root.ID
	sb.watermark = v.vol.Allocator().Watermark()
	sb.lastTxID = tx.ID()
	v.metrics.SetAllocatorWatermark(sb.watermark)

	return v.sbArmor.arm.Write(ctx, sb.marshal())
}

// commit times and records a transaction commit under op, so every mutating
// vault operation's latency and outcome show up in v.metrics uniformly.
func (v *Vault) commit(ctx context.Context, tx *txn.Transaction, op string) error {
	start := time.Now()
	err := tx.Commit(ctx)
	v.metrics.ObserveCommit(op, time.Since(start), err)
	return err
}

// requireOpen returns Closed if v has already been closed.
func (v *Vault) requireOpen(op string) error {
	if v.closed {
		return vaulterr.New(vaulterr.Closed, op, v.uri)
	}
	return nil
}

// requireWritable returns ReadOnly if v was opened read-only.
func (v *Vault) requireWritable(op, path string) error {
	if v.cfg.ReadOnly {
		return vaulterr.New(vaulterr.ReadOnly, op, path)
	}
	return nil
}

// resolve walks path from the root fnode, returning the fnode it names.
func (v *Vault) resolve(ctx context.Context, op, path string) (*fnode.Fnode, error) {
	parts, err := splitPath(op, path)
	if err != nil {
		return nil, err
	}

	cur, err := v.fnodes.Get(ctx, v.rootID)
	if err != nil {
		return nil, err
	}
	for _, name := range parts {
		if cur.Kind != fnode.Dir {
			return nil, vaulterr.New(vaulterr.NotFile, op, path)
		}
		childID, ok := cur.Entries.Lookup(name)
		if !ok {
			return nil, vaulterr.New(vaulterr.NotFound, op, path)
		}
		cur, err = v.fnodes.Get(ctx, childID)
		if err != nil {
			return nil, err
		}
	}
	return cur, nil
}

// resolveParent resolves path's parent directory and returns it
// alongside path's final element name, which the caller looks up or
// creates in that directory itself.
func (v *Vault) resolveParent(ctx context.Context, op, path string) (*fnode.Fnode, string, error) {
	parentParts, name, err := splitParent(op, path)
	if err != nil {
		return nil, "", err
	}
	parentPath := "/" + strings.Join(parentParts, "/")
	parent, err := v.resolve(ctx, op, parentPath)
	if err != nil {
		return nil, "", err
	}
	if parent.Kind != fnode.Dir {
		return nil, "", vaulterr.New(vaulterr.NotFile, op, path)
	}
	return parent, name, nil
}
