// Package wal is the transaction manager's redo log: an append-only
// record of pending entity mutations, replayed at open to recover from
// a crash between staging a transaction's writes and advancing the
// super-block.
package wal

import (
	"errors"

	"github.com/marmos91/dittovault/pkg/eid"
)

var (
	// ErrClosed is returned when operations are attempted on a closed WAL.
	ErrClosed = errors.New("wal: closed")

	// ErrCorrupted is returned when the WAL file's header fails validation.
	ErrCorrupted = errors.New("wal: corrupted")

	// ErrVersionMismatch is returned when an existing WAL file's format
	// version doesn't match this build's.
	ErrVersionMismatch = errors.New("wal: version mismatch")
)

// EntityType distinguishes what kind of object a record's payload
// describes, since super-block, address and WAL-marker records share
// one log.
type EntityType uint8

const (
	EntityAddress EntityType = iota
	EntitySuperBlock
)

// Action is the mutation a record describes. ActionCommit is a marker
// record (no EntityID/Payload) closing out a transaction's prior
// New/Update/Delete records.
type Action uint8

const (
	ActionNew Action = iota
	ActionUpdate
	ActionDelete
	ActionCommit
)

func (a Action) String() string {
	switch a {
	case ActionNew:
		return "new"
	case ActionUpdate:
		return "update"
	case ActionDelete:
		return "delete"
	case ActionCommit:
		return "commit"
	default:
		return "unknown"
	}
}

// Record is one WAL entry: a transaction's pending mutation of an
// entity, or (Action == ActionCommit) the marker that closes a
// transaction out. Payload is the serialized post-image already staged
// in the depot but not yet visible to readers.
type Record struct {
	TxID       uint64
	EntityType EntityType
	EntityID   eid.Eid
	Action     Action
	Payload    []byte
}

// Log is the append/replay/truncate capability the transaction manager
// needs from a WAL implementation. Implementations must be safe for
// concurrent use.
type Log interface {
	// Append durably records rec before returning.
	Append(rec Record) error

	// Sync forces any buffered writes to durable storage.
	Sync() error

	// Recover replays every record currently in the log, in append
	// order, for crash-recovery scanning at open.
	Recover() ([]Record, error)

	// Truncate discards every record appended so far. Called once a
	// new super-block covering them has been durably written.
	Truncate() error

	// Close releases the log's resources, syncing first.
	Close() error
}

// NullLog is a no-op Log for read-only volumes, which never append to
// the WAL and have nothing to recover by construction.
type NullLog struct{}

func (NullLog) Append(Record) error      { return nil }
func (NullLog) Sync() error               { return nil }
func (NullLog) Recover() ([]Record, error) { return nil, nil }
func (NullLog) Truncate() error           { return nil }
func (NullLog) Close() error              { return nil }

var _ Log = NullLog{}
