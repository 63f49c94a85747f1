// File format for the mmap-backed WAL:
//
//	Header (64 bytes):
//	  - Magic: "DVWL" (4 bytes)
//	  - Version: uint16 (2 bytes)
//	  - Record count: uint32 (4 bytes)
//	  - Next write offset: uint64 (8 bytes)
//	  - Reserved: 46 bytes
//
//	Records (variable):
//	  - TxID: uint64 (8 bytes)
//	  - EntityType: uint8 (1 byte)
//	  - EntityID: 32 bytes
//	  - Action: uint8 (1 byte)
//	  - Payload length: uint32 (4 bytes)
//	  - Payload: variable
//
// Recovery replays records from the header's offset to NextOffset, in
// append order.
package wal

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/marmos91/dittovault/pkg/eid"
)

const (
	mmapMagic       = "DVWL"
	mmapVersion     = uint16(1)
	mmapHeaderSize  = 64
	mmapInitialSize = 4 * 1024 * 1024 // 4MiB
	mmapGrowth      = 2

	recordFixedSize = 8 + 1 + eid.Size + 1 + 4 // TxID+EntityType+EntityID+Action+len(Payload)
)

type mmapHeader struct {
	Magic      [4]byte
	Version    uint16
	Count      uint32
	NextOffset uint64
}

// MmapLog is a Log backed by a single growable memory-mapped file,
// appended to sequentially and replayed by scanning from the header's
// offset to its NextOffset.
type MmapLog struct {
	mu sync.Mutex

	file   *os.File
	data   []byte
	size   uint64
	header *mmapHeader
	closed bool
}

// Open opens (or creates) the WAL file at path.
func Open(path string) (*MmapLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("wal: mkdir: %w", err)
	}

	l := &MmapLog{}
	if _, err := os.Stat(path); err == nil {
		if err := l.openExisting(path); err != nil {
			return nil, err
		}
		return l, nil
	}
	if err := l.createNew(path); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *MmapLog) createNew(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("wal: create: %w", err)
	}
	if err := f.Truncate(int64(mmapInitialSize)); err != nil {
		f.Close()
		return fmt.Errorf("wal: truncate: %w", err)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, mmapInitialSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return fmt.Errorf("wal: mmap: %w", err)
	}

	l.file = f
	l.data = data
	l.size = mmapInitialSize
	l.header = &mmapHeader{Version: mmapVersion, NextOffset: mmapHeaderSize}
	copy(l.header.Magic[:], mmapMagic)
	l.writeHeader()
	return nil
}

func (l *MmapLog) openExisting(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("wal: open: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("wal: stat: %w", err)
	}
	size := uint64(info.Size())
	if size < mmapHeaderSize {
		f.Close()
		return ErrCorrupted
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return fmt.Errorf("wal: mmap: %w", err)
	}

	header := &mmapHeader{}
	copy(header.Magic[:], data[0:4])
	header.Version = binary.LittleEndian.Uint16(data[4:6])
	header.Count = binary.LittleEndian.Uint32(data[6:10])
	header.NextOffset = binary.LittleEndian.Uint64(data[10:18])

	if string(header.Magic[:]) != mmapMagic {
		unix.Munmap(data)
		f.Close()
		return ErrCorrupted
	}
	if header.Version != mmapVersion {
		unix.Munmap(data)
		f.Close()
		return ErrVersionMismatch
	}

	l.file = f
	l.data = data
	l.size = size
	l.header = header
	return nil
}

// Append writes rec to the end of the log.
func (l *MmapLog) Append(rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}

	needed := uint64(recordFixedSize + len(rec.Payload))
	if err := l.ensureSpace(needed); err != nil {
		return err
	}

	off := l.header.NextOffset
	binary.LittleEndian.PutUint64(l.data[off:], rec.TxID)
	off += 8
	l.data[off] = byte(rec.EntityType)
	off++
	copy(l.data[off:], rec.EntityID[:])
	off += eid.Size
	l.data[off] = byte(rec.Action)
	off++
	binary.LittleEndian.PutUint32(l.data[off:], uint32(len(rec.Payload)))
	off += 4
	copy(l.data[off:], rec.Payload)
	off += uint64(len(rec.Payload))

	l.header.NextOffset = off
	l.header.Count++
	l.writeHeader()
	return nil
}

// Sync flushes the mapped region to durable storage.
func (l *MmapLog) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	return unix.Msync(l.data, unix.MS_SYNC)
}

// Recover scans every record from the header's start offset to
// NextOffset, in append order.
func (l *MmapLog) Recover() ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}

	var records []Record
	off := uint64(mmapHeaderSize)
	end := l.header.NextOffset
	for off < end {
		if off+recordFixedSize > end {
			return nil, ErrCorrupted
		}
		var rec Record
		rec.TxID = binary.LittleEndian.Uint64(l.data[off:])
		off += 8
		rec.EntityType = EntityType(l.data[off])
		off++
		copy(rec.EntityID[:], l.data[off:off+eid.Size])
		off += eid.Size
		rec.Action = Action(l.data[off])
		off++
		payloadLen := binary.LittleEndian.Uint32(l.data[off:])
		off += 4
		if off+uint64(payloadLen) > end {
			return nil, ErrCorrupted
		}
		rec.Payload = append([]byte(nil), l.data[off:off+uint64(payloadLen)]...)
		off += uint64(payloadLen)

		records = append(records, rec)
	}
	return records, nil
}

// Truncate resets the log to empty, discarding every record appended
// so far. Called once their mutations are durably reflected in a new
// super-block.
func (l *MmapLog) Truncate() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	l.header.NextOffset = mmapHeaderSize
	l.header.Count = 0
	l.writeHeader()
	return unix.Msync(l.data, unix.MS_SYNC)
}

// Close syncs and releases the log's resources. Safe to call more than
// once.
func (l *MmapLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true

	if l.data != nil {
		_ = unix.Msync(l.data, unix.MS_SYNC)
		if err := unix.Munmap(l.data); err != nil {
			return fmt.Errorf("wal: munmap: %w", err)
		}
		l.data = nil
	}
	if l.file != nil {
		if err := l.file.Close(); err != nil {
			return fmt.Errorf("wal: close file: %w", err)
		}
		l.file = nil
	}
	return nil
}

func (l *MmapLog) writeHeader() {
	copy(l.data[0:4], l.header.Magic[:])
	binary.LittleEndian.PutUint16(l.data[4:6], l.header.Version)
	binary.LittleEndian.PutUint32(l.data[6:10], l.header.Count)
	binary.LittleEndian.PutUint64(l.data[10:18], l.header.NextOffset)
}

func (l *MmapLog) ensureSpace(needed uint64) error {
	if l.header.NextOffset+needed <= l.size {
		return nil
	}

	newSize := l.size * mmapGrowth
	for l.header.NextOffset+needed > newSize {
		newSize *= mmapGrowth
	}

	if err := unix.Munmap(l.data); err != nil {
		return fmt.Errorf("wal: munmap: %w", err)
	}
	if err := l.file.Truncate(int64(newSize)); err != nil {
		return fmt.Errorf("wal: truncate: %w", err)
	}
	data, err := unix.Mmap(int(l.file.Fd()), 0, int(newSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("wal: mmap: %w", err)
	}

	l.data = data
	l.size = newSize
	return nil
}

var _ Log = (*MmapLog)(nil)
