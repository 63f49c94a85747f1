// Encoding for a persisted Fnode record:
//
//	Header:
//	  - Kind: uint8 (1 byte)
//	  - Ctime: int64 unix nanoseconds (8 bytes)
//	  - Mtime: int64 unix nanoseconds (8 bytes)
//	  - VersionLimit: uint32 (4 bytes)
//
//	Kind == File: Version count uint32, then each version:
//	  - Ctime: int64 unix nanoseconds (8 bytes)
//	  - Len: uint64 (8 bytes)
//	  - Chunk count: uint32 (4 bytes)
//	  - Chunks: chunk count * eid.Size bytes
//
//	Kind == Dir: Entry count uint32, then each entry:
//	  - Name length: uint16 (2 bytes)
//	  - Name: name length bytes
//	  - Child: eid.Size bytes
package fnode

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/marmos91/dittovault/pkg/content"
	"github.com/marmos91/dittovault/pkg/eid"
	"github.com/marmos91/dittovault/pkg/vaulterr"
)

const headerSize = 1 + 8 + 8 + 4

// Marshal encodes f's persisted fields (everything but ID, which is
// the key it's stored under, not part of the payload).
func (f *Fnode) Marshal() []byte {
	buf := make([]byte, headerSize)
	buf[0] = byte(f.Kind)
	binary.BigEndian.PutUint64(buf[1:9], uint64(f.Ctime.UnixNano()))
	binary.BigEndian.PutUint64(buf[9:17], uint64(f.Mtime.UnixNano()))
	binary.BigEndian.PutUint32(buf[17:21], uint32(f.Opts.VersionLimit))

	switch f.Kind {
	case File:
		buf = appendUint32(buf, uint32(len(f.Versions)))
		for _, v := range f.Versions {
			buf = appendVersion(buf, v)
		}
	case Dir:
		entries := f.Entries.List()
		buf = appendUint32(buf, uint32(len(entries)))
		for _, e := range entries {
			buf = appendUint16(buf, uint16(len(e.Name)))
			buf = append(buf, e.Name...)
			buf = append(buf, e.Child[:]...)
		}
	}
	return buf
}

// Unmarshal decodes a Fnode previously produced by Marshal, assigning
// id as its identity.
func Unmarshal(id eid.Eid, data []byte) (*Fnode, error) {
	if len(data) < headerSize {
		return nil, vaulterr.New(vaulterr.Corrupted, "fnode.Unmarshal", id.String())
	}

	f := &Fnode{
		ID:    id,
		Kind:  Kind(data[0]),
		Ctime: time.Unix(0, int64(binary.BigEndian.Uint64(data[1:9]))),
		Mtime: time.Unix(0, int64(binary.BigEndian.Uint64(data[9:17]))),
		Opts:  Opts{VersionLimit: int(binary.BigEndian.Uint32(data[17:21]))},
	}
	rest := data[headerSize:]

	// rest is discarded once decoded rather than required to be empty:
	// an entity's storage layer only ever hands Unmarshal its true
	// plaintext length, but trailing bytes beyond the record aren't a
	// corruption signal worth failing on - decodeVersions/decodeEntries
	// already validate everything they consume.
	var err error
	switch f.Kind {
	case File:
		f.Versions, _, err = decodeVersions(rest)
	case Dir:
		f.Entries, _, err = decodeEntries(rest)
	default:
		err = vaulterr.New(vaulterr.Corrupted, "fnode.Unmarshal", id.String())
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

func appendVersion(buf []byte, v Version) []byte {
	buf = appendUint64(buf, uint64(v.Ctime.UnixNano()))
	buf = appendUint64(buf, v.Len)
	buf = appendUint32(buf, uint32(len(v.Chunks)))
	for _, c := range v.Chunks {
		buf = append(buf, c[:]...)
	}
	return buf
}

func decodeVersions(data []byte) ([]Version, []byte, error) {
	count, data, err := takeUint32(data)
	if err != nil {
		return nil, nil, err
	}
	versions := make([]Version, 0, count)
	for i := uint32(0); i < count; i++ {
		var v Version
		var ctimeNanos, length, chunkCount uint64

		ctimeNanos, data, err = takeUint64(data)
		if err != nil {
			return nil, nil, err
		}
		length, data, err = takeUint64(data)
		if err != nil {
			return nil, nil, err
		}
		var cc uint32
		cc, data, err = takeUint32(data)
		if err != nil {
			return nil, nil, err
		}
		chunkCount = uint64(cc)

		v.Ctime = time.Unix(0, int64(ctimeNanos))
		v.Len = length
		if uint64(len(data)) < chunkCount*eid.Size {
			return nil, nil, fmt.Errorf("fnode: truncated chunk list")
		}
		v.Chunks = make([]content.Hash, chunkCount)
		for j := uint64(0); j < chunkCount; j++ {
			h, err := eid.FromBytes(data[:eid.Size])
			if err != nil {
				return nil, nil, err
			}
			v.Chunks[j] = h
			data = data[eid.Size:]
		}
		versions = append(versions, v)
	}
	return versions, data, nil
}

func decodeEntries(data []byte) (Entries, []byte, error) {
	count, data, err := takeUint32(data)
	if err != nil {
		return Entries{}, nil, err
	}
	entries := newEntries()
	for i := uint32(0); i < count; i++ {
		var nameLen uint16
		nameLen, data, err = takeUint16(data)
		if err != nil {
			return Entries{}, nil, err
		}
		if len(data) < int(nameLen)+int(eid.Size) {
			return Entries{}, nil, fmt.Errorf("fnode: truncated entry")
		}
		name := string(data[:nameLen])
		data = data[nameLen:]
		child, err := eid.FromBytes(data[:eid.Size])
		if err != nil {
			return Entries{}, nil, err
		}
		data = data[eid.Size:]
		entries.Add(name, child)
	}
	return entries, data, nil
}

func appendUint16(buf []byte, v uint16) []byte {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func takeUint16(data []byte) (uint16, []byte, error) {
	if len(data) < 2 {
		return 0, nil, fmt.Errorf("fnode: truncated record")
	}
	return binary.BigEndian.Uint16(data[:2]), data[2:], nil
}

func takeUint32(data []byte) (uint32, []byte, error) {
	if len(data) < 4 {
		return 0, nil, fmt.Errorf("fnode: truncated record")
	}
	return binary.BigEndian.Uint32(data[:4]), data[4:], nil
}

func takeUint64(data []byte) (uint64, []byte, error) {
	if len(data) < 8 {
		return 0, nil, fmt.Errorf("fnode: truncated record")
	}
	return binary.BigEndian.Uint64(data[:8]), data[8:], nil
}
