package txn

import (
	"encoding/binary"
	"fmt"

	"github.com/marmos91/dittovault/pkg/block"
	"github.com/marmos91/dittovault/pkg/volume"
)

// encodeMutationPayload serializes the old (pre-transaction) and new
// (staged) address of one entity mutation into a WAL record payload.
// Carrying both, rather than just the new address, lets recovery redo
// or discard a transaction without consulting live volume state that
// may have moved on since the crash.
func encodeMutationPayload(old, new block.Addr) []byte {
	oldBytes := volume.EncodeAddr(old)
	newBytes := volume.EncodeAddr(new)

	out := make([]byte, 4+len(oldBytes)+4+len(newBytes))
	binary.BigEndian.PutUint32(out[0:4], uint32(len(oldBytes)))
	copy(out[4:4+len(oldBytes)], oldBytes)
	off := 4 + len(oldBytes)
	binary.BigEndian.PutUint32(out[off:off+4], uint32(len(newBytes)))
	copy(out[off+4:], newBytes)
	return out
}

// decodeMutationPayload reverses encodeMutationPayload.
func decodeMutationPayload(data []byte) (old, new block.Addr, err error) {
	if len(data) < 4 {
		return nil, nil, fmt.Errorf("txn: mutation payload: truncated old-length header")
	}
	oldLen := int(binary.BigEndian.Uint32(data[0:4]))
	data = data[4:]
	if len(data) < oldLen {
		return nil, nil, fmt.Errorf("txn: mutation payload: truncated old address")
	}
	old, err = volume.DecodeAddr(data[:oldLen])
	if err != nil {
		return nil, nil, fmt.Errorf("txn: decode old address: %w", err)
	}
	data = data[oldLen:]

	if len(data) < 4 {
		return nil, nil, fmt.Errorf("txn: mutation payload: truncated new-length header")
	}
	newLen := int(binary.BigEndian.Uint32(data[0:4]))
	data = data[4:]
	if len(data) < newLen {
		return nil, nil, fmt.Errorf("txn: mutation payload: truncated new address")
	}
	new, err = volume.DecodeAddr(data[:newLen])
	if err != nil {
		return nil, nil, fmt.Errorf("txn: decode new address: %w", err)
	}
	return old, new, nil
}
