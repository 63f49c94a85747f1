package vaultlog

import (
	"log/slog"
)

// Standard field keys for structured logging. Use these consistently
// across log statements so entries aggregate and query cleanly.
const (
	// Tracing
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// Volume / transaction / entity identity
	KeyVolumeID = "volume_id"
	KeyTxID     = "tx_id"
	KeyEntityID = "entity_id"
	KeyPath     = "path"
	KeyOldPath  = "old_path"
	KeyNewPath  = "new_path"

	// Operation metadata
	KeyOperation  = "operation"
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyErrorCode  = "error_code"
	KeySource     = "source"
	KeyAttempt    = "attempt"

	// Storage geometry
	KeySize    = "size"
	KeyOffset  = "offset"
	KeyBlock   = "block"
	KeyFrame   = "frame"
	KeySegment = "segment"
	KeyChunk   = "chunk"
	KeyVersion = "version"
	KeyArm     = "arm"

	// I/O accounting
	KeyBytesRead    = "bytes_read"
	KeyBytesWritten = "bytes_written"

	// Cache layer
	KeyCacheHit      = "cache_hit"
	KeyCacheSize     = "cache_size"
	KeyCacheCapacity = "cache_capacity"
	KeyEvicted       = "evicted"

	// Directory operations
	KeyEntries = "entries"
)

// TraceID returns a slog.Attr for trace id.
func TraceID(id string) slog.Attr { return slog.String(KeyTraceID, id) }

// SpanID returns a slog.Attr for span id.
func SpanID(id string) slog.Attr { return slog.String(KeySpanID, id) }

// VolumeID returns a slog.Attr for the volume a log entry concerns.
func VolumeID(id string) slog.Attr { return slog.String(KeyVolumeID, id) }

// TxID returns a slog.Attr for a transaction id.
func TxID(id string) slog.Attr { return slog.String(KeyTxID, id) }

// EntityID returns a slog.Attr for an entity id.
func EntityID(id string) slog.Attr { return slog.String(KeyEntityID, id) }

// Path returns a slog.Attr for a file/directory path.
func Path(p string) slog.Attr { return slog.String(KeyPath, p) }

// OldPath returns a slog.Attr for the source path of a rename.
func OldPath(p string) slog.Attr { return slog.String(KeyOldPath, p) }

// NewPath returns a slog.Attr for the destination path of a rename.
func NewPath(p string) slog.Attr { return slog.String(KeyNewPath, p) }

// Operation returns a slog.Attr naming the operation in progress.
func Operation(op string) slog.Attr { return slog.String(KeyOperation, op) }

// DurationMs returns a slog.Attr for a duration in milliseconds.
func DurationMs(ms float64) slog.Attr { return slog.Float64(KeyDurationMs, ms) }

// Err returns a slog.Attr for an error, or a zero Attr if err is nil.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// ErrorCode returns a slog.Attr for a numeric/kind error code.
func ErrorCode(code int) slog.Attr { return slog.Int(KeyErrorCode, code) }

// Source returns a slog.Attr naming the component a log entry came from.
func Source(src string) slog.Attr { return slog.String(KeySource, src) }

// Attempt returns a slog.Attr for a retry attempt number.
func Attempt(n int) slog.Attr { return slog.Int(KeyAttempt, n) }

// Size returns a slog.Attr for a size in bytes.
func Size(s uint64) slog.Attr { return slog.Uint64(KeySize, s) }

// Offset returns a slog.Attr for a byte offset.
func Offset(off uint64) slog.Attr { return slog.Uint64(KeyOffset, off) }

// Block returns a slog.Attr for a block number.
func Block(n uint64) slog.Attr { return slog.Uint64(KeyBlock, n) }

// Frame returns a slog.Attr for a frame number.
func Frame(n uint64) slog.Attr { return slog.Uint64(KeyFrame, n) }

// Segment returns a slog.Attr for a segment id.
func Segment(id string) slog.Attr { return slog.String(KeySegment, id) }

// Chunk returns a slog.Attr for a chunk id/digest.
func Chunk(id string) slog.Attr { return slog.String(KeyChunk, id) }

// Version returns a slog.Attr for a file node version number.
func Version(v uint32) slog.Attr { return slog.Uint64(KeyVersion, uint64(v)) }

// Arm returns a slog.Attr for which super-block arm was used.
func Arm(arm string) slog.Attr { return slog.String(KeyArm, arm) }

// BytesRead returns a slog.Attr for actual bytes read.
func BytesRead(n int) slog.Attr { return slog.Int(KeyBytesRead, n) }

// BytesWritten returns a slog.Attr for actual bytes written.
func BytesWritten(n int) slog.Attr { return slog.Int(KeyBytesWritten, n) }

// CacheHit returns a slog.Attr for a cache hit/miss indicator.
func CacheHit(hit bool) slog.Attr { return slog.Bool(KeyCacheHit, hit) }

// CacheSize returns a slog.Attr for current cache size.
func CacheSize(size int64) slog.Attr { return slog.Int64(KeyCacheSize, size) }

// CacheCapacity returns a slog.Attr for maximum cache capacity.
func CacheCapacity(capacity int64) slog.Attr { return slog.Int64(KeyCacheCapacity, capacity) }

// Evicted returns a slog.Attr for number of entries evicted.
func Evicted(n int) slog.Attr { return slog.Int(KeyEvicted, n) }

// Entries returns a slog.Attr for number of directory entries.
func Entries(n int) slog.Attr { return slog.Int(KeyEntries, n) }
