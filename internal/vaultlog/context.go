package vaultlog

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

// logContextKey is the key for LogContext in context.Context
var logContextKey = contextKey{}

// LogContext holds operation-scoped logging context for a volume operation:
// the volume it targets, the transaction carrying it (if any), and the
// entity it names.
type LogContext struct {
	TraceID   string    // caller-supplied trace id for request correlation
	SpanID    string    // caller-supplied span id
	VolumeID  string    // volume URI or label
	TxID      string    // transaction id, empty outside a transaction
	EntityID  string    // entity id the operation targets, empty if none
	StartTime time.Time // for duration calculation
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a new LogContext scoped to the given volume.
func NewLogContext(volumeID string) *LogContext {
	return &LogContext{
		VolumeID:  volumeID,
		StartTime: time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	return &LogContext{
		TraceID:   lc.TraceID,
		SpanID:    lc.SpanID,
		VolumeID:  lc.VolumeID,
		TxID:      lc.TxID,
		EntityID:  lc.EntityID,
		StartTime: lc.StartTime,
	}
}

// WithTx returns a copy with the transaction id set.
func (lc *LogContext) WithTx(txID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TxID = txID
	}
	return clone
}

// WithEntity returns a copy with the entity id set.
func (lc *LogContext) WithEntity(entityID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.EntityID = entityID
	}
	return clone
}

// WithTrace returns a copy with trace info set
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TraceID = traceID
		clone.SpanID = spanID
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
