package otas

import (
	"context"
	"fmt"
)

// The error slot is a per-request value carried in the request context. Each
// middleware adapter installs a fresh slot before calling downstream, so
// concurrent requests can never see each other's errors. The slot holds at
// most one error; the first write wins.

type errorSlotKey struct{}

type errorSlot struct {
	err error
}

// WithErrorTracking returns a context carrying a fresh error slot. Middleware
// adapters install it before invoking the downstream handler.
func WithErrorTracking(ctx context.Context) context.Context {
	return context.WithValue(ctx, errorSlotKey{}, &errorSlot{})
}

// ErrorTrackingValue returns the key and a fresh slot for frameworks that
// store per-request values directly instead of deriving contexts, such as
// fasthttp's RequestCtx user values. NoteError and TrackedError work on any
// context.Context whose Value resolves the returned key to the returned slot.
func ErrorTrackingValue() (key, value any) {
	return errorSlotKey{}, &errorSlot{}
}

// NoteError attributes err to the request owning ctx. Framework error hooks
// call it when a downstream handler fails in a way the middleware cannot see
// directly. It is a no-op outside an instrumented request or for a nil err.
func NoteError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	slot, ok := ctx.Value(errorSlotKey{}).(*errorSlot)
	if !ok || slot.err != nil {
		return
	}
	slot.err = err
}

// TrackedError returns the short text of the error attributed to this
// request, or "" when none was recorded.
func TrackedError(ctx context.Context) string {
	slot, ok := ctx.Value(errorSlotKey{}).(*errorSlot)
	if !ok || slot.err == nil {
		return ""
	}
	return slot.err.Error()
}

// DescribePanic renders a recovered panic value as a short error string,
// without a stack trace.
func DescribePanic(recovered any) string {
	switch v := recovered.(type) {
	case string:
		return v
	case error:
		return v.Error()
	default:
		return fmt.Sprint(v)
	}
}
