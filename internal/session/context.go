package session

import "context"

type snapshotContextKey struct{}

// ContextWithSnapshot stores the session snapshot in context.
func ContextWithSnapshot(ctx context.Context, snap Snapshot) context.Context {
	return context.WithValue(ctx, snapshotContextKey{}, snap)
}

// SnapshotFromContext extracts the session snapshot from context.
func SnapshotFromContext(ctx context.Context) (Snapshot, bool) {
	snap, ok := ctx.Value(snapshotContextKey{}).(Snapshot)
	return snap, ok
}
