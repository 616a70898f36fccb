package store

import (
	"context"

	"perch/internal/model"
)

// Counts reports per-type record changes from one batched write.
type Counts map[string]int

// Store is the boundary to the persistent storage collaborator. The engine
// only depends on this surface; the sqlite implementation under
// store/sqlitestore is one collaborator that satisfies it.
type Store interface {
	// WriteQueue applies one batch of classified records and returns how
	// many of each type changed.
	WriteQueue(ctx context.Context, recs []model.Record) (Counts, error)
	// GetUserSet returns the persisted member IDs of one membership set.
	GetUserSet(ctx context.Context, kind model.SetKind) ([]string, error)
	// GetConfig and SetConfig read and write keyed configuration values
	// (timeline cursors, rate-window state).
	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
	// HasPost reports whether a post is already persisted. Optional
	// capability, used only to shrink reply backfill sets.
	HasPost(ctx context.Context, id string) (bool, error)
	Close() error
}
