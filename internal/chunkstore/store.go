// Package chunkstore persists raw chunk payloads keyed by (session, chunk index).
//
// A Put either commits the full byte stream or leaves nothing visible to Get,
// Stat and Locate. Putting the same key again replaces the prior object.
package chunkstore

import (
	"context"
	"io"
	"sort"

	"github.com/rcliao/consult-recorder/internal/model"
)

// Store defines the chunk payload storage interface.
type Store interface {
	// Put streams r to durable storage under (sessionID, index).
	Put(ctx context.Context, sessionID string, index int, mimeType string, r io.Reader) (model.StorageRef, error)

	// Get opens a committed chunk. Returns model.ErrNotFound if absent.
	Get(ctx context.Context, sessionID string, index int) (io.ReadCloser, error)

	// Stat returns the reference of a committed chunk without opening it.
	Stat(ctx context.Context, sessionID string, index int) (model.StorageRef, error)

	// Locate lists every committed chunk of a session in ascending index order.
	Locate(ctx context.Context, sessionID string) ([]model.StorageRef, error)
}

// ReadURLer is implemented by backends that can hand out their own read
// destinations (signed or CDN URLs) instead of the service's read endpoint.
type ReadURLer interface {
	ReadURL(ctx context.Context, key string) (string, error)
}

// ctxReader aborts a stream once its context is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func sortRefs(refs []model.StorageRef) {
	sort.Slice(refs, func(i, j int) bool { return refs[i].ChunkIndex < refs[j].ChunkIndex })
}
