package chunkstore

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/rcliao/consult-recorder/internal/model"
)

// MemStore keeps payloads in memory. Each Put buffers the whole chunk before
// committing, so it is meant for tests and local demos only.
type MemStore struct {
	mu      sync.RWMutex
	objects map[string]memObject
}

type memObject struct {
	ref  model.StorageRef
	data []byte
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{objects: make(map[string]memObject)}
}

func (s *MemStore) Put(ctx context.Context, sessionID string, index int, mimeType string, r io.Reader) (model.StorageRef, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, &ctxReader{ctx: ctx, r: r}); err != nil {
		return model.StorageRef{}, &model.StorageError{Op: "write", Err: err}
	}
	key := model.ChunkKey(sessionID, index)
	ref := model.StorageRef{
		SessionID:  sessionID,
		ChunkIndex: index,
		Key:        key,
		Size:       int64(buf.Len()),
		StoredAt:   time.Now().UTC(),
	}
	s.mu.Lock()
	s.objects[key] = memObject{ref: ref, data: buf.Bytes()}
	s.mu.Unlock()
	return ref, nil
}

func (s *MemStore) Get(ctx context.Context, sessionID string, index int) (io.ReadCloser, error) {
	s.mu.RLock()
	obj, ok := s.objects[model.ChunkKey(sessionID, index)]
	s.mu.RUnlock()
	if !ok {
		return nil, model.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (s *MemStore) Stat(ctx context.Context, sessionID string, index int) (model.StorageRef, error) {
	s.mu.RLock()
	obj, ok := s.objects[model.ChunkKey(sessionID, index)]
	s.mu.RUnlock()
	if !ok {
		return model.StorageRef{}, model.ErrNotFound
	}
	return obj.ref, nil
}

func (s *MemStore) Locate(ctx context.Context, sessionID string) ([]model.StorageRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var refs []model.StorageRef
	for _, obj := range s.objects {
		if obj.ref.SessionID == sessionID {
			refs = append(refs, obj.ref)
		}
	}
	sortRefs(refs)
	return refs, nil
}
