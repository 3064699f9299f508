package chunkstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/rcliao/consult-recorder/internal/model"
)

const chunkPrefix = "chunk_"

// FSStore implements Store on the local filesystem under root/sessions/<id>/chunk_<n>.
// Writes land in a hidden temp file in the same directory and are renamed into place.
type FSStore struct {
	root string
}

// NewFSStore creates the root directory if needed.
func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create chunk dir: %w", err)
	}
	return &FSStore{root: root}, nil
}

func (s *FSStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

func (s *FSStore) Put(ctx context.Context, sessionID string, index int, mimeType string, r io.Reader) (model.StorageRef, error) {
	key := model.ChunkKey(sessionID, index)
	dst := s.path(key)
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return model.StorageRef{}, &model.StorageError{Op: "mkdir", Err: err}
	}

	tmp, err := os.CreateTemp(dir, "."+chunkPrefix+strconv.Itoa(index)+"-*.part")
	if err != nil {
		return model.StorageRef{}, &model.StorageError{Op: "create", Err: err}
	}
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	n, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: r})
	if err != nil {
		return model.StorageRef{}, &model.StorageError{Op: "write", Err: err}
	}
	if err := tmp.Sync(); err != nil {
		return model.StorageRef{}, &model.StorageError{Op: "sync", Err: err}
	}
	if err := tmp.Close(); err != nil {
		return model.StorageRef{}, &model.StorageError{Op: "close", Err: err}
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return model.StorageRef{}, &model.StorageError{Op: "commit", Err: err}
	}
	committed = true

	info, err := os.Stat(dst)
	if err != nil {
		return model.StorageRef{}, &model.StorageError{Op: "stat", Err: err}
	}
	logrus.WithFields(logrus.Fields{"session": sessionID, "chunk": index, "bytes": n}).Debug("chunk committed")
	return model.StorageRef{
		SessionID:  sessionID,
		ChunkIndex: index,
		Key:        key,
		Size:       n,
		StoredAt:   info.ModTime().UTC(),
	}, nil
}

func (s *FSStore) Get(ctx context.Context, sessionID string, index int) (io.ReadCloser, error) {
	f, err := os.Open(s.path(model.ChunkKey(sessionID, index)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open chunk: %w", err)
	}
	return f, nil
}

func (s *FSStore) Stat(ctx context.Context, sessionID string, index int) (model.StorageRef, error) {
	key := model.ChunkKey(sessionID, index)
	info, err := os.Stat(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return model.StorageRef{}, model.ErrNotFound
	}
	if err != nil {
		return model.StorageRef{}, fmt.Errorf("stat chunk: %w", err)
	}
	return model.StorageRef{
		SessionID:  sessionID,
		ChunkIndex: index,
		Key:        key,
		Size:       info.Size(),
		StoredAt:   info.ModTime().UTC(),
	}, nil
}

func (s *FSStore) Locate(ctx context.Context, sessionID string) ([]model.StorageRef, error) {
	entries, err := os.ReadDir(s.path(model.SessionPrefix(sessionID)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session dir: %w", err)
	}

	var refs []model.StorageRef
	for _, e := range entries {
		name := e.Name()
		// hidden names are uncommitted temp files
		if e.IsDir() || !strings.HasPrefix(name, chunkPrefix) {
			continue
		}
		index, err := strconv.Atoi(strings.TrimPrefix(name, chunkPrefix))
		if err != nil || index < 0 {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		refs = append(refs, model.StorageRef{
			SessionID:  sessionID,
			ChunkIndex: index,
			Key:        model.ChunkKey(sessionID, index),
			Size:       info.Size(),
			StoredAt:   info.ModTime().UTC(),
		})
	}
	sortRefs(refs)
	return refs, nil
}
