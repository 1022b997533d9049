package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	chaterr "github.com/vinayprograms/chatkit/errors"
)

// FileStoreConfig configures a FileStore.
type FileStoreConfig struct {
	// Path is the JSON file holding the whole pool.
	Path string

	// Required makes a missing file an error instead of an empty pool.
	Required bool

	// Perm is the mode for newly written files.
	// Default: 0644
	Perm fs.FileMode
}

// FileStore keeps a pool as one JSON object in a file. Writes go to a
// temporary file that is renamed over the original, so readers never see a
// partial document. Safe for concurrent use within one process.
type FileStore[T any] struct {
	mu     sync.Mutex
	config FileStoreConfig
}

// NewFileStore creates a file-backed store.
func NewFileStore[T any](cfg FileStoreConfig) (*FileStore[T], error) {
	if cfg.Path == "" {
		return nil, chaterr.InvalidInput("content file path required")
	}
	if cfg.Perm == 0 {
		cfg.Perm = 0o644
	}
	return &FileStore[T]{config: cfg}, nil
}

// Path returns the backing file path.
func (s *FileStore[T]) Path() string {
	return s.config.Path
}

func (s *FileStore[T]) load() (map[string]T, error) {
	data, err := os.ReadFile(s.config.Path)
	if errors.Is(err, fs.ErrNotExist) {
		if s.config.Required {
			return nil, chaterr.NotFound("content file not found",
				chaterr.WithMetadata("path", s.config.Path), chaterr.WithCause(err))
		}
		return make(map[string]T), nil
	}
	if err != nil {
		return nil, chaterr.StorageUnavailable("file", err)
	}

	items := make(map[string]T)
	if len(data) == 0 {
		return items, nil
	}
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, chaterr.CorruptState(s.config.Path, err)
	}
	return items, nil
}

func (s *FileStore[T]) save(items map[string]T) error {
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return chaterr.Wrap(err, "encode content")
	}

	dir := filepath.Dir(s.config.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return chaterr.StorageUnavailable("file", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.config.Path)+".*")
	if err != nil {
		return chaterr.StorageUnavailable("file", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return chaterr.StorageUnavailable("file", err)
	}
	if err := tmp.Chmod(s.config.Perm); err != nil {
		tmp.Close()
		return chaterr.StorageUnavailable("file", err)
	}
	if err := tmp.Close(); err != nil {
		return chaterr.StorageUnavailable("file", err)
	}
	if err := os.Rename(tmp.Name(), s.config.Path); err != nil {
		return chaterr.StorageUnavailable("file", fmt.Errorf("replace %s: %w", s.config.Path, err))
	}
	return nil
}

// GetAll returns every item.
func (s *FileStore[T]) GetAll(ctx context.Context) (map[string]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Get returns one item.
func (s *FileStore[T]) Get(ctx context.Context, id string) (T, bool, error) {
	var zero T
	items, err := s.GetAll(ctx)
	if err != nil {
		return zero, false, err
	}
	v, ok := items[id]
	return v, ok, nil
}

// Put creates or replaces an item.
func (s *FileStore[T]) Put(ctx context.Context, id string, v T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if id == "" {
		return chaterr.InvalidInput("content id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.load()
	if chaterr.Is(err, chaterr.ErrCodeNotFound) {
		items, err = make(map[string]T), nil
	}
	if err != nil {
		return err
	}
	items[id] = v
	return s.save(items)
}

// Delete removes an item.
func (s *FileStore[T]) Delete(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.load()
	if chaterr.Is(err, chaterr.ErrCodeNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if _, ok := items[id]; !ok {
		return false, nil
	}
	delete(items, id)
	return true, s.save(items)
}

var _ Store[struct{}] = (*FileStore[struct{}])(nil)
