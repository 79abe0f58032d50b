package thread

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/moby/sys/atomicwriter"
)

// Option configures a store.
type Option func(*storeOptions)

type storeOptions struct {
	logger *slog.Logger
	newID  func() string
}

// WithLogger sets the logger for store events.
func WithLogger(logger *slog.Logger) Option {
	return func(o *storeOptions) {
		o.logger = logger
	}
}

// WithIDGenerator replaces the uuid thread id generator.
func WithIDGenerator(fn func() string) Option {
	return func(o *storeOptions) {
		o.newID = fn
	}
}

func newStoreOptions(opts []Option) storeOptions {
	o := storeOptions{newID: uuid.NewString}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// document is the on-disk shape of both log files.
type document struct {
	Messages []Message `json:"messages"`
}

// FileStore keeps each thread as two JSON documents in a directory:
// <id>.json (active log) and <id>_history.json (history log).
// Files are replaced atomically on every write.
type FileStore struct {
	dir  string
	opts storeOptions
	mu   sync.Mutex
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates dir if needed and returns a store rooted there.
func NewFileStore(dir string, opts ...Option) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create threads dir: %w", err)
	}
	return &FileStore{dir: dir, opts: newStoreOptions(opts)}, nil
}

// validID reports whether id can name files inside the store directory.
func validID(id string) bool {
	return id != "" && id != "." && !strings.Contains(id, "..") && !strings.ContainsAny(id, `/\`+"\x00")
}

func (s *FileStore) activePath(id string) string  { return filepath.Join(s.dir, id+".json") }
func (s *FileStore) historyPath(id string) string { return filepath.Join(s.dir, id+"_history.json") }

func (s *FileStore) Create(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := s.opts.newID()
	if !validID(id) {
		return "", fmt.Errorf("create thread: invalid id %q", id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeDoc(s.activePath(id), nil); err != nil {
		return "", err
	}
	if err := writeDoc(s.historyPath(id), nil); err != nil {
		return "", err
	}
	s.opts.logger.Info("thread created", "thread_id", id)
	return id, nil
}

func (s *FileStore) Append(ctx context.Context, id string, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !validID(id) {
		return fmt.Errorf("append to thread %s: %w", id, ErrThreadNotFound)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	active, err := readDoc(s.activePath(id))
	if err != nil {
		return fmt.Errorf("append to thread %s: %w", id, err)
	}
	active, repaired := appendActive(active, msg)
	if repaired > 0 {
		s.opts.logger.Warn("repaired unanswered tool calls", "thread_id", id, "synthesized", repaired)
	}
	if err := writeDoc(s.activePath(id), active); err != nil {
		return fmt.Errorf("append to thread %s: %w", id, err)
	}
	if err := s.appendHistoryLocked(id, msg); err != nil {
		return err
	}
	s.opts.logger.Info("message added", "thread_id", id, "role", msg.Role, "tool_calls", len(msg.ToolCalls))
	return nil
}

func (s *FileStore) List(ctx context.Context, id string, opts ListOptions) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !validID(id) {
		return []Message{}, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	active, err := readDoc(s.activePath(id))
	if errors.Is(err, ErrThreadNotFound) {
		return []Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list thread %s: %w", id, err)
	}
	return Filter(active, opts), nil
}

func (s *FileStore) ModifyAt(ctx context.Context, id string, index int, msg Message) error {
	return s.edit(ctx, id, index, func(active []Message) []Message {
		active[index] = msg
		return active
	})
}

func (s *FileStore) RemoveAt(ctx context.Context, id string, index int) error {
	return s.edit(ctx, id, index, func(active []Message) []Message {
		return append(active[:index], active[index+1:]...)
	})
}

func (s *FileStore) edit(ctx context.Context, id string, index int, fn func([]Message) []Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !validID(id) {
		return fmt.Errorf("edit thread %s: %w", id, ErrThreadNotFound)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	active, err := readDoc(s.activePath(id))
	if err != nil {
		return fmt.Errorf("edit thread %s: %w", id, err)
	}
	if index < 0 || index >= len(active) {
		return fmt.Errorf("edit thread %s: %w: %d (len %d)", id, ErrIndexOutOfRange, index, len(active))
	}
	if err := writeDoc(s.activePath(id), fn(active)); err != nil {
		return fmt.Errorf("edit thread %s: %w", id, err)
	}
	s.opts.logger.Info("message edited", "thread_id", id, "index", index)
	return nil
}

func (s *FileStore) Reset(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !validID(id) {
		return fmt.Errorf("reset thread %s: %w", id, ErrThreadNotFound)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(s.activePath(id)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("reset thread %s: %w", id, ErrThreadNotFound)
		}
		return fmt.Errorf("reset thread %s: %w", id, err)
	}
	if err := writeDoc(s.activePath(id), nil); err != nil {
		return fmt.Errorf("reset thread %s: %w", id, err)
	}
	s.opts.logger.Info("thread reset, history kept", "thread_id", id)
	return nil
}

func (s *FileStore) AppendHistory(ctx context.Context, id string, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !validID(id) {
		return fmt.Errorf("append history of thread %s: %w", id, ErrThreadNotFound)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(s.activePath(id)); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("append history of thread %s: %w", id, ErrThreadNotFound)
	}
	if err := s.appendHistoryLocked(id, msg); err != nil {
		return err
	}
	s.opts.logger.Info("message added to history", "thread_id", id, "role", msg.Role)
	return nil
}

// appendHistoryLocked appends to the history file, creating it when missing.
func (s *FileStore) appendHistoryLocked(id string, msg Message) error {
	history, err := readDoc(s.historyPath(id))
	if err != nil && !errors.Is(err, ErrThreadNotFound) {
		return fmt.Errorf("append history of thread %s: %w", id, err)
	}
	if err := writeDoc(s.historyPath(id), append(history, msg)); err != nil {
		return fmt.Errorf("append history of thread %s: %w", id, err)
	}
	return nil
}

func (s *FileStore) History(ctx context.Context, id string) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !validID(id) {
		return nil, fmt.Errorf("history of thread %s: %w", id, ErrThreadNotFound)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	history, err := readDoc(s.historyPath(id))
	if err != nil {
		return nil, fmt.Errorf("history of thread %s: %w", id, err)
	}
	return cloneAll(history), nil
}

func readDoc(path string) ([]Message, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrThreadNotFound
		}
		return nil, err
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return doc.Messages, nil
}

func writeDoc(path string, msgs []Message) error {
	if msgs == nil {
		msgs = []Message{}
	}
	data, err := json.Marshal(document{Messages: msgs})
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	return atomicwriter.WriteFile(path, data, 0o644)
}
