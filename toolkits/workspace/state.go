package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/moby/sys/atomicwriter"
	"gopkg.in/yaml.v3"
)

// Folder is an open folder listed to the given depth.
type Folder struct {
	Path  string `yaml:"path"`
	Depth int    `yaml:"depth"`
}

// TerminalEntry is one command run since the last render.
type TerminalEntry struct {
	Command string `yaml:"command"`
	Output  string `yaml:"output"`
	Success bool   `yaml:"success"`
}

// Trial is a tracked implementation attempt.
type Trial struct {
	ID     string `yaml:"id"`
	Status string `yaml:"status"`
	Note   string `yaml:"note,omitempty"`
}

// State is the persisted workspace. Slices keep insertion order.
type State struct {
	Initialized bool            `yaml:"initialized"`
	Folders     []Folder        `yaml:"open_folders"`
	Files       []string        `yaml:"open_files"`
	Terminal    []TerminalEntry `yaml:"last_terminal_session"`
	Trials      []Trial         `yaml:"implementation_trials"`
	Failures    []string        `yaml:"latest_failures"`
}

// OpenFolder adds path unless it is already open and reports whether it was added.
func (s *State) OpenFolder(path string, depth int) bool {
	if slices.ContainsFunc(s.Folders, func(f Folder) bool { return f.Path == path }) {
		return false
	}
	s.Folders = append(s.Folders, Folder{Path: path, Depth: depth})
	return true
}

// OpenFile adds path unless it is already open and reports whether it was added.
func (s *State) OpenFile(path string) bool {
	if slices.Contains(s.Files, path) {
		return false
	}
	s.Files = append(s.Files, path)
	return true
}

// TrackTrial inserts or replaces the trial with t.ID, keeping its position.
func (s *State) TrackTrial(t Trial) {
	for i := range s.Trials {
		if s.Trials[i].ID == t.ID {
			s.Trials[i] = t
			return
		}
	}
	s.Trials = append(s.Trials, t)
}

func (s State) clone() State {
	s.Folders = slices.Clone(s.Folders)
	s.Files = slices.Clone(s.Files)
	s.Terminal = slices.Clone(s.Terminal)
	s.Trials = slices.Clone(s.Trials)
	s.Failures = slices.Clone(s.Failures)
	return s
}

// StateStore holds the workspace state and, when it has a path, mirrors every
// change to a YAML file written atomically. Safe for concurrent use.
type StateStore struct {
	mu     sync.Mutex
	path   string
	state  State
	loaded bool
}

// NewStateStore returns a store backed by path. An empty path keeps state in memory.
func NewStateStore(path string) *StateStore {
	return &StateStore{path: path}
}

// Snapshot returns a copy of the current state.
func (s *StateStore) Snapshot() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return State{}, err
	}
	return s.state.clone(), nil
}

// Update applies fn to the state and persists the result. If saving fails the
// in-memory state is left unchanged.
func (s *StateStore) Update(fn func(*State)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return err
	}
	next := s.state.clone()
	fn(&next)
	if err := s.save(next); err != nil {
		return err
	}
	s.state = next
	return nil
}

func (s *StateStore) load() error {
	if s.loaded || s.path == "" {
		s.loaded = true
		return nil
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("workspace: read state: %w", err)
	}
	var st State
	if err := yaml.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("workspace: decode state %s: %w", s.path, err)
	}
	s.state = st
	s.loaded = true
	return nil
}

func (s *StateStore) save(st State) error {
	if s.path == "" {
		return nil
	}
	data, err := yaml.Marshal(st)
	if err != nil {
		return fmt.Errorf("workspace: encode state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("workspace: state dir: %w", err)
	}
	if err := atomicwriter.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("workspace: write state: %w", err)
	}
	return nil
}
