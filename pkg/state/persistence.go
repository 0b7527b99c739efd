package state

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// stateFileSuffix is the one engine-owned filename pattern open
// question asks for: <workflowId>.state.json. The ".state" infix keeps
// cleanup's glob from colliding with unrelated JSON files dropped into the
// same directory (e.g. by a caller's own tooling).
const stateFileSuffix = ".state.json"

// Metadata is what GetStateMetadata returns.
type Metadata struct {
	FilePath     string
	Size         int64
	LastModified time.Time
}

// Persistence is the file-backed store for WorkflowState snapshots (spec
// §4.8). Grounded on the teacher's checkpoint.Manager: one JSON file per
// run under a directory, RWMutex-guarded, "append-only overwrite" writes.
type Persistence struct {
	mu  sync.RWMutex
	dir string
}

// NewPersistence creates the backing directory (mode 0700, matching the
// teacher's checkpoint manager) if it does not already exist.
func NewPersistence(dir string) (*Persistence, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &Persistence{dir: dir}, nil
}

func (p *Persistence) path(workflowID string) string {
	return filepath.Join(p.dir, workflowID+stateFileSuffix)
}

// Save writes s as the current snapshot for its workflow id, overwriting
// any prior snapshot. s.LastUpdateTime is stamped to now before writing.
func (p *Persistence) Save(s *WorkflowState) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	s.LastUpdateTime = time.Now().UTC()
	data, err := Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow state: %w", err)
	}
	if err := os.WriteFile(p.path(s.WorkflowID), data, 0600); err != nil {
		return fmt.Errorf("failed to write workflow state: %w", err)
	}
	return nil
}

// Load reads and rehydrates the snapshot for workflowID. A missing file
// returns (nil, nil), matching the teacher's checkpoint.Manager.Load.
func (p *Persistence) Load(workflowID string) (*WorkflowState, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	data, err := os.ReadFile(p.path(workflowID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read workflow state: %w", err)
	}
	return Unmarshal(data)
}

// DeleteState removes the snapshot for workflowID, ignoring not-found.
func (p *Persistence) DeleteState(workflowID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := os.Remove(p.path(workflowID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete workflow state: %w", err)
	}
	return nil
}

// ListStates returns every workflow id with a persisted snapshot.
func (p *Persistence) ListStates() ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	entries, err := os.ReadDir(p.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read state directory: %w", err)
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, stateFileSuffix) {
			ids = append(ids, strings.TrimSuffix(name, stateFileSuffix))
		}
	}
	return ids, nil
}

// GetStateMetadata reports the on-disk size and modification time for
// workflowID's snapshot, without reading or parsing its contents.
func (p *Persistence) GetStateMetadata(workflowID string) (Metadata, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	path := p.path(workflowID)
	info, err := os.Stat(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to stat workflow state: %w", err)
	}
	return Metadata{FilePath: path, Size: info.Size(), LastModified: info.ModTime()}, nil
}
