// Package persistence provides the atomic single-file JSON-array
// snapshot described in spec §4.4 and §6 ("Persisted state layout").
// Grounded directly on internal/storage/storage.go's Put: marshal,
// write to a temp sibling, rename over the target. Adapted from that
// file's per-key hierarchical layout into a single array file, since the
// supervisor's only durable state is the PersistedSession list.
package persistence

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/sessiond/sessiond/pkg/types"
)

// Store manages a single JSON array file of PersistedSession records.
// It has no internal locking: the Manager is its sole writer, by
// construction, per spec §4.4 ("No concurrent-writer protection is
// required").
type Store struct {
	path string
}

// New creates a Store backed by path. The containing directory is
// created lazily on first write.
func New(path string) *Store {
	return &Store{path: path}
}

// Load returns every persisted session, or an empty slice if the file
// does not yet exist. Other I/O errors propagate.
func (s *Store) Load() ([]types.PersistedSession, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []types.PersistedSession{}, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return []types.PersistedSession{}, nil
	}
	var out []types.PersistedSession
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Add upserts a record by id: replaces an existing entry with the same
// id, or appends.
func (s *Store) Add(rec types.PersistedSession) error {
	return s.mutate(func(all []types.PersistedSession) []types.PersistedSession {
		for i, r := range all {
			if r.ID == rec.ID {
				all[i] = rec
				return all
			}
		}
		return append(all, rec)
	})
}

// Update applies patch to the record matching id and rewrites the file.
// A missing id leaves the records unchanged (the caller only updates records it knows exist).
func (s *Store) Update(id string, patch func(*types.PersistedSession)) error {
	return s.mutate(func(all []types.PersistedSession) []types.PersistedSession {
		for i := range all {
			if all[i].ID == id {
				patch(&all[i])
				break
			}
		}
		return all
	})
}

// Remove deletes the record with the given id, if present.
func (s *Store) Remove(id string) error {
	return s.RemoveMany([]string{id})
}

// RemoveMany deletes every record whose id is in ids.
func (s *Store) RemoveMany(ids []string) error {
	toRemove := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		toRemove[id] = struct{}{}
	}
	return s.mutate(func(all []types.PersistedSession) []types.PersistedSession {
		kept := all[:0]
		for _, r := range all {
			if _, drop := toRemove[r.ID]; !drop {
				kept = append(kept, r)
			}
		}
		return kept
	})
}

// mutate loads, applies fn, and atomically rewrites the file.
func (s *Store) mutate(fn func([]types.PersistedSession) []types.PersistedSession) error {
	all, err := s.Load()
	if err != nil {
		return err
	}
	updated := fn(all)
	return s.write(updated)
}

func (s *Store) write(all []types.PersistedSession) error {
	if all == nil {
		all = []types.PersistedSession{}
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
