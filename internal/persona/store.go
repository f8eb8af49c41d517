package persona

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/nugget/forge-orchestrator/internal/forgeerr"
)

// Filter narrows a List call.
type Filter struct {
	Domain string // empty matches all domains
}

// Store is the persistent library of agent specifications. Storage is
// one YAML document per persona under dir/<id>.yaml, indexed in memory
// at load time; writes flush to disk (fsync) before returning.
type Store struct {
	dir    string
	logger *slog.Logger

	mu    sync.RWMutex
	index map[string]Persona
}

// Open loads (or creates) a persona store rooted at dir.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, forgeerr.PersonaStoreError("create persona dir", err)
	}
	s := &Store{dir: dir, logger: logger, index: make(map[string]Persona)}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return forgeerr.PersonaStoreError("read persona dir", err)
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".yaml" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			s.logger.Warn("skipping unreadable persona file", "file", e.Name(), "error", err)
			continue
		}
		var p Persona
		if err := yaml.Unmarshal(data, &p); err != nil {
			s.logger.Warn("skipping malformed persona file", "file", e.Name(), "error", err)
			continue
		}
		s.index[p.ID] = p
	}
	return nil
}

// Match finds the best existing persona for the requested DNA. It
// returns ok=false when no persona clears the reuse threshold (0.7).
// Ties are broken by higher success score, then more recent use.
func (s *Store) Match(requirements DNA) (result MatchResult, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best Persona
	bestSim := -1.0
	found := false
	for _, p := range s.index {
		sim := Similarity(requirements, p.DNA)
		if sim < reuseThreshold {
			continue
		}
		if !found || sim > bestSim ||
			(sim == bestSim && better(p, best)) {
			best, bestSim, found = p, sim, true
		}
	}
	if !found {
		return MatchResult{}, false
	}
	return MatchResult{Persona: best, Similarity: bestSim}, true
}

// better reports whether candidate should replace current as the
// tie-break winner: higher score first, then more recently used.
func better(candidate, current Persona) bool {
	if candidate.Score != current.Score {
		return candidate.Score > current.Score
	}
	return candidate.LastUsedAt.After(current.LastUsedAt)
}

// Insert persists a new persona, collapsing into an existing record if
// one already has identical DNA (similarity 1.0 against itself, so an
// exact match always clears the threshold).
func (s *Store) Insert(dna DNA) (id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.index {
		if Similarity(dna, p.DNA) >= 0.999999 {
			return p.ID, nil
		}
	}

	newID := uuid.NewString()
	p := Persona{
		ID:        newID,
		DNA:       dna,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.write(p); err != nil {
		return "", err
	}
	s.index[newID] = p
	return newID, nil
}

// RecordUse applies the exponential moving average to a persona's
// success score (alpha = 0.2), bumps its usage count, and stamps
// last-used. Returns a PersonaStoreError if the id is unknown.
func (s *Store) RecordUse(id string, successScore float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.index[id]
	if !ok {
		return forgeerr.PersonaStoreError(fmt.Sprintf("unknown persona %q", id), nil)
	}
	if p.UsageCount == 0 {
		p.Score = successScore
	} else {
		p.Score = emaAlpha*successScore + (1-emaAlpha)*p.Score
	}
	p.UsageCount++
	p.LastUsedAt = time.Now().UTC()

	if err := s.write(p); err != nil {
		return err
	}
	s.index[id] = p
	return nil
}

// Get returns a persona snapshot by id.
func (s *Store) Get(id string) (Persona, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.index[id]
	return p, ok
}

// List returns persona snapshots matching filter, sorted by id for
// deterministic output.
func (s *Store) List(filter Filter) []Persona {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Persona, 0, len(s.index))
	for _, p := range s.index {
		if filter.Domain != "" && p.DNA.Domain != filter.Domain {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Delete removes a persona from the store and disk.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[id]; !ok {
		return forgeerr.PersonaStoreError(fmt.Sprintf("unknown persona %q", id), nil)
	}
	delete(s.index, id)
	path := filepath.Join(s.dir, id+".yaml")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return forgeerr.PersonaStoreError("remove persona file", err)
	}
	return nil
}

// write serializes a persona to its YAML file and fsyncs before
// returning, so a crash immediately after Insert/RecordUse never loses
// the write.
func (s *Store) write(p Persona) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return forgeerr.PersonaStoreError("marshal persona", err)
	}
	path := filepath.Join(s.dir, p.ID+".yaml")
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return forgeerr.PersonaStoreError("open persona file", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return forgeerr.PersonaStoreError("write persona file", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return forgeerr.PersonaStoreError("fsync persona file", err)
	}
	if err := f.Close(); err != nil {
		return forgeerr.PersonaStoreError("close persona file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return forgeerr.PersonaStoreError("rename persona file", err)
	}
	return nil
}
