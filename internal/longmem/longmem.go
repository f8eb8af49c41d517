// Package longmem is the append-only structured store for completed
// workflow records. Records are written as newline-delimited JSON to
// a dated file (workflows-YYYY-MM.jsonl); the in-memory index is
// capped, and rotation clears it while the records stay in their file.
package longmem

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nugget/forge-orchestrator/internal/forgeerr"
	"github.com/nugget/forge-orchestrator/internal/taskmodel"
)

// MaxInMemory is the in-memory record cap: a Store call that finds this
// many records in memory clears the whole in-memory tail first. The
// records stay in their monthly file on disk.
const MaxInMemory = 10000

// Store is the long-term, append-only workflow record archive.
type Store struct {
	dir string

	mu      sync.RWMutex
	records []taskmodel.WorkflowRecord // in-memory tail, oldest first
	month   string                     // "YYYY-MM" of the currently open file
}

// Open creates or opens a long-term memory store rooted at dir,
// loading the current calendar month's file (if any) into memory.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, forgeerr.StateError("create longmem dir: " + err.Error())
	}
	s := &Store{dir: dir, month: monthKey(time.Now())}
	if err := s.loadCurrentMonth(); err != nil {
		return nil, err
	}
	return s, nil
}

func monthKey(t time.Time) string {
	return t.Format("2006-01")
}

func (s *Store) pathForMonth(month string) string {
	return filepath.Join(s.dir, fmt.Sprintf("workflows-%s.jsonl", month))
}

func (s *Store) loadCurrentMonth() error {
	path := s.pathForMonth(s.month)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return forgeerr.StateError("open longmem file: " + err.Error())
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec taskmodel.WorkflowRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue // tolerate a trailing partial line from a crash
		}
		s.records = append(s.records, rec)
	}
	return sc.Err()
}

// Store appends the record to the current month's file (fsync before
// return) and to the in-memory tail, rotating first if the month has
// rolled over or the in-memory cap has been reached.
func (s *Store) Store(record taskmodel.WorkflowRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	currentMonth := monthKey(now)
	if currentMonth != s.month {
		if err := s.rotateLocked(); err != nil {
			return err
		}
		s.month = currentMonth
	} else if len(s.records) >= MaxInMemory {
		if err := s.rotateLocked(); err != nil {
			return err
		}
	}

	if err := s.appendLocked(record); err != nil {
		return err
	}
	s.records = append(s.records, record)
	return nil
}

func (s *Store) appendLocked(record taskmodel.WorkflowRecord) error {
	line, err := json.Marshal(record)
	if err != nil {
		return forgeerr.StateError("marshal workflow record: " + err.Error())
	}
	path := s.pathForMonth(s.month)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return forgeerr.StateError("open longmem file for append: " + err.Error())
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return forgeerr.StateError("write workflow record: " + err.Error())
	}
	if err := f.Sync(); err != nil {
		return forgeerr.StateError("fsync workflow record: " + err.Error())
	}
	return nil
}

// Rotate applies the rotation check as of now: when now falls in a
// different calendar month than the open file, or the in-memory count
// has reached MaxInMemory, every in-memory record (not only the
// oldest) is dropped from memory and now's month becomes the current
// one; otherwise it does nothing. The records stay in their monthly
// file, which is not moved or rewritten. Store runs the same check
// before each write.
func (s *Store) Rotate(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	currentMonth := monthKey(now)
	if currentMonth != s.month || len(s.records) >= MaxInMemory {
		if err := s.rotateLocked(); err != nil {
			return err
		}
		s.month = currentMonth
	}
	return nil
}

// rotateLocked clears the in-memory tail. Every record is already
// durable in its month's file via appendLocked's fsync, so no archive
// file is written, moved or rewritten.
func (s *Store) rotateLocked() error {
	s.records = nil
	return nil
}

// Search does a substring/keyword match over the field whitelist,
// most recent first.
func (s *Store) Search(query string, limit int) []taskmodel.WorkflowRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := strings.ToLower(query)
	var out []taskmodel.WorkflowRecord
	for i := len(s.records) - 1; i >= 0; i-- {
		rec := s.records[i]
		if matches(rec, q) {
			out = append(out, rec)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out
}

// matches checks the search field whitelist: task_id, the original
// task text, and the aggregated output. No other WorkflowRecord field
// (including per-subtask output) is searched.
func matches(rec taskmodel.WorkflowRecord, q string) bool {
	if q == "" {
		return true
	}
	candidates := []string{
		strings.ToLower(rec.TaskID),
		strings.ToLower(rec.Task.Text),
		strings.ToLower(rec.AggregatedOutput),
	}
	for _, c := range candidates {
		if strings.Contains(c, q) {
			return true
		}
	}
	return false
}

// Lookup returns the terminal workflow record for a task id, if one
// exists, for the orchestrator's idempotence check.
func (s *Store) Lookup(taskID string) (taskmodel.WorkflowRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.records) - 1; i >= 0; i-- {
		if s.records[i].TaskID == taskID {
			return s.records[i], true
		}
	}
	return taskmodel.WorkflowRecord{}, false
}

// Len returns the number of records currently held in memory.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// ArchiveFiles lists the dated archive files present on disk, sorted
// oldest first.
func (s *Store) ArchiveFiles() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, forgeerr.StateError("list longmem dir: " + err.Error())
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "workflows-") && strings.HasSuffix(e.Name(), ".jsonl") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}
