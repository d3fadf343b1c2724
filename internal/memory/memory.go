// Package memory keeps the short-term dialog transcript that grounds each
// new turn. Records persist to a JSON file and replay within a sliding time
// window.
package memory

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"deskmate/internal/logging"
)

// controlTokens never belong in memory; they are stream framing, not
// conversation content.
var controlTokens = []string{
	"[[PROGRESS_START]]",
	"[[PROGRESS_END]]",
	"[[FINAL_START]]",
	"[[FINAL_END]]",
}

// Sanitize strips stream control tokens and trims the result.
func Sanitize(content string) string {
	for _, token := range controlTokens {
		content = strings.ReplaceAll(content, token, "")
	}
	return strings.TrimSpace(content)
}

// Record is one question/answer exchange.
type Record struct {
	DialogID string    `json:"dialog_id"`
	Question string    `json:"question"`
	Response string    `json:"response"`
	Time     time.Time `json:"time"`
}

// Store is the file-backed dialog memory. All methods are safe for
// concurrent use; Load/Recent return snapshots.
type Store struct {
	mu         sync.Mutex
	path       string
	records    []Record
	maxRecords int
	logger     logging.Logger
	now        func() time.Time
}

// NewStore loads (or initializes) the dialog memory at path. maxRecords
// caps the persisted transcript; 0 means a generous default.
func NewStore(path string, maxRecords int) *Store {
	if maxRecords <= 0 {
		maxRecords = 200
	}
	s := &Store{
		path:       path,
		maxRecords: maxRecords,
		logger:     logging.NewComponentLogger("memory"),
		now:        time.Now,
	}
	s.load()
	return s
}

func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		s.logger.Warn("memory file unreadable, starting fresh: %v", err)
		return
	}
	s.records = records
}

func (s *Store) persistLocked() {
	data, err := json.Marshal(s.records)
	if err != nil {
		s.logger.Error("marshal memory: %v", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		s.logger.Error("memory dir: %v", err)
		return
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		s.logger.Error("write memory: %v", err)
		return
	}
	if err := os.Rename(tmp, s.path); err != nil {
		s.logger.Error("rename memory: %v", err)
	}
}

// Append sanitizes and stores one exchange. Returns the record's dialog id.
func (s *Store) Append(question, response string) string {
	rec := Record{
		DialogID: uuid.NewString(),
		Question: Sanitize(question),
		Response: Sanitize(response),
		Time:     s.now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.records == nil {
		s.records = []Record{}
	}
	s.records = append(s.records, rec)
	if len(s.records) > s.maxRecords {
		s.records = s.records[len(s.records)-s.maxRecords:]
	}
	s.persistLocked()
	return rec.DialogID
}

// Recent returns records whose time falls within the window ending now,
// oldest first. Records stamped in the future (clock steps between turns)
// are kept rather than silently lost.
func (s *Store) Recent(window time.Duration) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-window)
	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		if rec.Time.After(cutoff) {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Time.Before(out[j].Time)
	})
	return out
}

// Load returns a copy of every stored record, oldest first.
func (s *Store) Load() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// Clear drops every record and persists the empty transcript.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = []Record{}
	s.persistLocked()
}

// SetClock overrides the store's clock. Test hook.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// EnrichQuestion prefixes the user's question with the recent dialog so the
// planner sees context. With no history the question passes through
// unchanged.
func EnrichQuestion(question string, history []Record) string {
	if len(history) == 0 {
		return question
	}
	var b strings.Builder
	b.WriteString("[历史对话]\n")
	for _, rec := range history {
		b.WriteString("用户：")
		b.WriteString(rec.Question)
		b.WriteString("\n助手：")
		b.WriteString(rec.Response)
		b.WriteString("\n")
	}
	b.WriteString("[当前问题]\n用户：")
	b.WriteString(question)
	return b.String()
}
