// Package ledger aggregates LLM token usage and cost across calendar
// buckets and per-turn sessions. Calendar buckets persist to a single JSON
// blob; session buckets live in memory only.
package ledger

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"deskmate/internal/config"
	"deskmate/internal/llm"
	"deskmate/internal/logging"
)

// Bucket is the five-tuple of call count and token/cost counters kept at
// each time scale. JSON keys are deliberately short; the file grows by one
// daily bucket per active day.
type Bucket struct {
	Calls          int     `json:"n"`
	InputCached    int     `json:"i_c"`
	InputUncached  int     `json:"i_u"`
	Output         int     `json:"o"`
	Cost           float64 `json:"c"`
}

func (b *Bucket) add(cached, uncached, output int, cost float64) {
	b.Calls++
	b.InputCached += cached
	b.InputUncached += uncached
	b.Output += output
	b.Cost = roundCost(b.Cost + cost)
}

// Tokens returns the bucket's total token count.
func (b Bucket) Tokens() int {
	return b.InputCached + b.InputUncached + b.Output
}

type persistedStats struct {
	Version int               `json:"v"`
	Total   Bucket            `json:"total"`
	Daily   map[string]Bucket `json:"daily"`
	Monthly map[string]Bucket `json:"monthly"`
	Yearly  map[string]Bucket `json:"yearly"`
}

func defaultStats() persistedStats {
	return persistedStats{
		Version: 1,
		Daily:   map[string]Bucket{},
		Monthly: map[string]Bucket{},
		Yearly:  map[string]Bucket{},
	}
}

// Ledger serializes all mutations through one mutex; summaries copy the
// buckets they report so readers never observe a partial update.
type Ledger struct {
	mu       sync.Mutex
	path     string
	rates    config.TokenRates
	stats    persistedStats
	sessions map[string]*Bucket
	active   string
	logger   logging.Logger
	now      func() time.Time
}

// New loads (or initializes) the ledger persisted at path.
func New(path string, rates config.TokenRates) *Ledger {
	l := &Ledger{
		path:     path,
		rates:    rates,
		stats:    defaultStats(),
		sessions: map[string]*Bucket{},
		logger:   logging.NewComponentLogger("ledger"),
		now:      time.Now,
	}
	l.load()
	return l
}

func (l *Ledger) load() {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return
	}
	var stats persistedStats
	if err := json.Unmarshal(data, &stats); err != nil {
		l.logger.Warn("ledger file unreadable, starting fresh: %v", err)
		return
	}
	if stats.Daily == nil {
		stats.Daily = map[string]Bucket{}
	}
	if stats.Monthly == nil {
		stats.Monthly = map[string]Bucket{}
	}
	if stats.Yearly == nil {
		stats.Yearly = map[string]Bucket{}
	}
	stats.Version = 1
	l.stats = stats
}

// persistLocked writes the calendar buckets with write-then-rename. A
// failed write keeps the in-memory state and logs; it never fails the turn.
func (l *Ledger) persistLocked() {
	data, err := json.Marshal(l.stats)
	if err != nil {
		l.logger.Error("marshal ledger: %v", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		l.logger.Error("ledger dir: %v", err)
		return
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		l.logger.Error("write ledger: %v", err)
		return
	}
	if err := os.Rename(tmp, l.path); err != nil {
		l.logger.Error("rename ledger: %v", err)
	}
}

func roundCost(c float64) float64 {
	return math.Round(c*1e8) / 1e8
}

func (l *Ledger) cost(cached, uncached, output int) float64 {
	cost := (float64(cached)*l.rates.InputCachedPerMillion +
		float64(uncached)*l.rates.InputUncachedPerMillion +
		float64(output)*l.rates.OutputPerMillion) / 1_000_000
	return roundCost(cost)
}

// StartSession creates an in-memory bucket for a turn.
func (l *Ledger) StartSession(sessionID string) {
	if sessionID == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sessions[sessionID] = &Bucket{}
}

// SetActive routes subsequent Record calls without an explicit session id
// to the given session.
func (l *Ledger) SetActive(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.active = sessionID
}

// ActiveSession returns the currently active session id.
func (l *Ledger) ActiveSession() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// EndSession discards a turn's in-memory bucket once its stats have been
// reported, so long-running processes do not accumulate one bucket per
// turn. Ending the active session also clears the active pointer.
func (l *Ledger) EndSession(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.sessions, sessionID)
	if l.active == sessionID {
		l.active = ""
	}
}

// SessionCount reports the number of live session buckets.
func (l *Ledger) SessionCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sessions)
}

// Record folds one usage report into the total, current-day, current-month,
// current-year and active-session buckets. Negative counters clamp to zero;
// cached tokens clamp to the prompt count.
func (l *Ledger) Record(usage llm.Usage, sessionID string) {
	prompt := usage.PromptTokens
	if prompt < 0 {
		prompt = 0
	}
	cached := usage.CachedTokens
	if cached < 0 {
		cached = 0
	}
	if cached > prompt {
		cached = prompt
	}
	uncached := prompt - cached
	output := usage.CompletionTokens
	if output < 0 {
		output = 0
	}
	cost := l.cost(cached, uncached, output)

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	dayKey := now.Format("2006-01-02")
	monthKey := now.Format("2006-01")
	yearKey := now.Format("2006")

	l.stats.Total.add(cached, uncached, output, cost)
	for key, m := range map[string]map[string]Bucket{
		dayKey:   l.stats.Daily,
		monthKey: l.stats.Monthly,
		yearKey:  l.stats.Yearly,
	} {
		b := m[key]
		b.add(cached, uncached, output, cost)
		m[key] = b
	}
	l.persistLocked()

	if sessionID == "" {
		sessionID = l.active
	}
	if b, ok := l.sessions[sessionID]; ok {
		b.add(cached, uncached, output, cost)
	}
}

// Summary describes one bucket for callers (skills, stats events, CLI).
type Summary struct {
	Scope         string  `json:"scope"`
	Calls         int     `json:"calls"`
	InputCached   int     `json:"input_cached"`
	InputUncached int     `json:"input_uncached"`
	Output        int     `json:"output"`
	Tokens        int     `json:"tokens"`
	Cost          float64 `json:"cost"`
}

func summarize(scope string, b Bucket) Summary {
	return Summary{
		Scope:         scope,
		Calls:         b.Calls,
		InputCached:   b.InputCached,
		InputUncached: b.InputUncached,
		Output:        b.Output,
		Tokens:        b.Tokens(),
		Cost:          b.Cost,
	}
}

// Total returns the lifetime summary.
func (l *Ledger) Total() Summary {
	l.mu.Lock()
	defer l.mu.Unlock()
	return summarize("total", l.stats.Total)
}

// Day returns the summary for a YYYY-MM-DD key.
func (l *Ledger) Day(key string) Summary {
	l.mu.Lock()
	defer l.mu.Unlock()
	return summarize("day:"+key, l.stats.Daily[key])
}

// Month returns the summary for a YYYY-MM key.
func (l *Ledger) Month(key string) Summary {
	l.mu.Lock()
	defer l.mu.Unlock()
	return summarize("month:"+key, l.stats.Monthly[key])
}

// Year returns the summary for a YYYY key.
func (l *Ledger) Year(key string) Summary {
	l.mu.Lock()
	defer l.mu.Unlock()
	return summarize("year:"+key, l.stats.Yearly[key])
}

// Range sums the daily buckets whose keys fall in [start, end], inclusive.
// Keys are YYYY-MM-DD strings, which order lexicographically.
func (l *Ledger) Range(start, end string) Summary {
	l.mu.Lock()
	defer l.mu.Unlock()
	var total Bucket
	for key, b := range l.stats.Daily {
		if key >= start && key <= end {
			total.Calls += b.Calls
			total.InputCached += b.InputCached
			total.InputUncached += b.InputUncached
			total.Output += b.Output
			total.Cost = roundCost(total.Cost + b.Cost)
		}
	}
	return summarize(fmt.Sprintf("range:%s..%s", start, end), total)
}

// Session returns the in-memory summary for one turn.
func (l *Ledger) Session(sessionID string) Summary {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.sessions[sessionID]; ok {
		return summarize("session:"+sessionID, *b)
	}
	return summarize("session:"+sessionID, Bucket{})
}

// DailyKeys returns all day keys with recorded usage.
func (l *Ledger) DailyKeys() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	keys := make([]string, 0, len(l.stats.Daily))
	for key := range l.stats.Daily {
		keys = append(keys, key)
	}
	return keys
}

// CompactSummary renders a one-line usage snippet for the planner's system
// prompt.
func (l *Ledger) CompactSummary() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	day := l.stats.Daily[l.now().Format("2006-01-02")]
	return fmt.Sprintf("[Token用量：今日 %d tokens / ¥%.4f，累计 %d tokens / ¥%.4f]",
		day.Tokens(), day.Cost, l.stats.Total.Tokens(), l.stats.Total.Cost)
}

// SetClock overrides the ledger's clock. Test hook.
func (l *Ledger) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}
