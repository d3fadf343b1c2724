package ledger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskmate/internal/config"
	"deskmate/internal/llm"
)

func testRates() config.TokenRates {
	return config.TokenRates{
		InputCachedPerMillion:   0.2,
		InputUncachedPerMillion: 2.0,
		OutputPerMillion:        3.0,
	}
}

func newTestLedger(t *testing.T) (*Ledger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "token_usage.json")
	l := New(path, testRates())
	return l, path
}

func TestRecordSplitsCachedAndUncached(t *testing.T) {
	l, _ := newTestLedger(t)

	l.Record(llm.Usage{PromptTokens: 1000, CompletionTokens: 500, CachedTokens: 400}, "")

	total := l.Total()
	assert.Equal(t, 1, total.Calls)
	assert.Equal(t, 400, total.InputCached)
	assert.Equal(t, 600, total.InputUncached)
	assert.Equal(t, 500, total.Output)
	assert.Equal(t, 1900, total.Tokens)

	// 400*0.2 + 600*2.0 + 500*3.0 = 2780 per million.
	assert.InDelta(t, 0.00278, total.Cost, 1e-9)
}

func TestRecordClampsCachedToPrompt(t *testing.T) {
	l, _ := newTestLedger(t)

	l.Record(llm.Usage{PromptTokens: 100, CompletionTokens: 10, CachedTokens: 250}, "")

	total := l.Total()
	assert.Equal(t, 100, total.InputCached)
	assert.Equal(t, 0, total.InputUncached)
}

func TestRecordClampsNegativeCounters(t *testing.T) {
	l, _ := newTestLedger(t)

	l.Record(llm.Usage{PromptTokens: -5, CompletionTokens: -3, CachedTokens: -1}, "")

	total := l.Total()
	assert.Equal(t, 1, total.Calls)
	assert.Equal(t, 0, total.Tokens)
	assert.Equal(t, 0.0, total.Cost)
}

func TestCalendarBucketsReconcile(t *testing.T) {
	l, _ := newTestLedger(t)

	days := []string{"2026-03-30", "2026-03-31", "2026-04-01"}
	for i, day := range days {
		when, err := time.Parse("2006-01-02", day)
		require.NoError(t, err)
		l.SetClock(func() time.Time { return when })
		for j := 0; j <= i; j++ {
			l.Record(llm.Usage{PromptTokens: 100, CompletionTokens: 50, CachedTokens: 20}, "")
		}
	}

	total := l.Total()

	var dayTokens, dayCalls int
	var dayCost float64
	for _, key := range l.DailyKeys() {
		s := l.Day(key)
		dayTokens += s.Tokens
		dayCalls += s.Calls
		dayCost += s.Cost
	}
	assert.Equal(t, total.Tokens, dayTokens)
	assert.Equal(t, total.Calls, dayCalls)
	assert.InDelta(t, total.Cost, dayCost, 1e-8)

	march := l.Month("2026-03")
	april := l.Month("2026-04")
	assert.Equal(t, total.Calls, march.Calls+april.Calls)
	assert.Equal(t, total.Tokens, march.Tokens+april.Tokens)

	year := l.Year("2026")
	assert.Equal(t, total.Calls, year.Calls)
	assert.Equal(t, total.Tokens, year.Tokens)
}

func TestRangeSumsInclusiveDays(t *testing.T) {
	l, _ := newTestLedger(t)

	for _, day := range []string{"2026-05-01", "2026-05-02", "2026-05-03"} {
		when, err := time.Parse("2006-01-02", day)
		require.NoError(t, err)
		l.SetClock(func() time.Time { return when })
		l.Record(llm.Usage{PromptTokens: 10, CompletionTokens: 5}, "")
	}

	s := l.Range("2026-05-01", "2026-05-02")
	assert.Equal(t, 2, s.Calls)
	assert.Equal(t, 30, s.Tokens)

	all := l.Range("2026-05-01", "2026-05-03")
	assert.Equal(t, 3, all.Calls)
}

func TestSessionBucketsAreInMemoryOnly(t *testing.T) {
	l, path := newTestLedger(t)

	l.StartSession("turn-1")
	l.SetActive("turn-1")
	l.Record(llm.Usage{PromptTokens: 100, CompletionTokens: 20}, "")
	l.Record(llm.Usage{PromptTokens: 50, CompletionTokens: 10}, "turn-1")

	s := l.Session("turn-1")
	assert.Equal(t, 2, s.Calls)
	assert.Equal(t, 180, s.Tokens)

	// Unknown sessions read as empty.
	assert.Equal(t, 0, l.Session("nope").Calls)

	// The persisted file has no session data.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.NotContains(t, raw, "sessions")
	assert.Contains(t, raw, "total")
	assert.Contains(t, raw, "daily")
}

func TestEndSessionPrunesBucket(t *testing.T) {
	l, _ := newTestLedger(t)

	l.StartSession("s1")
	l.SetActive("s1")
	l.Record(llm.Usage{PromptTokens: 10, CompletionTokens: 5}, "")
	require.Equal(t, 1, l.SessionCount())
	assert.Equal(t, 15, l.Session("s1").Tokens)

	l.EndSession("s1")
	assert.Equal(t, 0, l.SessionCount())
	assert.Equal(t, 0, l.Session("s1").Tokens)
	assert.Empty(t, l.ActiveSession())

	// Stray usage after the turn still reaches the calendars without
	// resurrecting the session.
	l.Record(llm.Usage{PromptTokens: 4}, "")
	assert.Equal(t, 0, l.SessionCount())
	assert.Equal(t, 2, l.Total().Calls)
}

func TestPersistAndReload(t *testing.T) {
	l, path := newTestLedger(t)
	when, err := time.Parse("2006-01-02", "2026-06-15")
	require.NoError(t, err)
	l.SetClock(func() time.Time { return when })
	l.Record(llm.Usage{PromptTokens: 1000, CompletionTokens: 100, CachedTokens: 300}, "")

	reloaded := New(path, testRates())
	total := reloaded.Total()
	assert.Equal(t, 1, total.Calls)
	assert.Equal(t, 1100, total.Tokens)
	assert.Equal(t, 1, reloaded.Day("2026-06-15").Calls)
	assert.Equal(t, 1, reloaded.Month("2026-06").Calls)
	assert.Equal(t, 1, reloaded.Year("2026").Calls)
}

func TestLoadToleratesCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token_usage.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	l := New(path, testRates())
	assert.Equal(t, 0, l.Total().Calls)

	// Recording after the corrupt load still works and rewrites the file.
	l.Record(llm.Usage{PromptTokens: 1, CompletionTokens: 1}, "")
	assert.Equal(t, 1, l.Total().Calls)
}

func TestCompactSummaryMentionsTodayAndTotal(t *testing.T) {
	l, _ := newTestLedger(t)
	when, err := time.Parse("2006-01-02", "2026-07-01")
	require.NoError(t, err)
	l.SetClock(func() time.Time { return when })
	l.Record(llm.Usage{PromptTokens: 100, CompletionTokens: 50}, "")

	s := l.CompactSummary()
	assert.Contains(t, s, "150 tokens")
	assert.Contains(t, s, "Token用量")
}
