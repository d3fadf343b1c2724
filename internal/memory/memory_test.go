package memory

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dialog_memory.json")
	return NewStore(path, 0), path
}

func TestSanitizeStripsControlTokens(t *testing.T) {
	in := "[[PROGRESS_START]]查询中[[PROGRESS_END]][[FINAL_START]]答案[[FINAL_END]]"
	assert.Equal(t, "查询中答案", Sanitize(in))
	assert.Equal(t, "plain", Sanitize("  plain  "))
	assert.Equal(t, "", Sanitize("[[FINAL_START]][[FINAL_END]]"))
}

func TestAppendRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)

	before := time.Now()
	id := s.Append("今天天气怎么样", "晴，26 度")
	after := time.Now()
	require.NotEmpty(t, id)

	recs := s.Recent(24 * time.Hour)
	require.Len(t, recs, 1)
	assert.Equal(t, "今天天气怎么样", recs[0].Question)
	assert.Equal(t, "晴，26 度", recs[0].Response)
	assert.False(t, recs[0].Time.Before(before))
	assert.False(t, recs[0].Time.After(after))
}

func TestAppendSanitizesResponse(t *testing.T) {
	s, _ := newTestStore(t)
	s.Append("问题", "[[FINAL_START]]答案[[FINAL_END]]")
	recs := s.Load()
	require.Len(t, recs, 1)
	assert.Equal(t, "答案", recs[0].Response)
}

func TestRecentRespectsWindowAndOrder(t *testing.T) {
	s, _ := newTestStore(t)
	base := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

	s.SetClock(func() time.Time { return base.Add(-2 * time.Hour) })
	s.Append("太旧的问题", "太旧的回答")

	s.SetClock(func() time.Time { return base.Add(-30 * time.Minute) })
	s.Append("问题一", "回答一")

	s.SetClock(func() time.Time { return base.Add(-10 * time.Minute) })
	s.Append("问题二", "回答二")

	s.SetClock(func() time.Time { return base })
	recent := s.Recent(time.Hour)
	require.Len(t, recent, 2)
	assert.Equal(t, "问题一", recent[0].Question)
	assert.Equal(t, "问题二", recent[1].Question)
}

func TestRecentKeepsFutureTimestamps(t *testing.T) {
	s, _ := newTestStore(t)
	base := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

	// Stamped after the current clock, as happens when the system clock
	// steps backwards between turns.
	s.SetClock(func() time.Time { return base.Add(5 * time.Minute) })
	s.Append("来自未来", "确实")

	s.SetClock(func() time.Time { return base })
	recent := s.Recent(time.Hour)
	require.Len(t, recent, 1)
	assert.Equal(t, "来自未来", recent[0].Question)
}

func TestMaxRecordsTrimsOldest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dialog_memory.json")
	s := NewStore(path, 3)
	for _, q := range []string{"a", "b", "c", "d"} {
		s.Append(q, "r")
	}
	recs := s.Load()
	require.Len(t, recs, 3)
	assert.Equal(t, "b", recs[0].Question)
	assert.Equal(t, "d", recs[2].Question)
}

func TestPersistAndReload(t *testing.T) {
	s, path := newTestStore(t)
	s.Append("持久化测试", "好的")

	reloaded := NewStore(path, 0)
	recs := reloaded.Load()
	require.Len(t, recs, 1)
	assert.Equal(t, "持久化测试", recs[0].Question)

	reloaded.Clear()
	assert.Empty(t, NewStore(path, 0).Load())
}

func TestEnrichQuestion(t *testing.T) {
	assert.Equal(t, "单独的问题", EnrichQuestion("单独的问题", nil))

	history := []Record{
		{Question: "昨天天气如何", Response: "昨天晴"},
	}
	enriched := EnrichQuestion("那今天呢", history)
	assert.True(t, strings.HasPrefix(enriched, "[历史对话]\n"))
	assert.Contains(t, enriched, "用户：昨天天气如何")
	assert.Contains(t, enriched, "助手：昨天晴")
	assert.True(t, strings.HasSuffix(enriched, "[当前问题]\n用户：那今天呢"))
}
