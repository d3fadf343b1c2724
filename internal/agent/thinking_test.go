package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func feedByByte(e *thinkingExtractor, s string) {
	for _, b := range []byte(s) {
		e.Feed(string(rune(b)))
	}
}

func feedRunes(e *thinkingExtractor, s string) {
	for _, r := range s {
		e.Feed(string(r))
	}
}

func TestThinkingExtractedByteByByte(t *testing.T) {
	var emitted strings.Builder
	e := newThinkingExtractor(func(s string) { emitted.WriteString(s) })

	feedByByte(e, `{"is_skills": false, "thinking": "hello\nworld", "excute_plan": []}`)

	assert.Equal(t, "hello\nworld", emitted.String())
	assert.Equal(t, "hello\nworld", e.Text())
	assert.True(t, e.Done())
}

func TestThinkingUnescapesAllFourEscapes(t *testing.T) {
	e := newThinkingExtractor(nil)
	feedRunes(e, `{"thinking": "a\"b\\c\td\ne"}`)
	assert.Equal(t, "a\"b\\c\td\ne", e.Text())
}

func TestThinkingStopsAtClosingQuote(t *testing.T) {
	var emitted strings.Builder
	e := newThinkingExtractor(func(s string) { emitted.WriteString(s) })
	feedRunes(e, `{"thinking": "思考内容", "error": "不该出现"}`)

	assert.Equal(t, "思考内容", emitted.String())
	assert.NotContains(t, emitted.String(), "不该出现")
	assert.NotContains(t, emitted.String(), `"`)
}

func TestThinkingKeyStraddlesDeltas(t *testing.T) {
	e := newThinkingExtractor(nil)
	e.Feed(`{"is_skills": true, "thin`)
	e.Feed(`king"`)
	e.Feed(`  :  `)
	e.Feed(`"分段`)
	e.Feed(`到达"`)
	assert.Equal(t, "分段到达", e.Text())
	assert.True(t, e.Done())
}

func TestThinkingAbsentKeyEmitsNothing(t *testing.T) {
	var emitted strings.Builder
	e := newThinkingExtractor(func(s string) { emitted.WriteString(s) })
	feedRunes(e, `{"is_skills": false, "description": []}`)
	assert.Empty(t, emitted.String())
	assert.False(t, e.Done())
}

func TestThinkingIgnoresTrailingJSON(t *testing.T) {
	e := newThinkingExtractor(nil)
	feedRunes(e, `{"thinking": "完成", "excute_plan": [{"step": 1}]}`)
	e.Feed("more garbage after done")
	assert.Equal(t, "完成", e.Text())
}

func TestThinkingNullValueEmitsNothing(t *testing.T) {
	var emitted strings.Builder
	e := newThinkingExtractor(func(s string) { emitted.WriteString(s) })
	feedRunes(e, `{"thinking": null, "is_skills": false, "error": "秘密"}`)

	// A non-string value must not latch onto the next key's quote and
	// stream key names as thinking text.
	assert.Empty(t, emitted.String())
	assert.True(t, e.Done())
}

func TestThinkingNumericValueEmitsNothing(t *testing.T) {
	e := newThinkingExtractor(nil)
	feedRunes(e, `{"thinking": 42, "description": ["x"]}`)
	assert.Empty(t, e.Text())
	assert.True(t, e.Done())
}

func TestThinkingUnknownEscapePassesThrough(t *testing.T) {
	e := newThinkingExtractor(nil)
	feedRunes(e, "{\"thinking\": \"a\\u0041b\"}")
	assert.Equal(t, "a\\u0041b", e.Text())
}
