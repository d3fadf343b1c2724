package agent

import "strings"

const thinkingKey = `"thinking"`

// thinkingExtractor pulls the value of the plan's thinking field out of a
// JSON stream while it is still arriving, so the user sees the planner
// reason in real time. It is a small state machine fed arbitrary-sized
// deltas, down to one byte at a time.
type thinkingExtractor struct {
	emit func(string)

	state   extractorState
	pending strings.Builder // raw stream while seeking the key
	value   strings.Builder // extracted thinking text
	escaped bool
}

type extractorState int

const (
	stateSeekKey extractorState = iota
	stateSeekColon
	stateSeekQuote
	stateInValue
	stateDone
)

func newThinkingExtractor(emit func(string)) *thinkingExtractor {
	if emit == nil {
		emit = func(string) {}
	}
	return &thinkingExtractor{emit: emit}
}

// Feed consumes the next stream fragment.
func (e *thinkingExtractor) Feed(delta string) {
	if e.state == stateDone || delta == "" {
		return
	}

	if e.state == stateSeekKey {
		e.pending.WriteString(delta)
		raw := e.pending.String()
		idx := strings.Index(raw, thinkingKey)
		if idx < 0 {
			// Keep only a key-sized tail; the key may straddle deltas.
			if tail := len(raw) - len(thinkingKey); tail > 0 {
				kept := raw[tail:]
				e.pending.Reset()
				e.pending.WriteString(kept)
			}
			return
		}
		rest := raw[idx+len(thinkingKey):]
		e.pending.Reset()
		e.state = stateSeekColon
		e.consume(rest)
		return
	}
	e.consume(delta)
}

func (e *thinkingExtractor) consume(chunk string) {
	for _, r := range chunk {
		switch e.state {
		case stateSeekColon:
			if r == ':' {
				e.state = stateSeekQuote
			}
		case stateSeekQuote:
			switch {
			case r == '"':
				e.state = stateInValue
			case r == ' ' || r == '\t' || r == '\n' || r == '\r':
				// keep seeking past whitespace
			default:
				// Non-string value (null, number, object): nothing to
				// stream, and latching onto a later quote would leak the
				// next key's name.
				e.state = stateDone
			}
		case stateInValue:
			e.valueChar(r)
		case stateDone:
			return
		}
	}
}

func (e *thinkingExtractor) valueChar(r rune) {
	if e.escaped {
		e.escaped = false
		switch r {
		case 'n':
			e.emitText("\n")
		case 't':
			e.emitText("\t")
		case '"':
			e.emitText(`"`)
		case '\\':
			e.emitText(`\`)
		default:
			// Unknown escape, pass through verbatim.
			e.emitText(`\` + string(r))
		}
		return
	}
	switch r {
	case '\\':
		e.escaped = true
	case '"':
		e.state = stateDone
	default:
		e.emitText(string(r))
	}
}

func (e *thinkingExtractor) emitText(s string) {
	e.value.WriteString(s)
	e.emit(s)
}

// Done reports whether the closing quote has been seen.
func (e *thinkingExtractor) Done() bool { return e.state == stateDone }

// Text returns the thinking extracted so far.
func (e *thinkingExtractor) Text() string { return e.value.String() }
