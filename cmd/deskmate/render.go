package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/fatih/color"
	"golang.org/x/term"

	"deskmate/internal/agent"
	"deskmate/internal/transport"
)

var (
	gray = color.New(color.FgHiBlack).SprintFunc()
	cyan = color.New(color.FgCyan).SprintFunc()
	bold = color.New(color.Bold).SprintFunc()
)

// terminalRenderer consumes hub events and paints them: progress dimmed as
// it streams, the final answer collected between its control tokens and
// rendered as markdown in one piece.
type terminalRenderer struct {
	markdown *glamour.TermRenderer
	final    strings.Builder
	inFinal  bool
	done     chan struct{}
}

func newTerminalRenderer() *terminalRenderer {
	width := 80
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		width = w - 4
		if width > 120 {
			width = 120
		}
	}
	// A nil renderer falls back to plain text.
	markdown, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(width),
		glamour.WithEmoji(),
	)
	if err != nil {
		markdown = nil
	}
	return &terminalRenderer{markdown: markdown, done: make(chan struct{}, 1)}
}

// Run consumes events until the channel closes. Each completed turn sends
// one value on done so the prompt loop can resume.
func (r *terminalRenderer) Run(events <-chan transport.Event) {
	for event := range events {
		switch event.Kind {
		case transport.KindProgress:
			r.progress(event.Text)
		case transport.KindFinal:
			r.finalChunk(event.Text)
		case transport.KindStats:
			// Usage snapshots stay out of the transcript; the /usage
			// command prints them on demand.
		}
	}
}

func (r *terminalRenderer) progress(text string) {
	switch text {
	case agent.TokenProgressStart:
		fmt.Println(gray("· 思考中…"))
	case agent.TokenProgressEnd:
		fmt.Println()
	default:
		fmt.Print(gray(text))
	}
}

func (r *terminalRenderer) finalChunk(text string) {
	switch text {
	case agent.TokenFinalStart:
		r.inFinal = true
		r.final.Reset()
	case agent.TokenFinalEnd:
		r.inFinal = false
		r.printFinal(r.final.String())
		r.done <- struct{}{}
	default:
		if r.inFinal {
			r.final.WriteString(text)
		}
	}
}

func (r *terminalRenderer) printFinal(answer string) {
	if r.markdown != nil {
		if rendered, err := r.markdown.Render(answer); err == nil {
			fmt.Print(rendered)
			return
		}
	}
	fmt.Println(answer)
}
