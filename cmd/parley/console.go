package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/parley/internal/critique"
	"github.com/MrWong99/parley/internal/turn"
	"github.com/MrWong99/parley/internal/vocal"
)

// console prints the live transcript. Deltas arrive on the session's run
// loop while prompts come from the command goroutine, so writes are serialised.
type console struct {
	mu   sync.Mutex
	w    io.Writer
	role turn.Role
}

func newConsole(w io.Writer) *console {
	return &console{w: w}
}

// transcript appends delta to the current line, starting a new labelled line
// when the speaker changes.
func (c *console) transcript(role turn.Role, delta string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if role != c.role {
		if c.role != "" {
			fmt.Fprintln(c.w)
		}
		fmt.Fprintf(c.w, "%s: ", role.Label())
		c.role = role
	}
	fmt.Fprint(c.w, delta)
}

func (c *console) interrupted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprint(c.w, " [interrupted]")
}

// printf writes a line of its own, closing any open transcript line first.
func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.role != "" {
		fmt.Fprintln(c.w)
		c.role = ""
	}
	fmt.Fprintf(c.w, format, args...)
}

// report prints the delivery metrics and, if present, the critique.
func (c *console) report(m vocal.Metrics, crit *critique.Critique) {
	var b strings.Builder
	fmt.Fprintf(&b, "\n── Delivery ──\n")
	fmt.Fprintf(&b, "  speaking time  %s\n", m.Elapsed.Round(100*time.Millisecond))
	fmt.Fprintf(&b, "  pace           %d peaks (%.0f/min)\n", m.Pace, m.PerMinute())
	fmt.Fprintf(&b, "  final energy   %.2f\n", m.Energy)

	if crit != nil {
		s := crit.Scores
		fmt.Fprintf(&b, "\n── Critique (%s) ──\n", crit.Source)
		fmt.Fprintf(&b, "  clarity     %3d\n", s.Clarity)
		fmt.Fprintf(&b, "  confidence  %3d\n", s.Confidence)
		fmt.Fprintf(&b, "  persuasion  %3d\n", s.Persuasion)
		fmt.Fprintf(&b, "  empathy     %3d\n", s.Empathy)
		fmt.Fprintf(&b, "  overall     %3d\n", s.Overall())
		writeList(&b, "Strengths", crit.Strengths)
		writeList(&b, "Improvements", crit.Improvements)
		if crit.Summary != "" {
			fmt.Fprintf(&b, "\n%s\n", crit.Summary)
		}
	}
	c.printf("%s", b.String())
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s:\n", title)
	for _, it := range items {
		fmt.Fprintf(b, "  - %s\n", it)
	}
}
