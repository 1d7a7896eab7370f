// Package progress renders scan progress on a terminal.
package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

const (
	BarWidth = 30

	// Throttle is the minimum interval between redraws of the same stage.
	Throttle = 80 * time.Millisecond
)

var (
	stageStyle  = lipgloss.NewStyle().Bold(true)
	filledStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	emptyStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	logStyle    = lipgloss.NewStyle().Faint(true)
)

// Printer draws one progress line per stage. On a terminal the line is
// redrawn in place; otherwise only stage starts, completions and log lines
// are written.
type Printer struct {
	out   io.Writer
	isTTY bool
	now   func() time.Time

	mu     sync.Mutex
	stage  string
	total  int
	done   int
	label  string
	drawn  time.Time
	active bool
}

// New creates a printer for out.
func New(out io.Writer) *Printer {
	isTTY := false
	if f, ok := out.(*os.File); ok {
		isTTY = term.IsTerminal(int(f.Fd()))
	}
	return &Printer{out: out, isTTY: isTTY, now: time.Now}
}

// Stage starts a new stage with total steps. A total of zero renders a
// counter instead of a bar.
func (p *Printer) Stage(name string, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.endLine()
	p.stage, p.total, p.done, p.label = name, total, 0, ""
	p.active = true
	if p.isTTY {
		p.draw()
		return
	}
	fmt.Fprintln(p.out, stageStyle.Render(name)+counter(0, total))
}

// Advance records one finished step.
func (p *Printer) Advance(label string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done++
	p.label = label
	complete := p.total > 0 && p.done >= p.total
	if p.isTTY {
		if complete || p.now().Sub(p.drawn) >= Throttle {
			p.draw()
		}
		return
	}
	if complete {
		fmt.Fprintln(p.out, stageStyle.Render(p.stage)+counter(p.done, p.total)+" done")
	}
}

// Log writes a message above the progress line.
func (p *Printer) Log(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.isTTY && p.active {
		fmt.Fprint(p.out, "\r\033[K")
	}
	fmt.Fprintln(p.out, logStyle.Render(msg))
	if p.isTTY && p.active {
		p.draw()
	}
}

// Done finishes the current line.
func (p *Printer) Done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.endLine()
}

func (p *Printer) endLine() {
	if p.isTTY && p.active {
		p.draw()
		fmt.Fprintln(p.out)
	}
	p.active = false
}

func (p *Printer) draw() {
	var sb strings.Builder
	sb.WriteString("\r\033[K")
	sb.WriteString(stageStyle.Render(p.stage))
	sb.WriteString(" ")
	if p.total > 0 {
		sb.WriteString(Bar(p.done, p.total, BarWidth))
	}
	sb.WriteString(counter(p.done, p.total))
	if p.label != "" {
		sb.WriteString(" ")
		sb.WriteString(logStyle.Render(p.label))
	}
	fmt.Fprint(p.out, sb.String())
	p.drawn = p.now()
}

// Bar renders a width-cell bar filled to done/total.
func Bar(done, total, width int) string {
	filled := 0
	if total > 0 {
		filled = min(width, max(0, done*width/total))
	}
	return filledStyle.Render(strings.Repeat("█", filled)) +
		emptyStyle.Render(strings.Repeat("░", width-filled))
}

func counter(done, total int) string {
	if total <= 0 {
		return fmt.Sprintf(" %d", done)
	}
	return fmt.Sprintf(" %d/%d", done, total)
}
