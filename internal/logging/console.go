package logging

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// Console prints the human-readable operator lines. Every relay, rejection,
// disconnect, and shutdown step goes through here. A nil *Console discards.
type Console struct {
	mu sync.Mutex
	w  io.Writer

	info    *color.Color
	success *color.Color
	warn    *color.Color
	err     *color.Color
}

// NewConsole writes to w, colored only when w is a terminal.
func NewConsole(w io.Writer) *Console {
	if w == nil {
		w = io.Discard
	}

	c := &Console{
		w:       w,
		info:    color.New(color.FgCyan),
		success: color.New(color.FgGreen),
		warn:    color.New(color.FgYellow),
		err:     color.New(color.FgRed),
	}
	if !isTerminal(w) {
		for _, col := range []*color.Color{c.info, c.success, c.warn, c.err} {
			col.DisableColor()
		}
	}
	return c
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (c *Console) Infof(format string, args ...any) {
	if c == nil {
		return
	}
	c.print(c.info, format, args...)
}

func (c *Console) Successf(format string, args ...any) {
	if c == nil {
		return
	}
	c.print(c.success, format, args...)
}

func (c *Console) Warnf(format string, args ...any) {
	if c == nil {
		return
	}
	c.print(c.warn, format, args...)
}

func (c *Console) Errorf(format string, args ...any) {
	if c == nil {
		return
	}
	c.print(c.err, format, args...)
}

// print requires a non-nil receiver; the exported methods check.
func (c *Console) print(col *color.Color, format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = col.Fprintln(c.w, fmt.Sprintf(format, args...))
}
