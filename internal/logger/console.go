package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// Console writes timestamped, level-prefixed lines to a writer. Colors are
// enabled only when the writer is a real terminal. Safe for concurrent use.
type Console struct {
	mu    sync.Mutex
	w     io.Writer
	level int
	color bool
}

// NewConsole creates a console logger at the given minimum level.
// If w is nil, output goes to stderr.
func NewConsole(w io.Writer, level string) *Console {
	if w == nil {
		w = os.Stderr
	}
	return &Console{
		w:     w,
		level: parseLevel(level),
		color: writerIsTerminal(w),
	}
}

func writerIsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

var (
	debugColor = color.New(color.FgHiBlack)
	warnColor  = color.New(color.FgYellow)
	errorColor = color.New(color.FgRed)
)

func (c *Console) Debugf(format string, args ...interface{}) {
	c.logf(levelDebug, debugColor, "DEBUG", format, args...)
}

func (c *Console) Infof(format string, args ...interface{}) {
	c.logf(levelInfo, nil, "INFO", format, args...)
}

func (c *Console) Warnf(format string, args ...interface{}) {
	c.logf(levelWarn, warnColor, "WARN", format, args...)
}

func (c *Console) Errorf(format string, args ...interface{}) {
	c.logf(levelError, errorColor, "ERROR", format, args...)
}

func (c *Console) logf(level int, col *color.Color, tag, format string, args ...interface{}) {
	if level < c.level {
		return
	}
	line := fmt.Sprintf("[%s] %-5s %s\n", time.Now().Format("15:04:05"), tag, fmt.Sprintf(format, args...))

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.color && col != nil {
		col.Fprint(c.w, line)
		return
	}
	fmt.Fprint(c.w, line)
}
