// Package output renders run progress and run reports for people and
// machines.
package output

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/wesleyorama2/stampede/internal/loadgen/engine"
)

// Cursor control for the live display.
const (
	cursorUp  = "\033[%dA"
	clearLine = "\033[2K"
)

const (
	boxHorizontal  = "━"
	progressFilled = "█"
	progressEmpty  = "░"
)

// Palette holds the colors of the console output.
type Palette struct {
	Title  *color.Color
	Rule   *color.Color
	Good   *color.Color
	Warn   *color.Color
	Bad    *color.Color
	Value  *color.Color
	Dim    *color.Color
	Accent *color.Color
}

// NewPalette returns the default palette, with colors forced on or off.
func NewPalette(enabled bool) *Palette {
	p := &Palette{
		Title:  color.New(color.Bold),
		Rule:   color.New(color.FgCyan),
		Good:   color.New(color.FgGreen),
		Warn:   color.New(color.FgYellow),
		Bad:    color.New(color.FgRed, color.Bold),
		Value:  color.New(color.FgCyan),
		Dim:    color.New(color.Faint),
		Accent: color.New(color.FgMagenta),
	}
	for _, c := range []*color.Color{p.Title, p.Rule, p.Good, p.Warn, p.Bad, p.Value, p.Dim, p.Accent} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// ConsoleConfig contains configuration for Console.
type ConsoleConfig struct {
	Name         string
	ExecutorType string
	Writer       io.Writer
	Quiet        bool
	NoColor      bool
	ForceColors  bool
	ForceTTY     bool
}

// Console writes live progress and the final summary of a run.
type Console struct {
	name         string
	executorType string
	writer       io.Writer
	isTTY        bool
	quiet        bool
	palette      *Palette

	mu          sync.Mutex
	linesOutput int
}

// NewConsole creates a console writer. Colors are used on terminals unless
// NoColor is set or NO_COLOR is present in the environment.
func NewConsole(cfg ConsoleConfig) *Console {
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}

	isTTY := cfg.ForceTTY || isTerminal(cfg.Writer)
	useColors := cfg.ForceColors || (isTTY && !cfg.NoColor && os.Getenv("NO_COLOR") == "")
	if cfg.NoColor {
		useColors = false
	}

	return &Console{
		name:         cfg.Name,
		executorType: cfg.ExecutorType,
		writer:       cfg.Writer,
		isTTY:        isTTY,
		quiet:        cfg.Quiet,
		palette:      NewPalette(useColors),
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// IsTTY returns whether the output is a terminal.
func (c *Console) IsTTY() bool {
	return c.isTTY
}

// PrintHeader prints the run header.
func (c *Console) PrintHeader(runDescription string) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	line := strings.Repeat(boxHorizontal, 56)
	executorInfo := ""
	if c.executorType != "" {
		executorInfo = fmt.Sprintf(" [%s]", c.executorType)
	}

	c.writeln(c.palette.Rule.Sprint(line))
	c.writeln(c.palette.Title.Sprintf("%s - Running%s", c.name, executorInfo))
	if runDescription != "" {
		c.writeln(c.palette.Dim.Sprint(runDescription))
	}
	c.writeln(c.palette.Rule.Sprint(line))
	c.writeln("")
}

// Watch renders progress every interval until ctx is done. On a terminal
// the display is redrawn in place, otherwise one line is printed per tick.
func (c *Console) Watch(ctx context.Context, interval time.Duration, stats func() engine.LiveStats) {
	if c.quiet {
		return
	}
	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := stats()
			if c.isTTY {
				c.Update(s)
			} else {
				c.PrintProgressLine(s)
			}
		}
	}
}

// Update redraws the live display.
func (c *Console) Update(stats engine.LiveStats) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.clearLiveLocked()

	lines := c.renderLiveStats(stats)
	c.linesOutput = len(lines)
	for _, line := range lines {
		c.writeln(line)
	}
}

// PrintProgressLine prints a single status line, for logs and CI.
func (c *Console) PrintProgressLine(stats engine.LiveStats) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.writeln(fmt.Sprintf("[%s] %s %.0f%% | VUs: %d/%d | Iterations: %d | Fatal: %d | Stage: %s",
		formatDuration(stats.Elapsed),
		stats.State,
		stats.Progress*100,
		stats.ActiveVUs,
		stats.TargetVUs,
		stats.Iterations,
		stats.FatalIterations,
		stageInfo(stats)))
}

func (c *Console) renderLiveStats(stats engine.LiveStats) []string {
	p := c.palette

	progress := fmt.Sprintf("Progress: %s %s | %s",
		p.Good.Sprint(renderProgressBar(stats.Progress, 40)),
		p.Title.Sprintf("%.0f%%", stats.Progress*100),
		p.Dim.Sprint(formatDuration(stats.Elapsed)))

	fatalColor := p.Good
	if stats.FatalIterations > 0 {
		fatalColor = p.Warn
	}

	return []string{
		progress,
		fmt.Sprintf("Stage:    %s", p.Accent.Sprint(stageInfo(stats))),
		fmt.Sprintf("VUs:      %s / %d", p.Value.Sprint(stats.ActiveVUs), stats.TargetVUs),
		fmt.Sprintf("Iters:    %s (fatal %s)",
			p.Value.Sprint(formatNumber(stats.Iterations)),
			fatalColor.Sprint(formatNumber(stats.FatalIterations))),
	}
}

func stageInfo(stats engine.LiveStats) string {
	phase := string(stats.Phase)
	if phase == "" {
		phase = stats.State.String()
	}
	if stats.TotalStages > 0 {
		return fmt.Sprintf("%s (%d/%d)", phase, stats.Stage, stats.TotalStages)
	}
	return phase
}

// clearLiveLocked erases the live display. c.mu must be held.
func (c *Console) clearLiveLocked() {
	if !c.isTTY || c.linesOutput == 0 {
		return
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	for i := 0; i < c.linesOutput; i++ {
		c.write(clearLine + "\n")
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	c.linesOutput = 0
}

func renderProgressBar(progress float64, width int) string {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}

	filled := int(progress * float64(width))
	return "[" + strings.Repeat(progressFilled, filled) + strings.Repeat(progressEmpty, width-filled) + "]"
}

func (c *Console) write(s string) {
	fmt.Fprint(c.writer, s)
}

func (c *Console) writeln(s string) {
	fmt.Fprintln(c.writer, s)
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %02ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
}

// formatMillis formats a trend value recorded in milliseconds.
func formatMillis(ms float64) string {
	switch {
	case ms == 0:
		return "0s"
	case ms < 1:
		return fmt.Sprintf("%.2fµs", ms*1000)
	case ms < 1000:
		return fmt.Sprintf("%.2fms", ms)
	case ms < 60000:
		return fmt.Sprintf("%.2fs", ms/1000)
	default:
		return formatDuration(time.Duration(ms * float64(time.Millisecond)))
	}
}

// formatNumber formats a number with thousands separators.
func formatNumber(n int64) string {
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	var result strings.Builder
	offset := len(str) % 3
	if offset > 0 {
		result.WriteString(str[:offset])
	}
	for i := offset; i < len(str); i += 3 {
		if result.Len() > 0 {
			result.WriteString(",")
		}
		result.WriteString(str[i : i+3])
	}
	return result.String()
}
