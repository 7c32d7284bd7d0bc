package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// UI provides the pricelistctl operator-console output: colored status
// lines, a formatted table for comparison rows, and progress indicators for
// long-running ingest operations.
type UI struct {
	progress *mpb.Progress
	noColor  bool
	jsonMode bool
}

// NewUI creates a UI. In jsonMode, every human-readable method is a no-op
// so a caller's own JSON encoding is the only output on stdout.
func NewUI(jsonMode, noColor bool) *UI {
	if noColor {
		color.NoColor = true
	}
	var progress *mpb.Progress
	if !jsonMode {
		progress = mpb.New(mpb.WithWidth(64))
	}
	return &UI{progress: progress, noColor: noColor, jsonMode: jsonMode}
}

// Close waits for any outstanding progress bars to render their final frame.
func (ui *UI) Close() {
	if ui.progress == nil {
		return
	}
	if IsTerminal() {
		ui.progress.Wait()
	} else {
		ui.progress.Shutdown()
	}
}

func (ui *UI) Success(format string, args ...interface{}) {
	if ui.jsonMode {
		return
	}
	color.New(color.FgGreen).Printf("✓ %s\n", fmt.Sprintf(format, args...))
}

func (ui *UI) Error(format string, args ...interface{}) {
	if ui.jsonMode {
		return
	}
	color.New(color.FgRed).Fprintf(os.Stderr, "✗ %s\n", fmt.Sprintf(format, args...))
}

func (ui *UI) Warning(format string, args ...interface{}) {
	if ui.jsonMode {
		return
	}
	color.New(color.FgYellow).Printf("⚠ %s\n", fmt.Sprintf(format, args...))
}

func (ui *UI) Info(format string, args ...interface{}) {
	if ui.jsonMode {
		return
	}
	color.New(color.FgCyan).Printf("ℹ %s\n", fmt.Sprintf(format, args...))
}

func (ui *UI) Section(title string) {
	if ui.jsonMode {
		return
	}
	fmt.Println()
	color.New(color.FgMagenta, color.Bold).Printf("━━━ %s ━━━\n", strings.ToUpper(title))
	fmt.Println()
}

// PageProgressBar tracks an upload's OCR page-by-page progress via mpb.
func (ui *UI) PageProgressBar(uploadID string, total int) *mpb.Bar {
	if ui.progress == nil || total <= 0 {
		return nil
	}
	name := "page " + uploadID
	return ui.progress.AddBar(int64(total),
		mpb.PrependDecorators(
			decor.Name(name, decor.WC{W: len(name) + 1, C: decor.DSyncSpaceR}),
			decor.CountersNoUnit("%d / %d", decor.WCSyncWidth),
		),
		mpb.AppendDecorators(
			decor.Percentage(decor.WC{W: 5}),
			decor.OnComplete(decor.AverageETA(decor.ET_STYLE_GO, decor.WC{W: 12}), " done"),
		),
	)
}

// Spinner wraps a briandowns/spinner instance for the indefinite waits
// (e.g. an upstream OCR call) that don't have a known page count yet.
func (ui *UI) Spinner(message string) *spinner.Spinner {
	if ui.jsonMode {
		return nil
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + message
	s.Writer = os.Stderr
	return s
}

// SimpleProgressBar renders a determinate progressbar/v3 bar for batch CLI
// operations that aren't tied to a single upload's page count (e.g. a
// multi-row CSV export).
func (ui *UI) SimpleProgressBar(total int64, description string) *progressbar.ProgressBar {
	if ui.jsonMode {
		return progressbar.DefaultSilent(total)
	}
	return progressbar.NewOptions64(
		total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionOnCompletion(func() { fmt.Fprint(os.Stderr, "\n") }),
	)
}

// Table prints a box-drawn table of comparison rows.
func (ui *UI) Table(headers []string, rows [][]string) {
	if ui.jsonMode || len(headers) == 0 {
		return
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	border := func(left, mid, right, fill string) {
		fmt.Print(left)
		for i, w := range widths {
			fmt.Print(strings.Repeat(fill, w+2))
			if i < len(widths)-1 {
				fmt.Print(mid)
			}
		}
		fmt.Println(right)
	}
	line := func(cells []string) {
		fmt.Print("│")
		for i := range widths {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			fmt.Printf(" %-*s │", widths[i], cell)
		}
		fmt.Println()
	}

	border("┌", "┬", "┐", "─")
	line(headers)
	border("├", "┼", "┤", "─")
	for _, row := range rows {
		line(row)
	}
	border("└", "┴", "┘", "─")
}

// IsTerminal reports whether stdout is attached to a terminal.
func IsTerminal() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

// mpbBarHandle adapts a *mpb.Bar to the absolute page-count progress the
// ingest broadcaster publishes, rather than mpb's native incremental style.
type mpbBarHandle struct {
	bar *mpb.Bar
}

func newMpbBarHandle(ui *UI, uploadID string, total int) *mpbBarHandle {
	bar := ui.PageProgressBar(uploadID, total)
	if bar == nil {
		return nil
	}
	return &mpbBarHandle{bar: bar}
}

func (h *mpbBarHandle) setCurrent(current int) {
	if h == nil || h.bar == nil {
		return
	}
	h.bar.SetCurrent(int64(current))
}

func (h *mpbBarHandle) close() {
	if h == nil || h.bar == nil {
		return
	}
	if !h.bar.Completed() {
		h.bar.Abort(false)
	}
}

// statusColor returns the color appropriate to a comparison Status string.
func statusColor(status string) *color.Color {
	switch status {
	case "UP", "NEW":
		return color.New(color.FgGreen)
	case "DOWN", "REMOVED", "UNAVAIL":
		return color.New(color.FgRed)
	case "AVAIL":
		return color.New(color.FgCyan)
	default:
		return color.New(color.FgWhite)
	}
}
