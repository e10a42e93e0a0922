package main

import (
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/tonimelisma/dropbox-go/pkg/dropbox/model"
)

// Statusf prints progress to stderr unless --quiet is set. Results go to
// Stdout so they stay pipeable.
func (cc *CLIContext) Statusf(format string, args ...any) {
	if !cc.Flags.Quiet {
		fmt.Fprintf(cc.Stderr, format, args...)
	}
}

const (
	sizeKiB = 1 << 10
	sizeMiB = 1 << 20
	sizeGiB = 1 << 30
	sizeTiB = 1 << 40
)

// formatSize returns a human-readable size such as "1.2 MiB".
func formatSize(bytes int64) string {
	switch {
	case bytes >= sizeTiB:
		return fmt.Sprintf("%.1f TiB", float64(bytes)/sizeTiB)
	case bytes >= sizeGiB:
		return fmt.Sprintf("%.1f GiB", float64(bytes)/sizeGiB)
	case bytes >= sizeMiB:
		return fmt.Sprintf("%.1f MiB", float64(bytes)/sizeMiB)
	case bytes >= sizeKiB:
		return fmt.Sprintf("%.1f KiB", float64(bytes)/sizeKiB)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// formatTime returns a compact ls-style timestamp relative to now.
func formatTime(t, now time.Time) string {
	if t.Year() == now.Year() {
		return t.Format("Jan _2 15:04")
	}

	return t.Format("Jan _2  2006")
}

// formatModified formats an optional server timestamp; unknown is "-".
func formatModified(t *time.Time) string {
	if t == nil {
		return "-"
	}

	return formatTime(t.Local(), time.Now())
}

// entryName is the display name for an entry; folders get a trailing slash.
func entryName(m model.Metadata) string {
	name := path.Base(m.Path)
	if m.IsDir {
		name += "/"
	}

	return name
}

// metadataRow is one ls-style row: name, size, modified, rev.
func metadataRow(m model.Metadata) []string {
	size := formatSize(m.Bytes)
	if m.IsDir {
		size = "-"
	}

	rev := m.Rev
	if rev == "" {
		rev = "-"
	}

	name := entryName(m)
	if m.IsDeleted {
		name += " (deleted)"
	}

	return []string{name, size, formatModified(m.Modified), rev}
}

var metadataHeaders = []string{"NAME", "SIZE", "MODIFIED", "REV"}

// printTable writes aligned columns. Every row must have len(headers) cells.
func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], len(cell))
		}
	}

	printRow(w, headers, widths)

	for _, row := range rows {
		printRow(w, row, widths)
	}
}

func printRow(w io.Writer, cells []string, widths []int) {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
	}

	fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, "  "), " "))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

// errWriter keeps the first write error; later writes are no-ops.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

// jsonLine writes v as a single line, for streamed output.
func jsonLine(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}
