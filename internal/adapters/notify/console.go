// Package notify implements ports.AlertSink as a terminal writer.
package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alexrivas/mirrorbot/internal/ports"
)

// Console implements ports.AlertSink by writing to an io.Writer.
type Console struct {
	out   io.Writer
	table bool // full tablewriter rendering vs. one compact line
}

// NewConsole creates a notifier that writes to stdout.
func NewConsole(table bool) *Console {
	return &Console{out: os.Stdout, table: table}
}

// NewConsoleWriter creates a notifier over an arbitrary writer, for tests.
func NewConsoleWriter(w io.Writer, table bool) *Console {
	return &Console{out: w, table: table}
}

var _ ports.AlertSink = (*Console)(nil)

// Notify renders a severity-graded event with its fields.
func (c *Console) Notify(_ context.Context, severity ports.Severity, event string, fields map[string]string) error {
	if c.table {
		c.printTable(severity, event, fields)
	} else {
		c.printCompact(severity, event, fields)
	}
	return nil
}

func (c *Console) printCompact(severity ports.Severity, event string, fields map[string]string) {
	now := time.Now().Format("15:04:05")
	fmt.Fprintf(c.out, "[%s] %s %s", now, icon(severity), event)
	for _, k := range sortedKeys(fields) {
		fmt.Fprintf(c.out, " %s=%s", k, fields[k])
	}
	fmt.Fprintln(c.out)
}

func (c *Console) printTable(severity ports.Severity, event string, fields map[string]string) {
	now := time.Now().Format("15:04:05")
	fmt.Fprintf(c.out, "\n[%s] %s %s\n", now, icon(severity), event)

	if len(fields) == 0 {
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Field", "Value")
	for _, k := range sortedKeys(fields) {
		table.Append(k, fields[k])
	}
	table.Render()
}

func icon(s ports.Severity) string {
	switch s {
	case ports.SeverityCritical:
		return "🔴"
	case ports.SeverityHigh:
		return "🟠"
	case ports.SeverityWarning:
		return "🟡"
	default:
		return "ℹ"
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
