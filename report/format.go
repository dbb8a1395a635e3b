package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/rlch/palm"
)

// Formatter renders translation events and the final summary.
type Formatter interface {
	Format(event palm.Event, summary *Summary) error
	Summary(summary *Summary) error
}

// FormatHandler is a Handler that delegates to a Formatter.
type FormatHandler struct {
	formatter Formatter
}

// NewFormatHandler creates a handler that formats events.
func NewFormatHandler(f Formatter) *FormatHandler {
	return &FormatHandler{formatter: f}
}

// Event formats the event.
func (h *FormatHandler) Event(_ context.Context, event palm.Event, summary *Summary) error {
	return h.formatter.Format(event, summary)
}

// Summary renders the final summary.
func (h *FormatHandler) Summary(summary *Summary) error {
	return h.formatter.Summary(summary)
}

var (
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#00BA7C")).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F4B400"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F4212E")).Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#8899A6"))
	titleStyle = lipgloss.NewStyle().Bold(true)
)

func statusLine(summary *Summary) string {
	if summary.Ok() {
		return okStyle.Render("OK")
	}

	return errStyle.Render("INCOMPLETE")
}

// -----------------------------------------------------------------------------
// Dots Formatter
// -----------------------------------------------------------------------------

// DotsFormatter prints one character per model outcome.
type DotsFormatter struct {
	w     io.Writer
	count int
}

// NewDotsFormatter creates a dots formatter.
func NewDotsFormatter(w io.Writer) *DotsFormatter {
	return &DotsFormatter{w: w}
}

const lineWidth = 80

// Format prints a character for model and drop events.
func (d *DotsFormatter) Format(event palm.Event, _ *Summary) error {
	var char string

	switch event.Action {
	case palm.ActionTranslate:
		char = "."
	case palm.ActionReuse:
		char = "="
	case palm.ActionSupplied:
		char = "s"
	case palm.ActionDrop:
		char = errStyle.Render("x")
	default:
		return nil
	}

	_, err := fmt.Fprint(d.w, char)
	d.count++

	if d.count%lineWidth == 0 {
		_, _ = fmt.Fprintln(d.w)
	}

	return err
}

// Summary prints the final counts.
func (d *DotsFormatter) Summary(summary *Summary) error {
	if d.count > 0 && d.count%lineWidth != 0 {
		_, _ = fmt.Fprintln(d.w)
	}

	for _, f := range summary.DroppedFields() {
		_, _ = fmt.Fprintf(d.w, "DROPPED %s\n", f)
	}

	_, _ = fmt.Fprintf(d.w, "%s %d translated, %d reused, %d supplied, %d dropped in %s\n",
		statusLine(summary),
		summary.Translated,
		summary.Reused,
		summary.Supplied,
		summary.Dropped,
		summary.Elapsed().Round(time.Millisecond),
	)

	return nil
}

// -----------------------------------------------------------------------------
// Verbose Formatter
// -----------------------------------------------------------------------------

// VerboseFormatter prints every event.
type VerboseFormatter struct {
	w io.Writer
}

// NewVerboseFormatter creates a verbose formatter.
func NewVerboseFormatter(w io.Writer) *VerboseFormatter {
	return &VerboseFormatter{w: w}
}

// Format prints each event as it occurs.
func (v *VerboseFormatter) Format(event palm.Event, _ *Summary) error {
	conn := dimStyle.Render("[" + event.Connection + "]")

	switch event.Action {
	case palm.ActionPass:
		_, _ = fmt.Fprintf(v.w, "=== PASS %d %s %s\n", event.Pass, conn, event.Message)
	case palm.ActionTranslate:
		_, _ = fmt.Fprintf(v.w, "--- %s: %s (%s)\n", okStyle.Render("TRANSLATED"), event.Model, event.Elapsed)
	case palm.ActionReuse:
		_, _ = fmt.Fprintf(v.w, "--- REUSED: %s\n", event.Model)
	case palm.ActionSupplied:
		_, _ = fmt.Fprintf(v.w, "--- SUPPLIED: %s\n", event.Model)
	case palm.ActionDefer:
		_, _ = fmt.Fprintf(v.w, "    deferred %s.%s\n", event.Model, event.Field)
	case palm.ActionResolve:
		_, _ = fmt.Fprintf(v.w, "    resolved %s.%s\n", event.Model, event.Field)
	case palm.ActionDrop:
		_, _ = fmt.Fprintf(v.w, "--- %s: %s.%s\n", warnStyle.Render("DROPPED"), event.Model, event.Field)
	case palm.ActionHook:
		_, _ = fmt.Fprintf(v.w, "=== HOOK %s %s (%s)\n", conn, event.Message, event.Elapsed)
	case palm.ActionConfirm:
		_, _ = fmt.Fprintf(v.w, "=== CONFIRM %s regenerate %s\n", conn, event.Message)
	}

	return nil
}

// Summary prints the final results.
func (v *VerboseFormatter) Summary(summary *Summary) error {
	_, _ = fmt.Fprintln(v.w)
	_, _ = fmt.Fprintln(v.w, statusLine(summary))
	_, _ = fmt.Fprintf(v.w, "  %d passes, %d translated, %d reused, %d supplied\n",
		summary.Passes,
		summary.Translated,
		summary.Reused,
		summary.Supplied,
	)
	_, _ = fmt.Fprintf(v.w, "  %d deferred, %d resolved, %d dropped\n",
		summary.Deferred,
		summary.Resolved,
		summary.Dropped,
	)

	if dropped := summary.DroppedFields(); len(dropped) > 0 {
		_, _ = fmt.Fprintf(v.w, "  dropped: %s\n", strings.Join(dropped, ", "))
	}

	_, _ = fmt.Fprintf(v.w, "  elapsed: %s\n", summary.Elapsed().Round(time.Millisecond))

	return nil
}

// -----------------------------------------------------------------------------
// Table Formatter
// -----------------------------------------------------------------------------

// TableFormatter prints nothing while running and a per-model table at the
// end.
type TableFormatter struct {
	w io.Writer
}

// NewTableFormatter creates a table formatter.
func NewTableFormatter(w io.Writer) *TableFormatter {
	return &TableFormatter{w: w}
}

// Format is a no-op.
func (t *TableFormatter) Format(palm.Event, *Summary) error { return nil }

var cellStyle = lipgloss.NewStyle().PaddingRight(2)

// Summary prints one row per model.
func (t *TableFormatter) Summary(summary *Summary) error {
	rows := [][]string{{"CONNECTION", "MODEL", "STATUS", "PASS", "DEFERRED", "DROPPED"}}

	for _, mr := range summary.Results() {
		rows = append(rows, []string{
			mr.Connection,
			mr.Model,
			string(mr.Status),
			fmt.Sprint(mr.Pass),
			strings.Join(mr.Deferred, ","),
			strings.Join(mr.Dropped, ","),
		})
	}

	widths := make([]int, len(rows[0]))

	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	for r, row := range rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			cells[i] = cellStyle.Width(widths[i] + 2).Render(cell)
		}

		line := lipgloss.JoinHorizontal(lipgloss.Top, cells...)
		if r == 0 {
			line = titleStyle.Render(line)
		}

		_, _ = fmt.Fprintln(t.w, strings.TrimRight(line, " "))
	}

	_, _ = fmt.Fprintf(t.w, "%s in %s\n", statusLine(summary), summary.Elapsed().Round(time.Millisecond))

	return nil
}

// -----------------------------------------------------------------------------
// JSON Formatter
// -----------------------------------------------------------------------------

// JSONFormatter outputs newline-delimited JSON events.
type JSONFormatter struct {
	enc *json.Encoder
}

// NewJSONFormatter creates a JSON formatter.
func NewJSONFormatter(w io.Writer) *JSONFormatter {
	return &JSONFormatter{enc: json.NewEncoder(w)}
}

type jsonEvent struct {
	Time       string  `json:"time"`
	Action     string  `json:"action"`
	Engine     string  `json:"engine"`
	Connection string  `json:"connection"`
	Pass       int     `json:"pass"`
	Model      string  `json:"model,omitempty"`
	Field      string  `json:"field,omitempty"`
	Elapsed    float64 `json:"elapsed,omitempty"`
	Message    string  `json:"message,omitempty"`
}

// Format outputs a JSON event.
func (j *JSONFormatter) Format(event palm.Event, _ *Summary) error {
	return j.enc.Encode(jsonEvent{
		Time:       event.Time.Format(time.RFC3339Nano),
		Action:     string(event.Action),
		Engine:     event.Engine,
		Connection: event.Connection,
		Pass:       event.Pass,
		Model:      event.Model,
		Field:      event.Field,
		Elapsed:    event.Elapsed.Seconds(),
		Message:    event.Message,
	})
}

type jsonSummary struct {
	Action     string   `json:"action"`
	Passes     int      `json:"passes"`
	Translated int      `json:"translated"`
	Reused     int      `json:"reused"`
	Supplied   int      `json:"supplied"`
	Deferred   int      `json:"deferred"`
	Resolved   int      `json:"resolved"`
	Dropped    []string `json:"dropped,omitempty"`
	Elapsed    float64  `json:"elapsed"`
	Ok         bool     `json:"ok"`
}

// Summary outputs the final JSON summary.
func (j *JSONFormatter) Summary(summary *Summary) error {
	return j.enc.Encode(jsonSummary{
		Action:     "summary",
		Passes:     summary.Passes,
		Translated: summary.Translated,
		Reused:     summary.Reused,
		Supplied:   summary.Supplied,
		Deferred:   summary.Deferred,
		Resolved:   summary.Resolved,
		Dropped:    summary.DroppedFields(),
		Elapsed:    summary.Elapsed().Seconds(),
		Ok:         summary.Ok(),
	})
}

// NewFormatter creates a formatter by name: "dots", "verbose", "table" or
// "json". Unknown names get dots.
func NewFormatter(name string, w io.Writer) Formatter { //nolint:ireturn
	switch name {
	case "verbose":
		return NewVerboseFormatter(w)
	case "table":
		return NewTableFormatter(w)
	case "json":
		return NewJSONFormatter(w)
	default:
		return NewDotsFormatter(w)
	}
}
