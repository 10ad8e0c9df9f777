package commands

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/ChaneHaDa/stock-batch-server/internal/batch"
)

// ═══════════════════════════════════════════════════════════
// Common Formatting Utilities
// 모든 커맨드가 동일한 출력 포맷을 사용하도록 통일
// ═══════════════════════════════════════════════════════════

// PrintJobHeader prints a formatted header before a run
func PrintJobHeader(w io.Writer, title string, fields map[string]string, order ...string) {
	fmt.Fprintln(w)
	PrintDoubleSeparator(w)
	fmt.Fprintf(w, "  %s\n", title)
	PrintSeparator(w)
	for _, k := range order {
		fmt.Fprintf(w, "  %-10s: %s\n", k, fields[k])
	}
	PrintSeparator(w)
}

// PrintJob prints the outcome of one job
func PrintJob(w io.Writer, job batch.Job) {
	icon := "✅"
	if job.State != batch.StateCompleted {
		icon = "❌"
	}

	fmt.Fprintf(w, "%s %s  %s  [%s]\n", icon, job.ID, job.Fingerprint, job.State)
	if job.StartedAt != nil && job.FinishedAt != nil {
		fmt.Fprintf(w, "   duration   : %s\n", job.FinishedAt.Sub(*job.StartedAt).Round(time.Millisecond))
	}
	fmt.Fprintf(w, "   chunks     : %d\n", len(job.Chunks))

	switch job.Fingerprint.Type {
	case batch.JobTypeImport:
		in := job.Ingest
		fmt.Fprintf(w, "   instruments: %d created, %d updated\n", in.InstrumentsCreated, in.InstrumentsUpdated)
		fmt.Fprintf(w, "   prices     : %d inserted, %d skipped\n", in.PricesInserted, in.PricesSkipped)
		fmt.Fprintf(w, "   names      : %d changes, %d intervals added, %d extended\n", in.NameChanges, in.IntervalsAdded, in.IntervalsExtended)
		for _, ve := range in.Invalid {
			fmt.Fprintf(w, "   ⚠️  skipped %s\n", ve)
		}
	case batch.JobTypeMonthlyAggregation:
		ag := job.Aggregate
		fmt.Fprintf(w, "   aggregates : %d written (%d replaced) of %d instruments\n", ag.Written, ag.Replaced, ag.Instruments)
		for _, f := range job.AggregationFailures {
			fmt.Fprintf(w, "   ⚠️  instrument %d: %s\n", f.InstrumentID, f.Reason)
		}
	}

	if job.Error != "" {
		fmt.Fprintf(w, "   error      : %s\n", job.Error)
	}
}

// PrintJobTable prints jobs one per row
func PrintJobTable(w io.Writer, jobs []batch.Job) {
	widths := []int{36, 34, 10, 7}
	PrintTableHeader(w, []string{"ID", "FINGERPRINT", "STATE", "CHUNKS"}, widths)
	for _, j := range jobs {
		PrintTableRow(w, []string{j.ID, j.Fingerprint.String(), string(j.State), strconv.Itoa(len(j.Chunks))}, widths)
	}
}

// PrintSeparator prints a visual separator
func PrintSeparator(w io.Writer) {
	fmt.Fprintln(w, "───────────────────────────────────────────────────────────")
}

// PrintDoubleSeparator prints a double-line separator
func PrintDoubleSeparator(w io.Writer) {
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════")
}

// PrintSuccess prints a success message
func PrintSuccess(w io.Writer, message string) {
	fmt.Fprintf(w, "✅ %s\n", message)
}

// PrintWarning prints a warning message
func PrintWarning(w io.Writer, message string) {
	fmt.Fprintf(w, "⚠️  %s\n", message)
}

// PrintTableHeader prints a table header
func PrintTableHeader(w io.Writer, columns []string, widths []int) {
	PrintTableRow(w, columns, widths)

	// Separator line
	totalWidth := 0
	for i, width := range widths {
		totalWidth += width
		if i < len(widths)-1 {
			totalWidth += 2 // spacing
		}
	}
	for i := 0; i < totalWidth; i++ {
		fmt.Fprint(w, "─")
	}
	fmt.Fprintln(w)
}

// PrintTableRow prints a table row
func PrintTableRow(w io.Writer, values []string, widths []int) {
	for i, val := range values {
		fmt.Fprintf(w, "%-*s", widths[i], val)
		if i < len(values)-1 {
			fmt.Fprint(w, "  ")
		}
	}
	fmt.Fprintln(w)
}
