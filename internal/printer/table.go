package printer

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/slok/postsched/internal/model"
)

// TablePrinter prints postsched information in a table format.
type TablePrinter struct {
	writer io.Writer
}

// NewTablePrinter creates a new table printer.
func NewTablePrinter(w io.Writer) *TablePrinter {
	return &TablePrinter{writer: w}
}

// PrintTasks prints the tasks of a queue snapshot.
func (t *TablePrinter) PrintTasks(tasks []model.Task) error {
	if len(tasks) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "ID\tMEDIA\tOWNER\tSCHEDULED\tSTATUS\tERROR")
	for _, task := range tasks {
		errMsg := ""
		if task.LastError != nil {
			errMsg = string(task.LastError.Kind)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			task.ID,
			filepath.Base(task.MediaRef),
			task.Owner,
			FormatTimestamp(task.ScheduledAt),
			task.Status,
			errMsg,
		)
	}

	return nil
}

// PrintPlan prints the planned uploads with the time remaining for each.
func (t *TablePrinter) PrintPlan(descs []model.TaskDescriptor, now time.Time) error {
	if len(descs) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "MEDIA\tCAPTION\tOWNER\tPLATFORMS\tTIME\tREMAINING")
	for _, d := range descs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			filepath.Base(d.MediaRef),
			truncate(d.Caption, 40),
			d.Owner,
			platforms(d.Platforms),
			FormatTimestamp(d.ScheduledAt),
			TimeUntil(d.ScheduledAt, now),
		)
	}

	return nil
}

// PrintHistory prints the recorded upload results.
func (t *TablePrinter) PrintHistory(entries []model.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "TIME\tOWNER\tMEDIA\tPLATFORMS\tRESULT\tDETAIL")
	for _, e := range entries {
		// Undecodable records are shown as they were stored.
		if e.Raw != "" {
			fmt.Fprintf(tw, "-\t-\t-\t-\tunknown\t%s\n", truncate(e.Raw, 80))
			continue
		}

		result, detail := "ok", ""
		if !e.Outcome.Success {
			result = string(e.Outcome.ErrorKind)
			detail = truncate(e.Outcome.Message, 80)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			FormatTimestamp(e.Timestamp),
			e.Owner,
			filepath.Base(e.MediaRef),
			platforms(e.Platforms),
			result,
			detail,
		)
	}

	return nil
}

// PrintOutcome prints a single upload outcome.
func (t *TablePrinter) PrintOutcome(outcome model.UploadOutcome) error {
	if outcome.Success {
		fmt.Fprintf(t.writer, "Upload succeeded (status %d)\n", outcome.StatusCode)
		if len(outcome.Response) > 0 {
			fmt.Fprintf(t.writer, "Response:  %s\n", outcome.Response)
		}
		return nil
	}

	fmt.Fprintf(t.writer, "Upload failed: %s\n", OutcomeMessage(outcome))
	return nil
}

// PrintMessage prints a simple text message.
func (t *TablePrinter) PrintMessage(msg string) error {
	fmt.Fprintln(t.writer, msg)
	return nil
}

func platforms(ps []string) string {
	if len(ps) == 0 {
		return "all"
	}
	return strings.Join(ps, ",")
}

func truncate(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
