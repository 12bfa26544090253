package printer

import (
	"encoding/json"
	"io"
	"time"

	"github.com/slok/postsched/internal/model"
)

// JSONPrinter prints postsched information in JSON format.
type JSONPrinter struct {
	writer io.Writer
}

// NewJSONPrinter creates a new JSON printer.
func NewJSONPrinter(w io.Writer) *JSONPrinter {
	return &JSONPrinter{writer: w}
}

type taskOutput struct {
	ID          string     `json:"id"`
	Media       string     `json:"media"`
	Caption     string     `json:"caption"`
	Owner       string     `json:"owner"`
	Platforms   []string   `json:"platforms"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	Status      string     `json:"status"`
	Attempts    int        `json:"attempts"`
	ErrorKind   string     `json:"error_kind,omitempty"`
	Error       string     `json:"error,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

type planOutput struct {
	Media       string    `json:"media"`
	Caption     string    `json:"caption"`
	Owner       string    `json:"owner"`
	Platforms   []string  `json:"platforms"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Due         bool      `json:"due"`
	Remaining   string    `json:"remaining"`
}

type historyOutput struct {
	Timestamp  *time.Time      `json:"timestamp,omitempty"`
	TaskID     string          `json:"task_id,omitempty"`
	Owner      string          `json:"owner,omitempty"`
	Media      string          `json:"media,omitempty"`
	Caption    string          `json:"caption,omitempty"`
	Platforms  []string        `json:"platforms,omitempty"`
	Success    bool            `json:"success"`
	ErrorKind  string          `json:"error_kind,omitempty"`
	StatusCode int             `json:"status_code,omitempty"`
	Message    string          `json:"message,omitempty"`
	Response   json.RawMessage `json:"response,omitempty"`
	Raw        string          `json:"raw,omitempty"`
}

type messageOutput struct {
	Message string `json:"message"`
}

// PrintTasks prints the tasks of a queue snapshot in JSON format.
func (j *JSONPrinter) PrintTasks(tasks []model.Task) error {
	items := make([]taskOutput, 0, len(tasks))
	for _, t := range tasks {
		item := taskOutput{
			ID:          t.ID,
			Media:       t.MediaRef,
			Caption:     t.Caption,
			Owner:       t.Owner,
			Platforms:   t.Platforms,
			ScheduledAt: t.ScheduledAt.UTC(),
			Status:      string(t.Status),
			Attempts:    t.Attempts,
		}
		if t.LastError != nil {
			item.ErrorKind = string(t.LastError.Kind)
			item.Error = t.LastError.Message
		}
		if t.FinishedAt != nil {
			utcTime := t.FinishedAt.UTC()
			item.FinishedAt = &utcTime
		}
		items = append(items, item)
	}

	return j.encode(items)
}

// PrintPlan prints the planned uploads in JSON format.
func (j *JSONPrinter) PrintPlan(descs []model.TaskDescriptor, now time.Time) error {
	items := make([]planOutput, 0, len(descs))
	for _, d := range descs {
		items = append(items, planOutput{
			Media:       d.MediaRef,
			Caption:     d.Caption,
			Owner:       d.Owner,
			Platforms:   d.Platforms,
			ScheduledAt: d.ScheduledAt.UTC(),
			Due:         !d.ScheduledAt.After(now),
			Remaining:   TimeUntil(d.ScheduledAt, now),
		})
	}

	return j.encode(items)
}

// PrintHistory prints the recorded upload results in JSON format.
func (j *JSONPrinter) PrintHistory(entries []model.LogEntry) error {
	items := make([]historyOutput, 0, len(entries))
	for _, e := range entries {
		if e.Raw != "" {
			items = append(items, historyOutput{Raw: e.Raw})
			continue
		}

		ts := e.Timestamp.UTC()
		items = append(items, historyOutput{
			Timestamp:  &ts,
			TaskID:     e.TaskID,
			Owner:      e.Owner,
			Media:      e.MediaRef,
			Caption:    e.Caption,
			Platforms:  e.Platforms,
			Success:    e.Outcome.Success,
			ErrorKind:  string(e.Outcome.ErrorKind),
			StatusCode: e.Outcome.StatusCode,
			Message:    e.Outcome.Message,
			Response:   e.Outcome.Response,
		})
	}

	return j.encode(items)
}

// PrintOutcome prints a single upload outcome in JSON format.
func (j *JSONPrinter) PrintOutcome(o model.UploadOutcome) error {
	return j.encode(historyOutput{
		Success:    o.Success,
		ErrorKind:  string(o.ErrorKind),
		StatusCode: o.StatusCode,
		Message:    o.Message,
		Response:   o.Response,
	})
}

// PrintMessage prints a simple message in JSON format.
func (j *JSONPrinter) PrintMessage(msg string) error {
	return j.encode(messageOutput{Message: msg})
}

func (j *JSONPrinter) encode(v any) error {
	enc := json.NewEncoder(j.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
