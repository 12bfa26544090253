package printer

import (
	"time"

	"github.com/slok/postsched/internal/model"
)

// Printer knows how to print postsched information in different formats.
type Printer interface {
	PrintTasks(tasks []model.Task) error
	PrintPlan(descs []model.TaskDescriptor, now time.Time) error
	PrintHistory(entries []model.LogEntry) error
	PrintOutcome(outcome model.UploadOutcome) error
	PrintMessage(msg string) error
}

var (
	_ Printer = (*TablePrinter)(nil)
	_ Printer = (*JSONPrinter)(nil)
)

// OutcomeMessage returns the user facing description of a failed outcome.
func OutcomeMessage(o model.UploadOutcome) string {
	if o.Success {
		return "ok"
	}
	if o.ErrorKind == model.ErrorKindUnauthorized {
		return "unauthorized: the upload API rejected the credential, check your API key"
	}
	return o.Err().Error()
}
