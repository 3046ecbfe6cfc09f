package report

import (
	"io"
	"time"

	"clinicqueue/internal/database"
	"clinicqueue/internal/models"
)

const timeLayout = "2006-01-02 15:04"

var (
	queueColumns   = []string{"Token", "Name", "Phone", "Age", "Department", "Booked at", "Status"}
	historyColumns = []string{"Epoch", "Reason", "Closed at", "Tokens", "Served"}
)

// ExportQueue writes an xlsx workbook with the current queue and, when
// given, the archived epochs.
func ExportQueue(w io.Writer, state models.State, epochs []database.Epoch, loc *time.Location) error {
	if loc == nil {
		loc = time.Local
	}

	xw := NewExcelizeWriter()
	defer xw.Close()

	if err := xw.AddSheet("Queue"); err != nil {
		return err
	}
	if err := xw.WriteHeader(queueColumns); err != nil {
		return err
	}
	for i := range state.Tokens {
		t := state.Tokens[i]
		status := "waiting"
		if !t.IsWaiting(state.CurrentNumber) {
			status = "visited"
		}
		row := []interface{}{t.TokenNumber, t.Name, t.Phone, t.Age, t.Department, t.BookedAt.In(loc).Format(timeLayout), status}
		if err := xw.WriteRow(row); err != nil {
			return err
		}
	}

	if epochs != nil {
		if err := xw.AddSheet("History"); err != nil {
			return err
		}
		if err := xw.WriteHeader(historyColumns); err != nil {
			return err
		}
		for _, e := range epochs {
			row := []interface{}{e.ID, e.Reason, e.ClosedAt.In(loc).Format(timeLayout), e.TokenCount, e.ServedCount}
			if err := xw.WriteRow(row); err != nil {
				return err
			}
		}
	}

	return xw.Save(w)
}
