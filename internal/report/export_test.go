package report

import (
	"bytes"
	"testing"
	"time"

	"clinicqueue/internal/database"
	"clinicqueue/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestExportQueue(t *testing.T) {
	booked := time.Date(2025, 3, 10, 9, 15, 0, 0, time.UTC)
	state := models.State{
		Tokens: []models.Token{
			{TokenNumber: 1, Name: "A", Phone: "1", Age: 30, Department: "ENT", BookedAt: booked, Visited: true},
			{TokenNumber: 2, Name: "B", Phone: "2", Age: 9, Department: "Pediatrics", BookedAt: booked},
		},
		CurrentNumber:   2,
		NextTokenNumber: 3,
	}
	epochs := []database.Epoch{{ID: 7, Reason: "drained", ClosedAt: booked, TokenCount: 12, ServedCount: 12}}

	var buf bytes.Buffer
	require.NoError(t, ExportQueue(&buf, state, epochs, time.UTC))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Queue", "History"}, f.GetSheetList())

	rows, err := f.GetRows("Queue")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, queueColumns, rows[0])
	assert.Equal(t, []string{"1", "A", "1", "30", "ENT", "2025-03-10 09:15", "visited"}, rows[1])
	assert.Equal(t, "waiting", rows[2][6])

	history, err := f.GetRows("History")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, []string{"7", "drained", "2025-03-10 09:15", "12", "12"}, history[1])
}

func TestExportQueue_NoHistory(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, ExportQueue(&buf, models.NewState(), nil, time.UTC))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{"Queue"}, f.GetSheetList())
}
