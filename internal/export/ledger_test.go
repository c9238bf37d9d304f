package export

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"staybook/internal/database"
	"staybook/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestLedgerExporter(t *testing.T) {
	logger := zerolog.Nop()
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	hold := func(in, out, guest string) *models.Reservation {
		rng, err := models.ParseDateRange(in, out)
		require.NoError(t, err)
		r, err := db.TryCreate(ctx, models.NewReservation{
			ID: uuid.NewString(), PropertyID: "42", Range: rng, GuestID: guest,
			Amount: int64(rng.Nights()) * 12550, Currency: "EUR",
			CreatedAt: created, PaymentDeadline: created.Add(15 * time.Minute),
		})
		require.NoError(t, err)
		return r
	}
	paid := hold("2025-07-01", "2025-07-03", "alice")
	_, err = db.Transition(ctx, paid.ID, models.StatusPendingPayment, models.StatusConfirmed)
	require.NoError(t, err)
	hold("2025-07-04", "2025-07-06", "bob")
	hold("2025-08-01", "2025-08-02", "outside")

	dir := filepath.Join(t.TempDir(), "exports")
	window, err := models.ParseDateRange("2025-07-01", "2025-07-08")
	require.NoError(t, err)

	path, err := NewLedgerExporter(db, dir, &logger).Export(ctx, "42", window)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "ledger_42_2025-07-01_2025-07-08.xlsx"), path)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(SheetReservations)
	require.NoError(t, err)
	require.Len(t, rows, 3, "header plus two reservations in the window")
	assert.Equal(t, "Гость", rows[0][1])
	assert.Equal(t, "alice", rows[1][1])
	assert.Equal(t, "CONFIRMED", rows[1][5])
	assert.Equal(t, "251", rows[1][6])
	assert.Equal(t, "bob", rows[2][1])

	first, err := f.GetCellValue(SheetCalendar, "B2")
	require.NoError(t, err)
	assert.Equal(t, "alice", first)
	gap, _ := f.GetCellValue(SheetCalendar, "D2")
	assert.Empty(t, gap, "checkout night is free")
	fifth, _ := f.GetCellValue(SheetCalendar, "E2")
	assert.Equal(t, "bob", fifth)
	header, _ := f.GetCellValue(SheetCalendar, "H1")
	assert.Equal(t, "07.07", header)

	_, err = NewLedgerExporter(db, dir, &logger).Export(ctx, "42", models.DateRange{})
	assert.ErrorIs(t, err, models.ErrValidation)
}
