package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"staybook/internal/domain"
	"staybook/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const (
	SheetReservations = "Брони"
	SheetCalendar     = "Календарь"
)

var reservationHeaders = []string{
	"ID", "Гость", "Заезд", "Выезд", "Ночей", "Статус", "Сумма", "Валюта", "Создана", "Оплатить до", "Payment intent",
}

// Цвета ячеек календаря по статусу брони.
var statusFill = map[models.Status]string{
	models.StatusPendingPayment: "#FFF2CC",
	models.StatusConfirmed:      "#C6EFCE",
}

// LedgerExporter writes the reservations of one property to an xlsx file.
type LedgerExporter struct {
	store  domain.IntervalStore
	dir    string
	logger zerolog.Logger
}

func NewLedgerExporter(store domain.IntervalStore, dir string, logger *zerolog.Logger) *LedgerExporter {
	return &LedgerExporter{
		store:  store,
		dir:    dir,
		logger: logger.With().Str("component", "export").Logger(),
	}
}

// Export returns the path of the written workbook.
func (e *LedgerExporter) Export(ctx context.Context, propertyID string, window models.DateRange) (string, error) {
	if err := window.Validate(0); err != nil {
		return "", err
	}
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}

	rows, err := e.store.ListByProperty(ctx, propertyID, window)
	if err != nil {
		return "", fmt.Errorf("error getting reservations: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := writeReservations(f, rows); err != nil {
		return "", err
	}
	if err := writeCalendar(f, propertyID, window, rows); err != nil {
		return "", err
	}
	_ = f.DeleteSheet("Sheet1")

	fileName := fmt.Sprintf("ledger_%s_%s_%s.xlsx",
		propertyID,
		window.CheckIn.Format(models.DateLayout),
		window.CheckOut.Format(models.DateLayout))
	filePath := filepath.Join(e.dir, fileName)
	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %w", err)
	}

	e.logger.Info().Str("file_path", filePath).Int("reservations", len(rows)).Msg("Ledger exported")
	return filePath, nil
}

func writeReservations(f *excelize.File, rows []*models.Reservation) error {
	index, err := f.NewSheet(SheetReservations)
	if err != nil {
		return fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)

	if err := f.SetSheetRow(SheetReservations, "A1", &reservationHeaders); err != nil {
		return err
	}
	header, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	lastCol, _ := excelize.ColumnNumberToName(len(reservationHeaders))
	_ = f.SetCellStyle(SheetReservations, "A1", lastCol+"1", header)

	for i, r := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		values := []any{
			r.ID,
			r.GuestID,
			r.Range.CheckIn.Format(models.DateLayout),
			r.Range.CheckOut.Format(models.DateLayout),
			r.Range.Nights(),
			string(r.Status),
			float64(r.Amount) / 100,
			r.Currency,
			r.CreatedAt.UTC().Format(time.RFC3339),
			r.PaymentDeadline.UTC().Format(time.RFC3339),
			r.PaymentIntentID,
		}
		if err := f.SetSheetRow(SheetReservations, cell, &values); err != nil {
			return err
		}
	}

	_ = f.SetColWidth(SheetReservations, "A", "A", 38)
	_ = f.SetColWidth(SheetReservations, "B", lastCol, 16)
	return nil
}

// writeCalendar renders one column per night of the window.
func writeCalendar(f *excelize.File, propertyID string, window models.DateRange, rows []*models.Reservation) error {
	if _, err := f.NewSheet(SheetCalendar); err != nil {
		return fmt.Errorf("error creating sheet: %w", err)
	}
	_ = f.SetCellValue(SheetCalendar, "A1", "Объект")
	_ = f.SetCellValue(SheetCalendar, "A2", propertyID)

	nights := window.NightDates()
	cols := make(map[string]int, len(nights))
	for i, night := range nights {
		col := i + 2
		cell, _ := excelize.CoordinatesToCellName(col, 1)
		_ = f.SetCellValue(SheetCalendar, cell, night.Format("02.01"))
		cols[night.Format(models.DateLayout)] = col
	}

	styles := make(map[models.Status]int, len(statusFill))
	for status, color := range statusFill {
		id, err := f.NewStyle(&excelize.Style{
			Fill:      excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
			Alignment: &excelize.Alignment{Horizontal: "center"},
		})
		if err != nil {
			return err
		}
		styles[status] = id
	}

	for _, r := range rows {
		style, ok := styles[r.Status]
		if !ok {
			continue
		}
		for _, night := range r.Range.NightDates() {
			col, ok := cols[night.Format(models.DateLayout)]
			if !ok {
				continue
			}
			cell, _ := excelize.CoordinatesToCellName(col, 2)
			_ = f.SetCellValue(SheetCalendar, cell, r.GuestID)
			_ = f.SetCellStyle(SheetCalendar, cell, cell, style)
		}
	}
	return nil
}
