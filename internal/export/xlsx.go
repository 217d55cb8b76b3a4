// Package export writes fallback records to spreadsheet files.
package export

import (
	"io"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/multiscrape/internal/model"
)

// SheetName is the name of the sheet holding exported records.
const SheetName = "Results"

// maxCellRunes stays under the XLSX per-cell character limit.
const maxCellRunes = 32000

// Header is the column order of exported sheets.
var Header = []string{"Source", "Type", "Title", "URL", "Description", "Content", "Scraped At"}

// Workbook builds an XLSX workbook with one row per record.
func Workbook(records []model.Record) (*xlsx.File, error) {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(SheetName)
	if err != nil {
		return nil, eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	for _, h := range Header {
		header.AddCell().SetString(h)
	}

	for _, r := range records {
		row := sheet.AddRow()
		for _, v := range []string{
			r.Provider,
			string(r.Kind),
			r.Title,
			r.URL,
			r.Description,
			clip(r.Content),
			r.ScrapedAt.UTC().Format(time.RFC3339),
		} {
			row.AddCell().SetString(v)
		}
	}
	return f, nil
}

// WriteXLSX saves records to path.
func WriteXLSX(path string, records []model.Record) error {
	f, err := Workbook(records)
	if err != nil {
		return err
	}
	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "export: save %s", path)
	}
	return nil
}

// Write streams the workbook to w.
func Write(w io.Writer, records []model.Record) error {
	f, err := Workbook(records)
	if err != nil {
		return err
	}
	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "export: write workbook")
	}
	return nil
}

func clip(s string) string {
	if utf8.RuneCountInString(s) <= maxCellRunes {
		return s
	}
	return string([]rune(s)[:maxCellRunes])
}
