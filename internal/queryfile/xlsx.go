package queryfile

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/multiscrape/internal/model"
)

// ReadXLSX reads the first sheet of an XLSX workbook with the same column
// rules as ParseCSV.
func ReadXLSX(path string, defaultKind model.Kind) ([]model.Query, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "queryfile: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("queryfile: workbook has no sheets")
	}

	sheet := f.Sheets[0]
	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		if row == nil {
			continue
		}
		cells := make([]string, len(row.Cells))
		for j, c := range row.Cells {
			cells[j] = c.String()
		}
		rows = append(rows, cells)
	}
	return rowsToQueries(rows, defaultKind)
}
