package queryfile

import (
	"encoding/csv"
	"io"

	"github.com/rotisserie/eris"

	"github.com/sells-group/multiscrape/internal/model"
)

// ParseCSV reads a CSV with a header row. The query column is required;
// type and max_results are optional and any other column becomes a
// filter (for example "site").
func ParseCSV(r io.Reader, defaultKind model.Kind) ([]model.Query, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, eris.Wrap(err, "queryfile: read csv")
	}
	return rowsToQueries(rows, defaultKind)
}
