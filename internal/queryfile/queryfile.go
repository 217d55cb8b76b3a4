// Package queryfile loads batch queries from YAML, CSV, or XLSX files.
package queryfile

import (
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/multiscrape/internal/model"
)

// Read loads queries from path, choosing the parser by file extension.
// Rows without an explicit kind use defaultKind.
func Read(path string, defaultKind model.Kind) ([]model.Query, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".xlsx" {
		return ReadXLSX(path, defaultKind)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "queryfile: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	switch ext {
	case ".yaml", ".yml":
		return ParseYAML(f, defaultKind)
	case ".csv":
		return ParseCSV(f, defaultKind)
	default:
		return nil, eris.Errorf("queryfile: unsupported file type %q", ext)
	}
}

// columns maps header names to their positions.
type columns struct {
	query, kind, max int
	filters          map[string]int
}

var (
	queryHeaders = []string{"query", "text", "q"}
	kindHeaders  = []string{"type", "kind"}
	maxHeaders   = []string{"max_results", "maxresults", "max"}
)

func parseHeader(header []string) (columns, error) {
	cols := columns{query: -1, kind: -1, max: -1, filters: make(map[string]int)}
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		switch {
		case name == "":
			continue
		case contains(queryHeaders, name):
			cols.query = i
		case contains(kindHeaders, name):
			cols.kind = i
		case contains(maxHeaders, name):
			cols.max = i
		default:
			cols.filters[name] = i
		}
	}
	if cols.query < 0 {
		return cols, eris.New("queryfile: header has no query column")
	}
	return cols, nil
}

// rowsToQueries converts tabular rows (header first) into queries. Blank
// rows are skipped.
func rowsToQueries(rows [][]string, defaultKind model.Kind) ([]model.Query, error) {
	if len(rows) == 0 {
		return nil, eris.New("queryfile: file is empty")
	}
	cols, err := parseHeader(rows[0])
	if err != nil {
		return nil, err
	}

	var out []model.Query
	for i, row := range rows[1:] {
		line := i + 2
		text := cell(row, cols.query)
		if text == "" {
			continue
		}

		q := model.NewQuery(text, defaultKind)
		if k := cell(row, cols.kind); k != "" {
			kind, err := model.ParseKind(k)
			if err != nil {
				return nil, eris.Wrapf(err, "queryfile: row %d", line)
			}
			q.Kind = kind
		}
		if m := cell(row, cols.max); m != "" {
			n, err := strconv.Atoi(m)
			if err != nil {
				return nil, eris.Wrapf(err, "queryfile: row %d: max results", line)
			}
			q.MaxResults = n
		}
		for name, idx := range cols.filters {
			if v := cell(row, idx); v != "" {
				if q.Filters == nil {
					q.Filters = make(map[string]any)
				}
				q.Filters[name] = v
			}
		}
		if err := q.Validate(); err != nil {
			return nil, eris.Wrapf(err, "queryfile: row %d", line)
		}
		out = append(out, q)
	}
	if len(out) == 0 {
		return nil, eris.New("queryfile: no queries found")
	}
	return out, nil
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// readAll is shared by the stream parsers for error wrapping.
func readAll(r io.Reader, what string) ([]byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrapf(err, "queryfile: read %s", what)
	}
	return data, nil
}
