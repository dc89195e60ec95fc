package export

import "fmt"

// Column is one roster column. Width is in millimetres and only used by PDF
// output; zero widths share the remaining page width.
type Column struct {
	Key    string
	Header string
	Width  float64
}

// Sheet is a titled table ready for rendering.
type Sheet struct {
	Title    string
	Subtitle string
	Columns  []Column
	Rows     []map[string]string
}

func (s Sheet) validate() error {
	if len(s.Columns) == 0 {
		return fmt.Errorf("sheet requires at least one column")
	}
	return nil
}

// Record returns the row values in column order.
func (s Sheet) Record(row map[string]string) []string {
	record := make([]string, len(s.Columns))
	for i, col := range s.Columns {
		record[i] = row[col.Key]
	}
	return record
}

// Headers returns the column headers in order.
func (s Sheet) Headers() []string {
	headers := make([]string, len(s.Columns))
	for i, col := range s.Columns {
		headers[i] = col.Header
	}
	return headers
}
