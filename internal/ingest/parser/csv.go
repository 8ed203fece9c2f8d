// Package parser turns raw submissions into countable items.
package parser

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	ErrEmptyContent = errors.New("empty_content")
	ErrNoHeader     = errors.New("missing_header")
	ErrNoRows       = errors.New("no_data_rows")
)

// Record is one data row with its 1-based index.
type Record struct {
	Index  int
	Values []string
}

type Table struct {
	Header  []string
	Records []Record
}

// Fields maps a record onto the header. Extra values are dropped and missing
// ones are blank.
func (t *Table) Fields(rec Record) map[string]string {
	out := make(map[string]string, len(t.Header))
	for i, name := range t.Header {
		if i < len(rec.Values) {
			out[name] = rec.Values[i]
		} else {
			out[name] = ""
		}
	}
	return out
}

// ReadCSV reads a header line followed by data rows. Rows may have a column
// count that differs from the header; callers decide how to report them.
func ReadCSV(content []byte) (*Table, error) {
	if len(bytes.TrimSpace(content)) == 0 {
		return nil, ErrEmptyContent
	}

	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(content, []byte("\ufeff"))))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrNoHeader
	}
	if err != nil {
		return nil, fmt.Errorf("malformed csv: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	if len(header) == 0 || (len(header) == 1 && header[0] == "") {
		return nil, ErrNoHeader
	}

	table := &Table{Header: header}
	for index := 1; ; index++ {
		values, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("malformed csv at row %d: %w", index, err)
		}
		table.Records = append(table.Records, Record{Index: index, Values: values})
	}
	if len(table.Records) == 0 {
		return nil, ErrNoRows
	}
	return table, nil
}
