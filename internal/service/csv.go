package service

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/unclebandit/leadflow-backend/internal/model"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ParseCSV turns an uploaded file into staging records keyed by normalised
// header. Only structure is checked: a header must exist and every row must
// have as many columns as the header.
func ParseCSV(data []byte) ([]model.StagingRecord, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, utf8BOM)))
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("file is empty, a header row is required")
	}
	if err != nil {
		return nil, err
	}
	columns := uniqueColumns(header)

	records := []model.StagingRecord{}
	for row := 1; ; row++ {
		fields, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}
		if isBlank(fields) {
			row--
			continue
		}
		rec := model.StagingRecord{Row: row, Fields: make(map[string]string, len(columns))}
		for i, v := range fields {
			rec.Fields[columns[i]] = strings.TrimSpace(v)
		}
		records = append(records, rec)
	}
	return records, nil
}

func normaliseHeader(h string, idx int) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.Join(strings.Fields(h), "_")
	if h == "" {
		return fmt.Sprintf("column_%d", idx+1)
	}
	return h
}

// uniqueColumns normalises header names and suffixes repeats with _2, _3
// and so on, so no column overwrites another in a record.
func uniqueColumns(header []string) []string {
	seen := make(map[string]bool, len(header))
	columns := make([]string, len(header))
	for i, h := range header {
		base := normaliseHeader(h, i)
		name := base
		for n := 2; seen[name]; n++ {
			name = fmt.Sprintf("%s_%d", base, n)
		}
		seen[name] = true
		columns[i] = name
	}
	return columns
}

func isBlank(fields []string) bool {
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
