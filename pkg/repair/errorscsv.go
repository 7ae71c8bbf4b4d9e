package repair

import (
	"encoding/csv"
	"fmt"
	"strings"
)

// ErrorRow is one parsed row of the inbound errors CSV. The format ships
// two column-naming conventions depending on which validator produced
// the file (errorMessage/errorPath vs error_message/error_path);
// ParseErrorsCSV normalizes both onto this struct.
type ErrorRow struct {
	Message      string
	Path         string
	DataGroupCID string
	FilePath     string
	CurrentValue string
}

// column aliases ParseErrorsCSV recognizes for each logical field.
var columnAliases = map[string][]string{
	"message":  {"errorMessage", "error_message"},
	"path":     {"errorPath", "error_path"},
	"dgcid":    {"data_group_cid"},
	"filepath": {"file_path"},
	"value":    {"currentValue"},
}

// ParseErrorsCSV parses the UTF-8, header-first errors CSV. Blank lines
// are skipped; every field is trimmed.
func ParseErrorsCSV(data []byte) ([]ErrorRow, error) {
	reader := csv.NewReader(strings.NewReader(string(data)))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse errors csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	header := records[0]
	index := map[string]int{}
	for field, aliases := range columnAliases {
		for i, col := range header {
			for _, alias := range aliases {
				if strings.TrimSpace(col) == alias {
					index[field] = i
				}
			}
		}
	}

	var rows []ErrorRow
	for _, record := range records[1:] {
		if isBlankRecord(record) {
			continue
		}
		rows = append(rows, ErrorRow{
			Message:      field(record, index, "message"),
			Path:         field(record, index, "path"),
			DataGroupCID: field(record, index, "dgcid"),
			FilePath:     field(record, index, "filepath"),
			CurrentValue: field(record, index, "value"),
		})
	}
	return rows, nil
}

func isBlankRecord(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

func field(record []string, index map[string]int, name string) string {
	i, ok := index[name]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

// RenderForPrompt flattens rows into the plain-text block the repair
// prompt template embeds (one line per error: "<path>: <message>").
func RenderForPrompt(rows []ErrorRow) string {
	var b strings.Builder
	for _, r := range rows {
		fmt.Fprintf(&b, "%s: %s\n", r.Path, r.Message)
	}
	return b.String()
}
