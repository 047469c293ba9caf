// Package bulkfile parses bulk feedback uploads. CSV and JSON are supported;
// the format is picked from the filename extension with a content-sniffing
// fallback for extensionless uploads.
package bulkfile

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/fairyhunter13/feedback-analyzer/internal/domain"
)

// MaxUploadBytes caps a single bulk upload.
const MaxUploadBytes = 10 << 20

// Parse reads the upload and returns one map per feedback item. Keys are
// passed through as-is; downstream decides which fields matter.
func Parse(r io.Reader, filename string) ([]map[string]any, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxUploadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read upload: %v", domain.ErrInvalidArgument, err)
	}
	if len(data) > MaxUploadBytes {
		return nil, fmt.Errorf("%w: upload exceeds %d bytes", domain.ErrInvalidArgument, MaxUploadBytes)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty upload", domain.ErrInvalidArgument)
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return parseCSV(data)
	case ".json":
		return parseJSON(data)
	}

	// No usable extension: sniff, then try JSON before CSV since JSON
	// detection is unambiguous.
	if mt := mimetype.Detect(data); mt.Is("application/json") {
		return parseJSON(data)
	}
	if items, err := parseJSON(data); err == nil {
		return items, nil
	}
	return parseCSV(data)
}

// parseJSON accepts an array of items, an {"items": [...]} envelope, or a
// single object.
func parseJSON(data []byte) ([]map[string]any, error) {
	trimmed := bytes.TrimSpace(data)

	var items []map[string]any
	if err := json.Unmarshal(trimmed, &items); err == nil {
		return items, nil
	}

	var envelope struct {
		Items []map[string]any `json:"items"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err == nil && envelope.Items != nil {
		return envelope.Items, nil
	}

	var single map[string]any
	if err := json.Unmarshal(trimmed, &single); err == nil && single != nil {
		return []map[string]any{single}, nil
	}

	return nil, fmt.Errorf("%w: invalid JSON upload", domain.ErrInvalidArgument)
}

// parseCSV expects a header row naming at least a text column. Every data row
// becomes one item keyed by the header names.
func parseCSV(data []byte) ([]map[string]any, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: read CSV header: %v", domain.ErrInvalidArgument, err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	hasText := false
	for _, h := range header {
		if strings.EqualFold(h, "text") {
			hasText = true
			break
		}
	}
	if !hasText {
		return nil, fmt.Errorf("%w: CSV header must include a text column", domain.ErrInvalidArgument)
	}

	var items []map[string]any
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read CSV row: %v", domain.ErrInvalidArgument, err)
		}
		item := make(map[string]any, len(header))
		for i, h := range header {
			if i < len(row) {
				item[h] = row[i]
			}
		}
		items = append(items, item)
	}
	return items, nil
}
