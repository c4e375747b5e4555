package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/erazemk/filial/internal/model"
)

// ParseCSV reads a catalog export with the columns barcode, internal_code
// and name, in that order. A header row is detected and skipped, as are
// rows without a name. Both comma and semicolon separators are accepted.
func ParseCSV(r io.Reader) ([]model.Product, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	text := strings.TrimPrefix(string(data), "\ufeff")

	cr := csv.NewReader(strings.NewReader(text))
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	if first, _, _ := strings.Cut(text, "\n"); strings.Count(first, ";") > strings.Count(first, ",") {
		cr.Comma = ';'
	}

	var products []model.Product
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("catalog line %d: %w", line, err)
		}
		if line == 1 && isHeader(rec) {
			continue
		}
		if len(rec) < 3 {
			return nil, fmt.Errorf("catalog line %d: expected 3 columns, got %d", line, len(rec))
		}

		p := model.Product{
			Barcode:      strings.TrimSpace(rec[0]),
			InternalCode: strings.TrimSpace(rec[1]),
			Name:         strings.TrimSpace(rec[2]),
		}
		if p.Name == "" {
			continue
		}
		products = append(products, p)
	}
	return products, nil
}

func isHeader(rec []string) bool {
	if len(rec) == 0 {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(rec[0])) {
	case "barcode", "codbarras", "codigo_barras":
		return true
	}
	return false
}
