// Package catalog looks up products by barcode, internal code or name,
// either in the local catalog table or in a remote lookup service.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/erazemk/filial/internal/model"
)

// Field selects what a search value is matched against.
type Field string

const (
	FieldBarcode      Field = "barcode"
	FieldInternalCode Field = "internal_code"
	FieldName         Field = "name"
)

// ParseField accepts the field names used by the API as well as the
// abbreviations of the remote lookup service.
func ParseField(s string) (Field, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "barcode", "codbarras":
		return FieldBarcode, nil
	case "internal_code", "codinterno":
		return FieldInternalCode, nil
	case "name", "nome":
		return FieldName, nil
	default:
		return "", fmt.Errorf("unknown search field %q", s)
	}
}

// ErrEmptyQuery is returned for blank search values.
var ErrEmptyQuery = errors.New("search value required")

// Source finds products. Code fields match exactly; names match fuzzily,
// best match first. An empty result is not an error.
type Source interface {
	Search(ctx context.Context, field Field, value string) ([]model.Product, error)
}

// Source names used in configuration.
const (
	SourceLocal  = "local"
	SourceRemote = "remote"
)
