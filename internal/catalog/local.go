package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/erazemk/filial/internal/model"
	"github.com/erazemk/filial/internal/store"
)

// DefaultLimit caps name search results.
const DefaultLimit = 20

// Local searches the catalog stored in the database.
type Local struct {
	DB    *sql.DB
	Limit int
}

// Search implements Source.
func (l *Local) Search(ctx context.Context, field Field, value string) ([]model.Product, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, ErrEmptyQuery
	}

	switch field {
	case FieldBarcode:
		return store.FindProductsByBarcode(ctx, l.DB, value)
	case FieldInternalCode:
		return store.FindProductsByInternalCode(ctx, l.DB, value)
	case FieldName:
		all, err := store.ListProducts(ctx, l.DB)
		if err != nil {
			return nil, err
		}
		limit := l.Limit
		if limit <= 0 {
			limit = DefaultLimit
		}
		return rankByName(all, value, limit), nil
	default:
		return nil, fmt.Errorf("unknown search field %q", field)
	}
}
