package meterdb

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrNotReadonly = errors.New("meterdb: query needs a read-only database")

// ReadonlyQuery runs one user supplied statement on a database opened with
// OpenReadonly and returns every row.
func (m *MeterDB) ReadonlyQuery(ctx context.Context, statement string) (*QueryResult, error) {
	if !m.readonly {
		return nil, ErrNotReadonly
	}

	start := time.Now()
	rows, err := m.db.QueryContext(ctx, statement)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := &QueryResult{Columns: columns, Rows: [][]any{}}
	for rows.Next() {
		cells := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range cells {
			ptrs[i] = &cells[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, cell := range cells {
			cells[i], err = jsonCell(cell)
			if err != nil {
				return nil, fmt.Errorf("column %q: %w", columns[i], err)
			}
		}
		result.Rows = append(result.Rows, cells)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result.RowsCount = len(result.Rows)
	result.TookMs = time.Since(start).Milliseconds()
	return result, nil
}

func jsonCell(v any) (any, error) {
	switch c := v.(type) {
	case nil, int64, float64, string, bool:
		return c, nil
	case []byte:
		return string(c), nil
	case time.Time:
		return c.Unix(), nil
	default:
		return nil, fmt.Errorf("unexpected column type %T", v)
	}
}
