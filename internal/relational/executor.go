package relational

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/icatgateway/gateway/internal/querybuilder"
)

// Executor runs rendered SQL queries against the relational shadow schema through a
// pgx connection pool.
type Executor struct {
	pool *pgxpool.Pool
}

// NewExecutor wraps an already-established pgx pool.
func NewExecutor(pool *pgxpool.Pool) *Executor {
	return &Executor{pool: pool}
}

// Connect opens a pgx pool against dbURL.
func Connect(ctx context.Context, dbURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to relational backend: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging relational backend: %w", err)
	}
	return pool, nil
}

// Row is one result row, keyed by column name.
type Row = map[string]any

// Execute runs q and returns its rows as generic column-name-keyed maps.
func (e *Executor) Execute(ctx context.Context, q querybuilder.Query) ([]Row, error) {
	rows, err := e.pool.Query(ctx, q.Text, q.Bindings...)
	if err != nil {
		return nil, fmt.Errorf("executing relational query: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var results []Row
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("reading relational row: %w", err)
		}
		row := make(Row, len(fields))
		for i, fd := range fields {
			row[string(fd.Name)] = values[i]
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating relational rows: %w", err)
	}
	return results, nil
}

// Close releases the underlying connection pool.
func (e *Executor) Close() {
	e.pool.Close()
}
