package orchestrator

import (
	"context"
	"fmt"

	"github.com/icatgateway/gateway/internal/querybuilder"
	"github.com/icatgateway/gateway/internal/relational"
)

// RelationalBackend executes queries against the Postgres shadow schema directly; it
// needs no session, since pgxpool's own connection pool already bounds concurrency.
type RelationalBackend struct {
	executor *relational.Executor
	builder  querybuilder.Builder
}

// NewRelationalBackend builds a Backend over the relational shadow schema.
func NewRelationalBackend(executor *relational.Executor) *RelationalBackend {
	return &RelationalBackend{executor: executor, builder: relational.NewSQLBuilder()}
}

func (b *RelationalBackend) Builder() querybuilder.Builder { return b.builder }

func (b *RelationalBackend) Execute(ctx context.Context, q querybuilder.Query) ([]Row, error) {
	rows, err := b.executor.Execute(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("executing relational query: %w", err)
	}
	out := make([]Row, len(rows))
	for i, r := range rows {
		out[i] = Row(r)
	}
	return out, nil
}

// Count runs a BuildCount query, which projects a single "count" column, and returns
// it as an int64 regardless of which integer type the driver chose for it.
func (b *RelationalBackend) Count(ctx context.Context, q querybuilder.Query) (int64, error) {
	rows, err := b.executor.Execute(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("executing relational count: %w", err)
	}
	if len(rows) == 0 {
		return 0, fmt.Errorf("relational count query returned no rows")
	}
	switch v := rows[0]["count"].(type) {
	case int64:
		return v, nil
	case int32:
		return int64(v), nil
	case int:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("relational count query returned unexpected type %T for count column", v)
	}
}
