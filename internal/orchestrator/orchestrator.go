// Package orchestrator wires the per-request pipeline: parse the incoming filter,
// rewrite it onto the catalogue schema when the request came in through the Search
// API, build a backend query, execute it (borrowing and releasing a catalogue
// session around the call when the backend requires one), and reshape the result
// back to Search-schema JSON when needed.
//
// The pipeline itself is backend-agnostic: it depends only on the Backend interface,
// never on icatclient or relational directly, so a DataGateway request against the
// relational shadow schema and one against the live catalogue run the identical code
// path above the Backend boundary.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/icatgateway/gateway/internal/filter"
	"github.com/icatgateway/gateway/internal/projection"
	"github.com/icatgateway/gateway/internal/querybuilder"
)

// Row is one result row, keyed by column/attribute name.
type Row = map[string]any

// Backend executes a built Query against one storage backend, handling whatever
// connection or session lifecycle that backend requires. CatalogueBackend borrows and
// releases a session per call; RelationalBackend needs no session at all.
type Backend interface {
	Builder() querybuilder.Builder
	Execute(ctx context.Context, q querybuilder.Query) ([]Row, error)
	// Count runs a query built by Builder().BuildCount and returns the row count.
	Count(ctx context.Context, q querybuilder.Query) (int64, error)
}

// Request is one incoming query, already decoded from its HTTP representation.
type Request struct {
	// Entity names the root entity: a catalogue entity name for a DataGateway
	// request, or a Search-schema entity name when IsSearchAPI is set.
	Entity      string
	IsSearchAPI bool
	Filter      *filter.Filter
}

// Response is the shaped result of one Request.
type Response struct {
	Rows []Row
	// Dropped counts Search API result rows excluded by the projection engine's
	// required-field rule; zero for DataGateway requests.
	Dropped int
}

// Orchestrator runs Request values through the pipeline against one configured Backend.
type Orchestrator struct {
	backend Backend
	mapping projection.Mapping
	logger  *slog.Logger
}

// New builds an Orchestrator. mapping may be nil for a gateway deployment that only
// serves the DataGateway API; any Search API request against a nil mapping fails.
func New(backend Backend, mapping projection.Mapping, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		backend: backend,
		mapping: mapping,
		logger:  logger.With(slog.String("component", "orchestrator")),
	}
}

// Query runs req's full pipeline and returns its shaped result.
func (o *Orchestrator) Query(ctx context.Context, req Request) (*Response, error) {
	rootEntity := req.Entity
	f := req.Filter
	if f == nil {
		f = &filter.Filter{}
	}

	if req.IsSearchAPI {
		if o.mapping == nil {
			return nil, fmt.Errorf("orchestrator: search API request for %q but no projection mapping is configured", req.Entity)
		}
		catalogueEntity, rewritten, err := projection.RewriteFilter(o.mapping, req.Entity, f)
		if err != nil {
			return nil, fmt.Errorf("rewriting search filter for %s: %w", req.Entity, err)
		}
		rootEntity = catalogueEntity
		f = rewritten
	}

	q, err := o.backend.Builder().Build(rootEntity, f)
	if err != nil {
		return nil, fmt.Errorf("building query for %s: %w", rootEntity, err)
	}

	rows, err := o.backend.Execute(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("executing query for %s: %w", rootEntity, err)
	}

	if !req.IsSearchAPI {
		return &Response{Rows: rows}, nil
	}

	reshaped, dropped, err := projection.ReshapeAll(o.mapping, req.Entity, rows)
	if err != nil {
		return nil, fmt.Errorf("reshaping search results for %s: %w", req.Entity, err)
	}
	if dropped > 0 {
		o.logger.Warn("dropped search result rows missing a required projected field",
			slog.String("entity", req.Entity), slog.Int("dropped", dropped))
	}
	return &Response{Rows: reshaped, Dropped: dropped}, nil
}

// Count runs req's filter through the same Search API rewrite as Query, but against
// BuildCount, and returns a bare row count instead of shaped rows. The where clause is
// the only part of the filter that affects a count; limit/skip/order/distinct/include
// are accepted on the Request but ignored by the builders.
func (o *Orchestrator) Count(ctx context.Context, req Request) (int64, error) {
	rootEntity := req.Entity
	f := req.Filter
	if f == nil {
		f = &filter.Filter{}
	}

	if req.IsSearchAPI {
		if o.mapping == nil {
			return 0, fmt.Errorf("orchestrator: search API request for %q but no projection mapping is configured", req.Entity)
		}
		catalogueEntity, rewritten, err := projection.RewriteFilter(o.mapping, req.Entity, f)
		if err != nil {
			return 0, fmt.Errorf("rewriting search filter for %s: %w", req.Entity, err)
		}
		rootEntity = catalogueEntity
		f = rewritten
	}

	q, err := o.backend.Builder().BuildCount(rootEntity, f)
	if err != nil {
		return 0, fmt.Errorf("building count query for %s: %w", rootEntity, err)
	}
	count, err := o.backend.Count(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("executing count query for %s: %w", rootEntity, err)
	}
	return count, nil
}

// DatasetFiles runs the GET /datasets/{pid}/files special case: a File search implicitly
// scoped to one dataset's catalogue-level public identifier, merged with whatever filter
// the caller supplied.
func (o *Orchestrator) DatasetFiles(ctx context.Context, pid string, f *filter.Filter) (*Response, error) {
	return o.Query(ctx, Request{Entity: "File", IsSearchAPI: true, Filter: datasetFilesFilter(pid, f)})
}

// DatasetFilesCount is the GET /datasets/{pid}/files/count counterpart of DatasetFiles.
func (o *Orchestrator) DatasetFilesCount(ctx context.Context, pid string, f *filter.Filter) (int64, error) {
	return o.Count(ctx, Request{Entity: "File", IsSearchAPI: true, Filter: datasetFilesFilter(pid, f)})
}

func datasetFilesFilter(pid string, f *filter.Filter) *filter.Filter {
	if f == nil {
		f = &filter.Filter{}
	}
	scoped := *f
	if scoped.Where == nil {
		scoped.Where = projection.DatasetFilesWhere(pid)
	} else {
		scoped.Where = filter.And{Children: []filter.Expr{projection.DatasetFilesWhere(pid), scoped.Where}}
	}
	return &scoped
}
