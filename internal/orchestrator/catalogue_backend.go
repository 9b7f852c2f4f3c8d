package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/icatgateway/gateway/internal/icatclient"
	"github.com/icatgateway/gateway/internal/querybuilder"
	"github.com/icatgateway/gateway/internal/session"
)

// CatalogueBackend executes queries against the live ICAT catalogue over a pooled,
// authenticated session. Session state moves Issued -> Active -> (Refreshing ->
// Active)* -> Expired, driven by the session package's pool and maintenance loop;
// Execute here handles only the one-retry-on-expiry path a single request sees.
type CatalogueBackend struct {
	pool    *session.Pool
	client  *icatclient.Client
	builder querybuilder.Builder
}

// NewCatalogueBackend builds a Backend over the ICAT catalogue's JPQL-like query
// language.
func NewCatalogueBackend(pool *session.Pool, client *icatclient.Client) *CatalogueBackend {
	return &CatalogueBackend{pool: pool, client: client, builder: querybuilder.NewICATBuilder()}
}

func (b *CatalogueBackend) Builder() querybuilder.Builder { return b.builder }

// Execute borrows a session, runs q, and releases the session on every exit path
// (including a panic unwinding through the deferred release). A SessionExpired error
// from the transport invalidates the held session and is retried exactly once with a
// freshly borrowed one; if the retry also fails, that error is what's returned.
func (b *CatalogueBackend) Execute(ctx context.Context, q querybuilder.Query) ([]Row, error) {
	sess, err := b.pool.Borrow(ctx)
	if err != nil {
		return nil, fmt.Errorf("borrowing catalogue session: %w", err)
	}
	release := true
	defer func() {
		if release {
			b.pool.Release(sess)
		}
	}()

	rows, err := b.client.Execute(ctx, sess.ID, q.Text, q.DistinctFields)
	if err == nil {
		return toRows(rows), nil
	}
	if !errors.Is(err, icatclient.ErrSessionExpired) {
		return nil, fmt.Errorf("executing catalogue query: %w", err)
	}

	b.pool.Invalidate(sess)
	release = false

	sess, err = b.pool.Borrow(ctx)
	if err != nil {
		return nil, fmt.Errorf("re-borrowing catalogue session after expiry: %w", err)
	}
	release = true

	rows, err = b.client.Execute(ctx, sess.ID, q.Text, q.DistinctFields)
	if err != nil {
		return nil, fmt.Errorf("executing catalogue query after session retry: %w", err)
	}
	return toRows(rows), nil
}

// Count mirrors Execute's borrow/retry-on-expiry handling but against the catalogue's
// scalar count response.
func (b *CatalogueBackend) Count(ctx context.Context, q querybuilder.Query) (int64, error) {
	sess, err := b.pool.Borrow(ctx)
	if err != nil {
		return 0, fmt.Errorf("borrowing catalogue session: %w", err)
	}
	release := true
	defer func() {
		if release {
			b.pool.Release(sess)
		}
	}()

	count, err := b.client.Count(ctx, sess.ID, q.Text)
	if err == nil {
		return count, nil
	}
	if !errors.Is(err, icatclient.ErrSessionExpired) {
		return 0, fmt.Errorf("executing catalogue count: %w", err)
	}

	b.pool.Invalidate(sess)
	release = false

	sess, err = b.pool.Borrow(ctx)
	if err != nil {
		return 0, fmt.Errorf("re-borrowing catalogue session after expiry: %w", err)
	}
	release = true

	count, err = b.client.Count(ctx, sess.ID, q.Text)
	if err != nil {
		return 0, fmt.Errorf("executing catalogue count after session retry: %w", err)
	}
	return count, nil
}

func toRows(rows []icatclient.Row) []Row {
	out := make([]Row, len(rows))
	for i, r := range rows {
		out[i] = Row(r)
	}
	return out
}
