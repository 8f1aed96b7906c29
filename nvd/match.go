package nvd

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

const defaultWorkers = 8

// Match evaluates the query against items concurrently and returns the
// matching items in input order. Items are only read, so they may be
// shared between callers. An error is returned only if ctx is done first.
func Match(ctx context.Context, items []Item, q Query, workers int) ([]Item, error) {
	if q.Version == nil || len(items) == 0 {
		return nil, nil
	}
	if workers <= 0 {
		workers = defaultWorkers
	}

	hits := make([]bool, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range items {
		if gctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			hits[i] = items[i].IsMatch(q)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, xerrors.Errorf("match interrupted: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, xerrors.Errorf("match interrupted: %w", err)
	}

	var matched []Item
	for i, hit := range hits {
		if hit {
			matched = append(matched, items[i])
		}
	}
	return matched, nil
}
