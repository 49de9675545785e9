package command

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Unique returns the single item, a not found error when there is none, or an
// ambiguity error built from the ids of all items when there are several.
func Unique[T any](items []T, idOf func(T) string, notFound string, ambiguous func(ids []string) string) (T, error) {
	var zero T
	switch len(items) {
	case 0:
		return zero, &Error{Kind: KindResolution, Message: notFound}
	case 1:
		return items[0], nil
	}
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = idOf(it)
	}
	return zero, &Error{Kind: KindResolution, Message: ambiguous(ids)}
}

// ResolveFunc resolves one identifier. found is false if the identifier does not
// exist; err is reserved for failures of the lookup itself.
type ResolveFunc[T any] func(ctx context.Context, id string) (v T, found bool, err error)

// ResolveAll resolves ids concurrently, at most limit at a time (no limit if limit
// is < 1). Every lookup runs to completion. resolved and unresolved are returned in
// the order of ids. If any lookup failed the first failure in input order is
// returned.
func ResolveAll[T any](ctx context.Context, limit int, ids []string, fn ResolveFunc[T]) (resolved []T, unresolved []string, err error) {
	type result struct {
		v     T
		found bool
		err   error
	}
	results := make([]result, len(ids))

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, id := range ids {
		g.Go(func() error {
			v, found, err := fn(ctx, id)
			results[i] = result{v: v, found: found, err: err}
			return nil
		})
	}
	_ = g.Wait()

	for i, r := range results {
		if r.err != nil {
			if err == nil {
				err = r.err
			}
			continue
		}
		if r.found {
			resolved = append(resolved, r.v)
		} else {
			unresolved = append(unresolved, ids[i])
		}
	}
	return resolved, unresolved, err
}
