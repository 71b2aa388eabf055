// Package discovery implements C7 from spec §4.7: a service that supplies
// and refreshes a partition scheme. The contract is a single blocking call,
// watch(prev) -> (scheme, revision), that only returns once the scheme has
// actually changed from prev (current and target maps compared for
// equality) — there is no mandated polling interval, callers simply call
// watch again in a loop.
package discovery

import (
	"context"

	"github.com/hkarim/crdtstore/internal/model"
)

// Service resolves partition scheme changes for partition id type P.
type Service[P comparable] interface {
	// Watch blocks until the scheme differs from prev, then returns the new
	// scheme and a monotonically increasing revision number. If ctx is
	// cancelled first, it returns an error with a zero revision.
	Watch(ctx context.Context, prev model.Scheme[P]) (model.Scheme[P], int64, error)
}

// Constant is the reference discovery implementation: it resolves exactly
// once, to a fixed scheme supplied at construction, then blocks until the
// context is cancelled. Grounded on DiscoveryService.constant(...)'s
// semantics of comparing current/target maps and resolving only on change —
// since the scheme here never changes, that reduces to "resolve once."
type Constant[P comparable] struct {
	scheme model.Scheme[P]
}

// NewConstant builds a Constant discovery service bound to scheme.
func NewConstant[P comparable](scheme model.Scheme[P]) *Constant[P] {
	return &Constant[P]{scheme: scheme}
}

func (c *Constant[P]) Watch(ctx context.Context, prev model.Scheme[P]) (model.Scheme[P], int64, error) {
	if !prev.Equal(c.scheme) {
		return c.scheme, 1, nil
	}
	<-ctx.Done()
	return model.Scheme[P]{}, 0, ctx.Err()
}

// Union composes several discovery services so a caller can watch all of
// them as one: it fans out a Watch per child and returns the first scheme
// change observed from any of them. Mirrors spec §4.9's "discovery services
// compose as a union" requirement for RPC strategy wrappers.
type Union[P comparable] struct {
	children []Service[P]
}

// NewUnion composes children into a single discovery service.
func NewUnion[P comparable](children ...Service[P]) *Union[P] {
	return &Union[P]{children: children}
}

func (u *Union[P]) Watch(ctx context.Context, prev model.Scheme[P]) (model.Scheme[P], int64, error) {
	type result struct {
		scheme   model.Scheme[P]
		revision int64
		err      error
	}

	childCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan result, len(u.children))
	for _, child := range u.children {
		child := child
		go func() {
			scheme, revision, err := child.Watch(childCtx, prev)
			select {
			case results <- result{scheme: scheme, revision: revision, err: err}:
			case <-childCtx.Done():
			}
		}()
	}

	select {
	case r := <-results:
		return r.scheme, r.revision, r.err
	case <-ctx.Done():
		return model.Scheme[P]{}, 0, ctx.Err()
	}
}
