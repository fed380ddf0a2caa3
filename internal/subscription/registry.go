// Package subscription tracks the three conceptual instrument sets
// from §3 (viewers, persistent, upstream) and reconciles the upstream
// feed subscription against them: a synchronous Registry façade for
// the hot viewer-join/leave path, and a Manager background reconciler
// for the 60-second persistent-alert pass.
package subscription

import (
	"context"

	"github.com/stockpulse/alert-engine/internal/domain"
)

// Registry answers subscription questions against the Cache Store's
// viewer and persistent sets and mutates the upstream feed immediately
// on viewer count 0<->1 transitions, per §4.5.
type Registry struct {
	cache domain.CacheStore
	feed  domain.FeedClient
}

func NewRegistry(cache domain.CacheStore, feed domain.FeedClient) *Registry {
	return &Registry{cache: cache, feed: feed}
}

// ShouldSubscribe reports whether sym currently needs an upstream
// subscription: it has at least one viewer or is in the persistent
// set.
func (r *Registry) ShouldSubscribe(ctx context.Context, sym domain.Symbol) (bool, error) {
	n, err := r.cache.ViewerCount(ctx, sym)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	return r.cache.IsPersistent(ctx, sym)
}

// FilterSubscribable keeps only the symbols in syms that currently
// need an upstream subscription. The feed client's reconnect does not
// call it; it re-sends the client's own set of active subscriptions,
// unfiltered. Viewer counts are
// pipelined in one round trip and the persistent set is fetched once,
// instead of issuing two cache calls per symbol.
func (r *Registry) FilterSubscribable(ctx context.Context, syms []domain.Symbol) ([]domain.Symbol, error) {
	if len(syms) == 0 {
		return nil, nil
	}
	counts, err := r.cache.ViewerCounts(ctx, syms)
	if err != nil {
		return nil, err
	}
	persistentMembers, err := r.cache.PersistentMembers(ctx)
	if err != nil {
		return nil, err
	}
	persistentSet := make(map[domain.Symbol]struct{}, len(persistentMembers))
	for _, s := range persistentMembers {
		persistentSet[s] = struct{}{}
	}

	out := make([]domain.Symbol, 0, len(syms))
	for _, sym := range syms {
		if counts[sym] > 0 {
			out = append(out, sym)
			continue
		}
		if _, ok := persistentSet[sym]; ok {
			out = append(out, sym)
		}
	}
	return out, nil
}

// AddViewer registers userID as interactively viewing sym. If this is
// the symbol's first viewer, it immediately subscribes on the upstream
// feed (§4.5's 0->1 transition rule).
func (r *Registry) AddViewer(ctx context.Context, sym domain.Symbol, userID int64) error {
	n, err := r.cache.AddViewer(ctx, sym, userID)
	if err != nil {
		return err
	}
	if n == 1 {
		return r.feed.Subscribe(ctx, []domain.Symbol{sym})
	}
	return nil
}

// RemoveViewer unregisters userID from sym. If the viewer count drops
// to zero and sym is not persistent, it unsubscribes from the upstream
// feed (§4.5's 1->0 transition rule).
func (r *Registry) RemoveViewer(ctx context.Context, sym domain.Symbol, userID int64) error {
	n, err := r.cache.RemoveViewer(ctx, sym, userID)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	persistent, err := r.cache.IsPersistent(ctx, sym)
	if err != nil {
		return err
	}
	if persistent {
		return nil
	}
	return r.feed.Unsubscribe(ctx, []domain.Symbol{sym})
}

// RemoveUserSession drops userID from every symbol it was viewing,
// unsubscribing each one whose viewer count reaches zero and which
// isn't held persistent by an active alert (§4.7 disconnect cleanup).
func (r *Registry) RemoveUserSession(ctx context.Context, userID int64) error {
	syms, err := r.cache.ViewersOf(ctx, userID)
	if err != nil {
		return err
	}
	for _, sym := range syms {
		if err := r.RemoveViewer(ctx, sym, userID); err != nil {
			return err
		}
	}
	return nil
}
