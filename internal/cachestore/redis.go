// Package cachestore implements domain.CacheStore. RedisStore is
// grounded on the go-redis/v9 usage in the weqory price_subscriber and
// Hedgetechs hub examples (pub/sub, pipelines, hashes, sets); the
// hash/set/pipeline layout below is new to this domain but follows
// their client-construction and key-naming conventions.
package cachestore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/stockpulse/alert-engine/internal/domain"
)

const (
	keyLastTickPrefix  = "tick:last:"    // hash, per-symbol, TTL refreshed on write
	keyLastClosePrefix = "close:last:"   // hash field "price", no TTL
	keyViewersPrefix   = "viewers:"      // set of user IDs, per-symbol
	keyUserViewsPrefix = "userviews:"    // set of symbols, per-user
	keyPersistentSet   = "subs:persistent"
	keyGlobalSet       = "subs:global"
)

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrCacheStoreTransient, err)
	}
	return nil
}

func (r *RedisStore) SetLastTick(ctx context.Context, sym domain.Symbol, fields map[string]string, ttl time.Duration) error {
	key := keyLastTickPrefix + sym.String()
	vals := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		vals = append(vals, k, v)
	}

	pipe := r.client.Pipeline()
	pipe.HSet(ctx, key, vals...)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: set last tick %s: %v", domain.ErrCacheStoreTransient, sym, err)
	}
	return nil
}

// SetLastTicks pipelines an HSet+Expire pair per symbol into a single
// round trip, replacing a per-symbol SetLastTick loop (§4.2's
// "single pipelined" flush requirement).
func (r *RedisStore) SetLastTicks(ctx context.Context, ticks map[domain.Symbol]map[string]string, ttl time.Duration) error {
	if len(ticks) == 0 {
		return nil
	}
	pipe := r.client.Pipeline()
	for sym, fields := range ticks {
		key := keyLastTickPrefix + sym.String()
		vals := make([]any, 0, len(fields)*2)
		for k, v := range fields {
			vals = append(vals, k, v)
		}
		pipe.HSet(ctx, key, vals...)
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: set last ticks: %v", domain.ErrCacheStoreTransient, err)
	}
	return nil
}

func (r *RedisStore) GetLastTicks(ctx context.Context, syms []domain.Symbol) (map[domain.Symbol]map[string]string, error) {
	if len(syms) == 0 {
		return map[domain.Symbol]map[string]string{}, nil
	}

	pipe := r.client.Pipeline()
	cmds := make(map[domain.Symbol]*redis.MapStringStringCmd, len(syms))
	for _, sym := range syms {
		cmds[sym] = pipe.HGetAll(ctx, keyLastTickPrefix+sym.String())
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("%w: get last ticks: %v", domain.ErrCacheStoreTransient, err)
	}

	out := make(map[domain.Symbol]map[string]string, len(syms))
	for sym, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		out[sym] = vals
	}
	return out, nil
}

func (r *RedisStore) SetLastClose(ctx context.Context, sym domain.Symbol, price decimal.Decimal) error {
	key := keyLastClosePrefix + sym.String()
	if err := r.client.HSet(ctx, key, "price", price.String()).Err(); err != nil {
		return fmt.Errorf("%w: set last close %s: %v", domain.ErrCacheStoreTransient, sym, err)
	}
	return nil
}

func (r *RedisStore) GetLastClose(ctx context.Context, syms []domain.Symbol) (map[domain.Symbol]decimal.Decimal, error) {
	if len(syms) == 0 {
		return map[domain.Symbol]decimal.Decimal{}, nil
	}

	pipe := r.client.Pipeline()
	cmds := make(map[domain.Symbol]*redis.StringCmd, len(syms))
	for _, sym := range syms {
		cmds[sym] = pipe.HGet(ctx, keyLastClosePrefix+sym.String(), "price")
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("%w: get last close: %v", domain.ErrCacheStoreTransient, err)
	}

	out := make(map[domain.Symbol]decimal.Decimal, len(syms))
	for sym, cmd := range cmds {
		s, err := cmd.Result()
		if err != nil || s == "" {
			continue
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			continue
		}
		out[sym] = d
	}
	return out, nil
}

func (r *RedisStore) AddViewer(ctx context.Context, sym domain.Symbol, userID int64) (int64, error) {
	pipe := r.client.Pipeline()
	pipe.SAdd(ctx, keyViewersPrefix+sym.String(), userID)
	pipe.SAdd(ctx, keyUserViewsPrefix+fmt.Sprint(userID), sym.String())
	card := pipe.SCard(ctx, keyViewersPrefix+sym.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("%w: add viewer %s: %v", domain.ErrCacheStoreTransient, sym, err)
	}
	return card.Val(), nil
}

func (r *RedisStore) RemoveViewer(ctx context.Context, sym domain.Symbol, userID int64) (int64, error) {
	pipe := r.client.Pipeline()
	pipe.SRem(ctx, keyViewersPrefix+sym.String(), userID)
	pipe.SRem(ctx, keyUserViewsPrefix+fmt.Sprint(userID), sym.String())
	card := pipe.SCard(ctx, keyViewersPrefix+sym.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("%w: remove viewer %s: %v", domain.ErrCacheStoreTransient, sym, err)
	}
	return card.Val(), nil
}

func (r *RedisStore) ViewerCount(ctx context.Context, sym domain.Symbol) (int64, error) {
	n, err := r.client.SCard(ctx, keyViewersPrefix+sym.String()).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: viewer count %s: %v", domain.ErrCacheStoreTransient, sym, err)
	}
	return n, nil
}

// ViewerCounts pipelines one SCard per symbol into a single round trip,
// replacing a per-symbol ViewerCount loop (§4.5's filter/reconcile
// passes).
func (r *RedisStore) ViewerCounts(ctx context.Context, syms []domain.Symbol) (map[domain.Symbol]int64, error) {
	if len(syms) == 0 {
		return map[domain.Symbol]int64{}, nil
	}
	pipe := r.client.Pipeline()
	cmds := make(map[domain.Symbol]*redis.IntCmd, len(syms))
	for _, sym := range syms {
		cmds[sym] = pipe.SCard(ctx, keyViewersPrefix+sym.String())
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("%w: viewer counts: %v", domain.ErrCacheStoreTransient, err)
	}
	out := make(map[domain.Symbol]int64, len(syms))
	for sym, cmd := range cmds {
		out[sym] = cmd.Val()
	}
	return out, nil
}

func (r *RedisStore) ViewersOf(ctx context.Context, userID int64) ([]domain.Symbol, error) {
	members, err := r.client.SMembers(ctx, keyUserViewsPrefix+fmt.Sprint(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: viewers of %d: %v", domain.ErrCacheStoreTransient, userID, err)
	}
	out := make([]domain.Symbol, len(members))
	for i, m := range members {
		out[i] = domain.Symbol(m)
	}
	return out, nil
}

func (r *RedisStore) RemoveUserFromAllViewerSets(ctx context.Context, userID int64, symbols []domain.Symbol) error {
	if len(symbols) == 0 {
		return nil
	}
	pipe := r.client.Pipeline()
	for _, sym := range symbols {
		pipe.SRem(ctx, keyViewersPrefix+sym.String(), userID)
	}
	pipe.Del(ctx, keyUserViewsPrefix+fmt.Sprint(userID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: remove user %d from viewer sets: %v", domain.ErrCacheStoreTransient, userID, err)
	}
	return nil
}

func (r *RedisStore) AddPersistent(ctx context.Context, syms []domain.Symbol) error {
	if len(syms) == 0 {
		return nil
	}
	members := symbolsToAny(syms)
	if err := r.client.SAdd(ctx, keyPersistentSet, members...).Err(); err != nil {
		return fmt.Errorf("%w: add persistent: %v", domain.ErrCacheStoreTransient, err)
	}
	return nil
}

func (r *RedisStore) RemovePersistent(ctx context.Context, syms []domain.Symbol) error {
	if len(syms) == 0 {
		return nil
	}
	members := symbolsToAny(syms)
	if err := r.client.SRem(ctx, keyPersistentSet, members...).Err(); err != nil {
		return fmt.Errorf("%w: remove persistent: %v", domain.ErrCacheStoreTransient, err)
	}
	return nil
}

func (r *RedisStore) PersistentMembers(ctx context.Context) ([]domain.Symbol, error) {
	members, err := r.client.SMembers(ctx, keyPersistentSet).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: persistent members: %v", domain.ErrCacheStoreTransient, err)
	}
	out := make([]domain.Symbol, len(members))
	for i, m := range members {
		out[i] = domain.Symbol(m)
	}
	return out, nil
}

func (r *RedisStore) IsPersistent(ctx context.Context, sym domain.Symbol) (bool, error) {
	ok, err := r.client.SIsMember(ctx, keyPersistentSet, sym.String()).Result()
	if err != nil {
		return false, fmt.Errorf("%w: is persistent %s: %v", domain.ErrCacheStoreTransient, sym, err)
	}
	return ok, nil
}

func (r *RedisStore) AddGlobal(ctx context.Context, syms []domain.Symbol) error {
	if len(syms) == 0 {
		return nil
	}
	members := symbolsToAny(syms)
	if err := r.client.SAdd(ctx, keyGlobalSet, members...).Err(); err != nil {
		return fmt.Errorf("%w: add global: %v", domain.ErrCacheStoreTransient, err)
	}
	return nil
}

func (r *RedisStore) GlobalMembers(ctx context.Context) ([]domain.Symbol, error) {
	members, err := r.client.SMembers(ctx, keyGlobalSet).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: global members: %v", domain.ErrCacheStoreTransient, err)
	}
	out := make([]domain.Symbol, len(members))
	for i, m := range members {
		out[i] = domain.Symbol(m)
	}
	return out, nil
}

func symbolsToAny(syms []domain.Symbol) []any {
	members := make([]any, len(syms))
	for i, s := range syms {
		members[i] = s.String()
	}
	return members
}

var _ domain.CacheStore = (*RedisStore)(nil)
