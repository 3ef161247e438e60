package invite

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "backstage:invite:"

// insertScript writes the code index, the token hash and the listing indexes in one step.
// KEYS: code key, token key, all-tokens zset, scope zset.
// ARGV: id, code, max_uses, expires_at_us, owner_scope, created_by, created_at_us.
var insertScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 or redis.call('EXISTS', KEYS[2]) == 1 then
  return 0
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('HSET', KEYS[2],
  'id', ARGV[1],
  'code', ARGV[2],
  'max_uses', ARGV[3],
  'used_count', 0,
  'expires_at', ARGV[4],
  'owner_scope', ARGV[5],
  'created_by', ARGV[6],
  'created_at', ARGV[7])
redis.call('ZADD', KEYS[3], 0, ARGV[1])
if ARGV[5] ~= '' then
  redis.call('ZADD', KEYS[4], 0, ARGV[1])
end
return 1
`)

// incrementScript is the conditional increment.
// KEYS: token key. ARGV: now_us.
// Returns {-1, 0} when missing, {0, used} when not redeemable, {1, used} after incrementing.
var incrementScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return {-1, 0}
end
local used = tonumber(redis.call('HGET', KEYS[1], 'used_count'))
local max = tonumber(redis.call('HGET', KEYS[1], 'max_uses'))
local exp = redis.call('HGET', KEYS[1], 'expires_at')
if exp and exp ~= '' and tonumber(exp) <= tonumber(ARGV[1]) then
  return {0, used}
end
if used >= max then
  return {0, used}
end
used = redis.call('HINCRBY', KEYS[1], 'used_count', 1)
return {1, used}
`)

// RedisStore persists tokens in Redis. Mutations run as Lua scripts so each one is atomic
// on the server. With Redis Cluster the prefix must carry a hash tag (e.g. "{backstage}:").
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
}

// RedisStoreOption configures RedisStore.
type RedisStoreOption func(*RedisStore) error

// WithKeyPrefix sets the key prefix (default: "backstage:invite:").
func WithKeyPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) error {
		prefix = strings.TrimSpace(prefix)
		if prefix == "" {
			return ErrInvalidInput
		}
		s.prefix = prefix
		return nil
	}
}

// NewRedisStore constructs a RedisStore. The client is owned by the caller.
func NewRedisStore(rdb redis.UniversalClient, opts ...RedisStoreOption) (*RedisStore, error) {
	st := &RedisStore{rdb: rdb, prefix: defaultRedisPrefix}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.rdb == nil {
		return nil, ErrInvalidInput
	}
	return st, nil
}

// FindByCode resolves the code index and loads the token hash.
func (s *RedisStore) FindByCode(ctx context.Context, code string) (Token, error) {
	if code == "" {
		return Token{}, ErrInvalidInput
	}
	id, err := s.rdb.Get(ctx, s.codeKey(code)).Result()
	if errors.Is(err, redis.Nil) {
		return Token{}, ErrCodeNotFound
	}
	if err != nil {
		return Token{}, err
	}
	return s.getByID(ctx, id)
}

// TryIncrement runs the conditional increment script.
func (s *RedisStore) TryIncrement(ctx context.Context, id string, now time.Time) (IncrementResult, error) {
	if id == "" {
		return IncrementResult{}, ErrInvalidInput
	}
	res, err := incrementScript.Run(ctx, s.rdb, []string{s.tokenKey(id)}, now.UnixMicro()).Int64Slice()
	if err != nil {
		return IncrementResult{}, err
	}
	if len(res) != 2 {
		return IncrementResult{}, fmt.Errorf("redis increment: unexpected reply %v", res)
	}
	if res[0] < 0 {
		return IncrementResult{}, ErrCodeNotFound
	}

	t, err := s.getByID(ctx, id)
	if err != nil {
		return IncrementResult{}, err
	}
	// used_count from the script reply is the value this call produced or observed;
	// a later HGETALL may already include other redemptions.
	t.UsedCount = int(res[1])
	return IncrementResult{Updated: res[0] == 1, Token: t}, nil
}

// Insert stores a new token; a duplicate code yields ErrCodeConflict.
func (s *RedisStore) Insert(ctx context.Context, in CreateRecord) (Token, error) {
	if !validRecord(in) {
		return Token{}, ErrInvalidInput
	}

	var expires string
	if in.ExpiresAt != nil {
		expires = strconv.FormatInt(in.ExpiresAt.UnixMicro(), 10)
	}
	scope := derefOrEmpty(in.OwnerScope)

	keys := []string{
		s.codeKey(in.Code),
		s.tokenKey(in.ID),
		s.allKey(),
		s.scopeKey(scope),
	}
	ok, err := insertScript.Run(ctx, s.rdb, keys,
		in.ID,
		in.Code,
		in.MaxUses,
		expires,
		scope,
		derefOrEmpty(in.CreatedBy),
		in.CreatedAt.UnixMicro(),
	).Int64()
	if err != nil {
		return Token{}, err
	}
	if ok != 1 {
		return Token{}, ErrCodeConflict
	}
	return tokenFromRecord(in), nil
}

// List returns tokens newest first using the lexicographic order of ULID ids.
func (s *RedisStore) List(ctx context.Context, in ListInput) ([]Token, error) {
	key := s.allKey()
	if in.OwnerScope != nil {
		key = s.scopeKey(*in.OwnerScope)
	}
	ids, err := s.rdb.ZRevRangeByLex(ctx, key, &redis.ZRangeBy{
		Max:   "+",
		Min:   "-",
		Count: int64(clampListLimit(in.Limit)),
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []Token{}, nil
	}

	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, 0, len(ids))
	for _, id := range ids {
		cmds = append(cmds, pipe.HGetAll(ctx, s.tokenKey(id)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	out := make([]Token, 0, len(ids))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		t, err := tokenFromHash(fields)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *RedisStore) getByID(ctx context.Context, id string) (Token, error) {
	fields, err := s.rdb.HGetAll(ctx, s.tokenKey(id)).Result()
	if err != nil {
		return Token{}, err
	}
	if len(fields) == 0 {
		return Token{}, ErrCodeNotFound
	}
	return tokenFromHash(fields)
}

func (s *RedisStore) codeKey(code string) string   { return s.prefix + "code:" + code }
func (s *RedisStore) tokenKey(id string) string    { return s.prefix + "token:" + id }
func (s *RedisStore) allKey() string               { return s.prefix + "all" }
func (s *RedisStore) scopeKey(scope string) string { return s.prefix + "scope:" + scope }

func tokenFromHash(f map[string]string) (Token, error) {
	maxUses, err := strconv.Atoi(f["max_uses"])
	if err != nil {
		return Token{}, fmt.Errorf("redis token %s: max_uses: %w", f["id"], err)
	}
	used, err := strconv.Atoi(f["used_count"])
	if err != nil {
		return Token{}, fmt.Errorf("redis token %s: used_count: %w", f["id"], err)
	}
	createdUS, err := strconv.ParseInt(f["created_at"], 10, 64)
	if err != nil {
		return Token{}, fmt.Errorf("redis token %s: created_at: %w", f["id"], err)
	}

	t := Token{
		ID:         f["id"],
		Code:       f["code"],
		MaxUses:    maxUses,
		UsedCount:  used,
		OwnerScope: emptyToNil(f["owner_scope"]),
		CreatedBy:  emptyToNil(f["created_by"]),
		CreatedAt:  time.UnixMicro(createdUS).UTC(),
	}
	if raw := f["expires_at"]; raw != "" {
		us, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Token{}, fmt.Errorf("redis token %s: expires_at: %w", f["id"], err)
		}
		e := time.UnixMicro(us).UTC()
		t.ExpiresAt = &e
	}
	return t, nil
}

func derefOrEmpty(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func emptyToNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
