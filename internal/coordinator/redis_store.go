package coordinator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "github.com/kapilsinha/privadex/internal/errors"
)

// RedisStoreConfig describes the Redis connection backing the coordinator.
type RedisStoreConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
	Timeout   time.Duration
}

// RedisStore keeps each coordinator record as a JSON document in a Redis
// string key. Conditional updates run inside a single Lua script, which
// Redis executes atomically, so concurrent workers contend exactly as the
// protocol requires: one wins, the rest observe a condition failure.
type RedisStore struct {
	client  *redis.Client
	script  *redis.Script
	prefix  string
	timeout time.Duration
}

// conditionalUpdateScript interprets the condition and mutation lists over
// the decoded document. It mirrors evalCondition/applyMutation in store.go;
// the two implementations must stay in lockstep.
const conditionalUpdateScript = `
local raw = redis.call('GET', KEYS[1])
local doc = {}
if raw then doc = cjson.decode(raw) end

local conds = cjson.decode(ARGV[1])
local muts = cjson.decode(ARGV[2])

local function lookup(path)
  local cur = doc
  for _, seg in ipairs(path) do
    if type(cur) ~= 'table' then return nil, false end
    cur = cur[seg]
    if cur == nil then return nil, false end
  end
  return cur, true
end

local function parent_of(path)
  local cur = doc
  for i = 1, #path - 1 do
    local seg = path[i]
    if cur[seg] == nil then cur[seg] = {} end
    cur = cur[seg]
  end
  return cur, path[#path]
end

local function size_of(v)
  if v == nil then return 0 end
  if type(v) ~= 'table' then return nil end
  local n = 0
  for _ in pairs(v) do n = n + 1 end
  return n
end

local function values_equal(a, b)
  if type(a) == 'number' and type(b) == 'number' then return a == b end
  return a == b
end

local function as_list(v)
  if v == nil then return {} end
  return v
end

local eval_condition
eval_condition = function(c)
  local op = c['op']
  if op == 'exists' then
    local _, found = lookup(c['path'])
    return found
  elseif op == 'not_exists' then
    local _, found = lookup(c['path'])
    return not found
  elseif op == 'eq' then
    local v, found = lookup(c['path'])
    return found and values_equal(v, c['value'])
  elseif op == 'lt' then
    local v, found = lookup(c['path'])
    return found and type(v) == 'number' and v < c['value']
  elseif op == 'size_eq' or op == 'size_gt' then
    local v, _ = lookup(c['path'])
    local n = size_of(v)
    if n == nil then return false end
    if op == 'size_eq' then return n == c['value'] end
    return n > c['value']
  elseif op == 'not_contains' then
    local v, found = lookup(c['path'])
    if not found then return true end
    for _, item in ipairs(as_list(v)) do
      if values_equal(item, c['value']) then return false end
    end
    return true
  elseif op == 'any' then
    for _, sub in ipairs(c['any']) do
      if eval_condition(sub) then return true end
    end
    return false
  end
  return false
end

for _, c in ipairs(conds) do
  if not eval_condition(c) then
    return redis.error_reply('CONDITION_FAILED')
  end
end

for _, m in ipairs(muts) do
  local op = m['op']
  local parent, leaf = parent_of(m['path'])
  if op == 'set' then
    parent[leaf] = m['value']
  elseif op == 'set_from_path' then
    local v, found = lookup(m['from'])
    if not found then return redis.error_reply('BAD_MUTATION') end
    parent[leaf] = v
  elseif op == 'set_from_head' then
    local v, found = lookup(m['from'])
    if not found then return redis.error_reply('BAD_MUTATION') end
    local list = as_list(v)
    if list[1] == nil then return redis.error_reply('BAD_MUTATION') end
    parent[leaf] = list[1]
  elseif op == 'incr' then
    local cur = parent[leaf]
    if type(cur) ~= 'number' then cur = 0 end
    parent[leaf] = cur + m['value']
  elseif op == 'remove' then
    parent[leaf] = nil
  elseif op == 'list_append' then
    local v = m['value']
    if m['from'] ~= nil then
      local src, found = lookup(m['from'])
      if not found then return redis.error_reply('BAD_MUTATION') end
      v = src
    end
    local list = as_list(parent[leaf])
    list[#list + 1] = v
    parent[leaf] = list
  elseif op == 'pop_head' then
    local list = as_list(parent[leaf])
    if list[1] == nil then return redis.error_reply('BAD_MUTATION') end
    table.remove(list, 1)
    parent[leaf] = list
  elseif op == 'set_add' then
    local list = as_list(parent[leaf])
    local present = false
    for _, item in ipairs(list) do
      if values_equal(item, m['value']) then present = true end
    end
    if not present then list[#list + 1] = m['value'] end
    parent[leaf] = list
  elseif op == 'set_remove' then
    local list = as_list(parent[leaf])
    local out = {}
    for _, item in ipairs(list) do
      if not values_equal(item, m['value']) then out[#out + 1] = item end
    end
    parent[leaf] = out
  else
    return redis.error_reply('BAD_MUTATION')
  end
end

local out = cjson.encode(doc)
redis.call('SET', KEYS[1], out)
return out
`

// NewRedisStore dials Redis and verifies the connection.
func NewRedisStore(cfg RedisStoreConfig) (*RedisStore, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "redis address cannot be empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeTransientNetwork, err, "connect to coordinator store")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "privadex:"
	}
	return &RedisStore{
		client:  client,
		script:  redis.NewScript(conditionalUpdateScript),
		prefix:  prefix,
		timeout: timeout,
	}, nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) (Document, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err == redis.Nil {
		return Document{}, nil
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTransientNetwork, err, "coordinator get")
	}
	return decodeDoc(raw)
}

// ConditionalUpdate implements Store.
func (s *RedisStore) ConditionalUpdate(ctx context.Context, key string, conds []Condition, muts []Mutation) (Document, error) {
	// nil slices must reach the script as [], not null.
	if conds == nil {
		conds = []Condition{}
	}
	if muts == nil {
		muts = []Mutation{}
	}
	rawConds, err := json.Marshal(conds)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode conditions")
	}
	rawMuts, err := json.Marshal(muts)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode mutations")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	res, err := s.script.Run(ctx, s.client, []string{s.prefix + key}, string(rawConds), string(rawMuts)).Result()
	if err != nil {
		if isConditionFailure(err) {
			return nil, ErrConditionFailed
		}
		return nil, xerrors.Wrap(xerrors.CodeTransientNetwork, err, "coordinator conditional update")
	}
	out, ok := res.(string)
	if !ok {
		return nil, xerrors.New(xerrors.CodeStorageFailure, "unexpected script reply type")
	}
	return decodeDoc([]byte(out))
}

// Close implements Store.
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
