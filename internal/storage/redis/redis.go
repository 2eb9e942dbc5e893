// Package redis keeps sale counters in Redis hashes so that several API
// instances can share one ledger without touching the sales table on every
// reservation.
package redis

import (
	"context"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/flashsale-engine/internal/domain/ledger"
)

const (
	keyPrefix  = "flashsale:counter:"
	fieldSold  = "sold"
	fieldTotal = "total"
)

// Script results.
const (
	swapMissing  = -1
	swapRejected = 0
	swapApplied  = 1
	swapOutside  = -2
)

// casScript sets the sold field to ARGV[2] only if it still equals ARGV[1]
// and the new value stays inside 0..total.
var casScript = redis.NewScript(`
local sold = redis.call('HGET', KEYS[1], 'sold')
if not sold then
	return -1
end

if tonumber(sold) ~= tonumber(ARGV[1]) then
	return 0
end

local total = tonumber(redis.call('HGET', KEYS[1], 'total'))
local next = tonumber(ARGV[2])
if next < 0 or next > total then
	return -2
end

redis.call('HSET', KEYS[1], 'sold', next)
return 1
`)

// createScript writes the counter only when the key does not exist yet.
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end

redis.call('HSET', KEYS[1], 'sold', ARGV[1], 'total', ARGV[2])
return 1
`)

// removeScript deletes the counter only while nothing is sold.
var removeScript = redis.NewScript(`
local sold = redis.call('HGET', KEYS[1], 'sold')
if sold and tonumber(sold) ~= 0 then
	return 0
end

redis.call('DEL', KEYS[1])
return 1
`)

var _ ledger.Store = (*CounterStore)(nil)

// CounterStore implements ledger.Store on Redis.
type CounterStore struct {
	client redis.UniversalClient
}

// NewCounterStore returns a CounterStore that uses the given client.
func NewCounterStore(client redis.UniversalClient) *CounterStore {
	return &CounterStore{client: client}
}

// NewClient creates a client and verifies the connection.
func NewClient(ctx context.Context, opts *redis.Options) (*redis.Client, error) {
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return client, nil
}

func key(saleID string) string {
	return keyPrefix + saleID
}

// Load reads the counter of a sale.
func (s *CounterStore) Load(ctx context.Context, saleID string) (ledger.Counter, error) {
	vals, err := s.client.HMGet(ctx, key(saleID), fieldSold, fieldTotal).Result()
	if err != nil {
		return ledger.Counter{}, errors.Wrapf(err, "load counter %q", saleID)
	}
	if vals[0] == nil || vals[1] == nil {
		return ledger.Counter{}, ledger.ErrUnknownSale
	}

	sold, err := toInt(vals[0])
	if err != nil {
		return ledger.Counter{}, errors.Wrapf(err, "parse sold of %q", saleID)
	}
	total, err := toInt(vals[1])
	if err != nil {
		return ledger.Counter{}, errors.Wrapf(err, "parse total of %q", saleID)
	}
	return ledger.Counter{Sold: sold, Total: total}, nil
}

// CompareAndSwap runs the Lua compare-and-set script.
func (s *CounterStore) CompareAndSwap(ctx context.Context, saleID string, expectedSold, newSold int) (bool, error) {
	res, err := casScript.Run(ctx, s.client, []string{key(saleID)}, expectedSold, newSold).Int()
	if err != nil {
		return false, errors.Wrapf(err, "swap counter %q", saleID)
	}

	switch res {
	case swapApplied:
		return true, nil
	case swapRejected:
		return false, nil
	case swapMissing:
		return false, ledger.ErrUnknownSale
	case swapOutside:
		return false, ledger.ErrCorrupted
	default:
		return false, errors.Errorf("unexpected script result %d", res)
	}
}

// Init overwrites the counter of a sale.
func (s *CounterStore) Init(ctx context.Context, saleID string, c ledger.Counter) error {
	if err := s.client.HSet(ctx, key(saleID), fieldSold, c.Sold, fieldTotal, c.Total).Err(); err != nil {
		return errors.Wrapf(err, "init counter %q", saleID)
	}
	return nil
}

// Create writes c unless the sale already has a counter.
func (s *CounterStore) Create(ctx context.Context, saleID string, c ledger.Counter) (bool, error) {
	res, err := createScript.Run(ctx, s.client, []string{key(saleID)}, c.Sold, c.Total).Int()
	if err != nil {
		return false, errors.Wrapf(err, "create counter %q", saleID)
	}
	return res == 1, nil
}

// Remove deletes the counter of a sale with nothing sold.
func (s *CounterStore) Remove(ctx context.Context, saleID string) error {
	res, err := removeScript.Run(ctx, s.client, []string{key(saleID)}).Int()
	if err != nil {
		return errors.Wrapf(err, "remove counter %q", saleID)
	}
	if res == 0 {
		return ledger.ErrInUse
	}
	return nil
}

// Ping checks that the server is reachable.
func (s *CounterStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func toInt(v any) (int, error) {
	str, ok := v.(string)
	if !ok {
		return 0, errors.Errorf("unexpected value type %T", v)
	}
	return strconv.Atoi(str)
}
