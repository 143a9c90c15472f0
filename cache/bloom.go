package cache

import (
	"context"
	"encoding/binary"
	"hash/fnv"
	"math"

	"github.com/redis/go-redis/v9"
)

// BloomFilter is a bitmap bloom filter stored under one Redis key. It never
// expires: a lost bit would turn an existing id into a false negative.
type BloomFilter struct {
	client RedisClient
	key    string
	bits   uint64
	hashes int
}

// NewBloomFilter sizes a filter for capacity items at false positive rate
// fpRate.
func NewBloomFilter(client RedisClient, name string, capacity uint64, fpRate float64) *BloomFilter {
	if capacity == 0 {
		capacity = 1
	}
	if fpRate <= 0 || fpRate >= 1 {
		fpRate = 0.01
	}
	m := math.Ceil(-float64(capacity) * math.Log(fpRate) / (math.Ln2 * math.Ln2))
	k := math.Round(m / float64(capacity) * math.Ln2)
	if k < 1 {
		k = 1
	}
	return &BloomFilter{
		client: client,
		key:    "bloom:" + name,
		bits:   uint64(m),
		hashes: int(k),
	}
}

// NewElectionFilter guards election lookups. A campus runs far fewer than
// 100k elections, so false positives stay under 0.1%.
func NewElectionFilter(client RedisClient) *BloomFilter {
	return NewBloomFilter(client, "elections", 100_000, 0.001)
}

// Size returns the bit count and the number of hash functions.
func (bf *BloomFilter) Size() (uint64, int) {
	return bf.bits, bf.hashes
}

// Add sets every bit of item.
func (bf *BloomFilter) Add(ctx context.Context, item string) error {
	return bf.AddMany(ctx, item)
}

// AddMany sets the bits of all items in one round trip.
func (bf *BloomFilter) AddMany(ctx context.Context, items ...string) error {
	if bf.client == nil {
		return ErrRedisNotAvailable
	}
	if len(items) == 0 {
		return nil
	}
	pipe := bf.client.Pipeline()
	for _, item := range items {
		for _, off := range bf.offsets(item) {
			pipe.SetBit(ctx, bf.key, off, 1)
		}
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Contains reports whether item may have been added. false is certain.
func (bf *BloomFilter) Contains(ctx context.Context, item string) (bool, error) {
	if bf.client == nil {
		return false, ErrRedisNotAvailable
	}
	pipe := bf.client.Pipeline()
	offsets := bf.offsets(item)
	cmds := make([]*redis.IntCmd, len(offsets))
	for i, off := range offsets {
		cmds[i] = pipe.GetBit(ctx, bf.key, off)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	for _, cmd := range cmds {
		if cmd.Val() == 0 {
			return false, nil
		}
	}
	return true, nil
}

// Reset drops every bit, used before a full rewarm.
func (bf *BloomFilter) Reset(ctx context.Context) error {
	if bf.client == nil {
		return ErrRedisNotAvailable
	}
	return bf.client.Del(ctx, bf.key).Err()
}

// offsets derives the bit positions from two halves of a 128-bit FNV hash
// (Kirsch-Mitzenmacher double hashing).
func (bf *BloomFilter) offsets(item string) []int64 {
	h := fnv.New128a()
	_, _ = h.Write([]byte(item))
	sum := h.Sum(nil)
	h1 := binary.BigEndian.Uint64(sum[:8])
	h2 := binary.BigEndian.Uint64(sum[8:]) | 1

	out := make([]int64, bf.hashes)
	for i := range out {
		out[i] = int64((h1 + uint64(i)*h2) % bf.bits)
	}
	return out
}
