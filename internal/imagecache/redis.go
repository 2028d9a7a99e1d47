package imagecache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBlobStore shares fetched remote images between processes through Redis.
type RedisBlobStore struct {
	Client *redis.Client
	Prefix string
	TTL    time.Duration
}

// NewRedisBlobStore returns a store keyed under "arview:img:" with a one day TTL.
// A nil client yields a nil store, which disables the tier.
func NewRedisBlobStore(c *redis.Client) *RedisBlobStore {
	if c == nil {
		return nil
	}
	return &RedisBlobStore{Client: c, Prefix: "arview:img:", TTL: 24 * time.Hour}
}

func (s *RedisBlobStore) key(uri string) string {
	sum := sha256.Sum256([]byte(uri))
	return s.Prefix + hex.EncodeToString(sum[:])
}

func (s *RedisBlobStore) GetBlob(ctx context.Context, uri string) ([]byte, bool, error) {
	data, err := s.Client.Get(ctx, s.key(uri)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (s *RedisBlobStore) PutBlob(ctx context.Context, uri string, data []byte) error {
	return s.Client.Set(ctx, s.key(uri), data, s.TTL).Err()
}
