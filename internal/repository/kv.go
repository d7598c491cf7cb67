package repository

import (
	"context"
	"errors"
	"fmt"
)

var ErrQuotaExceeded = errors.New("storage quota exceeded")

// KV is a namespaced key/value store. Get returns nil, nil for a missing key.
type KV interface {
	Get(ctx context.Context, namespace, key string) ([]byte, error)
	Set(ctx context.Context, namespace, key string, value []byte) error
	Delete(ctx context.Context, namespace, key string) error
}

type quotaKV struct {
	KV
	maxBytes int
}

// WithQuota rejects writes larger than maxBytes. A non-positive limit disables the check.
func WithQuota(kv KV, maxBytes int) KV {
	if maxBytes <= 0 {
		return kv
	}
	return &quotaKV{KV: kv, maxBytes: maxBytes}
}

func (q *quotaKV) Set(ctx context.Context, namespace, key string, value []byte) error {
	if len(value) > q.maxBytes {
		return fmt.Errorf("set %s/%s (%d bytes, limit %d): %w", namespace, key, len(value), q.maxBytes, ErrQuotaExceeded)
	}
	return q.KV.Set(ctx, namespace, key, value)
}
