package cache

import (
	"context"

	"github.com/mohammad-safakhou/artha/config"
)

// Open returns the Store selected by storage.cache and a close function.
func Open(ctx context.Context, cfg config.StorageConfig) (Store, func() error, error) {
	if cfg.Cache != "redis" {
		return NewMemory(), func() error { return nil }, nil
	}
	r, err := Dial(ctx, cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	return r, r.Close, nil
}
