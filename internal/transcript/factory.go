package transcript

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// NewStore selects a driver from the storage URL scheme. An empty URL yields
// the in-memory store for local/dev use.
func NewStore(ctx context.Context, storageURL string) (Store, error) {
	url := strings.TrimSpace(storageURL)
	switch {
	case url == "":
		return NewInMemoryStore(), nil
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return NewPostgresStore(ctx, url)
	case strings.HasPrefix(url, "redis://"), strings.HasPrefix(url, "rediss://"):
		opts, err := redis.ParseURL(url)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return NewRedisStore(redis.NewClient(opts), 0), nil
	default:
		return nil, fmt.Errorf("unsupported transcript storage url %q", storageURL)
	}
}
