package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config is read with the REDIS_ prefix, e.g. REDIS_URL, REDIS_POOL_SIZE.
type Config struct {
	URL          string `split_words:"true" required:"true"`
	ReadTimeout  int    `split_words:"true" default:"3"`
	WriteTimeout int    `split_words:"true" default:"3"`
	DialTimeout  int    `split_words:"true" default:"5"`
	PoolSize     int    `split_words:"true" default:"20"`
}

func (r *Config) New() (*redis.Client, error) {
	return r.NewContext(context.Background())
}

// NewContext parses the URL, applies timeouts and pings the server before returning.
func (r *Config) NewContext(ctx context.Context) (*redis.Client, error) {
	opts, err := redis.ParseURL(r.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	if r.ReadTimeout > 0 {
		opts.ReadTimeout = time.Duration(r.ReadTimeout) * time.Second
	}
	if r.WriteTimeout > 0 {
		opts.WriteTimeout = time.Duration(r.WriteTimeout) * time.Second
	}
	if r.DialTimeout > 0 {
		opts.DialTimeout = time.Duration(r.DialTimeout) * time.Second
	}
	if r.PoolSize > 0 {
		opts.PoolSize = r.PoolSize
	}

	// NewClient fills in library defaults for anything left at zero.
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}

func (r *Config) MustNew() *redis.Client {
	client, err := r.New()
	if err != nil {
		panic(err)
	}

	return client
}
