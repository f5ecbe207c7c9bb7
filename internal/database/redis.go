package database

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"example.com/cashflow-forecast/internal/config"
)

// OpenRedis создает клиент Redis и проверяет соединение.
// Если адрес не задан, возвращает nil: кэш прогнозов отключен.
func OpenRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", cfg.Addr, err)
	}

	return client, nil
}
