package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"example.com/cashflow-forecast/internal/forecast"
)

const (
	keyPrefix  = "forecast:v1:"
	dayLayout  = "2006-01-02"
	scanBatch  = 200
	noBalance  = "cash"
	keySegment = 7
)

// Key описывает параметры, от которых зависит результат прогноза.
// День входит в ключ: прогноз на "сегодня" устаревает при смене даты.
type Key struct {
	EntityID       uuid.UUID
	Day            time.Time
	MonthsBack     int
	MonthsAhead    int
	CurrentBalance *decimal.Decimal
}

// String возвращает ключ Redis вида forecast:v1:<entity>:<day>:<back>:<ahead>:<balance>.
func (k Key) String() string {
	balance := noBalance
	if k.CurrentBalance != nil {
		balance = k.CurrentBalance.String()
	}

	return fmt.Sprintf("%s%s:%s:%d:%d:%s",
		keyPrefix, k.EntityID, k.Day.UTC().Format(dayLayout), k.MonthsBack, k.MonthsAhead, balance)
}

// ParseKey разбирает ключ, записанный Key.String.
func ParseKey(raw string) (Key, error) {
	if !strings.HasPrefix(raw, keyPrefix) {
		return Key{}, fmt.Errorf("unexpected cache key %q", raw)
	}

	parts := strings.Split(raw, ":")
	if len(parts) != keySegment {
		return Key{}, fmt.Errorf("unexpected cache key %q", raw)
	}

	entityID, err := uuid.Parse(parts[2])
	if err != nil {
		return Key{}, fmt.Errorf("parse cache key entity: %w", err)
	}

	day, err := time.Parse(dayLayout, parts[3])
	if err != nil {
		return Key{}, fmt.Errorf("parse cache key day: %w", err)
	}

	monthsBack, err := strconv.Atoi(parts[4])
	if err != nil {
		return Key{}, fmt.Errorf("parse cache key months back: %w", err)
	}

	monthsAhead, err := strconv.Atoi(parts[5])
	if err != nil {
		return Key{}, fmt.Errorf("parse cache key months ahead: %w", err)
	}

	key := Key{EntityID: entityID, Day: day, MonthsBack: monthsBack, MonthsAhead: monthsAhead}
	if parts[6] != noBalance {
		balance, err := decimal.NewFromString(parts[6])
		if err != nil {
			return Key{}, fmt.Errorf("parse cache key balance: %w", err)
		}
		key.CurrentBalance = &balance
	}

	return key, nil
}

// ProjectionCache хранит рассчитанные прогнозы в Redis.
// С nil-клиентом все операции ничего не делают, а Get всегда промахивается.
type ProjectionCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewProjectionCache создает кэш прогнозов с заданным временем жизни записей.
func NewProjectionCache(client *redis.Client, ttl time.Duration) *ProjectionCache {
	return &ProjectionCache{client: client, ttl: ttl}
}

func (c *ProjectionCache) Enabled() bool {
	return c != nil && c.client != nil
}

// Get возвращает сохраненный прогноз. Второе значение false означает промах.
func (c *ProjectionCache) Get(ctx context.Context, key Key) (forecast.Result, bool, error) {
	var result forecast.Result
	if !c.Enabled() {
		return result, false, nil
	}

	cached, err := c.client.Get(ctx, key.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return result, false, nil
		}
		return result, false, fmt.Errorf("get cached projection: %w", err)
	}

	if err := json.Unmarshal(cached, &result); err != nil {
		// Запись старого формата: удаляем и считаем промахом.
		_ = c.client.Del(ctx, key.String()).Err()
		return forecast.Result{}, false, nil
	}

	return result, true, nil
}

// Set сохраняет прогноз с TTL кэша.
func (c *ProjectionCache) Set(ctx context.Context, key Key, result forecast.Result) error {
	if !c.Enabled() {
		return nil
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode projection: %w", err)
	}

	if err := c.client.SetEx(ctx, key.String(), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache projection: %w", err)
	}

	return nil
}

// InvalidateEntity удаляет все сохраненные прогнозы сущности и возвращает число удаленных ключей.
func (c *ProjectionCache) InvalidateEntity(ctx context.Context, entityID uuid.UUID) (int64, error) {
	if !c.Enabled() {
		return 0, nil
	}

	return c.deleteMatching(ctx, keyPrefix+entityID.String()+":*", func(string) bool { return true })
}

// PurgeStale удаляет прогнозы, рассчитанные не в день today.
func (c *ProjectionCache) PurgeStale(ctx context.Context, today time.Time) (int64, error) {
	if !c.Enabled() {
		return 0, nil
	}

	current := today.UTC().Format(dayLayout)
	return c.deleteMatching(ctx, keyPrefix+"*", func(raw string) bool {
		key, err := ParseKey(raw)
		if err != nil {
			return true
		}
		return key.Day.Format(dayLayout) != current
	})
}

func (c *ProjectionCache) deleteMatching(ctx context.Context, pattern string, stale func(string) bool) (int64, error) {
	var deleted int64

	iter := c.client.Scan(ctx, 0, pattern, scanBatch).Iterator()
	batch := make([]string, 0, scanBatch)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := c.client.Del(ctx, batch...).Result()
		if err != nil {
			return err
		}
		deleted += n
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		if !stale(iter.Val()) {
			continue
		}
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			if err := flush(); err != nil {
				return deleted, fmt.Errorf("delete cached projections: %w", err)
			}
		}
	}

	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("scan cached projections: %w", err)
	}

	if err := flush(); err != nil {
		return deleted, fmt.Errorf("delete cached projections: %w", err)
	}

	return deleted, nil
}
