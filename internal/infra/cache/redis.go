package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vanyaWEB/botsshop/internal/domain/model"
)

const (
	baseTTL = 2 * time.Minute
	// 世代キーは表示キーより十分長く残す
	genTTL = 24 * time.Hour
)

// RedisCache はカート表示をcart:{userID}:v{世代}に置く。
// Deleteは世代を進めるので、古い世代で読んだ表示を後から書いても見えない。
type RedisCache struct {
	client  *redis.Client
	baseTTL time.Duration
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{
		client:  client,
		baseTTL: baseTTL,
	}
}

// Get は現在の世代と、その世代の表示を返す。
func (r *RedisCache) Get(ctx context.Context, userID int64) (model.CartView, int64, bool, error) {
	gen, err := r.generation(ctx, userID)
	if err != nil {
		return model.CartView{}, 0, false, err
	}

	data, err := r.client.Get(ctx, viewKey(userID, gen)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.CartView{}, gen, false, nil
	}
	if err != nil {
		return model.CartView{}, gen, false, fmt.Errorf("redis get failed: %w", err)
	}

	var view model.CartView
	if err := json.Unmarshal(data, &view); err != nil {
		return model.CartView{}, gen, false, fmt.Errorf("unmarshal cart failed: %w", err)
	}
	return view, gen, true, nil
}

// Set はGetで受け取った世代に書く。
func (r *RedisCache) Set(ctx context.Context, userID int64, gen int64, view model.CartView) error {
	data, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}

	//同時に切れないようにずらす
	jitter := time.Duration(rand.Intn(30)) * time.Second
	if err := r.client.Set(ctx, viewKey(userID, gen), data, r.baseTTL+jitter).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Delete は世代を進めて、前の世代の表示を消す。
func (r *RedisCache) Delete(ctx context.Context, userID int64) error {
	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, genKey(userID))
	pipe.Expire(ctx, genKey(userID), genTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis incr failed: %w", err)
	}

	if err := r.client.Del(ctx, viewKey(userID, incr.Val()-1)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func (r *RedisCache) generation(ctx context.Context, userID int64) (int64, error) {
	gen, err := r.client.Get(ctx, genKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get generation failed: %w", err)
	}
	return gen, nil
}

func genKey(userID int64) string {
	return fmt.Sprintf("cart:%d:gen", userID)
}

func viewKey(userID int64, gen int64) string {
	return fmt.Sprintf("cart:%d:v%d", userID, gen)
}

// NoopCache はRedis未設定時用。常にミス
type NoopCache struct{}

func (NoopCache) Get(context.Context, int64) (model.CartView, int64, bool, error) {
	return model.CartView{}, 0, false, nil
}

func (NoopCache) Set(context.Context, int64, int64, model.CartView) error { return nil }

func (NoopCache) Delete(context.Context, int64) error { return nil }
