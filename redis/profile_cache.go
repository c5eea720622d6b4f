package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// 登录/注册时写入的用户资料快照。
// 老版本签发的 token 缺 email/name 字段时，鉴权层用它兜底。
type cachedProfile struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

const profileTTL = 30 * 24 * time.Hour

type ProfileCache struct {
	rdb *redis.Client
}

func NewProfileCache(r *RedisClient) *ProfileCache {
	return &ProfileCache{rdb: r.Client}
}

func profileKey(userID uint) string {
	return fmt.Sprintf("auth:profile:%d", userID)
}

func (c *ProfileCache) SaveProfile(ctx context.Context, userID uint, email, name string) error {
	data, err := json.Marshal(cachedProfile{Email: email, Name: name})
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, profileKey(userID), data, profileTTL).Err()
}

// LookupProfile 查不到时返回空串，不算错误
func (c *ProfileCache) LookupProfile(ctx context.Context, userID uint) (email, name string, err error) {
	data, err := c.rdb.Get(ctx, profileKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return "", "", nil
	}
	if err != nil {
		return "", "", err
	}
	var p cachedProfile
	if err := json.Unmarshal(data, &p); err != nil {
		return "", "", err
	}
	return p.Email, p.Name, nil
}
