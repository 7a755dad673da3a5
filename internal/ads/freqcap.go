package ads

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// RecencyCache：带 TTL 的键值缓存契约；过期由缓存自身负责
type RecencyCache interface {
	GetIDs(ctx context.Context, key string) ([]int64, error)
	SetIDs(ctx context.Context, key string, ids []int64, ttl time.Duration) error
}

// ClientKey：频控键，取 (客户端标识, UA) 的稳定哈希
func ClientKey(clientIdentity, userAgent string) string {
	if clientIdentity == "" {
		clientIdentity = "noip"
	}
	if userAgent == "" {
		userAgent = "noua"
	}
	sum := sha256.Sum256([]byte(clientIdentity + "|" + userAgent))
	return "ad:freq:" + hex.EncodeToString(sum[:])[:24]
}

// PushRecent：去重后插到最前并截断到 max 条
func PushRecent(recent []int64, id int64, max int) []int64 {
	out := make([]int64, 0, len(recent)+1)
	out = append(out, id)
	for _, x := range recent {
		if x != id {
			out = append(out, x)
		}
	}
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out
}

// 文档注释：最近展示广告的频控记录
// 约束：读改写不加锁，同一键并发写入可能丢失一次更新，频控对此容忍。
type FrequencyCap struct {
	cache     RecencyCache
	ttl       time.Duration
	maxRecent int
}

func NewFrequencyCap(cache RecencyCache, ttl time.Duration, maxRecent int) *FrequencyCap {
	return &FrequencyCap{cache: cache, ttl: ttl, maxRecent: maxRecent}
}

// Recent：最近展示的广告 ID，最新在前；无记录返回空
func (f *FrequencyCap) Recent(ctx context.Context, key string) ([]int64, error) {
	if f == nil || f.cache == nil {
		return nil, nil
	}
	return f.cache.GetIDs(ctx, key)
}

// Record：写入一次展示并重置整条记录的 TTL
func (f *FrequencyCap) Record(ctx context.Context, key string, adID int64) error {
	if f == nil || f.cache == nil {
		return nil
	}
	recent, err := f.cache.GetIDs(ctx, key)
	if err != nil {
		recent = nil
	}
	return f.cache.SetIDs(ctx, key, PushRecent(recent, adID, f.maxRecent), f.ttl)
}
