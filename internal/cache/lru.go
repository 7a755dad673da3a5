package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// 文档注释：进程内 LRU，未启用 Redis 时的频控缓存
// 约束：容量满时淘汰最久未访问的键；过期项在读取时惰性删除。
type LRU struct {
	mu   sync.Mutex
	cap  int
	lst  *list.List
	dict map[string]*list.Element
	now  func() time.Time
}

type entry struct {
	k   string
	ids []int64
	exp time.Time
}

func NewLRU(capacity int) *LRU {
	if capacity <= 0 {
		capacity = 4096
	}
	return &LRU{cap: capacity, lst: list.New(), dict: make(map[string]*list.Element), now: time.Now}
}

func (c *LRU) GetIDs(_ context.Context, key string) ([]int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.dict[key]
	if !ok {
		return nil, nil
	}
	it := e.Value.(entry)
	if !c.now().Before(it.exp) {
		c.lst.Remove(e)
		delete(c.dict, key)
		return nil, nil
	}
	c.lst.MoveToFront(e)
	return append([]int64(nil), it.ids...), nil
}

func (c *LRU) SetIDs(_ context.Context, key string, ids []int64, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	it := entry{k: key, ids: append([]int64(nil), ids...), exp: c.now().Add(ttl)}
	if e, ok := c.dict[key]; ok {
		e.Value = it
		c.lst.MoveToFront(e)
		return nil
	}
	c.dict[key] = c.lst.PushFront(it)
	for c.lst.Len() > c.cap {
		back := c.lst.Back()
		delete(c.dict, back.Value.(entry).k)
		c.lst.Remove(back)
	}
	return nil
}

// Len：当前条目数（含未清理的过期项）
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lst.Len()
}
