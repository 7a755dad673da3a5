package visit

import (
	"context"
	"fmt"
	"time"

	"wifi-ad-beacon/internal/logger"
	"wifi-ad-beacon/internal/metrics"
)

// 文档注释：后台超时闭段
// 背景：设备离开后不再发心跳，其打开分段要等下一次心跳才会被收口；定期扫描可提前收口。
// 约束：收口时间与心跳路径一致取 LastPingAt；与心跳共用 WithDevice 串行化。
type Sweeper struct {
	store    Store
	cfg      Config
	interval time.Duration
	batch    int
	now      func() time.Time
}

func NewSweeper(store Store, cfg Config, interval time.Duration) *Sweeper {
	return &Sweeper{store: store, cfg: cfg, interval: interval, batch: 500, now: time.Now}
}

// Run：阻塞直至 ctx 取消；interval<=0 时直接返回
func (w *Sweeper) Run(ctx context.Context) error {
	if w.interval <= 0 {
		return nil
	}
	l := logger.L()
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			n, err := w.SweepOnce(ctx)
			if err != nil {
				l.Error("visit_sweep_error", "err", err)
				continue
			}
			if n > 0 {
				l.Info("visit_sweep_done", "closed", n)
			}
		}
	}
}

// SweepOnce：扫描一批超时设备并收口，返回关闭的分段数
func (w *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	now := w.now()
	keys, err := w.store.IdleDevices(ctx, now.Add(-w.cfg.InactivityTimeout), w.batch)
	if err != nil {
		return 0, fmt.Errorf("list idle devices: %w", err)
	}
	closed := 0
	for _, key := range keys {
		err := w.store.WithDevice(ctx, key, func(tx DeviceTx) error {
			st, err := tx.Load(ctx)
			if err != nil {
				return err
			}
			next, seg, ok := Reap(w.cfg, st, now)
			if !ok {
				return nil
			}
			if seg != nil {
				if err := tx.CloseSegment(ctx, *seg); err != nil {
					return err
				}
				closed++
				metrics.SegmentReapedTotal.WithLabelValues("sweep").Inc()
			}
			return tx.SaveState(ctx, next)
		})
		if err != nil {
			return closed, fmt.Errorf("reap %s: %w", key, err)
		}
	}
	return closed, nil
}
