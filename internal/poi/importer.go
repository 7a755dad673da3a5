package poi

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"wifi-ad-beacon/internal/logger"
	"wifi-ad-beacon/internal/model"
)

// VenueWriter：场所缓存的写契约
type VenueWriter interface {
	UpsertVenue(ctx context.Context, v model.Venue) (bool, error)
	DeactivateMissing(ctx context.Context, source model.VenueSource, keep []string) (int64, error)
	PurgeSource(ctx context.Context, source model.VenueSource) (int64, error)
}

// ImportOptions：导入开关
type ImportOptions struct {
	Latitude          float64
	Longitude         float64
	RadiusMeters      int
	Purge             bool
	DeactivateMissing bool
	// Concurrency 为并发 upsert 数，<=0 时为 4
	Concurrency int
}

// ImportStats：一次导入的计数
type ImportStats struct {
	Purged      int64
	Fetched     int
	Created     int64
	Updated     int64
	Deactivated int64
}

// 文档注释：拉取并导入周边场所
// 背景：先可选清空该来源，再逐条 upsert 并置为 active，最后可选停用本次未返回的场所。
// 约束：同一 external_id 只保留最后一次出现；任何 upsert 失败即中止且不执行停用。
func Import(ctx context.Context, p Provider, w VenueWriter, opt ImportOptions) (ImportStats, error) {
	var st ImportStats
	source := p.Source()
	if opt.Purge {
		n, err := w.PurgeSource(ctx, source)
		if err != nil {
			return st, fmt.Errorf("purge %s: %w", source, err)
		}
		st.Purged = n
		logger.L().Warn("poi_purged", "source", source, "rows", n)
	}

	items, err := p.Fetch(ctx, opt.Latitude, opt.Longitude, opt.RadiusMeters)
	if err != nil {
		return st, fmt.Errorf("fetch %s: %w", source, err)
	}
	st.Fetched = len(items)
	items = dedupe(items)

	conc := opt.Concurrency
	if conc <= 0 {
		conc = 4
	}
	var created, updated atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(conc)
	for _, it := range items {
		v := it.Venue(source)
		g.Go(func() error {
			isNew, err := w.UpsertVenue(gctx, v)
			if err != nil {
				return fmt.Errorf("upsert %s: %w", v.ExternalID, err)
			}
			if isNew {
				created.Add(1)
			} else {
				updated.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		st.Created, st.Updated = created.Load(), updated.Load()
		return st, err
	}
	st.Created, st.Updated = created.Load(), updated.Load()

	if opt.DeactivateMissing {
		keep := make([]string, 0, len(items))
		for _, it := range items {
			keep = append(keep, it.ExternalID)
		}
		n, err := w.DeactivateMissing(ctx, source, keep)
		if err != nil {
			return st, fmt.Errorf("deactivate missing %s: %w", source, err)
		}
		st.Deactivated = n
	}
	logger.L().Info("poi_import_done", "source", source, "fetched", st.Fetched, "created", st.Created, "updated", st.Updated, "deactivated", st.Deactivated)
	return st, nil
}

func dedupe(items []Item) []Item {
	idx := make(map[string]int, len(items))
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if i, ok := idx[it.ExternalID]; ok {
			out[i] = it
			continue
		}
		idx[it.ExternalID] = len(out)
		out = append(out, it)
	}
	return out
}
