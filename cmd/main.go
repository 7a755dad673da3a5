// 程序入口：读取配置、初始化依赖并启动服务；API 注册在 internal/api
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"wifi-ad-beacon/internal/ads"
	"wifi-ad-beacon/internal/api"
	"wifi-ad-beacon/internal/cache"
	"wifi-ad-beacon/internal/config"
	"wifi-ad-beacon/internal/devicekey"
	"wifi-ad-beacon/internal/geo"
	"wifi-ad-beacon/internal/logger"
	"wifi-ad-beacon/internal/middleware"
	"wifi-ad-beacon/internal/migrate"
	"wifi-ad-beacon/internal/portal"
	"wifi-ad-beacon/internal/store"
	"wifi-ad-beacon/internal/store/memstore"
	"wifi-ad-beacon/internal/utils"
	"wifi-ad-beacon/internal/visit"
)

// backend：Postgres 与内存实现共同满足的存储契约
type backend interface {
	visit.Store
	visit.SessionRecorder
	geo.VenueFinder
	ads.AdFinder
	portal.SessionStore
	api.Stats
	api.Pinger
}

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
	l := logger.Setup()
	l.Debug("log_init_ok")

	cfg, err := config.Load()
	if err != nil {
		l.Error("config_error", "err", err)
		os.Exit(1)
	}
	l.Debug("config_api_base", "base", cfg.APIBase)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg); err != nil {
		l.Error("server_exit", "err", err)
		os.Exit(1)
	}
	l.Info("server_stopped")
}

func openBackend(ctx context.Context, cfg *config.Config) (backend, func(), error) {
	l := logger.L()
	if cfg.StoreDriver == "memory" {
		l.Warn("store_memory", "note", "data is lost on restart")
		return memstore.New(), func() {}, nil
	}
	db, err := utils.OpenPostgres(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	l.Info("db_open_ok")
	if err := migrate.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	l.Info("schema_ok")
	st := store.AttachDB(db)
	return st, func() { _ = st.Close() }, nil
}

// openRecency：Redis 不可用时回退到进程内 LRU，多实例部署下频控变为按实例生效
func openRecency(ctx context.Context, cfg *config.Config) (ads.RecencyCache, func()) {
	l := logger.L()
	rc := utils.OpenRedis(cfg)
	if rc == nil {
		l.Info("redis_disabled")
		return cache.NewLRU(0), func() {}
	}
	if err := utils.PingRedis(ctx, rc); err != nil {
		l.Error("redis_ping_error", "err", err)
		_ = rc.Close()
		return cache.NewLRU(0), func() {}
	}
	l.Info("redis_ping_ok")
	return cache.NewRedis(rc), func() { _ = rc.Close() }
}

func run(ctx context.Context, cfg *config.Config) error {
	l := logger.L()
	admin, err := middleware.NewAllowList(cfg.AdminAllowCIDRs)
	if err != nil {
		return err
	}
	st, closeStore, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	recency, closeCache := openRecency(ctx, cfg)
	defer closeCache()

	matcher := geo.NewMatcher(st, cfg.MatchMaxDistanceMeters)
	visitCfg := visit.Config{SwitchConfirmations: cfg.SwitchConfirmations, InactivityTimeout: cfg.InactivityTimeout}
	keys := devicekey.NewResolver(cfg.DHCPLeasesFile)
	h := &api.Handlers{
		Visits: visit.NewService(st, matcher, st, visitCfg),
		Ads: ads.NewSelector(st, ads.NewFrequencyCap(recency, cfg.FreqCapTTL, cfg.FreqCapMaxRecent), ads.SelectorConfig{
			SearchRadiusMeters: cfg.AdSearchRadiusMeters,
			WeightFactor:       cfg.AdWeightFactor,
			DistanceFactor:     cfg.AdDistanceFactor,
			Location:           cfg.AdLocation,
		}),
		Portal: portal.NewService(st, matcher, keys, cfg.AllowIPScript),
		Keys:   keys,
		Stats:  st,
		Health: st,
		Admin:  admin,
	}

	handler := logger.AccessMiddleware(l)(api.NewRouter(cfg.APIBase, h))
	handler = middleware.Wrap(handler, middleware.RateLimitConfig{Enabled: cfg.RateLimitEnabled, PerMinute: cfg.RateLimitPerMin})
	srv := &http.Server{Addr: cfg.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		l.Info("listening", "addr", cfg.Addr, "base", cfg.APIBase, "store", cfg.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	sweeper := visit.NewSweeper(st, visitCfg, cfg.SweepInterval)
	g.Go(func() error {
		if cfg.SweepInterval <= 0 {
			l.Info("visit_sweeper_disabled")
			return nil
		}
		l.Info("visit_sweeper_started", "interval", cfg.SweepInterval.String())
		return sweeper.Run(gctx)
	})
	return g.Wait()
}
