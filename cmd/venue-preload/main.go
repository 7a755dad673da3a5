// venue-preload：拉取站点周边 POI 写入本地场所缓存，可定时运行
//
// 用法：
//
//	venue-preload [--provider OVERPASS|AMAP] [--purge] [--deactivate-missing=true|false] [--concurrency N] [--env file]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"wifi-ad-beacon/internal/config"
	"wifi-ad-beacon/internal/logger"
	"wifi-ad-beacon/internal/migrate"
	"wifi-ad-beacon/internal/model"
	"wifi-ad-beacon/internal/poi"
	"wifi-ad-beacon/internal/store"
	"wifi-ad-beacon/internal/utils"
)

type options struct {
	provider          string
	purge             bool
	deactivateMissing bool
	concurrency       int
	envFile           string
}

func parseFlags(args []string, cfg *config.Config) (options, error) {
	fs := flag.NewFlagSet("venue-preload", flag.ContinueOnError)
	var o options
	fs.StringVar(&o.provider, "provider", string(cfg.POI.Provider), "POI provider: OVERPASS or AMAP")
	fs.BoolVar(&o.purge, "purge", false, "delete existing venues of this provider before importing")
	fs.BoolVar(&o.deactivateMissing, "deactivate-missing", cfg.POI.DeactivateMissing, "mark venues not returned in this run as inactive")
	fs.IntVar(&o.concurrency, "concurrency", 4, "concurrent upserts")
	fs.StringVar(&o.envFile, "env", "", "extra .env file")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	return o, nil
}

func newProvider(name string, cfg *config.Config) (poi.Provider, error) {
	src, err := model.ParseVenueSource(name)
	if err != nil {
		return nil, err
	}
	switch src {
	case model.SourceAMap:
		if cfg.POI.AMapKey == "" {
			return nil, fmt.Errorf("AMAP_SERVER_KEY is required for provider %s", src)
		}
		return poi.NewAMap(cfg.POI.AMapKey, cfg.POI.AMapQPS), nil
	default:
		return poi.NewOverpass(cfg.POI.OverpassEndpoint, cfg.POI.OverpassTimeout), nil
	}
}

func main() {
	// --env 需在读取配置之前生效
	for i, a := range os.Args {
		if (a == "--env" || a == "-env") && i+1 < len(os.Args) {
			_ = godotenv.Load(os.Args[i+1])
		} else if v, ok := strings.CutPrefix(a, "--env="); ok {
			_ = godotenv.Load(v)
		}
	}
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
	l := logger.Setup()

	cfg, err := config.Load()
	if err != nil {
		l.Error("config_error", "err", err)
		os.Exit(1)
	}
	opt, err := parseFlags(os.Args[1:], cfg)
	if err != nil {
		os.Exit(2)
	}
	p, err := newProvider(opt.provider, cfg)
	if err != nil {
		l.Error("provider_error", "err", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	db, err := utils.OpenPostgres(ctx, cfg)
	if err != nil {
		l.Error("db_open_error", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := migrate.EnsureSchema(ctx, db); err != nil {
		l.Error("schema_error", "err", err)
		os.Exit(1)
	}

	fmt.Printf("Fetching POIs via provider=%s ...\n", p.Source())
	st, err := poi.Import(ctx, p, store.AttachDB(db), poi.ImportOptions{
		Latitude:          cfg.POI.SiteLatitude,
		Longitude:         cfg.POI.SiteLongitude,
		RadiusMeters:      cfg.POI.RadiusMeters,
		Purge:             opt.purge,
		DeactivateMissing: opt.deactivateMissing,
		Concurrency:       opt.concurrency,
	})
	if opt.purge {
		fmt.Printf("Purged %d venue rows for source=%s\n", st.Purged, p.Source())
	}
	if err != nil {
		l.Error("poi_import_error", "err", err, "created", st.Created, "updated", st.Updated)
		os.Exit(1)
	}
	fmt.Printf("Fetched %d POIs\n", st.Fetched)
	fmt.Printf("POI preload done. created=%d, updated=%d, deactivated=%d\n", st.Created, st.Updated, st.Deactivated)
}
