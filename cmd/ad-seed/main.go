// ad-seed：按标题 upsert 广告目录；不带 --file 时写入内置的默认目录
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"wifi-ad-beacon/internal/config"
	"wifi-ad-beacon/internal/logger"
	"wifi-ad-beacon/internal/migrate"
	"wifi-ad-beacon/internal/model"
	"wifi-ad-beacon/internal/store"
	"wifi-ad-beacon/internal/utils"
)

// AdUpserter：按标题插入或更新，返回是否新建
type AdUpserter interface {
	UpsertAdByTitle(ctx context.Context, ad model.Advertisement) (bool, error)
}

func seed(ctx context.Context, w AdUpserter, ads []model.Advertisement) (created, updated int, err error) {
	for _, ad := range ads {
		isNew, err := w.UpsertAdByTitle(ctx, ad)
		if err != nil {
			return created, updated, fmt.Errorf("upsert %q: %w", ad.Title, err)
		}
		if isNew {
			created++
		} else {
			updated++
		}
	}
	return created, updated, nil
}

func openCatalogue(path string) (io.ReadCloser, error) {
	if path == "" {
		return io.NopCloser(bytes.NewReader(defaultCatalogue)), nil
	}
	return os.Open(path)
}

func main() {
	file := flag.String("file", "", "YAML ad catalogue (default: built-in seed)")
	envFile := flag.String("env", "", "extra .env file")
	flag.Parse()
	if *envFile != "" {
		_ = godotenv.Load(*envFile)
	}
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
	l := logger.Setup()

	rc, err := openCatalogue(*file)
	if err != nil {
		l.Error("catalogue_open_error", "err", err)
		os.Exit(1)
	}
	ads, err := parseCatalogue(rc)
	_ = rc.Close()
	if err != nil {
		l.Error("catalogue_error", "err", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		l.Error("config_error", "err", err)
		os.Exit(1)
	}
	ctx := context.Background()
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
	created, updated, err := seed(ctx, store.AttachDB(db), ads)
	if err != nil {
		l.Error("seed_error", "err", err)
		os.Exit(1)
	}
	fmt.Printf("Seed finished. Created %d, Updated %d advertisements.\n", created, updated)
}
