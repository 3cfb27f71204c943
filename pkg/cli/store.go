package cli

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/memehubx/memedb/pkg/backfill"
	"github.com/memehubx/memedb/pkg/config"
	"github.com/memehubx/memedb/pkg/logging"
	"github.com/memehubx/memedb/pkg/recordstore/engine"
	"github.com/memehubx/memedb/pkg/recordstore/httpstore"
	"github.com/memehubx/memedb/pkg/recordstore/sqlstore"
	"github.com/memehubx/memedb/pkg/storage"
)

// engineOptions maps the store configuration onto storage engine options
func engineOptions(cfg config.StoreConfig, logger zerolog.Logger) ([]storage.StorageOption, error) {
	level, err := cfg.DurabilityLevel()
	if err != nil {
		return nil, err
	}
	return []storage.StorageOption{
		storage.WithDataDir(cfg.DataDir),
		storage.WithMaxBatchOps(cfg.MaxBatchOps),
		storage.WithDurabilityLevel(level),
		storage.WithCheckpointInterval(cfg.CheckpointInterval),
		storage.WithLogger(logging.Component(logger, "storage")),
	}, nil
}

// openStore opens the record store selected by cfg.Store.Kind
func openStore(ctx context.Context, cfg config.Config, logger zerolog.Logger) (backfill.Store, error) {
	sc := cfg.Store
	switch sc.Kind {
	case config.StoreEngine:
		opts, err := engineOptions(sc, logger)
		if err != nil {
			return nil, err
		}
		store, err := engine.Open(opts...)
		if err != nil {
			return nil, err
		}
		return store, nil

	case config.StoreHTTP:
		client, err := httpstore.New(ctx, sc.URL, httpstore.WithLogger(logging.Component(logger, "httpstore")))
		if err != nil {
			return nil, err
		}
		return client, nil

	case config.StoreSQL:
		store, err := sqlstore.Open(ctx, sc.SQLDriver, sc.SQLDSN,
			sqlstore.WithMaxBatchSize(sc.MaxBatchOps),
			sqlstore.WithLogger(logging.Component(logger, "sqlstore")),
		)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	return nil, fmt.Errorf("unknown store kind %q", sc.Kind)
}
