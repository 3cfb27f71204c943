package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/memehubx/memedb/pkg/backfill"
	"github.com/memehubx/memedb/pkg/config"
	"github.com/memehubx/memedb/pkg/logging"
	"github.com/memehubx/memedb/pkg/server"
	"github.com/memehubx/memedb/pkg/storage"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		port               string
		dataDir            string
		maxBatchOps        int
		durability         string
		checkpointInterval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the document store over HTTP",
		Long: `Open the storage engine in --data-dir and serve it over HTTP until
interrupted. A checkpoint is written on shutdown; between checkpoints every
write is in the write-ahead log.`,
		Example: `  memedb serve
  memedb serve --port 9090 --data-dir /var/lib/memedb --durability full`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg
			flags := cmd.Flags()
			if flags.Changed("port") {
				cfg.Server.Port = port
			}
			if flags.Changed("data-dir") {
				cfg.Store.DataDir = dataDir
			}
			if flags.Changed("max-batch-ops") {
				cfg.Store.MaxBatchOps = maxBatchOps
			}
			if flags.Changed("durability") {
				cfg.Store.Durability = durability
			}
			if flags.Changed("checkpoint-interval") {
				cfg.Store.CheckpointInterval = checkpointInterval
			}

			opts, err := engineOptions(cfg.Store, a.logger)
			if err != nil {
				return &ExitError{Code: backfill.ExitConfigError, Err: err}
			}
			se, err := storage.NewStorageEngine(opts...)
			if err != nil {
				return err
			}
			defer func() {
				if err := se.Close(); err != nil {
					a.logger.Error().Err(err).Msg("failed to close storage engine")
				}
			}()
			se.StartBackgroundWorkers()

			srv := server.NewServer(se, logging.Component(a.logger, "server"))
			return srv.ListenAndServe(cmd.Context(), ":"+cfg.Server.Port)
		},
	}

	def := config.Default()
	fs := cmd.Flags()
	fs.StringVar(&port, "port", def.Server.Port, "server port")
	fs.StringVar(&dataDir, "data-dir", def.Store.DataDir, "data directory for the WAL and checkpoints")
	fs.IntVar(&maxBatchOps, "max-batch-ops", def.Store.MaxBatchOps, "largest accepted batch write")
	fs.StringVar(&durability, "durability", def.Store.Durability, "WAL durability: none, memory, os or full")
	fs.DurationVar(&checkpointInterval, "checkpoint-interval", def.Store.CheckpointInterval, "time between background checkpoints (0 disables)")
	return cmd
}
