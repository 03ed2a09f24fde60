package main

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/gamepricer/config"
	"github.com/mohammad-safakhou/gamepricer/internal/server"
)

func serveCMD() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			ctx := cmd.Context()

			st, pipe, metrics, err := buildPipeline(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.DB.Close()

			var sched *server.Scheduler
			if cfg.Scheduler.Enabled {
				var rdb *redis.Client
				if addr := cfg.Storage.Redis.Addr(); addr != "" {
					rdb = redis.NewClient(&redis.Options{
						Addr:     addr,
						Password: cfg.Storage.Redis.Password,
						DB:       cfg.Storage.Redis.DB,
					})
					if err := rdb.Ping(ctx).Err(); err != nil {
						return fmt.Errorf("redis connection failed (%s): %w", addr, err)
					}
				}
				sched = server.NewScheduler(pipe, rdb, cfg.Scheduler)
			}

			return server.New(cfg, st, pipe, metrics).Run(sched)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")
	return cmd
}
