package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/guttosm/tickshard/config"
	"github.com/guttosm/tickshard/internal/api"
	"github.com/guttosm/tickshard/internal/cluster"
	"github.com/guttosm/tickshard/internal/query"
	"github.com/guttosm/tickshard/internal/replication"
	"github.com/guttosm/tickshard/internal/storage"
)

// InitializeCluster builds and starts the shard/replica cluster from
// configuration: topology, timing, and the storage backend behind each
// replica.
//
// Returns:
//   - *cluster.Cluster: the running cluster.
//   - func(): cleanup that flushes and stops it (and closes the DB, if any).
//   - error: any initialization error that occurred.
func InitializeCluster(cfg config.Config) (*cluster.Cluster, func(), error) {
	opts := cluster.Options{
		Shards:           cfg.Cluster.ShardCount,
		ReplicasPerShard: cfg.Cluster.ReplicaCount,
		FlushGrace:       cfg.Cluster.GraceWindow,
		FlushInterval:    cfg.Cluster.FlushInterval,
		RetentionMonths:  cfg.Cluster.RetentionMonths,
		Replication: replication.Config{
			StaleLag: cfg.Cluster.StaleLag,
		},
	}

	var db *sql.DB
	if cfg.Storage.Backend == "postgres" {
		var err error
		db, err = postgresOpener(cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize postgres: %w", err)
		}
		opts.NewLocalStore = func(shard, replica int) storage.LocalStore {
			return storage.NewPgLocalStore(db, shard, replica)
		}
		opts.NewAggregateStore = func(shard, replica int) storage.AggregateStore {
			return storage.NewPgAggregateStore(db, shard, replica)
		}
	}

	c := cluster.New(opts)
	c.Start(context.Background())

	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = c.Shutdown(ctx)
		if db != nil {
			_ = db.Close()
		}
	}
	return c, cleanup, nil
}

// InitializeApp sets up all application dependencies and returns
// a fully configured Gin router, a cleanup function for graceful shutdown,
// and any error encountered during initialization.
//
// Responsibilities:
//   - Builds and starts the cluster via InitializeCluster().
//   - Creates the query router with the configured per-shard deadline.
//   - Creates the HTTP handler layer and configures the Gin router.
//   - Registers health and readiness probes.
//   - Provides a cleanup function to flush and stop the cluster.
//
// Returns:
//   - *gin.Engine: the configured Gin HTTP router.
//   - func(): cleanup function to be executed on shutdown.
//   - error: any initialization error that occurred.
func InitializeApp() (*gin.Engine, func(), error) {
	cfg := config.AppConfig

	c, cleanup, err := InitializeCluster(cfg)
	if err != nil {
		return nil, nil, err
	}

	qr := query.NewRouter(c, cfg.Cluster.QueryTimeout)
	handler := api.NewHandler(c, qr)
	router := api.NewRouter(handler)

	healthHandler := api.NewHealthHandler(c.Healthy)
	healthHandler.Register(router)

	return router, cleanup, nil
}
