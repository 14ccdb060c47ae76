package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danthegoodman1/copartition/bulkload"
	"github.com/danthegoodman1/copartition/crdb"
	"github.com/danthegoodman1/copartition/gologger"
	"github.com/danthegoodman1/copartition/graphpart"
	"github.com/danthegoodman1/copartition/http_server"
	"github.com/danthegoodman1/copartition/migrations"
	"github.com/danthegoodman1/copartition/remap"
	"github.com/danthegoodman1/copartition/s3_helper"
	"github.com/danthegoodman1/copartition/utils"
)

var logger = gologger.NewLogger()

func main() {
	logger.Debug().Msg("starting copartition api")
	ctx := logger.WithContext(context.Background())

	deps := http_server.Deps{WorkDir: utils.WORK_DIR}

	var oracle remap.HashOracle = remap.XXHashOracle{}
	var cache remap.Cache = remap.NewMemoryCache()
	if utils.CRDB_DSN != "" {
		if err := crdb.ConnectToDB(); err != nil {
			logger.Error().Err(err).Msg("error connecting to CRDB")
			os.Exit(1)
		}

		err := migrations.CheckMigrations(utils.CRDB_DSN)
		if err != nil {
			logger.Error().Err(err).Msg("Error checking migrations")
			os.Exit(1)
		}

		deps.Store = crdb.NewStore(crdb.PGPool)
		oracle = crdb.NewHashOracle(crdb.PGPool)
		cache = crdb.NewMappingCache(crdb.PGPool)
	} else {
		logger.Warn().Msg("CRDB_DSN not set, only /assign and /mappings are available")
	}

	var redisCache *remap.RedisCache
	if utils.REDIS_ADDR != "" {
		var err error
		redisCache, err = remap.NewRedisCache(ctx, remap.RedisOptions{
			Addr:     utils.REDIS_ADDR,
			Password: utils.REDIS_PASSWORD,
			PingTest: true,
		})
		if err != nil {
			logger.Error().Err(err).Msg("error connecting to redis")
			os.Exit(1)
		}
		cache = redisCache
	}

	deps.Remapper = remap.NewRemapper(oracle, cache)
	deps.Remapper.MaxProbe = utils.MAX_PROBE

	if utils.PARTITIONER_BIN != "" {
		runner := graphpart.NewExecRunnerFromEnv()
		if err := runner.Check(); err != nil {
			logger.Error().Err(err).Msg("error checking graph partitioner")
			os.Exit(1)
		}
		deps.GraphRunner = runner
	}

	if utils.BULK_LOADER_DB != "" {
		deps.Loader = bulkload.NewExecLoaderFromEnv()
	} else if crdb.PGPool != nil {
		deps.Loader = bulkload.NewCopyLoader(crdb.PGPool)
	}

	if utils.S3_BUCKET_NAME != "" {
		s3Client, err := s3_helper.NewClientFromEnv()
		if err != nil {
			logger.Error().Err(err).Msg("error creating s3 client")
			os.Exit(1)
		}
		deps.Uploader = s3Client
	}

	httpServer := http_server.StartHTTPServer(deps)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	logger.Warn().Msg("received shutdown signal!")

	// For AWS ALB needing some time to de-register pod
	// Convert the time to seconds
	sleepTime := utils.GetEnvOrDefaultInt("SHUTDOWN_SLEEP_SEC", 0)
	logger.Info().Msg(fmt.Sprintf("sleeping for %ds before exiting", sleepTime))

	time.Sleep(time.Second * time.Duration(sleepTime))
	logger.Info().Msg(fmt.Sprintf("slept for %ds, exiting", sleepTime))

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown HTTP server")
	} else {
		logger.Info().Msg("successfully shutdown HTTP server")
	}
	if redisCache != nil {
		if err := redisCache.Shutdown(ctx); err != nil {
			logger.Error().Err(err).Msg("failed to shutdown redis cache")
		}
	}
	if crdb.PGPool != nil {
		crdb.PGPool.Close()
	}
}
