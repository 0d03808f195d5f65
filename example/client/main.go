package main

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/eaglemoor/coalescer"
	"github.com/eaglemoor/coalescer/cache/lru"
	rcache "github.com/eaglemoor/coalescer/cache/redis"
	"github.com/eaglemoor/coalescer/grpcfetch"
	"github.com/eaglemoor/coalescer/internal/config"
	"github.com/eaglemoor/coalescer/internal/logging"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

type station struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Genre     string `json:"genre"`
	Listeners int    `json:"listeners"`
}

type profile struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
}

// initFetchers make fetch funcs with grpc call to lookup service, fronted by
// lru and, when configured, redis
func initFetchers(cfg *config.Config, client *grpcfetch.Client, rdb redis.UniversalClient, logger *zap.Logger) (coalescer.Fetcher[string, station], coalescer.Fetcher[string, profile]) {
	stations := grpcfetch.Typed[station](client.Fetcher("stations"))
	users := grpcfetch.Typed[profile](client.Fetcher("users"))

	if rdb != nil {
		stations = coalescer.WithCache[string, station](rcache.New[string, station]("stations", rdb, cfg.Redis.TTL, logger), stations)
		users = coalescer.WithCache[string, profile](rcache.New[string, profile]("users", rdb, cfg.Redis.TTL, logger), users)
	}

	stationLRU, err := lru.New[string, station](cfg.Batch.CacheSize)
	if err != nil {
		logger.Fatal("can't init station cache", zap.Error(err))
	}

	userLRU, err := lru.New[string, profile](cfg.Batch.CacheSize)
	if err != nil {
		logger.Fatal("can't init user cache", zap.Error(err))
	}

	return coalescer.WithCache[string, station](stationLRU, stations), coalescer.WithCache[string, profile](userLRU, users)
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zap.Logger) redis.UniversalClient {
	if !cfg.Redis.Enabled() {
		return nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unavailable, running without shared cache", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		_ = rdb.Close()

		return nil
	}

	return rdb
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("can't load config: %s", err.Error())
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %s", err.Error())
	}

	logger, err := logging.New(cfg.LogLevel, "lookup-client")
	if err != nil {
		log.Fatalf("can't init logger: %s", err.Error())
	}
	defer func() { _ = logger.Sync() }()

	conn, err := grpc.NewClient(cfg.LookupAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		logger.Fatal("can't init grpc client to lookup server", zap.Error(err))
	}
	defer conn.Close()

	ctx := context.Background()

	rdb := initRedis(ctx, cfg, logger)
	if rdb != nil {
		defer rdb.Close()
	}

	stationFetch, userFetch := initFetchers(cfg, grpcfetch.NewClient(conn), rdb, logger)

	c := coalescer.New(
		coalescer.Window(cfg.Batch.Window),
		coalescer.FetchTimeout(cfg.Batch.FetchTimeout),
		coalescer.Logger(logger),
	)
	defer c.Close()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// every page widget asks for its own station and listener, the
	// coalescer turns them into one call per group
	eg, ctx := errgroup.WithContext(ctx)
	for _, id := range []string{"night-drive", "deep-cuts", "night-drive", "pirate-radio"} {
		eg.Go(func() error {
			s, err := coalescer.Load(ctx, c, "stations", id, stationFetch)
			if errors.Is(err, coalescer.ErrNotFound) {
				logger.Info("station not found", zap.String("id", id))
				return nil
			}
			if err != nil {
				return err
			}

			logger.Info("station", zap.String("id", s.ID), zap.String("name", s.Name), zap.Int("listeners", s.Listeners))
			return nil
		})
	}

	for _, id := range []string{"10", "20", "30", "10"} {
		eg.Go(func() error {
			u, err := coalescer.Load(ctx, c, "users", id, userFetch)
			if err != nil {
				return err
			}

			logger.Info("user", zap.String("id", u.ID), zap.String("nickname", u.Nickname))
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		logger.Error("lookup failed", zap.String("message", status.Convert(err).Message()), zap.Error(err))
	}
}
