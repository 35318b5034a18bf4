package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pressly/goose/v3"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/shestoi/GoBigTech/iap/internal/config"
	"github.com/shestoi/GoBigTech/iap/internal/repository"
	"github.com/shestoi/GoBigTech/iap/internal/repository/memory"
	mongorepo "github.com/shestoi/GoBigTech/iap/internal/repository/mongo"
	"github.com/shestoi/GoBigTech/iap/internal/repository/postgres"
	redisrepo "github.com/shestoi/GoBigTech/iap/internal/repository/redis"
	"github.com/shestoi/GoBigTech/iap/migrations"
	platformshutdown "github.com/shestoi/GoBigTech/iap/platform/shutdown"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const connectTimeout = 5 * time.Second

// pingStore - RecordStore с проверкой доступности для readiness
type pingStore interface {
	repository.RecordStore
	Ping(ctx context.Context) error
}

// openStore подключает хранилище по STORE_BACKEND и регистрирует его закрытие в shutdownMgr
func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger, shutdownMgr *platformshutdown.Manager) (pingStore, error) {
	switch cfg.StoreBackend {
	case config.StoreMemory:
		logger.Warn("Using in-memory store, pending purchases are lost on restart")
		return memory.NewMemoryRepository(), nil

	case config.StorePostgres:
		logger.Info("Connecting to PostgreSQL")
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("postgres pool: %w", err)
		}

		pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		if err := pool.Ping(pingCtx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres ping: %w", err)
		}
		logger.Info("PostgreSQL connection established")

		logger.Info("Applying database migrations")
		db, err := goose.OpenDBWithDriver("pgx", cfg.PostgresDSN)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("open migrations db: %w", err)
		}
		defer db.Close()

		if err := migrations.Up(ctx, db); err != nil {
			pool.Close()
			return nil, err
		}
		logger.Info("Database migrations applied successfully")

		shutdownMgr.Add("postgres_pool", platformshutdown.ClosePool(pool))
		return postgres.NewRepository(pool), nil

	case config.StoreRedis:
		logger.Info("Connecting to Redis", zap.String("addr", cfg.RedisAddr))
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})

		pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		logger.Info("Redis connection established")

		shutdownMgr.Add("redis_client", platformshutdown.Close(client))
		return redisrepo.NewRepository(client, logger), nil

	case config.StoreMongo:
		logger.Info("Connecting to MongoDB", zap.String("db", cfg.MongoDBName))
		connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()

		client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, fmt.Errorf("mongo connect: %w", err)
		}
		if err := client.Ping(connectCtx, nil); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, fmt.Errorf("mongo ping: %w", err)
		}
		logger.Info("MongoDB connection established")

		shutdownMgr.Add("mongo_client", platformshutdown.DisconnectMongo(client))
		return mongorepo.NewRepository(client, cfg.MongoDBName), nil

	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.StoreBackend)
	}
}
